package importer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ledgercore/internal/models"
)

// ErrInvalidMapping is returned when a column index falls outside the header
// or two fields share a column.
var ErrInvalidMapping = errors.New("invalid column mapping")

// ColumnMapping holds zero-based column indices. Type is optional.
type ColumnMapping struct {
	Date        int  `json:"date"`
	Description int  `json:"description"`
	Amount      int  `json:"amount"`
	Type        *int `json:"type,omitempty"`
}

// Validate checks the mapping against the number of header columns. Each
// mapped field needs its own column, so an omitted mapping (all zero) fails.
func (m ColumnMapping) Validate(columns int) error {
	check := func(name string, idx int) error {
		if idx < 0 || idx >= columns {
			return fmt.Errorf("%w: %s column %d out of range (file has %d columns)", ErrInvalidMapping, name, idx, columns)
		}
		return nil
	}
	if err := check("date", m.Date); err != nil {
		return err
	}
	if err := check("description", m.Description); err != nil {
		return err
	}
	if err := check("amount", m.Amount); err != nil {
		return err
	}
	if m.Type != nil {
		if err := check("type", *m.Type); err != nil {
			return err
		}
	}

	type field struct {
		name string
		idx  int
	}
	fields := []field{{"description", m.Description}, {"amount", m.Amount}}
	if m.Type != nil {
		fields = append(fields, field{"type", *m.Type})
	}
	used := map[int]string{m.Date: "date"}
	for _, f := range fields {
		if other, ok := used[f.idx]; ok {
			return fmt.Errorf("%w: %s and %s both use column %d", ErrInvalidMapping, other, f.name, f.idx)
		}
		used[f.idx] = f.name
	}
	return nil
}

// Header keywords, most specific first.
var (
	dateHeaders        = []string{"transaction date", "posting date", "posted date", "booking date", "value date", "date", "posted", "datum", "fecha"}
	descriptionHeaders = []string{"description", "memo", "narrative", "details", "payee", "merchant", "particulars", "reference", "name", "transaction"}
	amountHeaders      = []string{"amount", "value", "sum", "betrag", "importe", "debit/credit"}
	typeHeaders        = []string{"transaction type", "type", "dr/cr", "cr/dr", "credit/debit", "debit/credit indicator", "direction"}
)

// SuggestMapping guesses the column mapping of a bank export. Header names are
// matched first (exact, then substring); columns still unresolved are inferred
// from the sample rows: the first column whose values all parse as dates, the
// first other column whose values all parse as amounts, and the remaining
// column with the longest text. ok is false when date, description or amount
// could not be placed.
func SuggestMapping(doc *Document) (mapping ColumnMapping, ok bool) {
	used := make(map[int]bool)
	date := matchHeader(doc.Header, dateHeaders, used)
	typ := matchHeader(doc.Header, typeHeaders, used)
	amount := matchHeader(doc.Header, amountHeaders, used)
	description := matchHeader(doc.Header, descriptionHeaders, used)

	sample := doc.Rows
	if len(sample) > 20 {
		sample = sample[:20]
	}

	if date < 0 {
		date = inferColumn(doc.Header, sample, used, func(v string) bool {
			_, err := NormalizeDate(v)
			return err == nil
		})
	}
	if amount < 0 {
		amount = inferColumn(doc.Header, sample, used, func(v string) bool {
			_, err := NormalizeAmount(v)
			return err == nil || errors.Is(err, ErrZeroAmount)
		})
	}
	if description < 0 {
		description = longestTextColumn(doc.Header, sample, used)
	}

	mapping = ColumnMapping{Date: date, Description: description, Amount: amount}
	if typ >= 0 {
		mapping.Type = &typ
	}
	return mapping, date >= 0 && description >= 0 && amount >= 0
}

func matchHeader(header []string, keywords []string, used map[int]bool) int {
	lower := make([]string, len(header))
	for i, h := range header {
		lower[i] = strings.ToLower(strings.TrimSpace(h))
	}
	for _, kw := range keywords {
		for i, h := range lower {
			if !used[i] && h == kw {
				used[i] = true
				return i
			}
		}
	}
	for _, kw := range keywords {
		for i, h := range lower {
			if !used[i] && strings.Contains(h, kw) {
				used[i] = true
				return i
			}
		}
	}
	return -1
}

func inferColumn(header []string, sample []Row, used map[int]bool, accept func(string) bool) int {
	if len(sample) == 0 {
		return -1
	}
	for i := range header {
		if used[i] {
			continue
		}
		all := true
		for _, row := range sample {
			if v := row.Field(i); v == "" || !accept(v) {
				all = false
				break
			}
		}
		if all {
			used[i] = true
			return i
		}
	}
	return -1
}

func longestTextColumn(header []string, sample []Row, used map[int]bool) int {
	best, bestLen := -1, 0
	for i := range header {
		if used[i] {
			continue
		}
		total := 0
		for _, row := range sample {
			total += len(row.Field(i))
		}
		if total > bestLen {
			best, bestLen = i, total
		}
	}
	if best >= 0 {
		used[best] = true
	}
	return best
}

// RowError is a recoverable, row-level validation failure.
type RowError struct {
	Line   int
	Reason string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Line, e.Reason)
}

// Record is a validated row ready to be booked.
type Record struct {
	Line        int
	Date        time.Time
	Description string
	Amount      decimal.Decimal
	Type        models.TransactionType
}

// SignedAmount returns the record's amount with the sign of its type.
func (r Record) SignedAmount() decimal.Decimal {
	return models.SignedAmount(r.Type, r.Amount)
}

// NormalizeRow validates one data row against mapping and mode.
func NormalizeRow(row Row, mapping ColumnMapping, mode TypeMode) (Record, *RowError) {
	rawDate := row.Field(mapping.Date)
	description := row.Field(mapping.Description)
	rawAmount := row.Field(mapping.Amount)

	switch {
	case rawDate == "":
		return Record{}, &RowError{Line: row.Line, Reason: "missing date"}
	case description == "":
		return Record{}, &RowError{Line: row.Line, Reason: "missing description"}
	case rawAmount == "":
		return Record{}, &RowError{Line: row.Line, Reason: "missing amount"}
	}

	date, err := NormalizeDate(rawDate)
	if err != nil {
		return Record{}, &RowError{Line: row.Line, Reason: fmt.Sprintf("invalid date %q", rawDate)}
	}

	amount, err := NormalizeAmount(rawAmount)
	if err != nil {
		if errors.Is(err, ErrZeroAmount) {
			return Record{}, &RowError{Line: row.Line, Reason: "amount must not be zero"}
		}
		return Record{}, &RowError{Line: row.Line, Reason: fmt.Sprintf("invalid amount %q", rawAmount)}
	}

	typeValue := ""
	if mapping.Type != nil {
		typeValue = row.Field(*mapping.Type)
	}

	return Record{
		Line:        row.Line,
		Date:        date,
		Description: TruncateDescription(description),
		Amount:      amount.Abs(),
		Type:        ResolveType(typeValue, mapping.Type != nil, mode, amount),
	}, nil
}
