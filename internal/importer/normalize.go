package importer

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"ledgercore/internal/dates"
	"ledgercore/internal/models"
)

// MaxDescriptionLength is the stored description limit; longer values are truncated.
const MaxDescriptionLength = 255

// TypeMode decides the transaction type of rows when no type column is mapped.
type TypeMode string

const (
	TypeModeAuto    TypeMode = "auto"
	TypeModeIncome  TypeMode = "income"
	TypeModeExpense TypeMode = "expense"
)

// Valid reports whether m is a known mode.
func (m TypeMode) Valid() bool {
	switch m {
	case TypeModeAuto, TypeModeIncome, TypeModeExpense:
		return true
	}
	return false
}

// Normalization errors.
var (
	ErrInvalidDate   = errors.New("invalid date")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrZeroAmount    = errors.New("amount must not be zero")
)

var (
	isoDatePattern   = regexp.MustCompile(`^\d{4}-\d{1,2}-\d{1,2}$`)
	numericDateParts = regexp.MustCompile(`^(\d{1,2})[/.\-](\d{1,2})[/.\-](\d{4}|\d{2})$`)
	// An optional three-letter currency code may lead or trail the number.
	currencyCodes    = regexp.MustCompile(`^(?:[A-Za-z]{3})?\s*([^A-Za-z]*?)\s*(?:[A-Za-z]{3})?$`)
	thousandsComma   = regexp.MustCompile(`^\d{1,3}(,\d{3})+(\.\d+)?$`)
	decimalComma     = regexp.MustCompile(`^\d+,\d{1,2}$`)
)

// fallbackDateLayouts are tried after the ISO and numeric day/month forms.
var fallbackDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02",
	"02 Jan 2006",
	"2 Jan 2006",
	"02-Jan-2006",
	"2-Jan-2006",
	"02 January 2006",
	"2 January 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"Jan 2 2006",
	"Mon, 02 Jan 2006",
	"20060102",
}

// NormalizeDate resolves a bank-export date to a calendar day.
//
// ISO dates are taken as is, with or without zero padding. Numeric a/b/yyyy
// dates (a two-digit year is 20yy) are read day-first whenever that yields a
// real date, so 13/05/2024 is 13 May and 05/07/2024 is 5 July; only when
// day-first is impossible (05/13/2024) is month-first used.
// Anything else goes through a list of common textual layouts.
func NormalizeDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, ErrInvalidDate
	}

	if isoDatePattern.MatchString(value) {
		t, err := time.Parse("2006-1-2", value)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, value)
		}
		return t, nil
	}

	if m := numericDateParts.FindStringSubmatch(value); m != nil {
		a, _ := strconv.Atoi(m[1])
		b, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		if len(m[3]) == 2 {
			year += 2000
		}
		if t, ok := calendarDate(year, b, a); ok {
			return t, nil
		}
		if t, ok := calendarDate(year, a, b); ok {
			return t, nil
		}
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, value)
	}

	for _, layout := range fallbackDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return dates.DateOf(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, value)
}

// calendarDate builds the date only when month and day exist as given.
func calendarDate(year, month, day int) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 || day > dates.DaysIn(year, time.Month(month)) {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), true
}

// NormalizeAmount parses a signed amount as printed by banks. Currency
// symbols, whitespace and a leading or trailing ISO code are dropped; any
// other letter makes the value invalid. Thousands separators are removed,
// a trailing or leading minus and (parentheses) mean negative, and a lone
// comma followed by one or two digits is read as the decimal point.
func NormalizeAmount(value string) (decimal.Decimal, error) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return decimal.Zero, ErrInvalidAmount
	}

	m := currencyCodes.FindStringSubmatch(raw)
	if m == nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}

	negative := false
	var b strings.Builder
	for _, ch := range m[1] {
		switch {
		case ch >= '0' && ch <= '9', ch == '.', ch == ',':
			b.WriteRune(ch)
		case ch == '-' || ch == '−' || ch == '(':
			negative = true
		case ch == '+' || ch == ')' || unicode.IsSpace(ch) || unicode.Is(unicode.Sc, ch) || ch == '\'':
			// currency symbols, spacing and Swiss apostrophes
		default:
			return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
		}
	}

	digits := normalizeSeparators(b.String())
	if digits == "" {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}

	amount, err := decimal.NewFromString(digits)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}
	if amount.IsZero() {
		return decimal.Zero, ErrZeroAmount
	}
	if negative {
		amount = amount.Neg()
	}
	return amount, nil
}

func normalizeSeparators(s string) string {
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			// 1.234,56
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		if thousandsComma.MatchString(s) {
			return strings.ReplaceAll(s, ",", "")
		}
		if decimalComma.MatchString(s) {
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case strings.Count(s, ".") > 1:
		return strings.ReplaceAll(s, ".", "")
	}
	return s
}

// ResolveType decides income vs expense for a row. With a type column the
// value decides (anything containing income, credit or cr is income). Without
// one, mode forces the type or, for auto, the sign of the raw amount does.
func ResolveType(typeValue string, hasTypeColumn bool, mode TypeMode, rawAmount decimal.Decimal) models.TransactionType {
	if hasTypeColumn {
		v := strings.ToLower(typeValue)
		if strings.Contains(v, "income") || strings.Contains(v, "credit") || strings.Contains(v, "cr") {
			return models.TransactionTypeIncome
		}
		return models.TransactionTypeExpense
	}

	switch mode {
	case TypeModeIncome:
		return models.TransactionTypeIncome
	case TypeModeExpense:
		return models.TransactionTypeExpense
	}
	if rawAmount.IsNegative() {
		return models.TransactionTypeExpense
	}
	return models.TransactionTypeIncome
}

// TruncateDescription shortens s to MaxDescriptionLength runes.
func TruncateDescription(s string) string {
	if utf8.RuneCountInString(s) <= MaxDescriptionLength {
		return s
	}
	runes := []rune(s)
	return string(runes[:MaxDescriptionLength])
}
