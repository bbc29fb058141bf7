// Package importer turns delimited bank-export text into normalized rows.
// It performs no I/O against the ledger; services.ImportService feeds its
// output through categorisation and ledger mutation.
package importer

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"
)

// ErrEmptyFile is returned when the text holds no header row.
var ErrEmptyFile = errors.New("import file is empty")

// candidateDelimiters are tried, in order, when sniffing the header line.
var candidateDelimiters = []rune{',', ';', '\t', '|'}

// Row is one data record together with its 1-indexed line in the source text.
type Row struct {
	Line   int
	Fields []string
}

// Document is the parsed form of an import file.
type Document struct {
	Delimiter rune
	Header    []string
	Rows      []Row
}

// Parse reads RFC 4180 delimited text: quoted fields may contain the
// delimiter, line breaks and doubled quotes. The first non-blank record is the
// header. Blank and whitespace-only lines are dropped.
func Parse(raw string) (*Document, error) {
	delim := DetectDelimiter(raw)

	r := csv.NewReader(strings.NewReader(raw))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	doc := &Document{Delimiter: delim}
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if isBlank(record) {
			continue
		}
		line, _ := r.FieldPos(0)
		if doc.Header == nil {
			doc.Header = trimAll(record)
			continue
		}
		doc.Rows = append(doc.Rows, Row{Line: line, Fields: record})
	}

	if doc.Header == nil {
		return nil, ErrEmptyFile
	}
	return doc, nil
}

// DetectDelimiter picks the candidate that occurs most often in the first
// non-blank line, ignoring quoted sections. Comma wins ties and the empty case.
func DetectDelimiter(raw string) rune {
	first := ""
	for _, line := range strings.Split(raw, "\n") {
		if strings.TrimSpace(line) != "" {
			first = line
			break
		}
	}

	counts := make(map[rune]int, len(candidateDelimiters))
	inQuotes := false
	for _, ch := range first {
		if ch == '"' {
			inQuotes = !inQuotes
			continue
		}
		if !inQuotes {
			counts[ch]++
		}
	}

	best := ','
	for _, d := range candidateDelimiters {
		if counts[d] > counts[best] {
			best = d
		}
	}
	return best
}

func isBlank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func trimAll(fields []string) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = strings.TrimSpace(strings.TrimPrefix(f, "\ufeff"))
	}
	return out
}

// Field returns the trimmed field at idx, or "" when the row is too short.
func (r Row) Field(idx int) string {
	if idx < 0 || idx >= len(r.Fields) {
		return ""
	}
	return strings.TrimSpace(r.Fields[idx])
}
