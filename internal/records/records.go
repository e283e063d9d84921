// Package records turns resolved table rows into schema-shaped records and selects
// the ones that match a caller's identifier.
package records

import (
	"strings"

	"ontimecar-scraper/internal/schema"
)

// RawRow is the ordered list of resolved cell values of one table row.
type RawRow []string

// MatchTier ranks how strongly a record matches an identifier.
type MatchTier int

const (
	NoMatch MatchTier = iota
	Loose
	Exact
)

func (m MatchTier) String() string {
	switch m {
	case Exact:
		return "exact"
	case Loose:
		return "loose"
	default:
		return "none"
	}
}

// Record is one table row keyed by the view's field names.
type Record struct {
	// Fields always holds exactly one entry per schema field.
	Fields map[string]string
	// Row is the zero-based position of the row in the table.
	Row int
	// Text is the whole raw row joined with " | ". It is used for verbatim matching
	// only and never compared as a field.
	Text  string
	Match MatchTier
}

// Assemble maps a raw row onto the schema: the skip prefix is dropped, remaining
// cells are zipped positionally, missing cells become "" and extra cells are discarded.
func Assemble(raw RawRow, row int, v *schema.ViewSchema) Record {
	cells := []string(raw)
	if skip := v.SkipPrefix(); skip >= len(cells) {
		cells = nil
	} else {
		cells = cells[skip:]
	}

	fields := make(map[string]string, v.FieldCount())
	for i := 0; i < v.FieldCount(); i++ {
		value := ""
		if i < len(cells) {
			value = cells[i]
		}
		fields[v.Field(i)] = value
	}
	return Record{
		Fields: fields,
		Row:    row,
		Text:   strings.Join(raw, " | "),
	}
}

// AssembleAll assembles every raw row in table order.
func AssembleAll(rows []RawRow, v *schema.ViewSchema) []Record {
	out := make([]Record, 0, len(rows))
	for i, raw := range rows {
		out = append(out, Assemble(raw, i, v))
	}
	return out
}

// Normalize keeps only the ASCII digits of s. It is idempotent.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Classify grades rec against an identifier. normalized must be Normalize(raw) and
// non-empty. Exact implies loose: a field equal to the identifier also contains it.
func Classify(rec Record, raw, normalized string) MatchTier {
	if normalized == "" {
		return NoMatch
	}
	tier := NoMatch
	for _, value := range rec.Fields {
		n := Normalize(value)
		if n == "" {
			continue
		}
		if n == normalized {
			return Exact
		}
		if strings.Contains(n, normalized) {
			tier = Loose
		}
	}
	if tier == NoMatch {
		if trimmed := strings.TrimSpace(raw); trimmed != "" && strings.Contains(rec.Text, trimmed) {
			tier = Loose
		}
	}
	return tier
}
