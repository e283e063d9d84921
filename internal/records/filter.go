package records

import (
	"strings"
	"time"

	"ontimecar-scraper/internal/schema"
)

// Select grades every record against identifier and applies the view's match policy.
//
// Single-record views return the first exact match in row order. Without one they
// return every loose match when the policy allows a loose fallback, else nothing.
// List views return exact matches first, then loose-only matches, each tier in row
// order; ExactOnly drops the loose tier.
func Select(recs []Record, identifier string, policy schema.MatchPolicy) []Record {
	normalized := Normalize(identifier)
	if normalized == "" {
		return []Record{}
	}

	var exact, loose []Record
	for _, rec := range recs {
		rec.Match = Classify(rec, identifier, normalized)
		switch rec.Match {
		case Exact:
			exact = append(exact, rec)
		case Loose:
			loose = append(loose, rec)
		}
	}

	out := make([]Record, 0, len(exact)+len(loose))
	if policy.Cardinality == schema.Single {
		if len(exact) > 0 {
			return append(out, exact[0])
		}
		if policy.LooseFallback {
			return append(out, loose...)
		}
		return out
	}

	out = append(out, exact...)
	if !policy.ExactOnly {
		out = append(out, loose...)
	}
	return out
}

// DateRange bounds a lookup by day, inclusive. A zero bound is open.
type DateRange struct {
	From time.Time
	To   time.Time
}

func (d DateRange) IsZero() bool { return d.From.IsZero() && d.To.IsZero() }

// Contains reports whether day t falls inside the range.
func (d DateRange) Contains(t time.Time) bool {
	day := truncateDay(t)
	if !d.From.IsZero() && day.Before(truncateDay(d.From)) {
		return false
	}
	if !d.To.IsZero() && day.After(truncateDay(d.To)) {
		return false
	}
	return true
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Day-first layouts come from the back office; ISO layouts from API callers.
var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"2006/01/02",
	"02/01/06",
}

// ParseDate reads the date portion of a cell value such as "15/03/2024 08:30".
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " T"); i > 0 {
		s = s[:i]
	}
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FilterByDate keeps records whose field falls inside r. Records with an
// unparseable date are dropped. An empty range keeps everything.
func FilterByDate(recs []Record, field string, r DateRange) []Record {
	if r.IsZero() || field == "" {
		return recs
	}
	out := make([]Record, 0, len(recs))
	for _, rec := range recs {
		t, ok := ParseDate(rec.Fields[field])
		if ok && r.Contains(t) {
			out = append(out, rec)
		}
	}
	return out
}

// Project renames fields for presentation. Digits projections add a
// "<name>_digits" key holding the normalized value.
func Project(rec Record, proj []schema.Projection) map[string]string {
	out := make(map[string]string, len(proj)*2)
	for _, p := range proj {
		value := strings.TrimSpace(rec.Fields[p.Source])
		out[p.Name] = value
		if p.Digits {
			out[p.Name+"_digits"] = Normalize(value)
		}
	}
	return out
}
