// Package cell resolves the user-visible value of a table cell whose content may be
// plain text, a form control, an annotation or a link.
package cell

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Strategy extracts a value from a cell. ok=false means "try the next strategy".
type Strategy interface {
	Name() string
	TryResolve(cell *goquery.Selection) (value string, ok bool)
}

// PanicHook observes a strategy that panicked. The cell still resolves.
type PanicHook func(strategy string, recovered interface{})

// Resolver applies strategies in order; the first non-empty result wins.
type Resolver struct {
	strategies []Strategy
	onPanic    PanicHook
}

// DefaultStrategies returns the precedence used for back-office grids.
func DefaultStrategies() []Strategy {
	return []Strategy{
		FormControl{},
		ContentEditable{},
		Annotation{},
		LinkText{},
		ImageAlt{},
		CellText{},
	}
}

// NewResolver builds a resolver. With no strategies it uses DefaultStrategies.
func NewResolver(strategies ...Strategy) *Resolver {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	return &Resolver{strategies: strategies}
}

// OnPanic registers a hook that is told about recovered strategy panics.
func (r *Resolver) OnPanic(hook PanicHook) *Resolver {
	r.onPanic = hook
	return r
}

// Resolve returns the cell value, or "" when no strategy produced one.
func (r *Resolver) Resolve(cell *goquery.Selection) string {
	if cell == nil || cell.Length() == 0 {
		return ""
	}
	for _, s := range r.strategies {
		value, ok := r.try(s, cell)
		if ok && value != "" {
			return value
		}
	}
	return ""
}

func (r *Resolver) try(s Strategy, cell *goquery.Selection) (value string, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			if r.onPanic != nil {
				r.onPanic(s.Name(), rec)
			}
			value, ok = "", false
		}
	}()
	return s.TryResolve(cell)
}

// Rows parses a serialized table fragment and resolves every data cell of its first
// body. Rows without td cells and the grid's "no data" placeholder row are skipped.
func (r *Resolver) Rows(html string) ([][]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse table html: %w", err)
	}

	body := doc.Find("tbody").First()
	if body.Length() == 0 {
		return [][]string{}, nil
	}

	rows := make([][]string, 0)
	body.ChildrenFiltered("tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.ChildrenFiltered("td")
		if cells.Length() == 0 {
			return
		}
		if cells.Length() == 1 && cells.First().HasClass("dataTables_empty") {
			return
		}
		row := make([]string, 0, cells.Length())
		cells.Each(func(_ int, td *goquery.Selection) {
			row = append(row, r.Resolve(td))
		})
		rows = append(rows, row)
	})
	return rows, nil
}

// Collapse trims s and folds internal whitespace runs to single spaces.
func Collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
