// Package schema holds the validated, immutable description of every remote
// table view the service can query.
package schema

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"ontimecar-scraper/internal/config"
)

type Cardinality string

const (
	Single Cardinality = "single"
	List   Cardinality = "list"
)

// NotFoundPolicy decides how a lookup with zero matches is reported.
type NotFoundPolicy string

const (
	NotFoundEmpty NotFoundPolicy = "empty"
	NotFound404   NotFoundPolicy = "404"
)

// Search strategy names, in their default order.
const (
	StrategyWidget     = "widget"
	StrategyLocator    = "locator"
	StrategyHeuristic  = "heuristic"
	StrategyQueryParam = "query_param"
)

// DefaultHeuristicPattern matches inputs that look like an identifier search box.
const DefaultHeuristicPattern = `buscar|search|cedul|ident|documento`

// MatchPolicy selects records from the exact and loose tiers.
type MatchPolicy struct {
	Cardinality Cardinality
	// LooseFallback: single views return loose matches when nothing matches exactly.
	LooseFallback bool
	// ExactOnly: list views drop loose-only matches.
	ExactOnly bool
}

// Projection maps schema fields to friendly output names.
type Projection struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	Digits bool   `json:"digits,omitempty"`
}

// Search is the per-view configuration of the search/filter driver.
type Search struct {
	Strategies       []string
	ColumnScoped     bool
	Locators         []string
	HeuristicPattern string
	QueryParam       string
	PressEnter       bool
	ShowAllRows      bool
}

// ViewSchema describes one remote table view. It is never mutated after NewRegistry.
type ViewSchema struct {
	name        string
	description string
	url         string
	fields      []string
	identifier  int
	skip        int
	match       MatchPolicy
	notFound    NotFoundPolicy
	dateField   string
	projection  []Projection
	search      Search
}

func (v *ViewSchema) Name() string { return v.name }
func (v *ViewSchema) Description() string { return v.description }
func (v *ViewSchema) URL() string { return v.url }

// Fields returns a copy of the ordered field names.
func (v *ViewSchema) Fields() []string {
	out := make([]string, len(v.fields))
	copy(out, v.fields)
	return out
}

func (v *ViewSchema) FieldCount() int { return len(v.fields) }

// Field returns the name at position i.
func (v *ViewSchema) Field(i int) string { return v.fields[i] }

// IdentifierIndex is the position of the identifier column within Fields.
func (v *ViewSchema) IdentifierIndex() int { return v.identifier }

// IdentifierField is the name of the identifier column.
func (v *ViewSchema) IdentifierField() string { return v.fields[v.identifier] }

// SkipPrefix is the number of leading raw cells dropped before zipping.
func (v *ViewSchema) SkipPrefix() int { return v.skip }

// WidgetColumn is the raw table column of the identifier, as the grid widget counts it.
func (v *ViewSchema) WidgetColumn() int { return v.skip + v.identifier }

func (v *ViewSchema) Match() MatchPolicy { return v.match }
func (v *ViewSchema) NotFound() NotFoundPolicy { return v.notFound }
func (v *ViewSchema) DateField() string { return v.dateField }
func (v *ViewSchema) HasDateField() bool { return v.dateField != "" }

func (v *ViewSchema) Projection() []Projection {
	out := make([]Projection, len(v.projection))
	copy(out, v.projection)
	return out
}

// Search returns the driver settings. Slices are copies.
func (v *ViewSchema) Search() Search {
	s := v.search
	s.Strategies = append([]string(nil), v.search.Strategies...)
	s.Locators = append([]string(nil), v.search.Locators...)
	return s
}

// Registry is the process-wide, read-only set of view schemas.
type Registry struct {
	views map[string]*ViewSchema
	names []string
}

// NewRegistry validates every configured view. Any invalid view fails the whole registry
// so misconfiguration is caught at startup.
func NewRegistry(views map[string]config.ViewConfig) (*Registry, error) {
	if len(views) == 0 {
		return nil, errors.New("no views configured")
	}
	r := &Registry{views: make(map[string]*ViewSchema, len(views))}
	var errs []error
	for name, vc := range views {
		v, err := build(name, vc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		r.views[name] = v
		r.names = append(r.names, name)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	sort.Strings(r.names)
	return r, nil
}

// Lookup returns the schema for name.
func (r *Registry) Lookup(name string) (*ViewSchema, bool) {
	v, ok := r.views[name]
	return v, ok
}

// Names returns view names in sorted order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// All returns every schema in name order.
func (r *Registry) All() []*ViewSchema {
	out := make([]*ViewSchema, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.views[n])
	}
	return out
}

var viewNamePattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

func build(name string, vc config.ViewConfig) (*ViewSchema, error) {
	fail := func(format string, args ...interface{}) error {
		return fmt.Errorf("view %s: %s", name, fmt.Sprintf(format, args...))
	}

	if !viewNamePattern.MatchString(name) {
		return nil, fail("name must match %s", viewNamePattern)
	}
	u, err := url.Parse(vc.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fail("url %q must be absolute", vc.URL)
	}
	if len(vc.Fields) == 0 {
		return nil, fail("fields must not be empty")
	}
	seen := make(map[string]bool, len(vc.Fields))
	for i, f := range vc.Fields {
		if strings.TrimSpace(f) == "" {
			return nil, fail("field %d is blank", i)
		}
		if seen[f] {
			return nil, fail("duplicate field %q", f)
		}
		seen[f] = true
	}
	if vc.IdentifierColumn < 0 || vc.IdentifierColumn >= len(vc.Fields) {
		return nil, fail("identifier_column %d out of range [0,%d)", vc.IdentifierColumn, len(vc.Fields))
	}
	if vc.SkipPrefix < 0 {
		return nil, fail("skip_prefix must not be negative")
	}

	v := &ViewSchema{
		name:        name,
		description: vc.Description,
		url:         u.String(),
		fields:      append([]string(nil), vc.Fields...),
		identifier:  vc.IdentifierColumn,
		skip:        vc.SkipPrefix,
		dateField:   vc.DateField,
	}

	switch Cardinality(orDefault(vc.Cardinality, string(List))) {
	case Single:
		v.match.Cardinality = Single
	case List:
		v.match.Cardinality = List
	default:
		return nil, fail("cardinality must be single or list, got %q", vc.Cardinality)
	}
	switch orDefault(vc.SingleFallback, "loose") {
	case "loose":
		v.match.LooseFallback = true
	case "none":
	default:
		return nil, fail("single_fallback must be loose or none, got %q", vc.SingleFallback)
	}
	switch orDefault(vc.ListMatch, "loose") {
	case "loose":
	case "exact":
		v.match.ExactOnly = true
	default:
		return nil, fail("list_match must be loose or exact, got %q", vc.ListMatch)
	}
	switch NotFoundPolicy(orDefault(vc.NotFound, string(NotFoundEmpty))) {
	case NotFoundEmpty:
		v.notFound = NotFoundEmpty
	case NotFound404:
		v.notFound = NotFound404
	default:
		return nil, fail("not_found must be empty or 404, got %q", vc.NotFound)
	}

	if v.dateField != "" && !seen[v.dateField] {
		return nil, fail("date_field %q is not a field", v.dateField)
	}
	names := make(map[string]bool, len(vc.Projection))
	for _, p := range vc.Projection {
		if p.Name == "" || !seen[p.Source] {
			return nil, fail("projection %q has unknown source %q", p.Name, p.Source)
		}
		if names[p.Name] {
			return nil, fail("duplicate projection %q", p.Name)
		}
		names[p.Name] = true
		v.projection = append(v.projection, Projection{Name: p.Name, Source: p.Source, Digits: p.Digits})
	}

	search, err := buildSearch(vc.Search)
	if err != nil {
		return nil, fail("%v", err)
	}
	v.search = search
	return v, nil
}

func buildSearch(sc config.SearchConfig) (Search, error) {
	s := Search{
		ColumnScoped: sc.ColumnScopedSearch(),
		Locators:     append([]string(nil), sc.Locators...),
		QueryParam:   sc.QueryParam,
		PressEnter:   sc.PressesEnter(),
		ShowAllRows:  sc.ShowsAllRows(),
	}
	strategies := sc.Strategies
	if len(strategies) == 0 {
		strategies = []string{StrategyWidget, StrategyLocator, StrategyHeuristic, StrategyQueryParam}
	}
	for _, st := range strategies {
		switch st {
		case StrategyWidget, StrategyLocator, StrategyHeuristic:
		case StrategyQueryParam:
			if s.QueryParam == "" {
				return s, errors.New("query_param strategy needs search.query_param")
			}
		default:
			return s, fmt.Errorf("unknown search strategy %q", st)
		}
		s.Strategies = append(s.Strategies, st)
	}
	s.HeuristicPattern = orDefault(sc.HeuristicPattern, DefaultHeuristicPattern)
	if _, err := regexp.Compile(s.HeuristicPattern); err != nil {
		return s, fmt.Errorf("heuristic_pattern: %w", err)
	}
	return s, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Info is the introspection payload served by the columns endpoints. Keys match the
// legacy API consumed by existing automations.
type Info struct {
	View            string         `json:"tipo"`
	Description     string         `json:"descripcion,omitempty"`
	URL             string         `json:"url"`
	Skip            int            `json:"columnasOmitidas"`
	Fields          []string       `json:"columnas"`
	Total           int            `json:"totalColumnas"`
	IdentifierField string         `json:"columnaIdentificador"`
	Cardinality     Cardinality    `json:"cardinalidad"`
	NotFound        NotFoundPolicy `json:"sinResultados"`
	DateField       string         `json:"columnaFecha,omitempty"`
	Projection      []Projection   `json:"proyeccion,omitempty"`
}

func (v *ViewSchema) Info() Info {
	return Info{
		View:            v.name,
		Description:     v.description,
		URL:             v.url,
		Skip:            v.skip,
		Fields:          v.Fields(),
		Total:           len(v.fields),
		IdentifierField: v.IdentifierField(),
		Cardinality:     v.match.Cardinality,
		NotFound:        v.notFound,
		DateField:       v.dateField,
		Projection:      v.Projection(),
	}
}
