package mcp

import (
	"context"
	"fmt"
	"strings"

	"ontimecar-scraper/internal/apperr"
	"ontimecar-scraper/internal/extraction"
	"ontimecar-scraper/internal/schema"
)

type ConsultaTool struct {
	lookups     Lookups
	defaultView string
}

func (t *ConsultaTool) Name() string { return "consulta" }
func (t *ConsultaTool) Description() string {
	return `Look up OnTimeCar back-office records by patient identifier (cédula or authorization number).

Logs in with the service credentials if needed, opens the requested view, filters its table
and returns the rows whose columns match the identifier. Only digits are compared, so
"1.087.549.965" and "1087549965" are the same identifier.

WHEN TO USE:
- Check a patient's scheduled transport (agendamiento)
- List programmed or pre-authorized services for a patient
- Narrow dated views with from/to (YYYY-MM-DD, inclusive)

Use list-views first if you do not know the view names.

Returns: {success, tipo, cedula, total, servicios:[...], servicio?, diagnostico, mensaje}.
Zero matches is a successful result with total 0.`
}
func (t *ConsultaTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"identifier": map[string]interface{}{
				"type":        "string",
				"description": "Patient cédula or authorization number",
			},
			"view": map[string]interface{}{
				"type":        "string",
				"description": "View name, defaults to " + t.defaultView,
			},
			"from": map[string]interface{}{
				"type":        "string",
				"description": "Optional inclusive start date, YYYY-MM-DD",
			},
			"to": map[string]interface{}{
				"type":        "string",
				"description": "Optional inclusive end date, YYYY-MM-DD",
			},
		},
		"required": []string{"identifier"},
	}
}
func (t *ConsultaTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	identifier := getStringArg(args, "identifier")
	if identifier == "" {
		identifier = getStringArg(args, "cedula")
	}
	view := getStringArg(args, "view")
	if view == "" {
		view = getStringArg(args, "tipo")
	}
	if view == "" {
		view = t.defaultView
	}
	return t.lookups.Query(ctx, extraction.Request{
		Identifier: identifier,
		View:       view,
		From:       getStringArg(args, "from"),
		To:         getStringArg(args, "to"),
	})
}

type ListViewsTool struct {
	registry *schema.Registry
}

func (t *ListViewsTool) Name() string { return "list-views" }
func (t *ListViewsTool) Description() string {
	return `List the back-office views this service can query, with their columns.

Returns: {total, vistas:[{tipo, url, columnas, columnaIdentificador, cardinalidad, ...}]}.`
}
func (t *ListViewsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *ListViewsTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return viewsPayload(t.registry), nil
}

func viewsPayload(reg *schema.Registry) map[string]interface{} {
	views := reg.All()
	infos := make([]schema.Info, 0, len(views))
	for _, v := range views {
		infos = append(infos, v.Info())
	}
	return map[string]interface{}{"total": len(infos), "vistas": infos}
}

type DescribeViewTool struct {
	registry *schema.Registry
}

func (t *DescribeViewTool) Name() string { return "describe-view" }
func (t *DescribeViewTool) Description() string {
	return `Describe one view: URL, ordered columns, identifier column, match and not-found policy.`
}
func (t *DescribeViewTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"view": map[string]interface{}{
				"type":        "string",
				"description": "View name as returned by list-views",
			},
		},
		"required": []string{"view"},
	}
}
func (t *DescribeViewTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	name := getStringArg(args, "view")
	if name == "" {
		return nil, apperr.New(apperr.KindValidation, "describe-view", "view is required")
	}
	v, ok := t.registry.Lookup(name)
	if !ok {
		return nil, apperr.New(apperr.KindValidation, "describe-view",
			fmt.Sprintf("unknown view %q, valid views: %s", name, strings.Join(t.registry.Names(), ", ")))
	}
	return v.Info(), nil
}

type ResetBrowserTool struct {
	browser Browser
}

func (t *ResetBrowserTool) Name() string { return "reset-browser" }
func (t *ResetBrowserTool) Description() string {
	return `Close the browser and discard the logged-in session.

WHEN TO USE:
- Lookups keep failing with upstream_navigation or widget_not_ready
- The back office changed credentials or forced a logout

The browser and session are recreated on the next consulta. A lookup running right now fails.`
}
func (t *ResetBrowserTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *ResetBrowserTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	if err := t.browser.Reset(ctx); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "reset browser", err)
	}
	return map[string]interface{}{"success": true, "status": t.browser.Status()}, nil
}

type ServiceHealthTool struct {
	browser Browser
	name    string
	version string
}

func (t *ServiceHealthTool) Name() string { return "service-health" }
func (t *ServiceHealthTool) Description() string {
	return `Report browser and session state: whether Chrome is running, the session state
(idle, authenticating, authenticated, failed), its retry count and last failure.`
}
func (t *ServiceHealthTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *ServiceHealthTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{
		"service": t.name,
		"version": t.version,
		"status":  t.browser.Status(),
	}, nil
}

type QueryFactsTool struct {
	journal Journal
}

func (t *QueryFactsTool) Name() string { return "query-facts" }
func (t *QueryFactsTool) Description() string {
	return `Read the extraction journal, a Mangle fact store of logins, lookups and failures.

MODES:
- no arguments: list the declared predicates
- predicate: every fact of that predicate, base or derived
  (e.g. slow_extraction, empty_lookup, blind_filter, login_recovered, view_unreachable)
- query: a Mangle atom with variables, e.g. extraction(R, "panel", Seen, Matched, Ms, S).`
}
func (t *QueryFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"predicate": map[string]interface{}{
				"type":        "string",
				"description": "Predicate to evaluate",
			},
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Mangle atom to match, variables are bound in the results",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum facts to return (default 100)",
			},
		},
	}
}
func (t *QueryFactsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if t.journal == nil || !t.journal.Enabled() {
		return nil, apperr.New(apperr.KindNotFound, "query-facts", "journal disabled")
	}

	if query := getStringArg(args, "query"); query != "" {
		if !strings.HasSuffix(strings.TrimSpace(query), ".") {
			query = strings.TrimSpace(query) + "."
		}
		rows, err := t.journal.Query(ctx, query)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, "query-facts", err)
		}
		return map[string]interface{}{"query": query, "count": len(rows), "results": rows}, nil
	}

	predicate := getStringArg(args, "predicate")
	if predicate == "" {
		return map[string]interface{}{"predicates": t.journal.Predicates()}, nil
	}
	facts, err := t.journal.Evaluate(ctx, predicate)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "query-facts", err)
	}
	limit := getIntArg(args, "limit", 100)
	total := len(facts)
	if limit > 0 && len(facts) > limit {
		facts = facts[len(facts)-limit:]
	}
	return map[string]interface{}{"predicate": predicate, "count": total, "facts": facts}, nil
}
