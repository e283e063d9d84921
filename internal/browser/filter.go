package browser

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"ontimecar-scraper/internal/config"
	"ontimecar-scraper/internal/schema"

	"github.com/go-rod/rod/lib/input"
)

// StrategyNone is reported when no filter strategy applied.
const StrategyNone = "none"

// FilterResult describes what the filter driver did to the page.
type FilterResult struct {
	Strategy string `json:"strategy"`
	// Detail names the locator or button involved, when there is one.
	Detail string `json:"detail,omitempty"`
	// Settled is false when the busy indicator was still visible at the deadline.
	Settled bool `json:"settled"`
	ShowAll bool `json:"showAll"`
}

// FilterDriver narrows a view's table to an identifier. Strategies are tried in
// the view's order and the first one that applies wins.
type FilterDriver struct {
	readiness  config.ReadinessConfig
	navTimeout time.Duration
	logger     *slog.Logger
}

func NewFilterDriver(readiness config.ReadinessConfig, navTimeout time.Duration, logger *slog.Logger) *FilterDriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &FilterDriver{readiness: readiness, navTimeout: navTimeout, logger: logger}
}

// Apply filters the page. Strategy failures are logged and skipped; only ctx
// ending is returned as an error.
func (d *FilterDriver) Apply(ctx context.Context, page Page, identifier string, v *schema.ViewSchema) (FilterResult, error) {
	search := v.Search()
	res := FilterResult{Strategy: StrategyNone}

	for _, name := range search.Strategies {
		applied, detail, err := d.try(ctx, name, page, identifier, v, search)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		if err != nil {
			d.logger.Debug("filter strategy failed", "view", v.Name(), "strategy", name, "error", err)
			continue
		}
		if applied {
			res.Strategy = name
			res.Detail = detail
			break
		}
	}
	if res.Strategy == StrategyNone {
		d.logger.Warn("no filter strategy applied", "view", v.Name())
	}

	busy := BusyCleared(page, d.readiness.BusySelectors)
	res.Settled = Await(ctx, busy, d.readiness.Busy(), d.readiness.Poll())

	if search.ShowAllRows {
		out, err := page.Eval(ctx, ShowAllRowsJS)
		if err == nil {
			res.ShowAll, _ = out.Val().(bool)
		}
		if res.ShowAll {
			res.Settled = Await(ctx, busy, d.readiness.Busy(), d.readiness.Poll())
		}
	}
	return res, ctx.Err()
}

func (d *FilterDriver) try(ctx context.Context, name string, page Page, identifier string, v *schema.ViewSchema, search schema.Search) (bool, string, error) {
	switch name {
	case schema.StrategyWidget:
		column := -1
		if search.ColumnScoped {
			column = v.WidgetColumn()
		}
		out, err := page.Eval(ctx, WidgetSearchJS, identifier, column)
		if err != nil {
			return false, "", err
		}
		ok, _ := out.Val().(bool)
		if ok && column >= 0 {
			return true, fmt.Sprintf("column %d", column), nil
		}
		return ok, "", nil

	case schema.StrategyLocator:
		out, err := page.Eval(ctx, LocatorFillJS, search.Locators, identifier)
		if err != nil {
			return false, "", err
		}
		sel := jsonString(out)
		if sel == "" {
			return false, "", nil
		}
		if search.PressEnter {
			if err := page.Press(ctx, input.Enter); err != nil {
				d.logger.Debug("enter key failed", "error", err)
			}
		}
		return true, sel, nil

	case schema.StrategyHeuristic:
		out, err := page.Eval(ctx, HeuristicFillJS, search.HeuristicPattern, identifier)
		if err != nil {
			return false, "", err
		}
		if !jsonBool(out, "filled") {
			return false, "", nil
		}
		if jsonBool(out, "clicked") {
			return true, "button", nil
		}
		if search.PressEnter {
			if err := page.Press(ctx, input.Enter); err != nil {
				d.logger.Debug("enter key failed", "error", err)
			}
		}
		return true, "", nil

	case schema.StrategyQueryParam:
		target, err := withQueryParam(v.URL(), search.QueryParam, identifier)
		if err != nil {
			return false, "", err
		}
		navCtx, cancel := context.WithTimeout(ctx, d.navTimeout)
		defer cancel()
		if err := page.Navigate(navCtx, target); err != nil {
			return false, "", err
		}
		return true, search.QueryParam, nil
	}
	return false, "", fmt.Errorf("unknown strategy %q", name)
}

func withQueryParam(raw, param, value string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(param, value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
