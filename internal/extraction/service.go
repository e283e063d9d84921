// Package extraction runs one lookup end to end: lease the session, open the
// view, filter it, snapshot the table and select the matching records.
package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ontimecar-scraper/internal/apperr"
	"ontimecar-scraper/internal/browser"
	"ontimecar-scraper/internal/cell"
	"ontimecar-scraper/internal/config"
	"ontimecar-scraper/internal/mangle"
	"ontimecar-scraper/internal/recorder"
	"ontimecar-scraper/internal/records"
	"ontimecar-scraper/internal/schema"

	"github.com/google/uuid"
)

// Sessions hands out exclusive pages of the authenticated session.
type Sessions interface {
	Acquire(ctx context.Context) (*browser.Lease, error)
}

type Service struct {
	cfg      config.Config
	registry *schema.Registry
	sessions Sessions
	filter   *browser.FilterDriver
	resolver *cell.Resolver
	journal  browser.EngineSink
	recorder *recorder.Recorder
	logger   *slog.Logger
}

// NewService wires the pipeline. journal and rec may be nil.
func NewService(cfg config.Config, registry *schema.Registry, sessions Sessions, journal browser.EngineSink, rec *recorder.Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		cfg:      cfg,
		registry: registry,
		sessions: sessions,
		filter:   browser.NewFilterDriver(cfg.Readiness, cfg.Browser.NavigationDeadline(), logger),
		journal:  journal,
		recorder: rec,
		logger:   logger,
	}
	s.resolver = cell.NewResolver().OnPanic(func(strategy string, recovered interface{}) {
		logger.Warn("cell strategy panicked", "strategy", strategy, "panic", recovered)
	})
	return s
}

func (s *Service) Registry() *schema.Registry { return s.registry }

// Query runs a lookup under the configured request deadline. Zero matches is a
// successful result; Result.NotFound tells callers whether to report a 404.
func (s *Service) Query(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" {
		return nil, apperr.New(apperr.KindValidation, "query", "identifier is required")
	}
	if records.Normalize(identifier) == "" {
		return nil, apperr.New(apperr.KindValidation, "query", fmt.Sprintf("identifier %q has no digits", identifier))
	}
	view, ok := s.registry.Lookup(req.View)
	if !ok {
		return nil, apperr.New(apperr.KindValidation, "query",
			fmt.Sprintf("unknown view %q, valid views: %s", req.View, strings.Join(s.registry.Names(), ", ")))
	}
	rng, err := ParseRange(req.From, req.To)
	if err != nil {
		return nil, err
	}
	if !rng.IsZero() && !view.HasDateField() {
		return nil, apperr.New(apperr.KindValidation, "query", fmt.Sprintf("view %s has no date column", view.Name()))
	}

	logger := s.logger.With("request_id", requestID, "view", view.Name())
	trace, err := s.recorder.Trace(requestID)
	if err != nil {
		logger.Warn("trace unavailable", "error", err)
	}
	defer trace.Close()
	trace.Log("request", map[string]string{"view": view.Name(), "identifier": identifier, "from": req.From, "to": req.To})

	deadline := s.cfg.Server.RequestDeadline()
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	res, err := s.run(runCtx, logger, trace, requestID, identifier, view, rng)
	if err != nil && runCtx.Err() == context.DeadlineExceeded && apperr.KindOf(err) != apperr.KindTimeout {
		err = &apperr.Error{Kind: apperr.KindTimeout, Op: "query", Msg: fmt.Sprintf("no result within %s", deadline), Err: err}
	}

	elapsed := time.Since(start)
	if err != nil {
		kind := apperr.KindOf(err)
		logger.Error("lookup failed", "kind", kind, "error", err, "elapsed", elapsed)
		trace.Log("error", map[string]string{"kind": string(kind), "message": err.Error()})
		s.record(ctx, mangle.NewFact("extraction_error", requestID, view.Name(), string(kind), time.Now().UnixMilli()))
		return nil, err
	}

	res.Diagnostics.ElapsedMs = elapsed.Milliseconds()
	logger.Info("lookup finished",
		"rows_seen", res.Diagnostics.RowsSeen, "rows_matched", res.Total,
		"strategy", res.Diagnostics.Strategy, "elapsed", elapsed)
	trace.Log("result", res.Diagnostics)
	s.record(ctx, mangle.NewFact("extraction", requestID, view.Name(),
		int64(res.Diagnostics.RowsSeen), int64(res.Total), res.Diagnostics.ElapsedMs, res.Diagnostics.Strategy))
	return res, nil
}

// run holds the lease for exactly the duration of the extraction.
func (s *Service) run(ctx context.Context, logger *slog.Logger, trace *recorder.Trace, requestID, identifier string, view *schema.ViewSchema, rng records.DateRange) (res *Result, err error) {
	lease, err := s.sessions.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		runErr := err
		if runErr != nil && ctx.Err() != nil {
			runErr = ctx.Err()
		}
		lease.Release(runErr)
	}()
	trace.Log("acquired", map[string]string{"session": lease.Session.ID()})

	return s.extract(ctx, logger, trace, lease.Page, requestID, identifier, view, rng)
}

func (s *Service) extract(ctx context.Context, logger *slog.Logger, trace *recorder.Trace, page browser.Page, requestID, identifier string, view *schema.ViewSchema, rng records.DateRange) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("extraction panicked", "panic", r)
			res, err = nil, apperr.New(apperr.KindInternal, "extract", fmt.Sprintf("panic: %v", r))
		}
	}()

	readiness := s.cfg.Readiness
	poll := readiness.Poll()

	navCtx, cancel := context.WithTimeout(ctx, s.cfg.Browser.NavigationDeadline())
	err = page.Navigate(navCtx, view.URL())
	cancel()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNavigation, "open view", err)
	}
	trace.Log("navigated", map[string]string{"url": page.URL()})

	if present, err := browser.LoginFormPresent(ctx, page, s.cfg.Session.PasswordSelectors); err == nil && present {
		return nil, apperr.New(apperr.KindUpstreamAuth, "open view", "view redirected to the login form")
	}

	if !browser.Await(ctx, browser.WidgetReady(page, readiness.TableSelectors), readiness.Widget(), poll) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, apperr.Wrap(apperr.KindNavigation, "await table", ctxErr)
		}
		return nil, apperr.New(apperr.KindWidgetNotReady, "await table", fmt.Sprintf("table not ready after %s", readiness.Widget()))
	}

	filtered, err := s.filter.Apply(ctx, page, identifier, view)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNavigation, "filter", err)
	}
	trace.Log("filter", filtered)
	if filtered.Strategy == browser.StrategyNone {
		logger.Warn("no filter strategy applied, matching the unfiltered table")
	}

	// An empty result is legitimate, so a missing tbody row is not an error.
	browser.Await(ctx, browser.RowsPresent(page, readiness.TableSelectors), readiness.Rows(), poll)

	html, err := browser.SnapshotTable(ctx, page, readiness.TableSelectors)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNavigation, "snapshot", err)
	}
	rows, err := s.resolver.Rows(html)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "snapshot", err)
	}
	trace.Log("snapshot", map[string]int{"rows": len(rows), "bytes": len(html)})

	raw := make([]records.RawRow, len(rows))
	for i, r := range rows {
		raw[i] = r
	}
	all := records.AssembleAll(raw, view)
	// The range narrows the candidates before a single view picks its record.
	inRange := records.FilterByDate(all, view.DateField(), rng)
	matched := records.Select(inRange, identifier, view.Match())

	res = buildResult(requestID, identifier, view, matched)
	res.Diagnostics.RowsSeen = len(all)
	res.Diagnostics.RowsMatched = len(matched)
	res.Diagnostics.Strategy = filtered.Strategy
	res.Diagnostics.FilterDetail = filtered.Detail
	res.Diagnostics.Settled = filtered.Settled
	return res, nil
}

func (s *Service) record(ctx context.Context, fact mangle.Fact) {
	if s.journal == nil {
		return
	}
	if err := s.journal.AddFacts(context.WithoutCancel(ctx), []mangle.Fact{fact}); err != nil {
		s.logger.Warn("journal write failed", "predicate", fact.Predicate, "error", err)
	}
}
