package extraction

import (
	"context"
	"sync"

	"ontimecar-scraper/internal/browser"
	"ontimecar-scraper/internal/config"
	"ontimecar-scraper/internal/mangle"

	"github.com/go-rod/rod/lib/input"
	"github.com/ysmood/gson"
)

// fakeSite plays the back office: a login form at loginURL and a grid on every
// other URL. It is also the browser.ContextFactory handing out its pages.
type fakeSite struct {
	mu             sync.Mutex
	loginURL       string
	html           string
	widgetReady    bool
	loginRedirect  bool
	hangOnSnapshot bool
	pages          []*sitePage
	contexts       int
	closedContexts int
}

func newFakeSite(loginURL, html string) *fakeSite {
	return &fakeSite{loginURL: loginURL, html: html, widgetReady: true}
}

func (s *fakeSite) set(fn func(s *fakeSite)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *fakeSite) NewContext(ctx context.Context) (*browser.BrowsingContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts++
	return &browser.BrowsingContext{
		Open: func(ctx context.Context) (browser.Page, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			p := &sitePage{site: s}
			s.pages = append(s.pages, p)
			return p, nil
		},
		Close: func() error {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.closedContexts++
			return nil
		},
	}, nil
}

func (s *fakeSite) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contexts > 0
}

func (s *fakeSite) Close() error { return nil }

func (s *fakeSite) counts() (contexts, closed, pages int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contexts, s.closedContexts, len(s.pages)
}

func (s *fakeSite) openPages() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.pages {
		if !p.closed {
			n++
		}
	}
	return n
}

type sitePage struct {
	site      *fakeSite
	url       string
	submitted bool
	closed    bool
}

func (p *sitePage) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.site.mu.Lock()
	defer p.site.mu.Unlock()
	p.url = url
	return nil
}

func (p *sitePage) Eval(ctx context.Context, js string, args ...interface{}) (gson.JSON, error) {
	if err := ctx.Err(); err != nil {
		return gson.JSON{}, err
	}
	s := p.site
	s.mu.Lock()
	onLogin := p.url == s.loginURL
	var v interface{}
	switch js {
	case browser.LoginStateJS:
		v = map[string]interface{}{
			"passwordForm": (onLogin && !p.submitted) || (!onLogin && s.loginRedirect),
			"failure":      "",
		}
	case browser.LoginFillJS:
		v = map[string]interface{}{"user": true, "password": true}
	case browser.LoginSubmitJS:
		p.submitted = true
		v = "button"
	case browser.WidgetReadyJS:
		v = s.widgetReady
	case browser.WidgetSearchJS, browser.BusyClearedJS, browser.RowsPresentJS, browser.ShowAllRowsJS:
		v = true
	case browser.SnapshotTableJS:
		if s.hangOnSnapshot {
			s.mu.Unlock()
			<-ctx.Done()
			return gson.JSON{}, ctx.Err()
		}
		v = s.html
	}
	s.mu.Unlock()
	return gson.New(v), nil
}

func (p *sitePage) Press(ctx context.Context, key input.Key) error { return nil }

func (p *sitePage) WaitNavigation(ctx context.Context, action func() error) error {
	return action()
}

func (p *sitePage) URL() string {
	p.site.mu.Lock()
	defer p.site.mu.Unlock()
	return p.url
}

func (p *sitePage) Close() error {
	p.site.mu.Lock()
	defer p.site.mu.Unlock()
	p.closed = true
	return nil
}

type journalRecorder struct {
	mu    sync.Mutex
	facts []mangle.Fact
}

func (j *journalRecorder) AddFacts(ctx context.Context, facts []mangle.Fact) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.facts = append(j.facts, facts...)
	return nil
}

func (j *journalRecorder) byPredicate(predicate string) []mangle.Fact {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []mangle.Fact
	for _, f := range j.facts {
		if f.Predicate == predicate {
			out = append(out, f)
		}
	}
	return out
}

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.Session.Username = "operador"
	cfg.Session.Password = "secreto"
	cfg.Session.UsernameEnv = "ONTIMECAR_TEST_UNSET_USERNAME"
	cfg.Session.PasswordEnv = "ONTIMECAR_TEST_UNSET_PASSWORD"
	cfg.Session.LoginBackoff = "5ms"
	cfg.Session.SubmitTimeout = "100ms"
	cfg.Readiness.WidgetTimeout = "30ms"
	cfg.Readiness.BusyTimeout = "30ms"
	cfg.Readiness.RowsTimeout = "30ms"
	cfg.Readiness.PollInterval = "5ms"
	cfg.Gate.WaitWindow = "1s"
	cfg.Server.RequestTimeout = "5s"

	widget := config.SearchConfig{Strategies: []string{"widget"}}
	cfg.Views = map[string]config.ViewConfig{
		"agendamiento": {
			URL:              "https://app.ontimecar.co/app/agendamiento/",
			Fields:           []string{"fecha", "cedula", "nombre"},
			IdentifierColumn: 1,
			SkipPrefix:       1,
			Cardinality:      "single",
			Projection: []config.ProjectionField{
				{Name: "identificacion_usuario", Source: "cedula", Digits: true},
				{Name: "nombre_usuario", Source: "nombre"},
			},
			Search: widget,
		},
		"programacion": {
			URL:              "https://app.ontimecar.co/app/programacion/",
			Fields:           []string{"fecha", "cedula", "nombre"},
			IdentifierColumn: 1,
			SkipPrefix:       1,
			DateField:        "fecha",
			Search:           widget,
		},
		"panel": {
			URL:              "https://app.ontimecar.co/app/panel/",
			Fields:           []string{"fecha", "cedula", "nombre"},
			IdentifierColumn: 1,
			SkipPrefix:       1,
			NotFound:         "404",
			Search:           widget,
		},
	}
	cfg.DefaultView = "agendamiento"
	return cfg
}
