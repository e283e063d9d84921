package browser

import (
	"context"
	"errors"
	"sync"

	"ontimecar-scraper/internal/config"

	"github.com/go-rod/rod/lib/input"
	"github.com/ysmood/gson"
)

type evalFunc func(args []interface{}) (interface{}, error)

// fakePage answers Eval by looking up the script text.
type fakePage struct {
	mu        sync.Mutex
	scripts   map[string]evalFunc
	navigated []string
	pressed   []input.Key
	evals     []string
	closed    bool
	navErr    error
	url       string
}

func newFakePage() *fakePage {
	return &fakePage{scripts: make(map[string]evalFunc)}
}

func (p *fakePage) on(js string, fn evalFunc) *fakePage {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts[js] = fn
	return p
}

func (p *fakePage) returns(js string, v interface{}) *fakePage {
	return p.on(js, func([]interface{}) (interface{}, error) { return v, nil })
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigated = append(p.navigated, url)
	if p.navErr == nil {
		p.url = url
	}
	return p.navErr
}

func (p *fakePage) Eval(ctx context.Context, js string, args ...interface{}) (gson.JSON, error) {
	if err := ctx.Err(); err != nil {
		return gson.JSON{}, err
	}
	p.mu.Lock()
	p.evals = append(p.evals, js)
	fn := p.scripts[js]
	p.mu.Unlock()
	if fn == nil {
		return gson.New(nil), nil
	}
	v, err := fn(args)
	if err != nil {
		return gson.JSON{}, err
	}
	return gson.New(v), nil
}

func (p *fakePage) Press(ctx context.Context, key input.Key) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pressed = append(p.pressed, key)
	return nil
}

func (p *fakePage) WaitNavigation(ctx context.Context, action func() error) error {
	return action()
}

func (p *fakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePage) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePage) evalCount(js string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.evals {
		if e == js {
			n++
		}
	}
	return n
}

// loginPage simulates the back-office login form. Without a password field every
// attempt fails; with accept=false the page shows a failure marker after submit.
func loginPage(hasPassword, accept bool) *fakePage {
	p := newFakePage()
	var mu sync.Mutex
	submitted := false
	p.on(LoginStateJS, func([]interface{}) (interface{}, error) {
		mu.Lock()
		defer mu.Unlock()
		failure := ""
		if submitted && !accept {
			failure = "credenciales incorrectas"
		}
		return map[string]interface{}{
			"passwordForm": hasPassword && (!submitted || !accept),
			"failure":      failure,
		}, nil
	})
	p.on(LoginFillJS, func([]interface{}) (interface{}, error) {
		return map[string]interface{}{"user": true, "password": hasPassword}, nil
	})
	p.on(LoginSubmitJS, func([]interface{}) (interface{}, error) {
		mu.Lock()
		defer mu.Unlock()
		submitted = true
		return "button", nil
	})
	return p
}

// fakeFactory hands out browsing contexts whose pages come from newPage.
type fakeFactory struct {
	mu             sync.Mutex
	newPage        func(n int) *fakePage
	pages          []*fakePage
	contexts       int
	closedContexts int
	closed         int
	initialized    bool
	err            error
}

func (f *fakeFactory) NewContext(ctx context.Context) (*BrowsingContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.contexts++
	f.initialized = true
	return &BrowsingContext{
		Open: func(ctx context.Context) (Page, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.newPage == nil {
				return nil, errors.New("no pages")
			}
			p := f.newPage(len(f.pages))
			f.pages = append(f.pages, p)
			return p, nil
		},
		Close: func() error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.closedContexts++
			return nil
		},
	}, nil
}

func (f *fakeFactory) Initialized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initialized
}

func (f *fakeFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	f.initialized = false
	return nil
}

func (f *fakeFactory) page(i int) *fakePage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pages[i]
}

func (f *fakeFactory) counts() (contexts, closedContexts, pages int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.contexts, f.closedContexts, len(f.pages)
}

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.Session.Username = "operador"
	cfg.Session.Password = "secreto"
	cfg.Session.UsernameEnv = "ONTIMECAR_TEST_UNSET_USERNAME"
	cfg.Session.PasswordEnv = "ONTIMECAR_TEST_UNSET_PASSWORD"
	cfg.Session.LoginBackoff = "5ms"
	cfg.Session.SubmitTimeout = "100ms"
	cfg.Readiness.WidgetTimeout = "20ms"
	cfg.Readiness.BusyTimeout = "20ms"
	cfg.Readiness.RowsTimeout = "20ms"
	cfg.Readiness.PollInterval = "5ms"
	cfg.Gate.WaitWindow = "2s"
	cfg.Gate.RetryAfter = "7s"
	return cfg
}
