package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"ontimecar-scraper/internal/config"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"
)

// Page is the part of a browser tab the pipeline drives. Every call honours ctx.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// Eval runs a JS function expression with JSON-encoded args and returns its result.
	Eval(ctx context.Context, js string, args ...interface{}) (gson.JSON, error)
	Press(ctx context.Context, key input.Key) error
	// WaitNavigation runs action and blocks until the page settles or ctx ends.
	WaitNavigation(ctx context.Context, action func() error) error
	URL() string
	Close() error
}

// PageOpener opens a fresh tab.
type PageOpener func(ctx context.Context) (Page, error)

// BrowsingContext is an isolated cookie jar. Pages opened from it share the login.
type BrowsingContext struct {
	Open  PageOpener
	Close func() error
}

// ContextFactory owns the browser process and hands out isolated contexts.
type ContextFactory interface {
	NewContext(ctx context.Context) (*BrowsingContext, error)
	Initialized() bool
	Close() error
}

type rodPage struct {
	page *rod.Page
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	pg := p.page.Context(ctx)
	if err := pg.Navigate(url); err != nil {
		return err
	}
	return pg.WaitLoad()
}

func (p *rodPage) Eval(ctx context.Context, js string, args ...interface{}) (gson.JSON, error) {
	res, err := p.page.Context(ctx).Eval(js, args...)
	if err != nil {
		return gson.JSON{}, err
	}
	return res.Value, nil
}

func (p *rodPage) Press(ctx context.Context, key input.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.page.Keyboard.Press(key)
}

func (p *rodPage) WaitNavigation(ctx context.Context, action func() error) error {
	wait := p.page.Context(ctx).WaitNavigation(proto.PageLifecycleEventNameNetworkAlmostIdle)
	if err := action(); err != nil {
		return err
	}
	wait()
	return ctx.Err()
}

func (p *rodPage) URL() string {
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (p *rodPage) Close() error {
	return p.page.Close()
}

// RodFactory starts or attaches to Chrome lazily and creates incognito contexts.
type RodFactory struct {
	cfg    config.BrowserConfig
	logger *slog.Logger

	mu         sync.Mutex
	browser    *rod.Browser
	launcher   *launcher.Launcher
	controlURL string
	connected  atomic.Bool
}

func NewRodFactory(cfg config.BrowserConfig, logger *slog.Logger) *RodFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &RodFactory{cfg: cfg, logger: logger}
}

// NewContext returns a fresh incognito context, starting the browser if needed.
func (f *RodFactory) NewContext(ctx context.Context) (*BrowsingContext, error) {
	b, err := f.start(ctx)
	if err != nil {
		return nil, err
	}
	incognito, err := b.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}
	return &BrowsingContext{
		Open: func(ctx context.Context) (Page, error) {
			return f.openPage(ctx, incognito)
		},
		Close: incognito.Close,
	}, nil
}

func (f *RodFactory) openPage(ctx context.Context, b *rod.Browser) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		page *rod.Page
		err  error
	)
	if f.cfg.IsStealth() {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             f.cfg.GetViewportWidth(),
		Height:            f.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		f.logger.Warn("set viewport failed", "error", err)
	}
	return &rodPage{page: page}, nil
}

// start connects to an existing Chrome or launches one. A dead connection is replaced.
func (f *RodFactory) start(ctx context.Context) (*rod.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browser != nil {
		if _, err := f.browser.Version(); err == nil {
			return f.browser, nil
		}
		f.logger.Warn("stale browser connection, reconnecting")
		_ = f.closeLocked()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	controlURL := f.cfg.DebuggerURL
	if controlURL == "" {
		l := f.newLauncher()
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		f.launcher = l
		controlURL = u
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		if f.launcher != nil {
			f.launcher.Kill()
			f.launcher = nil
		}
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	if f.cfg.IgnoreCertErrors {
		if err := b.IgnoreCertErrors(true); err != nil {
			f.logger.Warn("ignore cert errors failed", "error", err)
		}
	}

	f.browser = b
	f.controlURL = controlURL
	f.connected.Store(true)
	f.logger.Info("browser connected", "control_url", controlURL, "stealth", f.cfg.IsStealth())
	return b, nil
}

func (f *RodFactory) newLauncher() *launcher.Launcher {
	l := launcher.New().
		Headless(f.cfg.IsHeadless()).
		NoSandbox(true).
		Set(flags.Flag("disable-dev-shm-usage"))
	if len(f.cfg.Launch) == 0 {
		return l
	}
	l = l.Bin(f.cfg.Launch[0])
	for _, raw := range f.cfg.Launch[1:] {
		name, val, hasVal := strings.Cut(strings.TrimLeft(raw, "-"), "=")
		if hasVal {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	return l
}

// Initialized reports whether a browser connection is open. It never blocks on a launch.
func (f *RodFactory) Initialized() bool {
	return f.connected.Load()
}

// ControlURL returns the DevTools URL of the connected browser.
func (f *RodFactory) ControlURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.controlURL
}

// Close closes the browser. The next NewContext starts a new one.
func (f *RodFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeLocked()
}

func (f *RodFactory) closeLocked() error {
	var err error
	if f.browser != nil {
		err = f.browser.Close()
		f.browser = nil
	}
	if f.launcher != nil {
		f.launcher.Kill()
		f.launcher = nil
	}
	f.controlURL = ""
	f.connected.Store(false)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}
