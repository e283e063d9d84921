package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Config captures all tunable settings for the OnTimeCar scraper service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Browser   BrowserConfig   `yaml:"browser"`
	Session   SessionConfig   `yaml:"session"`
	Gate      GateConfig      `yaml:"gate"`
	Readiness ReadinessConfig `yaml:"readiness"`
	MCP       MCPConfig       `yaml:"mcp"`
	Mangle    MangleConfig    `yaml:"mangle"`

	// DefaultView is used by POST /consulta when the body names no view.
	DefaultView string `yaml:"default_view"`
	// ViewDefaults fills unset fields of every entry in Views.
	ViewDefaults ViewConfig            `yaml:"view_defaults"`
	Views        map[string]ViewConfig `yaml:"views"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Listen  string `yaml:"listen"`
	// debug | info | warn | error
	LogLevel string `yaml:"log_level"`
	// json | text
	LogFormat string `yaml:"log_format"`
	// Hard deadline for one extraction run (e.g., "90s").
	RequestTimeout string `yaml:"request_timeout"`
	// Directory for per-request JSONL traces. Empty disables tracing.
	TraceDir  string `yaml:"trace_dir"`
	TraceKeep int    `yaml:"trace_keep"`
}

// BrowserConfig configures how we attach to or launch Chrome for Rod.
type BrowserConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222). Takes precedence over launch.
	DebuggerURL string `yaml:"debugger_url"`
	// Optional launch command: binary followed by Chrome flags.
	Launch   []string `yaml:"launch"`
	Headless *bool    `yaml:"headless"`
	// Stealth pages patch common automation fingerprints.
	Stealth           *bool  `yaml:"stealth"`
	IgnoreCertErrors  bool   `yaml:"ignore_cert_errors"`
	NavigationTimeout string `yaml:"navigation_timeout"`
	ViewportWidth     int    `yaml:"viewport_width"`
	ViewportHeight    int    `yaml:"viewport_height"`
}

// SessionConfig describes the login flow of the remote back office.
type SessionConfig struct {
	LoginURL string `yaml:"login_url"`
	// Environment variables holding the credentials.
	UsernameEnv string `yaml:"username_env"`
	PasswordEnv string `yaml:"password_env"`
	// Inline credentials, meant for the untracked local overlay only.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	MaxLoginAttempts int    `yaml:"max_login_attempts"`
	LoginBackoff     string `yaml:"login_backoff"`
	// Upper bound for the post-submit navigation wait.
	SubmitTimeout string `yaml:"submit_timeout"`

	UsernameSelectors []string `yaml:"username_selectors"`
	PasswordSelectors []string `yaml:"password_selectors"`
	SubmitSelectors   []string `yaml:"submit_selectors"`
	// Page text fragments that signal a rejected login.
	FailureMarkers []string `yaml:"failure_markers"`
}

// GateConfig bounds how long a request waits for the busy session before it is
// turned away with a retry hint.
type GateConfig struct {
	WaitWindow string `yaml:"wait_window"`
	RetryAfter string `yaml:"retry_after"`
}

// ReadinessConfig tunes the polling waits around the grid widget.
type ReadinessConfig struct {
	WidgetTimeout  string   `yaml:"widget_timeout"`
	BusyTimeout    string   `yaml:"busy_timeout"`
	RowsTimeout    string   `yaml:"rows_timeout"`
	PollInterval   string   `yaml:"poll_interval"`
	BusySelectors  []string `yaml:"busy_selectors"`
	TableSelectors []string `yaml:"table_selectors"`
}

type MCPConfig struct {
	// Mount the MCP SSE endpoints (/sse, /message) on the HTTP router.
	SSEEnabled bool `yaml:"sse_enabled"`
	// Public base URL advertised to SSE clients.
	BaseURL string `yaml:"base_url"`
}

// MangleConfig controls the embedded extraction journal.
type MangleConfig struct {
	Enable bool `yaml:"enable"`
	// Optional schema file. Empty uses the built-in journal schema.
	SchemaPath      string `yaml:"schema_path"`
	FactBufferLimit int    `yaml:"fact_buffer_limit"`
}

// ViewConfig is the raw, unvalidated description of one remote table view.
type ViewConfig struct {
	Description      string   `yaml:"description"`
	URL              string   `yaml:"url"`
	Fields           []string `yaml:"fields"`
	IdentifierColumn int      `yaml:"identifier_column"`
	SkipPrefix       int      `yaml:"skip_prefix"`
	// single | list
	Cardinality string `yaml:"cardinality"`
	// loose | none (single views only)
	SingleFallback string `yaml:"single_fallback"`
	// loose | exact (list views only)
	ListMatch string `yaml:"list_match"`
	// empty | 404
	NotFound   string            `yaml:"not_found"`
	DateField  string            `yaml:"date_field"`
	Projection []ProjectionField `yaml:"projection"`
	Search     SearchConfig      `yaml:"search"`
}

// ProjectionField maps a schema field to a friendly output key.
type ProjectionField struct {
	Name   string `yaml:"name"`
	Source string `yaml:"source"`
	// Digits adds a "<name>_digits" companion holding only the ASCII digits.
	Digits bool `yaml:"digits"`
}

// SearchConfig tunes the search/filter driver for a view.
type SearchConfig struct {
	// Ordered subset of: widget, locator, heuristic, query_param.
	Strategies []string `yaml:"strategies"`
	// Search only the identifier column through the widget API.
	ColumnScoped     *bool    `yaml:"column_scoped"`
	Locators         []string `yaml:"locators"`
	HeuristicPattern string   `yaml:"heuristic_pattern"`
	QueryParam       string   `yaml:"query_param"`
	PressEnter       *bool    `yaml:"press_enter"`
	ShowAllRows      *bool    `yaml:"show_all_rows"`
}

// DefaultConfig provides reasonable defaults for the OnTimeCar back office.
func DefaultConfig() Config {
	cfg := Config{
		Server: ServerConfig{
			Name:           "ontimecar-scraper",
			Version:        "1.0.0",
			Listen:         ":3000",
			LogLevel:       "info",
			LogFormat:      "json",
			RequestTimeout: "90s",
			TraceKeep:      20,
		},
		Browser: BrowserConfig{
			NavigationTimeout: "45s",
			ViewportWidth:     1366,
			ViewportHeight:    800,
		},
		Session: SessionConfig{
			LoginURL:         "https://app.ontimecar.co/app/home/",
			UsernameEnv:      "ONTIMECAR_USERNAME",
			PasswordEnv:      "ONTIMECAR_PASSWORD",
			MaxLoginAttempts: 2,
			LoginBackoff:     "2s",
			SubmitTimeout:    "45s",
			UsernameSelectors: []string{
				`input[name="username"]`, `input#username`, `input[name="email"]`, `input[type="text"]`,
			},
			PasswordSelectors: []string{
				`input[name="password"]`, `input#password`, `input[type="password"]`,
			},
			SubmitSelectors: []string{
				`button[type="submit"]`, `input[type="submit"]`, `button.btn-primary`,
			},
			FailureMarkers: []string{
				"credenciales incorrectas", "usuario o contraseña", "invalid credentials", "please enter a correct username",
			},
		},
		Gate: GateConfig{
			WaitWindow: "10s",
			RetryAfter: "5s",
		},
		Readiness: ReadinessConfig{
			WidgetTimeout: "15s",
			BusyTimeout:   "15s",
			RowsTimeout:   "8s",
			PollInterval:  "250ms",
			BusySelectors: []string{
				".dataTables_processing", ".dt-processing", ".loading-overlay", ".spinner-border",
			},
			TableSelectors: []string{
				"table tbody", ".table tbody", ".dataTable tbody", `[class*="table"] tbody`, "tbody",
			},
		},
		MCP: MCPConfig{
			BaseURL: "http://localhost:3000",
		},
		Mangle: MangleConfig{
			Enable:          true,
			FactBufferLimit: 4096,
		},
		DefaultView: "agendamiento",
		ViewDefaults: ViewConfig{
			Cardinality:    "list",
			SingleFallback: "loose",
			ListMatch:      "loose",
			NotFound:       "empty",
			Search: SearchConfig{
				Strategies: []string{"widget", "locator", "heuristic", "query_param"},
				Locators: []string{
					`input[type="search"]`,
					`input[placeholder*="Buscar"]`,
					`input[placeholder*="buscar"]`,
					`input[aria-controls]`,
					`input[name="search"]`,
					`input[id*="search"]`,
					`input[class*="search"]`,
					`input.form-control`,
				},
				HeuristicPattern: `buscar|search|cedul|ident|documento`,
				QueryParam:       "search",
			},
		},
		Views: builtinViews(),
	}
	// Built-in views always merge cleanly.
	_ = cfg.ApplyViewDefaults()
	return cfg
}

// LocalPath returns the overlay path for a config file: config.yaml -> config.local.yaml.
func LocalPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".local" + ext
}

// Load reads YAML config from disk, overlays defaults, then applies the optional local overlay.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}

	localPath := LocalPath(path)
	if raw, err := os.ReadFile(localPath); err == nil {
		var local Config
		if err := yaml.Unmarshal(raw, &local); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", localPath, err)
		}
		if err := mergo.Merge(&cfg, local, mergo.WithOverride); err != nil {
			return cfg, fmt.Errorf("merge %s: %w", localPath, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("read %s: %w", localPath, err)
	}

	if err := cfg.ApplyViewDefaults(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// ApplyViewDefaults fills unset view fields from ViewDefaults.
func (c *Config) ApplyViewDefaults() error {
	for name, v := range c.Views {
		if err := mergo.Merge(&v, c.ViewDefaults); err != nil {
			return fmt.Errorf("view %s: apply defaults: %w", name, err)
		}
		c.Views[name] = v
	}
	return nil
}

// Validate ensures required fields exist so the server can start deterministically.
// Per-view structure is validated by the schema registry.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if c.Session.LoginURL == "" {
		return errors.New("session.login_url is required")
	}
	if c.Session.MaxLoginAttempts < 1 {
		return errors.New("session.max_login_attempts must be at least 1")
	}
	if len(c.Session.PasswordSelectors) == 0 {
		return errors.New("session.password_selectors must not be empty")
	}
	if c.Gate.WaitWindow != "" {
		if d, err := time.ParseDuration(c.Gate.WaitWindow); err != nil || d <= 0 {
			return fmt.Errorf("gate.wait_window must be a positive duration, got %q", c.Gate.WaitWindow)
		}
	}
	if len(c.Views) == 0 {
		return errors.New("at least one view is required")
	}
	if _, ok := c.Views[c.DefaultView]; !ok {
		return fmt.Errorf("default_view %q is not a configured view", c.DefaultView)
	}
	return nil
}

// ViewNames returns configured view names in sorted order.
func (c *Config) ViewNames() []string {
	names := make([]string, 0, len(c.Views))
	for name := range c.Views {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Credentials resolves the back-office credentials. Environment variables win over
// inline values.
func (s SessionConfig) Credentials() (string, string, error) {
	user, pass := s.Username, s.Password
	if s.UsernameEnv != "" {
		if v := os.Getenv(s.UsernameEnv); v != "" {
			user = v
		}
	}
	if s.PasswordEnv != "" {
		if v := os.Getenv(s.PasswordEnv); v != "" {
			pass = v
		}
	}
	if user == "" || pass == "" {
		return "", "", fmt.Errorf("credentials missing: set %s and %s", s.UsernameEnv, s.PasswordEnv)
	}
	return user, pass, nil
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

// RequestDeadline returns the per-request extraction deadline.
func (s ServerConfig) RequestDeadline() time.Duration {
	return parseDuration(s.RequestTimeout, 90*time.Second)
}

// NavigationDeadline returns the parsed navigation timeout with a sane default.
func (b BrowserConfig) NavigationDeadline() time.Duration {
	return parseDuration(b.NavigationTimeout, 45*time.Second)
}

// IsHeadless returns whether Chrome should run in headless mode (default: true).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return true
	}
	return *b.Headless
}

// IsStealth returns whether pages are created through go-rod/stealth (default: true).
func (b BrowserConfig) IsStealth() bool {
	if b.Stealth == nil {
		return true
	}
	return *b.Stealth
}

// GetViewportWidth returns the viewport width with a sane default.
func (b BrowserConfig) GetViewportWidth() int {
	if b.ViewportWidth <= 0 {
		return 1366
	}
	return b.ViewportWidth
}

// GetViewportHeight returns the viewport height with a sane default.
func (b BrowserConfig) GetViewportHeight() int {
	if b.ViewportHeight <= 0 {
		return 800
	}
	return b.ViewportHeight
}

func (s SessionConfig) BackoffDelay() time.Duration {
	return parseDuration(s.LoginBackoff, 2*time.Second)
}

func (s SessionConfig) SubmitDeadline() time.Duration {
	return parseDuration(s.SubmitTimeout, 45*time.Second)
}

func (g GateConfig) Wait() time.Duration {
	return parseDuration(g.WaitWindow, 10*time.Second)
}

func (g GateConfig) RetryAfterHint() time.Duration {
	return parseDuration(g.RetryAfter, 5*time.Second)
}

func (r ReadinessConfig) Widget() time.Duration {
	return parseDuration(r.WidgetTimeout, 15*time.Second)
}

func (r ReadinessConfig) Busy() time.Duration {
	return parseDuration(r.BusyTimeout, 15*time.Second)
}

func (r ReadinessConfig) Rows() time.Duration {
	return parseDuration(r.RowsTimeout, 8*time.Second)
}

func (r ReadinessConfig) Poll() time.Duration {
	d := parseDuration(r.PollInterval, 250*time.Millisecond)
	if d == 0 {
		return 250 * time.Millisecond
	}
	return d
}

// ColumnScopedSearch reports whether widget search targets only the identifier column.
func (s SearchConfig) ColumnScopedSearch() bool {
	return s.ColumnScoped != nil && *s.ColumnScoped
}

// PressesEnter reports whether the locator strategy presses Enter after typing (default: true).
func (s SearchConfig) PressesEnter() bool {
	if s.PressEnter == nil {
		return true
	}
	return *s.PressEnter
}

// ShowsAllRows reports whether the widget is asked to render every row (default: true).
func (s SearchConfig) ShowsAllRows() bool {
	if s.ShowAllRows == nil {
		return true
	}
	return *s.ShowAllRows
}
