package mangle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"ontimecar-scraper/internal/config"

	"github.com/google/go-cmp/cmp"
)

func newJournal(t *testing.T, limit int) *Engine {
	t.Helper()
	engine, err := NewEngine(config.MangleConfig{Enable: true, FactBufferLimit: limit})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return engine
}

func extraction(req, view string, seen, matched, elapsed int64, strategy string) Fact {
	return NewFact("extraction", req, view, seen, matched, elapsed, strategy)
}

func argsOf(facts []Fact) [][]interface{} {
	out := make([][]interface{}, 0, len(facts))
	for _, f := range facts {
		out = append(out, f.Args)
	}
	sort.Slice(out, func(i, j int) bool { return fmt.Sprint(out[i]) < fmt.Sprint(out[j]) })
	return out
}

func TestEngineLoadsBuiltinSchema(t *testing.T) {
	engine := newJournal(t, 100)
	if !engine.Ready() {
		t.Fatal("engine not ready after loading the built-in schema")
	}

	declared := map[string]bool{}
	for _, p := range engine.Predicates() {
		declared[p] = true
	}
	for _, want := range []string{"session_created", "login_attempt", "extraction", "extraction_error", "slow_extraction"} {
		if !declared[want] {
			t.Errorf("expected %s to be declared, got %v", want, engine.Predicates())
		}
	}
}

func TestEngineLoadSchemaFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.mg")
	src := "Decl seen(Name).\nDecl known(Name).\nknown(N) :- seen(N).\n"
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	engine, err := NewEngine(config.MangleConfig{Enable: true, SchemaPath: path, FactBufferLimit: 10})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if err := engine.AddFacts(context.Background(), []Fact{NewFact("seen", "a")}); err != nil {
		t.Fatalf("AddFacts failed: %v", err)
	}
	got, err := engine.Evaluate(context.Background(), "known")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(got) != 1 || got[0].Args[0] != "a" {
		t.Errorf("expected known(a), got %+v", got)
	}

	if _, err := NewEngine(config.MangleConfig{Enable: true, SchemaPath: filepath.Join(t.TempDir(), "missing.mg")}); err == nil {
		t.Error("expected error for a missing schema file")
	}
}

func TestEngineRejectsInvalidSchema(t *testing.T) {
	engine := newJournal(t, 10)
	if err := engine.LoadSchema([]byte("this is not mangle(")); err == nil {
		t.Error("expected parse error")
	}
}

func TestEngineAddFacts(t *testing.T) {
	engine := newJournal(t, 100)
	ctx := context.Background()

	facts := []Fact{
		NewFact("session_created", "s-1", int64(1000)),
		NewFact("login_attempt", "s-1", int64(1), "ok", int64(1200)),
		extraction("r-1", "agendamiento", 3, 1, 900, "widget"),
	}
	if err := engine.AddFacts(ctx, facts); err != nil {
		t.Fatalf("AddFacts failed: %v", err)
	}

	if got := len(engine.Facts()); got != len(facts) {
		t.Errorf("expected %d buffered facts, got %d", len(facts), got)
	}
	if got := len(engine.FactsByPredicate("login_attempt")); got != 1 {
		t.Errorf("expected 1 login_attempt, got %d", got)
	}
	if got := engine.FactsByPredicate("gate_busy"); len(got) != 0 {
		t.Errorf("expected no gate_busy facts, got %v", got)
	}
}

func TestEngineDerivedDiagnostics(t *testing.T) {
	engine := newJournal(t, 100)
	ctx := context.Background()

	facts := []Fact{
		extraction("r-1", "agendamiento", 12, 0, 800, "widget"),
		extraction("r-2", "programacion", 40, 3, 45000, "locator"),
		extraction("r-3", "panel", 5, 1, 1200, "none"),
		extraction("r-4", "panel", 0, 0, 500, "widget"),
		NewFact("login_attempt", "s-1", int64(1), "password field not found", int64(1)),
		NewFact("login_attempt", "s-1", int64(2), "ok", int64(2)),
		NewFact("login_attempt", "s-2", int64(1), "ok", int64(3)),
		NewFact("extraction_error", "r-5", "panel", "widget_not_ready", int64(4)),
		NewFact("extraction_error", "r-6", "panel", "service_busy", int64(5)),
	}
	if err := engine.AddFacts(ctx, facts); err != nil {
		t.Fatalf("AddFacts failed: %v", err)
	}

	tests := []struct {
		predicate string
		want      [][]interface{}
	}{
		{"empty_lookup", [][]interface{}{{"r-1", "agendamiento"}}},
		{"slow_extraction", [][]interface{}{{"r-2", "programacion", int64(45000)}}},
		{"blind_filter", [][]interface{}{{"r-3", "panel"}}},
		{"login_recovered", [][]interface{}{{"s-1"}}},
		{"view_unreachable", [][]interface{}{{"panel", "widget_not_ready"}}},
	}
	for _, tt := range tests {
		t.Run(tt.predicate, func(t *testing.T) {
			got, err := engine.Evaluate(ctx, tt.predicate)
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, argsOf(got)); diff != "" {
				t.Errorf("%s mismatch (-want +got):\n%s", tt.predicate, diff)
			}
		})
	}
}

func TestEngineQueryBindings(t *testing.T) {
	engine := newJournal(t, 100)
	ctx := context.Background()

	if err := engine.AddFacts(ctx, []Fact{
		extraction("r-1", "programacion", 40, 3, 31000, "widget"),
		extraction("r-2", "panel", 4, 1, 200, "widget"),
	}); err != nil {
		t.Fatalf("AddFacts failed: %v", err)
	}

	results, err := engine.Query(ctx, "slow_extraction(Request, View, Elapsed).")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	want := []QueryResult{{"Request": "r-1", "View": "programacion", "Elapsed": int64(31000)}}
	if diff := cmp.Diff(want, results); diff != "" {
		t.Errorf("bindings mismatch (-want +got):\n%s", diff)
	}

	results, err = engine.Query(ctx, `extraction(R, "panel", _, _, _, S).`)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 1 || results[0]["R"] != "r-2" || results[0]["S"] != "widget" {
		t.Errorf("unexpected constant-filtered results %v", results)
	}

	if _, err := engine.Query(ctx, "not a query ("); err == nil {
		t.Error("expected parse error")
	}
}

func TestEngineTemporalQuery(t *testing.T) {
	engine := newJournal(t, 100)
	now := time.Now()

	facts := []Fact{
		{Predicate: "gate_busy", Args: []interface{}{int64(10000), int64(1)}, Timestamp: now.Add(-10 * time.Minute)},
		{Predicate: "gate_busy", Args: []interface{}{int64(10000), int64(2)}, Timestamp: now.Add(-time.Minute)},
		{Predicate: "gate_busy", Args: []interface{}{int64(10000), int64(3)}, Timestamp: now},
	}
	if err := engine.AddFacts(context.Background(), facts); err != nil {
		t.Fatalf("AddFacts failed: %v", err)
	}

	recent := engine.QueryTemporal("gate_busy", now.Add(-5*time.Minute), time.Time{})
	if len(recent) != 2 {
		t.Errorf("expected 2 facts in the last 5 minutes, got %d", len(recent))
	}
	old := engine.QueryTemporal("gate_busy", time.Time{}, now.Add(-5*time.Minute))
	if len(old) != 1 || old[0].Args[1] != int64(1) {
		t.Errorf("expected only the oldest fact, got %v", old)
	}
}

func TestEngineBufferTrimDropsDerivedFacts(t *testing.T) {
	engine := newJournal(t, 8)
	ctx := context.Background()

	facts := make([]Fact, 0, 10)
	facts = append(facts, extraction("r-0", "panel", 1, 1, 60000, "widget"))
	for i := 1; i < 10; i++ {
		facts = append(facts, extraction(fmt.Sprintf("r-%d", i), "panel", 1, 1, 100, "widget"))
	}
	if err := engine.AddFacts(ctx, facts); err != nil {
		t.Fatalf("AddFacts failed: %v", err)
	}

	buffered := engine.Facts()
	if len(buffered) != 6 {
		t.Fatalf("expected buffer trimmed to 6, got %d", len(buffered))
	}
	if buffered[0].Args[0] != "r-4" {
		t.Errorf("expected oldest surviving fact r-4, got %v", buffered[0].Args[0])
	}
	if got := len(engine.FactsByPredicate("extraction")); got != 6 {
		t.Errorf("index not rebuilt: %d entries", got)
	}

	slow, err := engine.Evaluate(ctx, "slow_extraction")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(slow) != 0 {
		t.Errorf("derived facts of trimmed entries must go, got %v", slow)
	}
	all, err := engine.Evaluate(ctx, "extraction")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(all) != 6 {
		t.Errorf("expected 6 extraction facts in the store, got %d", len(all))
	}

	if err := engine.AddFacts(ctx, []Fact{extraction("r-10", "panel", 1, 1, 100, "widget")}); err != nil {
		t.Fatalf("AddFacts failed: %v", err)
	}
	if got := len(engine.FactsByPredicate("extraction")); got != 7 {
		t.Errorf("expected incremental append after trim, got %d", got)
	}
}

func TestEngineUnknownPredicate(t *testing.T) {
	engine := newJournal(t, 10)
	if _, err := engine.Evaluate(context.Background(), "dom_node"); err == nil {
		t.Error("expected error for an undeclared predicate")
	}
}

func TestEngineDisabled(t *testing.T) {
	engine, err := NewEngine(config.MangleConfig{Enable: false, FactBufferLimit: 10})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if engine.Enabled() {
		t.Error("expected a disabled engine")
	}

	ctx := context.Background()
	if err := engine.AddFacts(ctx, []Fact{NewFact("gate_busy", int64(10000), int64(1))}); err != nil {
		t.Errorf("AddFacts should succeed when disabled: %v", err)
	}
	if len(engine.Facts()) != 0 {
		t.Error("a disabled engine must not buffer facts")
	}
	if !engine.Ready() {
		t.Error("engine should be ready when disabled")
	}
	if _, err := engine.Query(ctx, "gate_busy(P, T)."); err == nil {
		t.Error("expected query to fail when disabled")
	}
}
