package browser

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ontimecar-scraper/internal/apperr"
	"ontimecar-scraper/internal/config"
)

func TestGateSerializes(t *testing.T) {
	g := NewGate(config.GateConfig{WaitWindow: "10s", RetryAfter: "5s"})

	var running, maxRunning int32
	track := func(hold time.Duration) {
		n := atomic.AddInt32(&running, 1)
		for {
			m := atomic.LoadInt32(&maxRunning)
			if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
				break
			}
		}
		time.Sleep(hold)
		atomic.AddInt32(&running, -1)
	}

	if err := g.Enter(context.Background()); err != nil {
		t.Fatalf("A enter: %v", err)
	}
	var releasedA, enteredB time.Time
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(200 * time.Millisecond)
		if err := g.Enter(context.Background()); err != nil {
			t.Errorf("B enter: %v", err)
			return
		}
		enteredB = time.Now()
		track(10 * time.Millisecond)
		g.Leave()
	}()

	track(400 * time.Millisecond)
	releasedA = time.Now()
	g.Leave()
	wg.Wait()

	if enteredB.IsZero() {
		t.Fatal("B never entered")
	}
	if enteredB.Before(releasedA) {
		t.Error("B entered before A released")
	}
	if maxRunning != 1 {
		t.Errorf("expected at most one holder at a time, saw %d", maxRunning)
	}
}

func TestGateWaitWindowExpires(t *testing.T) {
	g := NewGate(config.GateConfig{WaitWindow: "30ms", RetryAfter: "3s"})
	if err := g.Enter(context.Background()); err != nil {
		t.Fatalf("enter: %v", err)
	}
	defer g.Leave()

	err := g.Enter(context.Background())
	if apperr.KindOf(err) != apperr.KindBusy {
		t.Fatalf("expected service_busy, got %v", err)
	}
	if got := apperr.RetryAfterOf(err); got != 3*time.Second {
		t.Errorf("expected retry-after 3s, got %v", got)
	}
}

func TestGateFreeAfterLeave(t *testing.T) {
	g := NewGate(config.GateConfig{WaitWindow: "20ms", RetryAfter: "5s"})
	if g.Window() != 20*time.Millisecond {
		t.Fatalf("expected 20ms window, got %v", g.Window())
	}
	if err := g.Enter(context.Background()); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if err := g.Enter(context.Background()); apperr.KindOf(err) != apperr.KindBusy {
		t.Fatalf("expected service_busy, got %v", err)
	}

	g.Leave()
	start := time.Now()
	if err := g.Enter(context.Background()); err != nil {
		t.Errorf("gate should be free after leave: %v", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("a free gate must not wait")
	}
	g.Leave()
}

func TestGateCallerDeadline(t *testing.T) {
	g := NewGate(config.GateConfig{WaitWindow: "10s"})
	if err := g.Enter(context.Background()); err != nil {
		t.Fatalf("enter: %v", err)
	}
	defer g.Leave()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := g.Enter(ctx); apperr.KindOf(err) != apperr.KindTimeout {
		t.Errorf("expected timeout when the caller's deadline ends first, got %v", err)
	}
}

func TestGateDefaults(t *testing.T) {
	g := NewGate(config.GateConfig{})
	if g.Window() != 10*time.Second || g.retryAfter != 5*time.Second {
		t.Errorf("expected 10s window and 5s hint, got %v/%v", g.Window(), g.retryAfter)
	}
}
