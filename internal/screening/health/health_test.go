package health

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"jobsieve/internal/screening/gate"
	"jobsieve/internal/screening/gateway"
)

// =============================================================================
// Stubs
// =============================================================================

type stubPinger struct {
	err error
}

func (s *stubPinger) Ping(ctx context.Context) error { return s.err }

type stubQueue struct {
	size int
}

func (s *stubQueue) Size() int     { return s.size }
func (s *stubQueue) IsEmpty() bool { return s.size == 0 }

type stubCache struct {
	size int
}

func (s *stubCache) Size() int { return s.size }

func testConfig() Config {
	return Config{
		Pinger:        &stubPinger{},
		BreakerState:  func() gateway.BreakerState { return gateway.BreakerClosed },
		Queue:         &stubQueue{},
		Control:       gate.New(),
		Cache:         &stubCache{size: 42},
		LastSweep:     func() time.Time { return time.Now() },
		SweepInterval: 15 * time.Minute,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// =============================================================================
// Tests
// =============================================================================

func TestMonitor_Healthy(t *testing.T) {
	monitor := NewMonitor(testConfig())

	report := monitor.CheckHealth(context.Background())

	if report.Status != StatusHealthy {
		t.Errorf("expected healthy, got %s", report.Status)
	}
	if report.Paused {
		t.Error("expected not paused")
	}
	if len(report.Components) != 6 {
		t.Errorf("expected 6 components, got %d", len(report.Components))
	}
}

func TestMonitor_UnhealthyWhenStoreDown(t *testing.T) {
	cfg := testConfig()
	cfg.Pinger = &stubPinger{err: errors.New("connection refused")}
	monitor := NewMonitor(cfg)

	report := monitor.CheckHealth(context.Background())

	if report.Status != StatusUnhealthy {
		t.Errorf("expected unhealthy, got %s", report.Status)
	}
	if report.Components["store"].Status != StatusUnhealthy {
		t.Errorf("expected store component unhealthy, got %s", report.Components["store"].Status)
	}
}

func TestMonitor_DegradedWhenBreakerOpen(t *testing.T) {
	cfg := testConfig()
	cfg.BreakerState = func() gateway.BreakerState { return gateway.BreakerOpen }
	monitor := NewMonitor(cfg)

	report := monitor.CheckHealth(context.Background())

	if report.Status != StatusDegraded {
		t.Errorf("expected degraded, got %s", report.Status)
	}
	if got := report.Components["breaker"].Detail; got != "open" {
		t.Errorf("expected breaker detail open, got %q", got)
	}
}

func TestMonitor_DegradedWhenPaused(t *testing.T) {
	cfg := testConfig()
	g := gate.New()
	g.Pause()
	cfg.Control = g
	monitor := NewMonitor(cfg)

	report := monitor.CheckHealth(context.Background())

	if report.Status != StatusDegraded {
		t.Errorf("expected degraded, got %s", report.Status)
	}
	if !report.Paused {
		t.Error("expected paused flag set")
	}
}

func TestMonitor_DegradedWhenQueueBacklogged(t *testing.T) {
	cfg := testConfig()
	cfg.Queue = &stubQueue{size: queueBacklogLimit + 1}
	monitor := NewMonitor(cfg)

	report := monitor.CheckHealth(context.Background())

	if report.Status != StatusDegraded {
		t.Errorf("expected degraded, got %s", report.Status)
	}
}

func TestMonitor_DegradedWhenSweepStalled(t *testing.T) {
	cfg := testConfig()
	cfg.LastSweep = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	monitor := NewMonitor(cfg)

	report := monitor.CheckHealth(context.Background())

	if report.Status != StatusDegraded {
		t.Errorf("expected degraded, got %s", report.Status)
	}
	if report.Components["recovery"].Status != StatusDegraded {
		t.Errorf("expected recovery component degraded, got %s", report.Components["recovery"].Status)
	}
}

func TestMonitor_SweepNotYetRunIsHealthy(t *testing.T) {
	cfg := testConfig()
	cfg.LastSweep = func() time.Time { return time.Time{} }
	monitor := NewMonitor(cfg)

	report := monitor.CheckHealth(context.Background())

	if report.Status != StatusHealthy {
		t.Errorf("expected healthy, got %s", report.Status)
	}
}

func TestMonitor_CachesReport(t *testing.T) {
	cfg := testConfig()
	g := gate.New()
	cfg.Control = g
	monitor := NewMonitor(cfg)

	first := monitor.CheckHealth(context.Background())
	g.Pause()
	second := monitor.CheckHealth(context.Background())

	if first.Paused || second.Paused {
		t.Error("expected cached report within the rate-limit window")
	}
}
