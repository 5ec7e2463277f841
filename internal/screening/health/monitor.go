package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"jobsieve/internal/infra/storage"
	"jobsieve/internal/screening/gateway"
)

// QueueStats reports queue occupancy.
type QueueStats interface {
	Size() int
	IsEmpty() bool
}

// Controller is the operator pause switch.
type Controller interface {
	Pause() bool
	Resume() bool
	Paused() bool
}

// CacheSizer reports the processed-cache entry count.
type CacheSizer interface {
	Size() int
}

// Config wires the component probes the monitor and ops server read.
type Config struct {
	Pinger       storage.Pinger
	BreakerState func() gateway.BreakerState
	Queue        QueueStats
	Control      Controller
	Cache        CacheSizer

	// LastSweep reports the recovery loop's most recent wake-up; zero means
	// it has not run yet. Nil skips the recovery component entirely.
	LastSweep     func() time.Time
	SweepInterval time.Duration

	Logger *slog.Logger
	Port   int
}

// queueBacklogLimit is the occupancy beyond which the queue component
// reports degraded.
const queueBacklogLimit = 500

// Monitor aggregates health status from the processing components.
type Monitor struct {
	cfg        Config
	lastCheck  time.Time
	lastReport *Report
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor.
func NewMonitor(cfg Config) *Monitor {
	return &Monitor{cfg: cfg}
}

// CheckHealth probes every component and aggregates the worst status.
func (m *Monitor) CheckHealth(ctx context.Context) Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Rate limit checks (max once per 10s) so aggressive probe intervals do
	// not hammer the store.
	if time.Since(m.lastCheck) < 10*time.Second && m.lastReport != nil {
		return *m.lastReport
	}

	components := make(map[string]ComponentHealth)

	// 1. Store connectivity. A dead store is the only condition the probes
	// report as unhealthy; everything downstream needs it.
	store := ComponentHealth{Name: "store", Status: StatusHealthy, Detail: "reachable"}
	if m.cfg.Pinger != nil {
		if err := m.cfg.Pinger.Ping(ctx); err != nil {
			store.Status = StatusUnhealthy
			store.Detail = err.Error()
		}
	}
	components["store"] = store

	// 2. Circuit breaker.
	state := m.cfg.BreakerState()
	breaker := ComponentHealth{Name: "breaker", Status: StatusHealthy, Detail: state.String()}
	if state != gateway.BreakerClosed {
		breaker.Status = StatusDegraded
	}
	components["breaker"] = breaker

	// 3. Queue backlog.
	depth := m.cfg.Queue.Size()
	qc := ComponentHealth{Name: "queue", Status: StatusHealthy, Detail: fmt.Sprintf("%d pending", depth)}
	if depth > queueBacklogLimit {
		qc.Status = StatusDegraded
	}
	components["queue"] = qc

	// 4. Operator pause. Deliberate, so degraded rather than unhealthy;
	// liveness probes must keep passing while an operator holds the gate.
	paused := m.cfg.Control.Paused()
	pc := ComponentHealth{Name: "processing", Status: StatusHealthy, Detail: "running"}
	if paused {
		pc.Status = StatusDegraded
		pc.Detail = "paused"
	}
	components["processing"] = pc

	// 5. Processed cache.
	components["cache"] = ComponentHealth{
		Name:   "cache",
		Status: StatusHealthy,
		Detail: fmt.Sprintf("%d entries", m.cfg.Cache.Size()),
	}

	// 6. Recovery sweep liveness.
	if m.cfg.LastSweep != nil {
		rc := ComponentHealth{Name: "recovery", Status: StatusHealthy}
		last := m.cfg.LastSweep()
		switch {
		case last.IsZero():
			rc.Detail = "no sweep yet"
		case m.cfg.SweepInterval > 0 && time.Since(last) > 4*m.cfg.SweepInterval:
			rc.Status = StatusDegraded
			rc.Detail = fmt.Sprintf("last sweep %s ago", time.Since(last).Round(time.Second))
		default:
			rc.Detail = fmt.Sprintf("last sweep %s ago", time.Since(last).Round(time.Second))
		}
		components["recovery"] = rc
	}

	report := Report{Status: StatusHealthy, Paused: paused, Components: components}
	for _, c := range components {
		report.Status = worse(report.Status, c.Status)
	}

	m.lastCheck = time.Now()
	m.lastReport = &report
	return report
}

// worse returns the more severe of two statuses.
func worse(a, b SystemStatus) SystemStatus {
	if rank(b) > rank(a) {
		return b
	}
	return a
}

func rank(s SystemStatus) int {
	switch s {
	case StatusUnhealthy:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}
