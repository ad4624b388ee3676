package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/whttlr/cnc-bridge/internal/config"
	"github.com/whttlr/cnc-bridge/internal/machine"
	"github.com/whttlr/cnc-bridge/internal/serial"
)

// Status is the ternary health verdict, with Unknown standing in for a
// sub-check that could not be performed at all.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// Component names present in every snapshot.
const (
	ComponentConnection = "connection"
	ComponentMachine    = "machine"
	ComponentSystem     = "system"
)

// ComponentHealth is one sub-check's contribution to the snapshot.
type ComponentHealth struct {
	Status         Status  `json:"status"`
	ResponseTimeMs float64 `json:"response_time_ms,omitempty"`
	ErrorDetail    string  `json:"error_detail,omitempty"`
}

// Snapshot is the combined verdict. Every component queried is always
// present; a failed sub-check appears as Unknown with detail, never as a
// missing key.
type Snapshot struct {
	Overall    Status                     `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
	CheckedAt  time.Time                  `json:"checked_at"`
}

// StatusProber is the machine sub-check dependency.
type StatusProber interface {
	Query(ctx context.Context) (*machine.State, error)
}

// ConnectionStats samples the rolling serial exchange window.
type ConnectionStats interface {
	Sample() serial.Sample
}

// SystemMetrics samples host resources.
type SystemMetrics interface {
	Sample() (SystemSample, error)
}

// Aggregator reduces the three independent signals into one snapshot.
// Every Assess call performs fresh queries; nothing is cached between
// calls, trading throughput for correctness on a safety-adjacent signal.
type Aggregator struct {
	probe  StatusProber
	conn   ConnectionStats
	system SystemMetrics
	cfg    config.HealthConfig
	logger *zap.Logger
}

func NewAggregator(probe StatusProber, conn ConnectionStats, system SystemMetrics, cfg config.HealthConfig, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		probe:  probe,
		conn:   conn,
		system: system,
		cfg:    cfg,
		logger: logger,
	}
}

// Assess gathers the three signals concurrently, each under its own
// timeout, and reduces them deterministically: any Unhealthy wins, then
// any Degraded or Unknown, else Healthy.
func (a *Aggregator) Assess(ctx context.Context) Snapshot {
	snap := Snapshot{
		Components: make(map[string]ComponentHealth, 3),
		CheckedAt:  time.Now(),
	}

	var mu sync.Mutex
	var wg sync.WaitGroup

	check := func(name string, timeout time.Duration, fn func(context.Context) ComponentHealth) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			ch := fn(checkCtx)
			mu.Lock()
			snap.Components[name] = ch
			mu.Unlock()
		}()
	}

	check(ComponentConnection, a.cfg.ConnectionTimeout, a.checkConnection)
	check(ComponentMachine, a.cfg.MachineTimeout, a.checkMachine)
	check(ComponentSystem, a.cfg.SystemTimeout, a.checkSystem)
	wg.Wait()

	snap.Overall = reduce(snap.Components)
	return snap
}

func (a *Aggregator) checkConnection(_ context.Context) ComponentHealth {
	sample := a.conn.Sample()
	ch := ComponentHealth{ResponseTimeMs: sample.ResponseTimeMs}

	switch {
	case sample.Exchanges == 0:
		ch.Status = StatusUnknown
		ch.ErrorDetail = "no exchanges in the trailing window"
	case sample.ErrorRatePercent > a.cfg.ErrorRateCriticalPercent:
		ch.Status = StatusUnhealthy
		ch.ErrorDetail = "error rate above critical threshold"
	case sample.ResponseTimeMs > a.cfg.ResponseTimeCriticalMs:
		ch.Status = StatusUnhealthy
		ch.ErrorDetail = "response time above critical threshold"
	case sample.ResponseTimeMs > a.cfg.ResponseTimeWarningMs:
		ch.Status = StatusDegraded
		ch.ErrorDetail = "response time above warning threshold"
	default:
		ch.Status = StatusHealthy
	}
	return ch
}

func (a *Aggregator) checkMachine(ctx context.Context) ComponentHealth {
	start := time.Now()
	state, err := a.probe.Query(ctx)
	ch := ComponentHealth{ResponseTimeMs: float64(time.Since(start).Milliseconds())}

	if err != nil {
		// A failed probe is reported, never silently dropped.
		ch.Status = StatusUnknown
		ch.ErrorDetail = err.Error()
		return ch
	}
	if state.Mode == machine.ModeAlarm {
		ch.Status = StatusDegraded
		ch.ErrorDetail = "machine in alarm state"
		return ch
	}
	ch.Status = StatusHealthy
	return ch
}

func (a *Aggregator) checkSystem(_ context.Context) ComponentHealth {
	sample, err := a.system.Sample()
	if err != nil {
		return ComponentHealth{Status: StatusUnknown, ErrorDetail: err.Error()}
	}
	if sample.MemoryUsedPercent > a.cfg.MemoryCriticalPercent {
		return ComponentHealth{
			Status:      StatusDegraded,
			ErrorDetail: "memory usage above critical threshold",
		}
	}
	return ComponentHealth{Status: StatusHealthy}
}

// reduce is order-independent: Unhealthy dominates, then Degraded/Unknown.
func reduce(components map[string]ComponentHealth) Status {
	overall := StatusHealthy
	for _, ch := range components {
		switch ch.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded, StatusUnknown:
			overall = StatusDegraded
		}
	}
	return overall
}
