package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/whttlr/cnc-bridge/internal/config"
	"github.com/whttlr/cnc-bridge/internal/machine"
	"github.com/whttlr/cnc-bridge/internal/serial"
)

type fakeProbe struct {
	state *machine.State
	err   error
}

func (f *fakeProbe) Query(context.Context) (*machine.State, error) {
	return f.state, f.err
}

type fakeConn struct {
	sample serial.Sample
}

func (f *fakeConn) Sample() serial.Sample { return f.sample }

type fakeSystem struct {
	sample SystemSample
	err    error
}

func (f *fakeSystem) Sample() (SystemSample, error) { return f.sample, f.err }

func testHealthConfig() config.HealthConfig {
	return config.HealthConfig{
		ConnectionTimeout:        time.Second,
		MachineTimeout:           time.Second,
		SystemTimeout:            time.Second,
		ErrorRateCriticalPercent: 5,
		ResponseTimeCriticalMs:   10000,
		ResponseTimeWarningMs:    2000,
		MemoryCriticalPercent:    85,
	}
}

func healthyDeps() (*fakeProbe, *fakeConn, *fakeSystem) {
	return &fakeProbe{state: &machine.State{Mode: machine.ModeIdle}},
		&fakeConn{sample: serial.Sample{Exchanges: 10, ResponseTimeMs: 50}},
		&fakeSystem{sample: SystemSample{MemoryUsedPercent: 40, CPULoad: 0.5}}
}

func TestAssessAllHealthy(t *testing.T) {
	probe, conn, sys := healthyDeps()
	agg := NewAggregator(probe, conn, sys, testHealthConfig(), zap.NewNop())

	snap := agg.Assess(context.Background())

	assert.Equal(t, StatusHealthy, snap.Overall)
	require.Len(t, snap.Components, 3)
	assert.Equal(t, StatusHealthy, snap.Components[ComponentConnection].Status)
	assert.Equal(t, StatusHealthy, snap.Components[ComponentMachine].Status)
	assert.Equal(t, StatusHealthy, snap.Components[ComponentSystem].Status)
	assert.False(t, snap.CheckedAt.IsZero())
}

func TestAssessProbeFailureReportsUnknown(t *testing.T) {
	probe, conn, sys := healthyDeps()
	probe.err = errors.New("status query: timeout waiting for reply")
	agg := NewAggregator(probe, conn, sys, testHealthConfig(), zap.NewNop())

	snap := agg.Assess(context.Background())

	mch := snap.Components[ComponentMachine]
	assert.Equal(t, StatusUnknown, mch.Status)
	assert.Contains(t, mch.ErrorDetail, "timeout")
	assert.NotEqual(t, StatusHealthy, snap.Overall,
		"an unknown component can never yield a healthy overall")

	// The other components are still present and individually healthy.
	assert.Equal(t, StatusHealthy, snap.Components[ComponentConnection].Status)
	assert.Equal(t, StatusHealthy, snap.Components[ComponentSystem].Status)
}

func TestAssessConnectionThresholds(t *testing.T) {
	tests := []struct {
		name   string
		sample serial.Sample
		want   Status
	}{
		{"no traffic", serial.Sample{}, StatusUnknown},
		{"nominal", serial.Sample{Exchanges: 5, ResponseTimeMs: 100}, StatusHealthy},
		{"slow", serial.Sample{Exchanges: 5, ResponseTimeMs: 3000}, StatusDegraded},
		{"very slow", serial.Sample{Exchanges: 5, ResponseTimeMs: 20000}, StatusUnhealthy},
		{"error prone", serial.Sample{Exchanges: 5, ErrorRatePercent: 40, ResponseTimeMs: 100}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probe, _, sys := healthyDeps()
			agg := NewAggregator(probe, &fakeConn{sample: tt.sample}, sys, testHealthConfig(), zap.NewNop())

			snap := agg.Assess(context.Background())
			assert.Equal(t, tt.want, snap.Components[ComponentConnection].Status)
		})
	}
}

func TestAssessMachineAlarmDegrades(t *testing.T) {
	probe, conn, sys := healthyDeps()
	probe.state = &machine.State{Mode: machine.ModeAlarm}
	agg := NewAggregator(probe, conn, sys, testHealthConfig(), zap.NewNop())

	snap := agg.Assess(context.Background())

	assert.Equal(t, StatusDegraded, snap.Components[ComponentMachine].Status)
	assert.Equal(t, StatusDegraded, snap.Overall)
}

func TestAssessMemoryPressureDegrades(t *testing.T) {
	probe, conn, sys := healthyDeps()
	sys.sample.MemoryUsedPercent = 95
	agg := NewAggregator(probe, conn, sys, testHealthConfig(), zap.NewNop())

	snap := agg.Assess(context.Background())

	assert.Equal(t, StatusDegraded, snap.Components[ComponentSystem].Status)
	assert.Equal(t, StatusDegraded, snap.Overall)
}

func TestReduceIsOrderIndependent(t *testing.T) {
	tests := []struct {
		name       string
		components []Status
		want       Status
	}{
		{"all healthy", []Status{StatusHealthy, StatusHealthy, StatusHealthy}, StatusHealthy},
		{"one unknown", []Status{StatusHealthy, StatusUnknown, StatusHealthy}, StatusDegraded},
		{"one degraded", []Status{StatusDegraded, StatusHealthy, StatusHealthy}, StatusDegraded},
		{"unhealthy dominates degraded", []Status{StatusDegraded, StatusUnhealthy, StatusHealthy}, StatusUnhealthy},
		{"unhealthy dominates unknown", []Status{StatusUnknown, StatusHealthy, StatusUnhealthy}, StatusUnhealthy},
		{"all unhealthy", []Status{StatusUnhealthy, StatusUnhealthy, StatusUnhealthy}, StatusUnhealthy},
	}

	names := []string{ComponentConnection, ComponentMachine, ComponentSystem}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			components := map[string]ComponentHealth{}
			for i, st := range tt.components {
				components[names[i]] = ComponentHealth{Status: st}
			}
			assert.Equal(t, tt.want, reduce(components))
		})
	}
}
