package diagnostics

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/whttlr/cnc-bridge/internal/machine"
	"github.com/whttlr/cnc-bridge/internal/serial"
)

// fakeRig plays both the serial channel and the status probe: sent
// commands move the simulated machine, queries report where it is.
type fakeRig struct {
	mu      sync.Mutex
	mode    machine.Mode
	pos     machine.Position
	sent    []string
	sendErr map[string]error
	moves   map[string]machine.Position
}

func newFakeRig() *fakeRig {
	return &fakeRig{
		mode:    machine.ModeIdle,
		sendErr: map[string]error{},
		moves:   map[string]machine.Position{},
	}
}

func (f *fakeRig) Send(_ context.Context, cmd string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, cmd)
	if err, ok := f.sendErr[cmd]; ok {
		return err
	}
	f.pos = f.pos.Add(f.moves[cmd])
	return nil
}

func (f *fakeRig) Query(_ context.Context) (*machine.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &machine.State{
		Mode:       f.mode,
		Position:   f.pos,
		CapturedAt: time.Now(),
		Source:     machine.SourceFresh,
	}, nil
}

func (f *fakeRig) Cached() *machine.State {
	st, _ := f.Query(context.Background())
	st.Source = machine.SourceCached
	return st
}

func (f *fakeRig) sentCommands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

func moveCheck(axis string, distance float64) EffectCheck {
	return func(before, after *machine.State) error {
		var moved float64
		switch axis {
		case "X":
			moved = after.Position.X - before.Position.X
		case "Y":
			moved = after.Position.Y - before.Position.Y
		}
		if moved != distance {
			return fmt.Errorf("%s moved %.3f, expected %.3f", axis, moved, distance)
		}
		return nil
	}
}

func jogStep(axis string, distance float64) Step {
	cmd := fmt.Sprintf("$J=G91 G21 %s%.3f F500", axis, distance)
	rollback := fmt.Sprintf("$J=G91 G21 %s%.3f F500", axis, -distance)
	step := Step{
		Description: fmt.Sprintf("%s axis %+.0fmm", axis, distance),
		Command:     cmd,
		Rollback:    rollback,
		Timeout:     time.Second,
		Fatal:       true,
		Check:       moveCheck(axis, distance),
	}
	switch axis {
	case "X":
		step.Displacement = machine.Position{X: distance}
	case "Y":
		step.Displacement = machine.Position{Y: distance}
	}
	return step
}

func newTestRunner(rig *fakeRig, steps []Step, notify func(StepResult)) *Runner {
	r := NewRunner(rig, rig, steps, zap.NewNop(), notify)
	r.settlePoll = time.Millisecond
	return r
}

func TestRunDeniedByGateSendsNothing(t *testing.T) {
	rig := newFakeRig()
	rig.mode = machine.ModeAlarm

	runner := newTestRunner(rig, []Step{jogStep("X", 2)}, nil)
	report := runner.Run(context.Background())

	assert.Equal(t, OverallFailed, report.Overall)
	require.Len(t, report.Steps, 1)
	assert.Equal(t, "safety check", report.Steps[0].Description)
	assert.Equal(t, StatusSkipped, report.Steps[0].Status)
	assert.NotEmpty(t, report.Steps[0].Detail)
	assert.Empty(t, rig.sentCommands(), "a denied run must not touch the channel")
}

func TestRunAllStepsPass(t *testing.T) {
	rig := newFakeRig()
	out := jogStep("X", 2)
	back := jogStep("X", -2)
	rig.moves[out.Command] = machine.Position{X: 2}
	rig.moves[back.Command] = machine.Position{X: -2}

	var notified []StepResult
	runner := newTestRunner(rig, []Step{out, back}, func(res StepResult) {
		notified = append(notified, res)
	})
	report := runner.Run(context.Background())

	assert.Equal(t, OverallCompleted, report.Overall)
	require.Len(t, report.Steps, 2)
	for _, res := range report.Steps {
		assert.Equal(t, StatusPassed, res.Status)
	}
	assert.Len(t, notified, 2, "every recorded step is pushed to the notifier")
	assert.False(t, report.FinishedAt.Before(report.StartedAt))
}

func TestRunEffectFailureRollsBackAndReturnsToOrigin(t *testing.T) {
	rig := newFakeRig()
	stepX := jogStep("X", 2)
	stepY := jogStep("Y", 2)
	rig.moves[stepX.Command] = machine.Position{X: 2}
	// The Y command is accepted but the machine does not move.

	runner := newTestRunner(rig, []Step{stepX, stepY}, nil)
	report := runner.Run(context.Background())

	assert.Equal(t, OverallPartial, report.Overall)
	require.Len(t, report.Steps, 3)
	assert.Equal(t, StatusPassed, report.Steps[0].Status)
	assert.Equal(t, StatusFailed, report.Steps[1].Status)

	// The failed step's rollback and the net X displacement both go out.
	sent := rig.sentCommands()
	assert.Contains(t, sent, stepY.Rollback)
	assert.Equal(t, "return to origin", report.Steps[2].Description)
	assert.Contains(t, report.Steps[2].Command, "X-2.000")
}

func TestRunTimeoutStopsImmediately(t *testing.T) {
	rig := newFakeRig()
	stepX := jogStep("X", 2)
	stepY := jogStep("Y", 2)
	rig.sendErr[stepX.Command] = serial.ErrTimeout

	runner := newTestRunner(rig, []Step{stepX, stepY}, nil)
	report := runner.Run(context.Background())

	assert.Equal(t, OverallFailed, report.Overall)
	require.Len(t, report.Steps, 1)
	assert.Equal(t, StatusTimedOut, report.Steps[0].Status)
	assert.NotContains(t, rig.sentCommands(), stepY.Command,
		"no further commands after a timeout")
}

func TestRunNonFatalFailureContinues(t *testing.T) {
	rig := newFakeRig()
	failing := Step{
		Description: "spindle sanity",
		Command:     "M3 S100",
		Timeout:     time.Second,
		Fatal:       false,
		Check: func(_, _ *machine.State) error {
			return fmt.Errorf("spindle did not spin up")
		},
	}
	stepX := jogStep("X", 2)
	backX := jogStep("X", -2)
	rig.moves[stepX.Command] = machine.Position{X: 2}
	rig.moves[backX.Command] = machine.Position{X: -2}

	runner := newTestRunner(rig, []Step{failing, stepX, backX}, nil)
	report := runner.Run(context.Background())

	assert.Equal(t, OverallPartial, report.Overall)
	require.Len(t, report.Steps, 3)
	assert.Equal(t, StatusFailed, report.Steps[0].Status)
	assert.Equal(t, StatusPassed, report.Steps[1].Status)
	assert.Equal(t, StatusPassed, report.Steps[2].Status)
}

func TestRunRollbackFailureForcesFailedVerdict(t *testing.T) {
	rig := newFakeRig()
	stepX := jogStep("X", 2)
	stepY := jogStep("Y", 2)
	rig.moves[stepX.Command] = machine.Position{X: 2}
	rig.sendErr[stepY.Rollback] = serial.ErrTimeout

	runner := newTestRunner(rig, []Step{stepX, stepY}, nil)
	report := runner.Run(context.Background())

	// One step passed, but the machine may be out of position.
	assert.Equal(t, OverallFailed, report.Overall)
}

func TestRunCancelledBetweenSteps(t *testing.T) {
	rig := newFakeRig()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := newTestRunner(rig, []Step{jogStep("X", 2)}, nil)
	report := runner.Run(ctx)

	assert.Equal(t, OverallFailed, report.Overall)
	require.Len(t, report.Steps, 1)
	assert.Equal(t, StatusSkipped, report.Steps[0].Status)
}
