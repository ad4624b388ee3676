package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/whttlr/cnc-bridge/internal/machine"
	"github.com/whttlr/cnc-bridge/internal/serial"
)

// Commander is the part of the serial channel the runner needs.
type Commander interface {
	Send(ctx context.Context, cmd string) error
}

// Prober supplies machine snapshots for safety checks and effect verification.
type Prober interface {
	Query(ctx context.Context) (*machine.State, error)
	Cached() *machine.State
}

// Runner executes a configured diagnostic sequence strictly in order.
// Diagnostics are operator-triggered and re-runnable; a failing run is
// reported, never retried automatically.
type Runner struct {
	channel Commander
	probe   Prober
	steps   []Step
	logger  *zap.Logger
	notify  func(StepResult)

	settlePoll time.Duration
}

// NewRunner creates a runner over the given step sequence. notify, when
// non-nil, is invoked once per recorded step result for live progress
// reporting.
func NewRunner(channel Commander, probe Prober, steps []Step, logger *zap.Logger, notify func(StepResult)) *Runner {
	return &Runner{
		channel:    channel,
		probe:      probe,
		steps:      steps,
		logger:     logger,
		notify:     notify,
		settlePoll: 100 * time.Millisecond,
	}
}

// Run executes the sequence and always returns a report, even when nothing
// was executed. The safety gate is consulted first; a denied run carries a
// single synthetic step with the denial reason and sends nothing on the
// channel. Cancellation is honoured between steps only; an in-flight
// physical command cannot be un-sent.
func (r *Runner) Run(ctx context.Context) *Report {
	report := &Report{ID: uuid.New(), StartedAt: time.Now()}

	state, err := r.probe.Query(ctx)
	if err != nil {
		r.logger.Warn("Pre-run status query failed, falling back to cached state", zap.Error(err))
		state = r.probe.Cached()
	}

	decision := machine.CheckOperation(machine.OperationRequest{Kind: machine.OpRunDiagnostics}, state)
	if !decision.Allowed {
		r.record(report, StepResult{
			Description: "safety check",
			Status:      StatusSkipped,
			Detail:      decision.Reason,
		})
		report.Overall = OverallFailed
		report.FinishedAt = time.Now()
		return report
	}

	var (
		net            machine.Position
		passed         int
		failures       int
		stoppedEarly   bool
		rollbackFailed bool
	)
	before := state

	for _, step := range r.steps {
		if ctx.Err() != nil {
			r.record(report, StepResult{
				Description: step.Description,
				Status:      StatusSkipped,
				Detail:      "run cancelled",
			})
			stoppedEarly = true
			break
		}

		res, after := r.executeStep(ctx, step, before)
		r.record(report, res)

		switch res.Status {
		case StatusPassed:
			passed++
			net = net.Add(step.Displacement)
			before = after
			continue

		case StatusTimedOut:
			// A non-responsive machine gets no further commands.
			failures++
			if !r.rollbackStep(step) {
				rollbackFailed = true
			}
			stoppedEarly = true

		case StatusFailed:
			failures++
			if !r.rollbackStep(step) {
				rollbackFailed = true
			}
			if step.Fatal {
				stoppedEarly = true
			} else {
				if after != nil {
					before = after
				}
				continue
			}
		}
		if stoppedEarly {
			break
		}
	}

	if !net.IsZero() {
		r.returnToOrigin(report, net)
	}

	switch {
	case failures == 0 && !stoppedEarly:
		report.Overall = OverallCompleted
	case passed > 0 && !rollbackFailed:
		report.Overall = OverallPartial
	default:
		report.Overall = OverallFailed
	}
	report.FinishedAt = time.Now()
	return report
}

// executeStep sends one command, waits for motion to settle, captures the
// post-step snapshot and evaluates the expected effect. The returned
// snapshot is nil unless a post-step query succeeded.
func (r *Runner) executeStep(ctx context.Context, step Step, before *machine.State) (StepResult, *machine.State) {
	res := StepResult{Description: step.Description, Command: step.Command}
	start := time.Now()
	defer func() { res.DurationMs = time.Since(start).Milliseconds() }()

	stepCtx, cancel := context.WithTimeout(ctx, step.Timeout)
	defer cancel()

	if err := r.channel.Send(stepCtx, step.Command); err != nil {
		if errors.Is(err, serial.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			res.Status = StatusTimedOut
			res.Detail = fmt.Sprintf("no response within %s", step.Timeout)
			return res, nil
		}
		res.Status = StatusFailed
		res.Detail = err.Error()
		return res, nil
	}

	// The controller acknowledges a jog when it is queued, not when it is
	// done. Wait for motion to settle inside the step budget.
	if err := r.waitSettled(stepCtx); err != nil {
		res.Status = StatusTimedOut
		res.Detail = fmt.Sprintf("machine still moving after %s", step.Timeout)
		return res, nil
	}

	after, err := r.probe.Query(stepCtx)
	if err != nil {
		res.Status = StatusFailed
		res.Detail = "could not verify effect: " + err.Error()
		return res, nil
	}

	if step.Check != nil {
		if cerr := step.Check(before, after); cerr != nil {
			res.Status = StatusFailed
			res.Detail = cerr.Error()
			return res, after
		}
	}

	res.Status = StatusPassed
	return res, after
}

// waitSettled polls status until the controller leaves Run/Jog or the step
// budget runs out.
func (r *Runner) waitSettled(ctx context.Context) error {
	ticker := time.NewTicker(r.settlePoll)
	defer ticker.Stop()

	for {
		st, err := r.probe.Query(ctx)
		if err == nil && !st.InMotion() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// rollbackStep issues the step's rollback command best effort. Errors are
// logged, never raised; the return value only feeds the overall verdict.
func (r *Runner) rollbackStep(step Step) bool {
	if step.Rollback == "" {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), step.Timeout)
	defer cancel()

	if err := r.channel.Send(ctx, step.Rollback); err != nil {
		r.logger.Error("Diagnostics rollback failed",
			zap.String("step", step.Description),
			zap.String("command", step.Rollback),
			zap.Error(err))
		return false
	}
	if err := r.waitSettled(ctx); err != nil {
		r.logger.Error("Diagnostics rollback did not settle",
			zap.String("step", step.Description),
			zap.Error(err))
		return false
	}
	return true
}

// returnToOrigin undoes the accumulated net displacement of the run as a
// final best-effort pseudo-step.
func (r *Runner) returnToOrigin(report *Report, net machine.Position) {
	var words []string
	if net.X != 0 {
		words = append(words, fmt.Sprintf("X%.3f", -net.X))
	}
	if net.Y != 0 {
		words = append(words, fmt.Sprintf("Y%.3f", -net.Y))
	}
	if net.Z != 0 {
		words = append(words, fmt.Sprintf("Z%.3f", -net.Z))
	}
	cmd := fmt.Sprintf("$J=G91 G21 %s F500", strings.Join(words, " "))

	res := StepResult{Description: "return to origin", Command: cmd}
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := r.channel.Send(ctx, cmd); err != nil {
		res.Status = StatusFailed
		res.Detail = err.Error()
	} else if err := r.waitSettled(ctx); err != nil {
		res.Status = StatusFailed
		res.Detail = "machine did not settle after return move"
	} else {
		res.Status = StatusPassed
	}
	res.DurationMs = time.Since(start).Milliseconds()
	r.record(report, res)
}

func (r *Runner) record(report *Report, res StepResult) {
	report.Steps = append(report.Steps, res)
	r.logger.Info("Diagnostics step recorded",
		zap.String("step", res.Description),
		zap.String("status", string(res.Status)),
		zap.String("detail", res.Detail))
	if r.notify != nil {
		r.notify(res)
	}
}
