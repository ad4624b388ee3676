package control

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/whttlr/cnc-bridge/internal/config"
	"github.com/whttlr/cnc-bridge/internal/diagnostics"
	"github.com/whttlr/cnc-bridge/internal/health"
	"github.com/whttlr/cnc-bridge/internal/machine"
	"github.com/whttlr/cnc-bridge/internal/serial"
)

// GRBL command words issued by the facade.
const (
	cmdUnlock = "$X"
	cmdHome   = "$H"
)

// ErrDiagnosticsBusy rejects channel-holding operations while a
// diagnostics run is in progress. Rejecting instead of queueing keeps
// diagnostics bounded in duration.
var ErrDiagnosticsBusy = errors.New("diagnostics in progress")

// CommandChannel is the part of the serial channel the controller needs.
type CommandChannel interface {
	Send(ctx context.Context, cmd string) error
	SendRealtime(b byte) error
}

// Prober supplies machine snapshots.
type Prober interface {
	Query(ctx context.Context) (*machine.State, error)
	Cached() *machine.State
}

// Assessor produces health snapshots.
type Assessor interface {
	Assess(ctx context.Context) health.Snapshot
}

// Events receives state transitions and diagnostics progress for live
// broadcasting. All callbacks must be non-blocking.
type Events interface {
	MachineStateChanged(previous, current machine.Mode)
	DiagnosticsStep(res diagnostics.StepResult)
	DiagnosticsCompleted(report *diagnostics.Report)
}

// EventRecorder persists notable machine events. May be nil.
type EventRecorder interface {
	RecordEvent(ctx context.Context, kind, detail string)
}

// ReportStore persists diagnostics reports. May be nil.
type ReportStore interface {
	SaveReport(ctx context.Context, report *diagnostics.Report) error
}

// CommandResult is the outcome of one operator command. A safety denial is
// an expected outcome carried in Denied; only channel-level failures are
// returned as errors.
type CommandResult struct {
	Operation machine.OperationKind `json:"operation"`
	Executed  bool                  `json:"executed"`
	Denied    *machine.Decision     `json:"denied,omitempty"`
}

// Controller is the single entry point the transport layer calls. It feeds
// every operator-initiated command through the safety gate, owns the
// diagnostics-in-progress guard, and routes emergency stop through the
// realtime path that can never wait behind a queued exchange.
type Controller struct {
	logger  *zap.Logger
	channel CommandChannel
	probe   Prober
	assess  Assessor
	events  Events
	store   ReportStore
	evlog   EventRecorder

	cfg   config.MachineConfig
	steps []diagnostics.Step

	diagMu  sync.Mutex
	running bool
}

func NewController(
	logger *zap.Logger,
	channel CommandChannel,
	probe Prober,
	assess Assessor,
	steps []diagnostics.Step,
	cfg config.MachineConfig,
	events Events,
	store ReportStore,
	evlog EventRecorder,
) *Controller {
	return &Controller{
		logger:  logger,
		channel: channel,
		probe:   probe,
		assess:  assess,
		events:  events,
		store:   store,
		evlog:   evlog,
		cfg:     cfg,
		steps:   steps,
	}
}

// Query performs a fresh status exchange.
func (c *Controller) Query(ctx context.Context) (*machine.State, error) {
	return c.probe.Query(ctx)
}

// Cached returns the latest snapshot without touching the channel.
func (c *Controller) Cached() *machine.State {
	return c.probe.Cached()
}

// Health recomputes the full health snapshot.
func (c *Controller) Health(ctx context.Context) health.Snapshot {
	return c.assess.Assess(ctx)
}

// Unlock sends $X. It is the designated recovery path out of alarm and is
// never blocked by machine state.
func (c *Controller) Unlock(ctx context.Context) (CommandResult, error) {
	return c.execute(ctx, machine.OperationRequest{Kind: machine.OpUnlock}, func(ctx context.Context) error {
		return c.channel.Send(ctx, cmdUnlock)
	})
}

// Home runs the homing cycle. Homing blocks the channel until the
// controller acknowledges, so it gets its own generous timeout.
func (c *Controller) Home(ctx context.Context) (CommandResult, error) {
	if !c.tryAcquire() {
		return CommandResult{Operation: machine.OpHome}, ErrDiagnosticsBusy
	}
	defer c.release()

	return c.execute(ctx, machine.OperationRequest{Kind: machine.OpHome}, func(ctx context.Context) error {
		homeCtx, cancel := context.WithTimeout(ctx, c.cfg.HomingTimeout)
		defer cancel()
		return c.channel.Send(homeCtx, cmdHome)
	})
}

// SoftReset issues the realtime reset byte. No acknowledgement follows; the
// controller answers with its reset banner.
func (c *Controller) SoftReset(ctx context.Context) (CommandResult, error) {
	if !c.tryAcquire() {
		return CommandResult{Operation: machine.OpSoftReset}, ErrDiagnosticsBusy
	}
	defer c.release()

	return c.execute(ctx, machine.OperationRequest{Kind: machine.OpSoftReset}, func(context.Context) error {
		return c.channel.SendRealtime(serial.RealtimeSoftReset)
	})
}

// EmergencyStop halts the machine. It consults no gate and takes no lock:
// the feed-hold and reset bytes go out on the realtime path immediately,
// even while a diagnostics step is mid-exchange. The two-byte sequence
// stops motion first, then clears the planner queue.
func (c *Controller) EmergencyStop() (CommandResult, error) {
	result := CommandResult{Operation: machine.OpEmergencyStop}

	if err := c.channel.SendRealtime(serial.RealtimeFeedHold); err != nil {
		return result, err
	}
	if err := c.channel.SendRealtime(serial.RealtimeSoftReset); err != nil {
		return result, err
	}

	c.logger.Warn("Emergency stop issued")
	c.recordEvent("emergency_stop", "feed hold + soft reset sent")
	result.Executed = true
	return result, nil
}

// SendGcode forwards one raw command line after a gate check.
func (c *Controller) SendGcode(ctx context.Context, gcode string) (CommandResult, error) {
	if !c.tryAcquire() {
		return CommandResult{Operation: machine.OpSendGcode}, ErrDiagnosticsBusy
	}
	defer c.release()

	return c.execute(ctx, machine.OperationRequest{Kind: machine.OpSendGcode, Payload: gcode}, func(ctx context.Context) error {
		return c.channel.Send(ctx, gcode)
	})
}

// RunDiagnostics executes the configured sequence. Only one run may hold
// the channel at a time; concurrent movement commands are rejected for the
// duration rather than queued.
func (c *Controller) RunDiagnostics(ctx context.Context) (*diagnostics.Report, error) {
	if !c.tryAcquire() {
		return nil, ErrDiagnosticsBusy
	}
	defer c.release()

	c.logger.Info("Diagnostics run starting", zap.Int("steps", len(c.steps)))
	runner := diagnostics.NewRunner(c.channel, c.probe, c.steps, c.logger, c.notifyStep)
	report := runner.Run(ctx)

	c.logger.Info("Diagnostics run finished",
		zap.String("report_id", report.ID.String()),
		zap.String("overall", string(report.Overall)),
		zap.Int("steps", len(report.Steps)))

	if c.events != nil {
		c.events.DiagnosticsCompleted(report)
	}
	if c.store != nil {
		if err := c.store.SaveReport(context.WithoutCancel(ctx), report); err != nil {
			c.logger.Error("Failed to persist diagnostics report", zap.Error(err))
		}
	}
	return report, nil
}

// DiagnosticsRunning reports whether a run currently holds the channel.
func (c *Controller) DiagnosticsRunning() bool {
	c.diagMu.Lock()
	defer c.diagMu.Unlock()
	return c.running
}

// execute runs the gate check against the freshest available snapshot and
// issues the command on approval.
func (c *Controller) execute(ctx context.Context, req machine.OperationRequest, send func(context.Context) error) (CommandResult, error) {
	result := CommandResult{Operation: req.Kind}

	state := c.freshState(ctx)
	decision := machine.CheckOperation(req, state)
	if !decision.Allowed {
		c.logger.Warn("Operation denied by safety gate",
			zap.String("operation", string(req.Kind)),
			zap.String("reason", decision.Reason))
		c.recordEvent("safety_denied", string(req.Kind)+": "+decision.Reason)
		result.Denied = &decision
		return result, nil
	}

	if err := send(ctx); err != nil {
		return result, err
	}

	c.logger.Info("Operation executed", zap.String("operation", string(req.Kind)))
	c.recordEvent("command", string(req.Kind))
	result.Executed = true
	return result, nil
}

// freshState prefers a fresh query; when the controller cannot be reached
// the gate decides on the cached (possibly stale, possibly nil) snapshot.
func (c *Controller) freshState(ctx context.Context) *machine.State {
	state, err := c.probe.Query(ctx)
	if err != nil {
		c.logger.Warn("Status query failed, gating on cached state", zap.Error(err))
		return c.probe.Cached()
	}
	return state
}

func (c *Controller) tryAcquire() bool {
	c.diagMu.Lock()
	defer c.diagMu.Unlock()
	if c.running {
		return false
	}
	c.running = true
	return true
}

func (c *Controller) release() {
	c.diagMu.Lock()
	c.running = false
	c.diagMu.Unlock()
}

func (c *Controller) notifyStep(res diagnostics.StepResult) {
	if c.events != nil {
		c.events.DiagnosticsStep(res)
	}
}

func (c *Controller) recordEvent(kind, detail string) {
	if c.evlog == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	c.evlog.RecordEvent(ctx, kind, detail)
}
