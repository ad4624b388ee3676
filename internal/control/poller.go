package control

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/whttlr/cnc-bridge/internal/machine"
)

// Poller keeps the cached snapshot warm with periodic status queries and
// surfaces mode transitions to the event sink. It backs off while a
// diagnostics run holds the channel; the runner does its own querying.
type Poller struct {
	controller *Controller
	interval   time.Duration
	logger     *zap.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool

	lastMode machine.Mode
}

func NewPoller(controller *Controller, interval time.Duration, logger *zap.Logger) *Poller {
	return &Poller{
		controller: controller,
		interval:   interval,
		logger:     logger,
		stopChan:   make(chan struct{}),
		lastMode:   machine.ModeUnknown,
	}
}

func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.running = true
	p.wg.Add(1)

	go p.pollLoop()

	p.logger.Info("Status poller started", zap.Duration("interval", p.interval))
}

func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	close(p.stopChan)
	p.wg.Wait()

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	p.logger.Info("Status poller stopped")
}

func (p *Poller) pollLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

func (p *Poller) poll() {
	if p.controller.DiagnosticsRunning() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.interval)
	defer cancel()

	state, err := p.controller.Query(ctx)
	if err != nil {
		p.logger.Debug("Status poll failed", zap.Error(err))
		return
	}

	if state.Mode != p.lastMode {
		p.logger.Info("Machine mode changed",
			zap.String("from", string(p.lastMode)),
			zap.String("to", string(state.Mode)))
		if p.controller.events != nil {
			p.controller.events.MachineStateChanged(p.lastMode, state.Mode)
		}
		p.lastMode = state.Mode
	}
}
