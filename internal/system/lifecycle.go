package system

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/whttlr/cnc-bridge/internal/api/rest"
	"github.com/whttlr/cnc-bridge/internal/api/websocket"
	"github.com/whttlr/cnc-bridge/internal/auth"
	"github.com/whttlr/cnc-bridge/internal/config"
	"github.com/whttlr/cnc-bridge/internal/control"
	"github.com/whttlr/cnc-bridge/internal/diagnostics"
	"github.com/whttlr/cnc-bridge/internal/health"
	"github.com/whttlr/cnc-bridge/internal/interfaces"
	"github.com/whttlr/cnc-bridge/internal/machine"
	"github.com/whttlr/cnc-bridge/internal/serial"
	"github.com/whttlr/cnc-bridge/internal/storage"
)

// LifecycleManager owns construction, startup order and shutdown order of
// every component. Database persistence is optional; the bridge runs
// without it and the API degrades to live data only.
type LifecycleManager struct {
	config     *config.Config
	logger     *zap.Logger
	storage    *storage.PostgresClient
	eventLog   *storage.EventLog
	channel    *serial.Channel
	probe      *machine.Probe
	controller *control.Controller
	poller     *control.Poller
	wsHub      *websocket.Hub

	restServer *rest.Server

	stateMu      sync.RWMutex
	currentState SystemState

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

func NewLifecycleManager(db *storage.PostgresClient, cfg *config.Config, logger *zap.Logger) (*LifecycleManager, error) {
	lm := &LifecycleManager{
		config:       cfg,
		logger:       logger,
		storage:      db,
		currentState: StateInitializing,
		shutdownChan: make(chan struct{}),
	}

	// Serial link to the machine controller
	port, err := serial.OpenPort(cfg.Serial.Device, cfg.Serial.Baud)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Serial.Device, err)
	}

	recorder := serial.NewRecorder(cfg.Serial.StatsWindow)
	lm.channel = serial.NewChannel(port, cfg.Serial.CommandTimeout, recorder, logger)
	lm.probe = machine.NewProbe(lm.channel, cfg.Machine.StatusMaxAge, logger)

	aggregator := health.NewAggregator(lm.probe, recorder, health.NewSystemSampler(), cfg.Health, logger)

	steps, err := loadDiagnosticsSteps(cfg.Diagnostics, logger)
	if err != nil {
		return nil, err
	}

	authService := auth.NewAuthService(cfg.Auth, logger)
	lm.wsHub = websocket.NewHub(logger, authService)

	var reportStore control.ReportStore
	var eventRecorder control.EventRecorder
	if db != nil {
		lm.eventLog = storage.NewEventLog(db, logger)
		reportStore = db
		eventRecorder = lm.eventLog
	}

	lm.controller = control.NewController(
		logger,
		lm.channel,
		lm.probe,
		aggregator,
		steps,
		cfg.Machine,
		&liveFeed{hub: lm.wsHub},
		reportStore,
		eventRecorder,
	)

	lm.poller = control.NewPoller(lm.controller, cfg.Machine.PollInterval, logger)
	lm.restServer = rest.NewServer(cfg, lm, logger, lm.wsHub, authService)

	return lm, nil
}

func loadDiagnosticsSteps(cfg config.DiagnosticsConfig, logger *zap.Logger) ([]diagnostics.Step, error) {
	if cfg.SequencePath == "" {
		logger.Info("No diagnostics sequence configured, using built-in default")
		return diagnostics.DefaultSequence(cfg.StepTimeout), nil
	}

	steps, err := diagnostics.LoadSequence(cfg.SequencePath, cfg.StepTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to load diagnostics sequence: %w", err)
	}
	logger.Info("Diagnostics sequence loaded",
		zap.String("path", cfg.SequencePath),
		zap.Int("steps", len(steps)))
	return steps, nil
}

// Start starts the entire system
func (lm *LifecycleManager) Start() error {
	lm.logger.Info("Starting cnc-bridge")
	lm.setState(StateInitializing)

	go lm.wsHub.Run()
	lm.poller.Start()

	if err := lm.restServer.Start(); err != nil {
		lm.setState(StateError)
		return fmt.Errorf("failed to start REST API: %w", err)
	}

	lm.setState(StateRunning)
	lm.logger.Info("System started successfully",
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.String("serial_device", lm.config.Serial.Device),
		zap.Bool("persistence_enabled", lm.storage != nil))

	return nil
}

func (lm *LifecycleManager) Config() *config.Config          { return lm.config }
func (lm *LifecycleManager) Controller() *control.Controller { return lm.controller }
func (lm *LifecycleManager) EventLog() *storage.EventLog     { return lm.eventLog }

// Reports returns nil when no database is configured.
func (lm *LifecycleManager) Reports() interfaces.ReportReader {
	if lm.storage == nil {
		return nil
	}
	return lm.storage
}

func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	state := lm.currentState
	lm.stateMu.RUnlock()

	return interfaces.SystemStatus{
		State:              state.String(),
		SerialDevice:       lm.config.Serial.Device,
		PersistenceEnabled: lm.storage != nil,
		DiagnosticsRunning: lm.controller.DiagnosticsRunning(),
		Timestamp:          time.Now().Unix(),
	}
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	lm.currentState = state
	lm.stateMu.Unlock()

	lm.wsHub.Broadcast(websocket.NewMessage(websocket.MessageTypeSystemStatus, lm.GetCurrentStatus()))
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")
		lm.setState(StateStopping)

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.setState(StateStopped)
		close(lm.shutdownChan)
	})

	return shutdownErr
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var wg sync.WaitGroup
	errChan := make(chan error, 3)

	// 1. Stop the status poller so nothing touches the channel mid-close
	lm.poller.Stop()

	// 2. REST API server graceful shutdown
	wg.Add(1)
	go func() {
		defer wg.Done()
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
			errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
		}
	}()

	// 3. Close the serial channel
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := lm.channel.Close(); err != nil {
			errChan <- fmt.Errorf("serial channel close failed: %w", err)
		}
	}()

	// Wait for all shutdowns
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		lm.logger.Info("Graceful shutdown completed")
		return nil
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		return fmt.Errorf("shutdown timeout exceeded")
	case err := <-errChan:
		return err
	}
}
