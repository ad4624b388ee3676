package interfaces

import (
	"context"

	"github.com/google/uuid"

	"github.com/whttlr/cnc-bridge/internal/config"
	"github.com/whttlr/cnc-bridge/internal/control"
	"github.com/whttlr/cnc-bridge/internal/diagnostics"
	"github.com/whttlr/cnc-bridge/internal/storage"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State              string `json:"state"`
	SerialDevice       string `json:"serial_device"`
	PersistenceEnabled bool   `json:"persistence_enabled"`
	DiagnosticsRunning bool   `json:"diagnostics_running"`
	Timestamp          int64  `json:"timestamp"`
}

// ReportReader is the read side of diagnostics report persistence.
// Returned as nil when no database is configured.
type ReportReader interface {
	GetReport(ctx context.Context, id uuid.UUID) (*diagnostics.Report, error)
	ListReports(ctx context.Context, limit int) ([]storage.ReportSummary, error)
}

type LifecycleManager interface {
	Config() *config.Config
	Controller() *control.Controller
	Reports() ReportReader
	EventLog() *storage.EventLog
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
