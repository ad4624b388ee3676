package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MachineEvent is one row of the machine event log.
type MachineEvent struct {
	ID         uuid.UUID `json:"id"`
	OccurredAt time.Time `json:"occurred_at"`
	Kind       string    `json:"kind"`
	Detail     string    `json:"detail"`
}

// EventLog records notable machine events. Writes are best effort: the
// event log must never block or fail a safety-relevant command path.
type EventLog struct {
	client *PostgresClient
	logger *zap.Logger
}

func NewEventLog(client *PostgresClient, logger *zap.Logger) *EventLog {
	return &EventLog{client: client, logger: logger}
}

// RecordEvent inserts one event row. Failures are logged, not returned.
func (e *EventLog) RecordEvent(ctx context.Context, kind, detail string) {
	_, err := e.client.pool.Exec(ctx, `
		INSERT INTO machine_events (id, kind, detail) VALUES ($1, $2, $3)`,
		uuid.New(), kind, detail)
	if err != nil {
		e.logger.Error("Failed to record machine event",
			zap.String("kind", kind),
			zap.Error(err))
	}
}

// RecentEvents returns the newest events, most recent first.
func (e *EventLog) RecentEvents(ctx context.Context, limit int) ([]MachineEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := e.client.pool.Query(ctx, `
		SELECT id, occurred_at, kind, detail
		FROM machine_events
		ORDER BY occurred_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MachineEvent
	for rows.Next() {
		var ev MachineEvent
		if err := rows.Scan(&ev.ID, &ev.OccurredAt, &ev.Kind, &ev.Detail); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
