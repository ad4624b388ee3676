package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/whttlr/cnc-bridge/internal/diagnostics"
)

// ErrReportNotFound is returned when a report id has no stored row.
var ErrReportNotFound = errors.New("diagnostics report not found")

// ReportSummary is the listing row for stored reports.
type ReportSummary struct {
	ID         uuid.UUID           `json:"id"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Overall    diagnostics.Overall `json:"overall"`
}

// SaveReport persists one diagnostics report.
func (p *PostgresClient) SaveReport(ctx context.Context, report *diagnostics.Report) error {
	steps, err := json.Marshal(report.Steps)
	if err != nil {
		return fmt.Errorf("failed to encode steps: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO diagnostics_reports (id, started_at, finished_at, overall, steps)
		VALUES ($1, $2, $3, $4, $5)`,
		report.ID, report.StartedAt, report.FinishedAt, string(report.Overall), steps)
	if err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}
	return nil
}

// GetReport loads one stored report by id.
func (p *PostgresClient) GetReport(ctx context.Context, id uuid.UUID) (*diagnostics.Report, error) {
	var report diagnostics.Report
	var overall string
	var steps []byte

	err := p.pool.QueryRow(ctx, `
		SELECT id, started_at, finished_at, overall, steps
		FROM diagnostics_reports WHERE id = $1`, id).
		Scan(&report.ID, &report.StartedAt, &report.FinishedAt, &overall, &steps)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load report: %w", err)
	}

	report.Overall = diagnostics.Overall(overall)
	if err := json.Unmarshal(steps, &report.Steps); err != nil {
		return nil, fmt.Errorf("failed to decode steps: %w", err)
	}
	return &report, nil
}

// ListReports returns the most recent report summaries, newest first.
func (p *PostgresClient) ListReports(ctx context.Context, limit int) ([]ReportSummary, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id, started_at, finished_at, overall
		FROM diagnostics_reports
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	var out []ReportSummary
	for rows.Next() {
		var s ReportSummary
		var overall string
		if err := rows.Scan(&s.ID, &s.StartedAt, &s.FinishedAt, &overall); err != nil {
			return nil, fmt.Errorf("failed to scan report row: %w", err)
		}
		s.Overall = diagnostics.Overall(overall)
		out = append(out, s)
	}
	return out, rows.Err()
}
