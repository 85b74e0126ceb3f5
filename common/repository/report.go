package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lyzr/mutwizard/common/db"
	"github.com/lyzr/mutwizard/common/engine"
	"github.com/lyzr/mutwizard/common/mutation"
)

const schema = `
	CREATE TABLE IF NOT EXISTS run_report (
		run_id      UUID PRIMARY KEY,
		owner_id    TEXT        NOT NULL,
		mode        TEXT        NOT NULL,
		state       TEXT        NOT NULL,
		on_failure  TEXT        NOT NULL,
		applied     INT         NOT NULL,
		failed      INT         NOT NULL,
		skipped     INT         NOT NULL,
		pending     INT         NOT NULL,
		report      JSONB       NOT NULL,
		started_at  TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS run_report_owner_started_idx
		ON run_report (owner_id, started_at DESC);
`

// ReportRepository persists finished run reports
type ReportRepository struct {
	db *db.DB
}

// NewReportRepository creates a new report repository
func NewReportRepository(database *db.DB) *ReportRepository {
	return &ReportRepository{db: database}
}

// EnsureSchema creates the run_report table if it does not exist
func (r *ReportRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create run_report schema: %w", err)
	}
	return nil
}

// Save inserts or replaces the report of a run
func (r *ReportRepository) Save(ctx context.Context, ownerID string, report engine.Report) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	query := `
		INSERT INTO run_report (run_id, owner_id, mode, state, on_failure, applied, failed, skipped, pending, report, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (run_id) DO UPDATE
		SET state = EXCLUDED.state,
		    applied = EXCLUDED.applied,
		    failed = EXCLUDED.failed,
		    skipped = EXCLUDED.skipped,
		    pending = EXCLUDED.pending,
		    report = EXCLUDED.report,
		    finished_at = EXCLUDED.finished_at
	`

	_, err = r.db.Exec(ctx, query,
		report.RunID,
		ownerID,
		string(report.Mode),
		string(report.State),
		string(report.OnFailure),
		report.Counts.Applied,
		report.Counts.Failed,
		report.Counts.Skipped,
		report.Counts.Pending,
		body,
		report.StartedAt,
		report.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save run report: %w", err)
	}

	return nil
}

// GetByID retrieves the report of one run owned by ownerID
func (r *ReportRepository) GetByID(ctx context.Context, ownerID string, runID uuid.UUID) (*engine.Report, error) {
	query := `
		SELECT report
		FROM run_report
		WHERE run_id = $1 AND owner_id = $2
	`

	var body []byte
	err := r.db.QueryRow(ctx, query, runID, ownerID).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: run %s", mutation.ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run report: %w", err)
	}

	return decodeReport(body)
}

// ListByOwner retrieves the most recent reports of an owner, newest first
func (r *ReportRepository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*engine.Report, error) {
	query := `
		SELECT report
		FROM run_report
		WHERE owner_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list run reports: %w", err)
	}
	defer rows.Close()

	var reports []*engine.Report
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan run report: %w", err)
		}
		report, err := decodeReport(body)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run reports: %w", err)
	}

	return reports, nil
}

func decodeReport(body []byte) (*engine.Report, error) {
	var report engine.Report
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, fmt.Errorf("failed to decode run report: %w", err)
	}
	return &report, nil
}
