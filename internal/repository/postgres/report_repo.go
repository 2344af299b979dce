package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/passbuild/passbuild/internal/domain"
	"github.com/passbuild/passbuild/internal/repository"
)

var _ repository.ReportRepository = (*pgReportRepo)(nil)

// Schema creates the report table.
const Schema = `
CREATE TABLE IF NOT EXISTS build_reports (
    run_id      UUID PRIMARY KEY,
    session     TEXT NOT NULL,
    assignment  TEXT NOT NULL,
    language    TEXT NOT NULL,
    status      TEXT NOT NULL,
    warnings    INTEGER NOT NULL,
    report      JSONB NOT NULL,
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS build_reports_session_idx ON build_reports (session, started_at DESC);`

// Execer is the subset of *pgxpool.Pool the repository needs.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type pgReportRepo struct {
	db Execer
}

// NewPostgresReportRepository creates a PostgreSQL-backed report repository.
func NewPostgresReportRepository(db Execer) repository.ReportRepository {
	return &pgReportRepo{db: db}
}

// Migrate applies Schema.
func Migrate(ctx context.Context, db Execer) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

func (r *pgReportRepo) Save(ctx context.Context, session string, report *domain.RunReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("postgres: marshal report: %w", err)
	}

	query := `
		INSERT INTO build_reports
		    (run_id, session, assignment, language, status, warnings, report, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id) DO UPDATE
		SET status = EXCLUDED.status, warnings = EXCLUDED.warnings,
		    report = EXCLUDED.report, finished_at = EXCLUDED.finished_at`

	tag, err := r.db.Exec(ctx, query,
		report.RunID, session, report.Assignment, string(report.Language), string(report.Status),
		len(report.Warnings), body, report.StartedAt, report.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save report: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: report not stored: %s", report.RunID)
	}
	return nil
}
