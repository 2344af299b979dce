package repository

import (
	"context"

	"github.com/passbuild/passbuild/internal/domain"
)

// SessionLock guarantees at most one active build per submission session.
type SessionLock interface {
	// Acquire takes the lock for a session. Returns false if another build
	// of the same session holds it.
	Acquire(ctx context.Context, session string) (bool, error)

	// Release drops the lock so the session can build again.
	Release(ctx context.Context, session string) error
}

// ReportRepository persists finished run reports.
type ReportRepository interface {
	// Save stores a report. Saving the same run twice replaces it.
	Save(ctx context.Context, session string, report *domain.RunReport) error
}
