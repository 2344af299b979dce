package mock

import (
	"context"
	"sync"

	"github.com/passbuild/passbuild/internal/domain"
	"github.com/passbuild/passbuild/internal/pipeline"
	"github.com/passbuild/passbuild/internal/publisher"
	"github.com/passbuild/passbuild/internal/repository"
	"github.com/passbuild/passbuild/internal/usecase"
)

// ---- SessionLock mock ----

var _ repository.SessionLock = (*SessionLock)(nil)

// SessionLock is a test double for repository.SessionLock.
type SessionLock struct {
	mu sync.Mutex

	AcquireFn func(ctx context.Context, session string) (bool, error)
	ReleaseFn func(ctx context.Context, session string) error

	AcquireCalls []string
	ReleaseCalls []string
}

func (m *SessionLock) Acquire(ctx context.Context, session string) (bool, error) {
	m.mu.Lock()
	m.AcquireCalls = append(m.AcquireCalls, session)
	m.mu.Unlock()
	if m.AcquireFn != nil {
		return m.AcquireFn(ctx, session)
	}
	return true, nil // default: lock acquired
}

func (m *SessionLock) Release(ctx context.Context, session string) error {
	m.mu.Lock()
	m.ReleaseCalls = append(m.ReleaseCalls, session)
	m.mu.Unlock()
	if m.ReleaseFn != nil {
		return m.ReleaseFn(ctx, session)
	}
	return nil
}

// ---- ReportRepository mock ----

var _ repository.ReportRepository = (*ReportRepository)(nil)

// ReportRepository is a test double for repository.ReportRepository.
type ReportRepository struct {
	mu sync.Mutex

	SaveFn func(ctx context.Context, session string, report *domain.RunReport) error

	Saved []SavedReport
}

type SavedReport struct {
	Session string
	Report  *domain.RunReport
}

func (m *ReportRepository) Save(ctx context.Context, session string, report *domain.RunReport) error {
	m.mu.Lock()
	m.Saved = append(m.Saved, SavedReport{Session: session, Report: report})
	m.mu.Unlock()
	if m.SaveFn != nil {
		return m.SaveFn(ctx, session, report)
	}
	return nil
}

// ---- Publisher mock ----

var _ publisher.Publisher = (*Publisher)(nil)

// Publisher is a test double for publisher.Publisher.
type Publisher struct {
	mu sync.Mutex

	PublishFn func(ctx context.Context, session string, report *domain.RunReport) error

	Published []SavedReport
	Closed    bool
}

func (m *Publisher) Publish(ctx context.Context, session string, report *domain.RunReport) error {
	m.mu.Lock()
	m.Published = append(m.Published, SavedReport{Session: session, Report: report})
	m.mu.Unlock()
	if m.PublishFn != nil {
		return m.PublishFn(ctx, session, report)
	}
	return nil
}

func (m *Publisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// ---- Builder mock ----

var _ usecase.Builder = (*Builder)(nil)

// Builder is a test double for usecase.Builder.
type Builder struct {
	mu sync.Mutex

	RunFn func(ctx context.Context, spec *domain.AssignmentSpec, files []domain.SubmissionFile, opts pipeline.Options) (*domain.RunReport, error)

	RunCalls []*domain.AssignmentSpec
}

func (m *Builder) Run(ctx context.Context, spec *domain.AssignmentSpec, files []domain.SubmissionFile, opts pipeline.Options) (*domain.RunReport, error) {
	m.mu.Lock()
	m.RunCalls = append(m.RunCalls, spec)
	m.mu.Unlock()
	if m.RunFn != nil {
		return m.RunFn(ctx, spec, files, opts)
	}
	return domain.NewRunReport(spec.Label, domain.LangUnknown), nil
}

// Calls returns the number of recorded runs.
func (m *Builder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.RunCalls)
}
