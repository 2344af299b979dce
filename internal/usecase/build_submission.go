package usecase

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/passbuild/passbuild/internal/domain"
	"github.com/passbuild/passbuild/internal/metrics"
	"github.com/passbuild/passbuild/internal/pipeline"
	"github.com/passbuild/passbuild/internal/publisher"
	"github.com/passbuild/passbuild/internal/repository"
)

// Builder runs one submission. *pipeline.Pipeline implements it.
type Builder interface {
	Run(ctx context.Context, spec *domain.AssignmentSpec, files []domain.SubmissionFile, opts pipeline.Options) (*domain.RunReport, error)
}

var _ Builder = (*pipeline.Pipeline)(nil)

// BuildJob is one submission session to build.
type BuildJob struct {
	Session string
	Spec    *domain.AssignmentSpec
	Files   []domain.SubmissionFile
	Options pipeline.Options
}

// BuildSubmissionUsecase wraps a pipeline run with session locking, report
// persistence and report publishing. Lock, repository and publisher are
// optional.
type BuildSubmissionUsecase struct {
	newBuilder func() Builder
	lock       repository.SessionLock
	repo       repository.ReportRepository
	pub        publisher.Publisher
	logger     *zap.Logger
}

// NewBuildSubmissionUsecase creates a BuildSubmissionUsecase. newBuilder is
// called once per job so concurrent jobs never share a pipeline.
func NewBuildSubmissionUsecase(
	newBuilder func() Builder,
	lock repository.SessionLock,
	repo repository.ReportRepository,
	pub publisher.Publisher,
	logger *zap.Logger,
) *BuildSubmissionUsecase {
	return &BuildSubmissionUsecase{
		newBuilder: newBuilder,
		lock:       lock,
		repo:       repo,
		pub:        pub,
		logger:     logger,
	}
}

// Execute builds one session: lock → pipeline → save → publish → release.
// The report is returned whenever the pipeline produced one, even when
// saving or publishing failed.
func (uc *BuildSubmissionUsecase) Execute(ctx context.Context, job *BuildJob) (*domain.RunReport, error) {
	log := uc.logger.With(zap.String("session", job.Session), zap.String("assignment", job.Spec.Label))

	// Step 1: Session lock
	if uc.lock != nil {
		acquired, err := uc.lock.Acquire(ctx, job.Session)
		if err != nil {
			log.Error("Failed to acquire session lock", zap.Error(err))
			return nil, err
		}
		if !acquired {
			log.Info("Session already building, skipping")
			return nil, domain.ErrSessionBusy
		}
		defer func() {
			// Release even when ctx is already cancelled.
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := uc.lock.Release(releaseCtx, job.Session); err != nil {
				log.Warn("Failed to release session lock", zap.Error(err))
			}
		}()
	}

	// Step 2: Build
	report, runErr := uc.newBuilder().Run(ctx, job.Spec, job.Files, job.Options)
	if report == nil {
		log.Error("Build produced no report", zap.Error(runErr))
		return nil, runErr
	}
	metrics.RecordRun(report)

	// Step 3: Persist
	var saveErr, pubErr error
	if uc.repo != nil {
		if saveErr = uc.repo.Save(ctx, job.Session, report); saveErr != nil {
			log.Error("Failed to store report", zap.String("run_id", report.RunID.String()), zap.Error(saveErr))
		}
	}

	// Step 4: Hand off to the renderer
	if uc.pub != nil {
		if pubErr = uc.pub.Publish(ctx, job.Session, report); pubErr != nil {
			log.Error("Failed to publish report", zap.String("run_id", report.RunID.String()), zap.Error(pubErr))
		}
	}

	log.Info("Submission built",
		zap.String("run_id", report.RunID.String()),
		zap.String("status", string(report.Status)),
		zap.Int("warnings", len(report.Warnings)),
	)
	return report, errors.Join(runErr, saveErr, pubErr)
}
