package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrStagingFailed is returned when the working area cannot be prepared.
	ErrStagingFailed = errors.New("unable to prepare staging area")

	// ErrCannotRelativize is returned when a submission lies outside the base directory.
	ErrCannotRelativize = errors.New("cannot relativize source path")

	// ErrIllegalDirName is returned when a relative directory has forbidden characters.
	ErrIllegalDirName = errors.New("illegal character in directory name")

	// ErrNameConflict is returned when two staged files resolve to the same name.
	ErrNameConflict = errors.New("staged file name conflict")

	// ErrResourceUnavailable is returned when a resource probe does not answer 2xx.
	ErrResourceUnavailable = errors.New("resource unavailable")

	// ErrRequestInFlight is returned when a supervisor is asked to run two processes.
	ErrRequestInFlight = errors.New("another process is already running")

	// ErrSessionBusy is returned when a session already has a run in progress.
	ErrSessionBusy = errors.New("session already has a build in progress")

	// ErrNoMainFile is returned when the assignment has no main file to build.
	ErrNoMainFile = errors.New("no main file")

	// ErrUnknownLanguage is returned for a language no strategy can build.
	ErrUnknownLanguage = errors.New("unsupported language")

	// ErrResultMissing is returned when an expected result file was not produced.
	ErrResultMissing = errors.New("expected result file missing")
)

// ErrorKind classifies pipeline failures.
type ErrorKind string

const (
	KindStaging   ErrorKind = "STAGING"
	KindResource  ErrorKind = "RESOURCE"
	KindToolchain ErrorKind = "TOOLCHAIN"
	KindInternal  ErrorKind = "INTERNAL"
)

// PipelineError is an infrastructure failure that aborted a run.
type PipelineError struct {
	Kind ErrorKind
	Err  error
}

// NewPipelineError wraps err with a kind.
func NewPipelineError(kind ErrorKind, err error) *PipelineError {
	return &PipelineError{Kind: kind, Err: err}
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err carries a PipelineError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}
