package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SectionKind tags a report fragment for the renderer.
type SectionKind string

const (
	SectionCompilerInvocation SectionKind = "compiler_invocation"
	SectionCompilerMessages   SectionKind = "compiler_messages"
	SectionRunInvocation      SectionKind = "run_invocation"
	SectionStdout             SectionKind = "stdout"
	SectionStderr             SectionKind = "stderr"
	SectionResult             SectionKind = "result"
	SectionNotice             SectionKind = "notice"
)

// AttachmentMode says how a result file is presented.
type AttachmentMode string

const (
	AttachVerbatim  AttachmentMode = "verbatim"
	AttachImage     AttachmentMode = "image"
	AttachReference AttachmentMode = "reference"
)

// Attachment is a result file found after the run. Data holds the bytes of
// inline images; the staging copy is gone by the time the report is read.
type Attachment struct {
	Name     string         `json:"name"`
	MimeType string         `json:"mime_type"`
	Size     int64          `json:"size"`
	Mode     AttachmentMode `json:"mode"`
	// SavedPath is set when the file was copied out to a results directory.
	SavedPath string `json:"saved_path,omitempty"`
	Data      []byte `json:"data,omitempty"`
}

// Section is one ordered fragment of the report.
type Section struct {
	Kind  SectionKind `json:"kind"`
	Title string      `json:"title"`
	Body  string      `json:"body"`
	// Verbatim marks Body as pre-rendered fixed-width text.
	Verbatim   bool        `json:"verbatim"`
	Truncated  bool        `json:"truncated,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// WarningKind distinguishes warnings so anomalies are never conflated.
type WarningKind string

const (
	WarnScrubbed      WarningKind = "scrubbed_name"
	WarnTimeout       WarningKind = "timeout"
	WarnCancelled     WarningKind = "cancelled"
	WarnTruncated     WarningKind = "truncated"
	WarnControlChar   WarningKind = "control_char"
	WarnNonASCII      WarningKind = "non_ascii"
	WarnInvalidByte   WarningKind = "invalid_byte"
	WarnMissingResult WarningKind = "missing_result"
	WarnToolchain     WarningKind = "toolchain"
	WarnResource      WarningKind = "resource"
	WarnRunFailed     WarningKind = "run_failed"
)

// Warning is a non-fatal observation surfaced to the student.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Message string      `json:"message"`
}

// RunStatus is the final outcome code of a run.
type RunStatus string

const (
	StatusSuccess        RunStatus = "SUCCESS"
	StatusCompileFailed  RunStatus = "COMPILE_FAILED"
	StatusToolchainError RunStatus = "TOOLCHAIN_ERROR"
	StatusRunFailed      RunStatus = "RUN_FAILED"
	StatusTimedOut       RunStatus = "TIMED_OUT"
	StatusCancelled      RunStatus = "CANCELLED"
	StatusUnsupported    RunStatus = "UNSUPPORTED"
	StatusAborted        RunStatus = "ABORTED"
)

// Progress is an advisory step counter.
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// Advance returns p moved forward by n steps, never past Total.
func (p Progress) Advance(n int) Progress {
	p.Current += n
	if p.Current > p.Total {
		p.Current = p.Total
	}
	return p
}

// RunReport is the structured result of one pipeline run.
type RunReport struct {
	RunID      uuid.UUID         `json:"run_id"`
	Assignment string            `json:"assignment"`
	Language   Language          `json:"language"`
	Status     RunStatus         `json:"status"`
	Sections   []Section         `json:"sections"`
	Warnings   []Warning         `json:"warnings"`
	Compile    *ExecutionOutcome `json:"compile,omitempty"`
	Execution  *ExecutionOutcome `json:"execution,omitempty"`
	Progress   Progress          `json:"progress"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	// Error is set when the run aborted on an infrastructure failure.
	Error string `json:"error,omitempty"`
}

// NewRunReport starts an empty report.
func NewRunReport(assignment string, lang Language) *RunReport {
	return &RunReport{
		RunID:      uuid.New(),
		Assignment: assignment,
		Language:   lang,
		Status:     StatusSuccess,
		StartedAt:  time.Now().UTC(),
	}
}

// AddSection appends a fragment.
func (r *RunReport) AddSection(s Section) {
	r.Sections = append(r.Sections, s)
}

// Warn appends a formatted warning.
func (r *RunReport) Warn(kind WarningKind, format string, args ...any) {
	r.Warnings = append(r.Warnings, Warning{Kind: kind, Message: fmt.Sprintf(format, args...)})
}

// AddWarnings appends already-built warnings.
func (r *RunReport) AddWarnings(ws ...Warning) {
	r.Warnings = append(r.Warnings, ws...)
}

// SectionsOf returns the sections of one kind, in order.
func (r *RunReport) SectionsOf(kind SectionKind) []Section {
	var out []Section
	for _, s := range r.Sections {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

// WarningsOf returns the warnings of one kind, in order.
func (r *RunReport) WarningsOf(kind WarningKind) []Warning {
	var out []Warning
	for _, w := range r.Warnings {
		if w.Kind == kind {
			out = append(out, w)
		}
	}
	return out
}
