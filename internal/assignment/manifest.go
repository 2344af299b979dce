package assignment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/passbuild/passbuild/internal/domain"
)

// Manifest lists the sessions of a batch run.
type Manifest struct {
	// Assignment is the default assignment file for every job.
	Assignment string `yaml:"assignment"`
	ResultsDir string `yaml:"results_dir"`
	Jobs       []Job  `yaml:"jobs"`
}

// Job is one submission session in a manifest.
type Job struct {
	Session    string   `yaml:"session"`
	Assignment string   `yaml:"assignment"`
	BaseDir    string   `yaml:"base_dir"`
	Encoding   string   `yaml:"encoding"`
	NoPDF      bool     `yaml:"no_pdf"`
	Files      []string `yaml:"files"`
}

// ResolvedJob is a manifest job with its assignment and files loaded.
type ResolvedJob struct {
	Job
	Spec  *domain.AssignmentSpec
	Files []domain.SubmissionFile
}

// LoadManifest reads a manifest and resolves every job. Relative paths are
// taken relative to the manifest's directory. Assignment files shared by
// several jobs are loaded once.
func LoadManifest(file string) (*Manifest, []ResolvedJob, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, nil, fmt.Errorf("manifest: read %s: %w", file, err)
	}
	var m Manifest
	if err := decodeStrict(data, &m); err != nil {
		return nil, nil, fmt.Errorf("manifest: %s: %w", file, err)
	}
	if len(m.Jobs) == 0 {
		return nil, nil, errors.New("manifest: no jobs")
	}

	dir := filepath.Dir(file)
	specs := make(map[string]*domain.AssignmentSpec)
	sessions := make(map[string]bool)
	jobs := make([]ResolvedJob, 0, len(m.Jobs))

	for i, j := range m.Jobs {
		if j.Session == "" {
			j.Session = fmt.Sprintf("job-%d", i+1)
		}
		if sessions[j.Session] {
			return nil, nil, fmt.Errorf("manifest: duplicate session %q", j.Session)
		}
		sessions[j.Session] = true

		specFile := j.Assignment
		if specFile == "" {
			specFile = m.Assignment
		}
		if specFile == "" {
			return nil, nil, fmt.Errorf("manifest: session %q has no assignment", j.Session)
		}
		specFile = resolve(dir, specFile)
		spec, ok := specs[specFile]
		if !ok {
			if spec, err = LoadSpec(specFile); err != nil {
				return nil, nil, err
			}
			specs[specFile] = spec
		}

		if j.BaseDir != "" {
			j.BaseDir = resolve(dir, j.BaseDir)
		}
		rj := ResolvedJob{Job: j, Spec: spec}
		for _, arg := range j.Files {
			f, err := SubmissionFile(resolve(dir, arg), spec)
			if err != nil {
				return nil, nil, fmt.Errorf("manifest: session %q: %w", j.Session, err)
			}
			rj.Files = append(rj.Files, f)
		}
		jobs = append(jobs, rj)
	}
	if m.ResultsDir != "" {
		m.ResultsDir = resolve(dir, m.ResultsDir)
	}
	return &m, jobs, nil
}

func resolve(dir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
