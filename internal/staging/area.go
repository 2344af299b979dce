// Package staging owns the per-run temporary directory and every file
// copied, fetched or captured into it.
package staging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/passbuild/passbuild/internal/domain"
)

var forbidden = regexp.MustCompile(`[^a-zA-Z0-9@+=\-.]`)

// StagedFile is a submission copied into the work directory.
type StagedFile struct {
	Source domain.SubmissionFile
	Path   string
	Name   string
	// Rel is the slash-separated path relative to the work directory.
	Rel      string
	Scrubbed bool
}

// Area is one run's private directory tree:
//
//	<root>/work  staged sources, fetched resources, build artifacts
//	<root>/io    compiler log and stdin/stdout/stderr capture files
type Area struct {
	root     string
	baseName string
	logger   *zap.Logger

	mu     sync.Mutex
	ledger []string

	// scrubbed maps dir and original name to the name handed out for it.
	scrubbed map[string]string
}

// New creates a fresh area under parent (the OS temp dir when empty).
// baseName seeds generated names for scrubbed files.
func New(parent, baseName string, logger *zap.Logger) (*Area, error) {
	root, err := os.MkdirTemp(parent, "passbuild-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStagingFailed, err)
	}
	a := &Area{root: root, baseName: SafeBaseName(baseName), logger: logger}
	for _, dir := range []string{a.WorkDir(), a.IODir()} {
		if err := os.Mkdir(dir, 0o755); err != nil {
			_ = os.RemoveAll(root)
			return nil, fmt.Errorf("%w: %v", domain.ErrStagingFailed, err)
		}
	}
	a.ledger = append(a.ledger, a.WorkDir(), a.IODir())
	return a, nil
}

func (a *Area) Root() string    { return a.root }
func (a *Area) WorkDir() string { return filepath.Join(a.root, "work") }
func (a *Area) IODir() string   { return filepath.Join(a.root, "io") }

// IOPath returns the path of a capture file.
func (a *Area) IOPath(name string) string {
	p := filepath.Join(a.IODir(), name)
	a.Track(p)
	return p
}

// Track records a path for deletion at sweep time.
func (a *Area) Track(path string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ledger = append(a.ledger, path)
}

// Tracked returns a copy of the ledger.
func (a *Area) Tracked() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.ledger...)
}

// WriteIOFile writes data to a tracked capture file.
func (a *Area) WriteIOFile(name string, data []byte) (string, error) {
	p := a.IOPath(name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return p, nil
}

// Sweep removes every tracked file and then the whole tree. Files created
// by child processes are not in the ledger; the final recursive removal
// catches them.
func (a *Area) Sweep() error {
	a.mu.Lock()
	ledger := a.ledger
	a.ledger = nil
	a.mu.Unlock()

	for i := len(ledger) - 1; i >= 0; i-- {
		if err := os.RemoveAll(ledger[i]); err != nil {
			a.logger.Warn("Failed to remove staged file", zap.String("path", ledger[i]), zap.Error(err))
		}
	}
	if err := os.RemoveAll(a.root); err != nil {
		return fmt.Errorf("remove staging area: %w", err)
	}
	return nil
}

// Scrub returns a name safe to use in dir. Names with forbidden characters
// are replaced by <base>-file<ext>, numbered from 1 while the name is taken.
// The extension is dropped if it is itself unsafe. The same original name in
// the same dir always scrubs to the same result.
func (a *Area) Scrub(dir, name string) (string, bool) {
	if !forbidden.MatchString(name) {
		return name, false
	}

	key := filepath.Join(dir, name)
	a.mu.Lock()
	defer a.mu.Unlock()
	if prior, ok := a.scrubbed[key]; ok {
		return prior, true
	}

	ext := ""
	if idx := strings.LastIndex(name, "."); idx > -1 {
		ext = name[idx:]
		if forbidden.MatchString(ext) {
			ext = ""
		}
	}

	base := a.baseName + "-file"
	candidate := base + ext
	for n := 1; exists(filepath.Join(dir, candidate)); n++ {
		candidate = fmt.Sprintf("%s%d%s", base, n, ext)
	}
	if a.scrubbed == nil {
		a.scrubbed = make(map[string]string)
	}
	a.scrubbed[key] = candidate
	return candidate, true
}

// Stage copies a submission into the work directory. With a base directory
// the file keeps its path relative to base.
func (a *Area) Stage(src domain.SubmissionFile, baseDir string) (StagedFile, *domain.Warning, error) {
	destDir := a.WorkDir()
	if baseDir != "" {
		sub, err := relativeDir(baseDir, src.Path)
		if err != nil {
			return StagedFile{}, nil, err
		}
		if sub != "" {
			destDir = filepath.Join(destDir, sub)
			if err := os.MkdirAll(destDir, 0o755); err != nil {
				return StagedFile{}, nil, fmt.Errorf("%w: %v", domain.ErrStagingFailed, err)
			}
			a.Track(destDir)
		}
	}

	original := src.Name()
	name, scrubbed := a.Scrub(destDir, original)
	dest := filepath.Join(destDir, name)
	if exists(dest) {
		return StagedFile{}, nil, fmt.Errorf("%w: '%s' supplied more than once", domain.ErrNameConflict, original)
	}

	a.Track(dest)
	if err := copyFile(src.Path, dest); err != nil {
		return StagedFile{}, nil, err
	}

	rel, _ := filepath.Rel(a.WorkDir(), dest)
	staged := StagedFile{
		Source:   src,
		Path:     dest,
		Name:     name,
		Rel:      filepath.ToSlash(rel),
		Scrubbed: scrubbed,
	}

	var warning *domain.Warning
	if scrubbed {
		warning = &domain.Warning{
			Kind:    domain.WarnScrubbed,
			Message: fmt.Sprintf("Filename scrubbed (one or more forbidden characters found). Original name: %s, new name: %s", original, name),
		}
		a.logger.Info("Submission file renamed", zap.String("original", original), zap.String("staged", name))
	}
	return staged, warning, nil
}

// SafeBaseName reduces s to the allowed character set for use as a name prefix.
func SafeBaseName(s string) string {
	s = forbidden.ReplaceAllString(strings.TrimSpace(s), "-")
	s = strings.Trim(s, "-.")
	if s == "" {
		return "submission"
	}
	return s
}

// IsSafeName reports whether name needs no scrubbing.
func IsSafeName(name string) bool {
	return !forbidden.MatchString(name)
}

// relativeDir returns the directory of path relative to base, validating
// each component.
func relativeDir(base, path string) (string, error) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrCannotRelativize, err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrCannotRelativize, err)
	}

	rel, err := filepath.Rel(absBase, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: can't relativize source path '%s' against base path '%s'",
			domain.ErrCannotRelativize, absPath, absBase)
	}

	dir := filepath.Dir(rel)
	if dir == "." {
		return "", nil
	}
	for _, part := range strings.Split(dir, string(filepath.Separator)) {
		if m := forbidden.FindString(part); m != "" {
			return "", fmt.Errorf("%w: illegal character '%s' found in directory name '%s'",
				domain.ErrIllegalDirName, m, part)
		}
	}
	return dir, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", domain.ErrStagingFailed, src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat %s: %v", domain.ErrStagingFailed, src, err)
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm()|0o600)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", domain.ErrStagingFailed, dest, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("%w: copy %s: %v", domain.ErrStagingFailed, src, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", domain.ErrStagingFailed, dest, err)
	}
	return nil
}

// CopyOut copies a staged file to an external destination.
func CopyOut(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return copyFile(src, dest)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
