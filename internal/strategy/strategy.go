// Package strategy builds the compiler and invoker argument vectors for each
// supported toolchain.
package strategy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/passbuild/passbuild/internal/config"
	"github.com/passbuild/passbuild/internal/domain"
	"github.com/passbuild/passbuild/internal/staging"
)

// Mode says which pipeline steps a strategy takes part in.
type Mode int

const (
	// Compiled languages have a compile step followed by a run step.
	Compiled Mode = iota
	// Interpreted languages only run.
	Interpreted
	// Script runs an assignment build script once, in place of both steps.
	Script
	// Unsupported languages are neither built nor run.
	Unsupported
)

func (m Mode) String() string {
	switch m {
	case Compiled:
		return "compiled"
	case Interpreted:
		return "interpreted"
	case Script:
		return "script"
	default:
		return "unsupported"
	}
}

// ErrArtifactMissing is returned when a compile step left no executable behind.
var ErrArtifactMissing = errors.New("executable doesn't exist")

// BuildContext carries everything a strategy may look at for one run.
type BuildContext struct {
	Spec *domain.AssignmentSpec
	// Files are the staged submission files in submission order.
	Files []staging.StagedFile
	Main  *staging.StagedFile
	// Resources are fetched resource file paths.
	Resources []string
	// BuildScript is the fetched build script path, if any.
	BuildScript string
	WorkDir     string
	Toolchain   config.ToolchainConfig
	Encoding    string
}

// Strategy knows how to build and run one kind of submission.
type Strategy interface {
	Language() domain.Language
	Mode() Mode
	// CompileArgs returns nil when there is nothing to compile.
	CompileArgs(bc *BuildContext) []string
	// RunArgs returns the run invocation, without assignment arguments.
	RunArgs(bc *BuildContext) ([]string, error)
	// ExecDir is the working directory for running and result scanning.
	ExecDir(bc *BuildContext) string
	// ArtifactNames lists candidate executable names in lookup order.
	ArtifactNames(bc *BuildContext) []string
}

// Preparer is implemented by strategies that lay out files before compiling.
type Preparer interface {
	Prepare(bc *BuildContext) error
}

// Select picks the strategy for a run. A build script always wins over the
// main file's language.
func Select(bc *BuildContext) Strategy {
	if bc.BuildScript != "" {
		return &scriptStrategy{}
	}
	if bc.Main == nil {
		return &unsupportedStrategy{}
	}
	return ForLanguage(bc.Main.Source.Language)
}

// ForLanguage returns the strategy for a language tag.
func ForLanguage(lang domain.Language) Strategy {
	switch lang {
	case domain.LangJava:
		return &javaStrategy{}
	case domain.LangC:
		return &cStrategy{}
	case domain.LangCpp:
		return &cppStrategy{}
	case domain.LangPerl:
		return &perlStrategy{}
	case domain.LangLua:
		return &luaStrategy{}
	case domain.LangBash:
		return &bashStrategy{}
	default:
		return &unsupportedStrategy{lang: lang}
	}
}

// LocateArtifact returns the first candidate that exists in dir.
func LocateArtifact(dir string, names []string) (string, error) {
	for _, name := range names {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	if len(names) == 0 {
		return "", ErrArtifactMissing
	}
	return "", fmt.Errorf("%w: %s", ErrArtifactMissing, filepath.Join(dir, names[0]))
}

// UnsupportedMessage explains why nothing was built.
func UnsupportedMessage(lang domain.Language, mainName string) string {
	if lang == domain.LangUnknown {
		return fmt.Sprintf("Unable to automatically compile and test language `%s'.", mainName)
	}
	return fmt.Sprintf("Unable to automatically compile and test language `%s'.", lang)
}

func executableSuffix() string {
	if runtime.GOOS == "windows" {
		return ".exe"
	}
	return ""
}

func mainRel(bc *BuildContext) string {
	if bc.Main == nil {
		return ""
	}
	return bc.Main.Rel
}

// filesOf returns the relative paths of staged files with the given tag.
func filesOf(bc *BuildContext, lang domain.Language) []staging.StagedFile {
	var out []staging.StagedFile
	for _, f := range bc.Files {
		if f.Source.Language == lang {
			out = append(out, f)
		}
	}
	return out
}
