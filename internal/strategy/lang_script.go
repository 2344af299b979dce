package strategy

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/shlex"

	"github.com/passbuild/passbuild/internal/domain"
)

// scriptStrategy runs an assignment-supplied build script, which replaces
// both the compile and the run step.
type scriptStrategy struct{}

func (s *scriptStrategy) Language() domain.Language               { return domain.LangUnknown }
func (s *scriptStrategy) Mode() Mode                              { return Script }
func (s *scriptStrategy) CompileArgs(bc *BuildContext) []string   { return nil }
func (s *scriptStrategy) ExecDir(bc *BuildContext) string         { return bc.WorkDir }
func (s *scriptStrategy) ArtifactNames(bc *BuildContext) []string { return nil }

// RunArgs picks an invoker from the script's extension or name, then from a
// #! line. Scripts with neither are made executable and run directly.
func (s *scriptStrategy) RunArgs(bc *BuildContext) ([]string, error) {
	name := filepath.Base(bc.BuildScript)
	tc := bc.Toolchain

	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(name), ".")) {
	case "bat", "com":
		return []string{name}, nil
	case "lua":
		return []string{tc.Lua, name}, nil
	case "pl":
		return []string{tc.Perl, name}, nil
	case "sh":
		return []string{tc.Sh, name}, nil
	case "php":
		return []string{tc.PHP, name}, nil
	case "py":
		return []string{tc.Python, name}, nil
	case "mk", "make":
		return []string{tc.Make, "-f", name}, nil
	}
	if strings.EqualFold(name, "makefile") {
		return []string{tc.Make, "-f", name}, nil
	}

	interp, err := shebang(bc.BuildScript)
	if err != nil {
		return nil, err
	}
	if len(interp) > 0 {
		return append(interp, name), nil
	}

	if err := os.Chmod(bc.BuildScript, 0o755); err != nil {
		return nil, fmt.Errorf("unable to make '%s' executable: %w", name, err)
	}
	return []string{"./" + name}, nil
}

// shebang returns the interpreter vector from a leading #! line.
func shebang(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read build script: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return nil, sc.Err()
	}
	line := strings.TrimRight(sc.Text(), "\r")
	if !strings.HasPrefix(line, "#!") {
		return nil, nil
	}
	words, err := shlex.Split(line[2:])
	if err != nil {
		return nil, fmt.Errorf("parse #! line of %s: %w", filepath.Base(path), err)
	}
	return words, nil
}

// unsupportedStrategy performs no build or run step.
type unsupportedStrategy struct {
	lang domain.Language
}

func (u *unsupportedStrategy) Language() domain.Language               { return u.lang }
func (u *unsupportedStrategy) Mode() Mode                              { return Unsupported }
func (u *unsupportedStrategy) CompileArgs(bc *BuildContext) []string   { return nil }
func (u *unsupportedStrategy) ExecDir(bc *BuildContext) string         { return bc.WorkDir }
func (u *unsupportedStrategy) ArtifactNames(bc *BuildContext) []string { return nil }

func (u *unsupportedStrategy) RunArgs(bc *BuildContext) ([]string, error) {
	return nil, fmt.Errorf("%w: %s", domain.ErrUnknownLanguage, UnsupportedMessage(u.lang, mainRel(bc)))
}
