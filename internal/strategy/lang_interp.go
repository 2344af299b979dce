package strategy

import (
	"os"

	"github.com/passbuild/passbuild/internal/domain"
)

// interpreted is the common shape of the interpreter-only strategies.
type interpreted struct{}

func (interpreted) Mode() Mode                              { return Interpreted }
func (interpreted) CompileArgs(bc *BuildContext) []string   { return nil }
func (interpreted) ExecDir(bc *BuildContext) string         { return bc.WorkDir }
func (interpreted) ArtifactNames(bc *BuildContext) []string { return nil }

type perlStrategy struct{ interpreted }

func (p *perlStrategy) Language() domain.Language { return domain.LangPerl }

func (p *perlStrategy) RunArgs(bc *BuildContext) ([]string, error) {
	args := []string{bc.Toolchain.Perl, "-w"}
	args = append(args, bc.Spec.InvokerArgs...)
	return append(args, mainRel(bc)), nil
}

type luaStrategy struct{ interpreted }

func (l *luaStrategy) Language() domain.Language { return domain.LangLua }

func (l *luaStrategy) RunArgs(bc *BuildContext) ([]string, error) {
	args := []string{bc.Toolchain.Lua}
	args = append(args, bc.Spec.InvokerArgs...)
	return append(args, mainRel(bc)), nil
}

type bashStrategy struct{ interpreted }

func (b *bashStrategy) Language() domain.Language { return domain.LangBash }

// RunArgs runs an executable script directly unless invoker arguments are
// set; anything else goes through bash.
func (b *bashStrategy) RunArgs(bc *BuildContext) ([]string, error) {
	rel := mainRel(bc)
	if len(bc.Spec.InvokerArgs) == 0 && isExecutable(bc.Main.Path) {
		return []string{"./" + rel}, nil
	}
	args := []string{bc.Toolchain.Bash}
	args = append(args, bc.Spec.InvokerArgs...)
	return append(args, rel), nil
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Mode().Perm()&0o111 != 0
}
