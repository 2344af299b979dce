package strategy

import "github.com/passbuild/passbuild/internal/domain"

type cppStrategy struct{}

var cppBuild = nativeBuild{lang: domain.LangCpp, headers: []string{".h", ".hh", ".hpp", ".H"}}

func (c *cppStrategy) Language() domain.Language { return domain.LangCpp }
func (c *cppStrategy) Mode() Mode                { return Compiled }

func (c *cppStrategy) CompileArgs(bc *BuildContext) []string {
	return cppBuild.compileArgs(bc, bc.Toolchain.CXX)
}

func (c *cppStrategy) RunArgs(bc *BuildContext) ([]string, error) {
	return cppBuild.runArgs(bc)
}

func (c *cppStrategy) ExecDir(bc *BuildContext) string { return bc.WorkDir }

func (c *cppStrategy) ArtifactNames(bc *BuildContext) []string {
	return cppBuild.artifactNames(bc)
}
