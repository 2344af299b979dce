package strategy

import "github.com/passbuild/passbuild/internal/domain"

type cStrategy struct{}

var cBuild = nativeBuild{lang: domain.LangC, headers: []string{".h", ".H"}}

func (c *cStrategy) Language() domain.Language { return domain.LangC }
func (c *cStrategy) Mode() Mode                { return Compiled }

func (c *cStrategy) CompileArgs(bc *BuildContext) []string {
	return cBuild.compileArgs(bc, bc.Toolchain.CC)
}

func (c *cStrategy) RunArgs(bc *BuildContext) ([]string, error) {
	return cBuild.runArgs(bc)
}

func (c *cStrategy) ExecDir(bc *BuildContext) string { return bc.WorkDir }

func (c *cStrategy) ArtifactNames(bc *BuildContext) []string {
	return cBuild.artifactNames(bc)
}
