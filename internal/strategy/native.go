package strategy

import (
	"strings"

	"github.com/passbuild/passbuild/internal/domain"
	"github.com/passbuild/passbuild/internal/staging"
)

// nativeBuild is shared by the C and C++ strategies.
type nativeBuild struct {
	lang    domain.Language
	headers []string
}

// makefile returns the first make-tagged submission file. Its presence
// replaces the whole compiler invocation, including assignment compiler
// arguments.
func makefile(bc *BuildContext) *staging.StagedFile {
	for i := range bc.Files {
		if bc.Files[i].Source.Language == domain.LangMake {
			return &bc.Files[i]
		}
	}
	return nil
}

func (n nativeBuild) isHeader(name string) bool {
	for _, ext := range n.headers {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

func (n nativeBuild) outputName(bc *BuildContext) string {
	return staging.SafeBaseName(bc.Spec.Label) + executableSuffix()
}

func (n nativeBuild) compileArgs(bc *BuildContext, compiler string) []string {
	if mk := makefile(bc); mk != nil {
		args := []string{bc.Toolchain.Make}
		if mk.Name != "Makefile" {
			args = append(args, "-f", mk.Rel)
		}
		return args
	}

	args := []string{compiler, "-Wall", "-o", n.outputName(bc)}
	args = append(args, bc.Spec.CompilerArgs...)
	for _, f := range filesOf(bc, n.lang) {
		if !n.isHeader(f.Name) {
			args = append(args, f.Rel)
		}
	}
	return args
}

func (n nativeBuild) artifactNames(bc *BuildContext) []string {
	if makefile(bc) != nil {
		return []string{"a.out", "a.exe"}
	}
	return []string{n.outputName(bc)}
}

func (n nativeBuild) runArgs(bc *BuildContext) ([]string, error) {
	exe, err := LocateArtifact(bc.WorkDir, n.artifactNames(bc))
	if err != nil {
		return nil, err
	}
	return []string{exe}, nil
}
