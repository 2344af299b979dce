package strategy

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/passbuild/passbuild/internal/domain"
	"github.com/passbuild/passbuild/internal/staging"
)

const javaClassesDir = "classes"

type javaStrategy struct {
	classes string
}

func (j *javaStrategy) Language() domain.Language { return domain.LangJava }
func (j *javaStrategy) Mode() Mode                { return Compiled }

// Prepare creates the class output directory and copies plain text, binary
// and resource files into it so the program finds them at run time.
func (j *javaStrategy) Prepare(bc *BuildContext) error {
	name := javaClassesDir
	for n := 1; ; n++ {
		if _, err := os.Stat(filepath.Join(bc.WorkDir, name)); os.IsNotExist(err) {
			break
		}
		name = fmt.Sprintf("%s%d", javaClassesDir, n)
	}
	j.classes = name

	dir := filepath.Join(bc.WorkDir, name)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return fmt.Errorf("create class directory: %w", err)
	}

	for _, f := range bc.Files {
		if f.Source.Language != domain.LangPlainText && f.Source.Language != domain.LangBinary {
			continue
		}
		if err := staging.CopyOut(f.Path, filepath.Join(dir, filepath.FromSlash(f.Rel))); err != nil {
			return fmt.Errorf("copy %s into class directory: %w", f.Name, err)
		}
	}
	for _, res := range bc.Resources {
		if err := staging.CopyOut(res, filepath.Join(dir, filepath.Base(res))); err != nil {
			return fmt.Errorf("copy resource into class directory: %w", err)
		}
	}
	return nil
}

func (j *javaStrategy) classDir() string {
	if j.classes == "" {
		return javaClassesDir
	}
	return j.classes
}

func (j *javaStrategy) CompileArgs(bc *BuildContext) []string {
	enc := bc.Encoding
	if enc == "" {
		enc = "UTF-8"
	}
	args := []string{bc.Toolchain.Javac, "-Xlint:unchecked", "-Xlint:deprecation", "-encoding", enc}
	args = append(args, bc.Spec.CompilerArgs...)
	args = append(args, "-d", j.classDir())
	for _, f := range filesOf(bc, domain.LangJava) {
		args = append(args, f.Rel)
	}
	return args
}

// RunArgs resolves the main class, qualifying it with the package path found
// under the class directory.
func (j *javaStrategy) RunArgs(bc *BuildContext) ([]string, error) {
	mainClass := strings.TrimSuffix(bc.Main.Name, filepath.Ext(bc.Main.Name))
	classes := j.ExecDir(bc)

	var found string
	_ = filepath.WalkDir(classes, func(p string, d fs.DirEntry, err error) error {
		if err != nil || found != "" {
			return nil
		}
		if !d.IsDir() && d.Name() == mainClass+".class" {
			found = p
			return fs.SkipAll
		}
		return nil
	})
	if found != "" {
		if rel, err := filepath.Rel(classes, filepath.Dir(found)); err == nil && rel != "." {
			mainClass = strings.ReplaceAll(filepath.ToSlash(rel), "/", ".") + "." + mainClass
		}
	}

	args := []string{bc.Toolchain.Java}
	args = append(args, bc.Spec.InvokerArgs...)
	return append(args, mainClass), nil
}

func (j *javaStrategy) ExecDir(bc *BuildContext) string {
	return filepath.Join(bc.WorkDir, j.classDir())
}

// ArtifactNames is empty: the JVM reports a missing main class itself.
func (j *javaStrategy) ArtifactNames(bc *BuildContext) []string { return nil }
