// Package assignment loads assignment specifications and batch manifests
// from YAML files.
package assignment

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/passbuild/passbuild/internal/domain"
)

// LoadSpec reads an assignment specification. Compile and both run toggles
// default to on when the file leaves them out.
func LoadSpec(file string) (*domain.AssignmentSpec, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("assignment: read %s: %w", file, err)
	}
	spec, err := ParseSpec(data)
	if err != nil {
		return nil, fmt.Errorf("assignment: %s: %w", file, err)
	}
	return spec, nil
}

// ParseSpec decodes and validates an assignment specification.
func ParseSpec(data []byte) (*domain.AssignmentSpec, error) {
	spec := &domain.AssignmentSpec{Compile: true, Run: true, NoPDFRun: true}
	if err := decodeStrict(data, spec); err != nil {
		return nil, err
	}
	if err := validate(spec); err != nil {
		return nil, err
	}
	return spec, nil
}

func validate(spec *domain.AssignmentSpec) error {
	if strings.TrimSpace(spec.Label) == "" {
		return errors.New("label is required")
	}
	for i, rf := range spec.RequiredFiles {
		if rf.Language == domain.LangUnknown {
			continue
		}
		lang, ok := domain.ParseLanguage(string(rf.Language))
		if !ok {
			return fmt.Errorf("required file %q: unknown language %q", rf.Name, rf.Language)
		}
		spec.RequiredFiles[i].Language = lang
	}
	for _, res := range spec.Resources {
		if res.URI == "" {
			return errors.New("resource with empty uri")
		}
	}
	for _, res := range spec.Results {
		clean := path.Clean(res.Name)
		if res.Name == "" || path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
			return fmt.Errorf("result file %q must be a relative path inside the working directory", res.Name)
		}
	}
	if spec.MaxOutput < 0 || spec.VerbMaxChars < 0 || spec.VerbTabCount < 0 {
		return errors.New("max_output, verb_max_chars and verb_tab_count must not be negative")
	}
	return nil
}

// SubmissionFile resolves a command-line file argument. An argument of the
// form PATH=LANG sets the language tag explicitly; otherwise the tag comes
// from a matching required file, the allowed binary extensions, or the file
// extension, in that order.
func SubmissionFile(arg string, spec *domain.AssignmentSpec) (domain.SubmissionFile, error) {
	p, lang := arg, domain.LangUnknown
	if i := strings.LastIndex(arg, "="); i > 0 {
		if l, ok := domain.ParseLanguage(arg[i+1:]); ok {
			p, lang = arg[:i], l
		}
	}

	abs, err := filepath.Abs(p)
	if err != nil {
		return domain.SubmissionFile{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return domain.SubmissionFile{}, fmt.Errorf("submission file: %w", err)
	}
	if info.IsDir() {
		return domain.SubmissionFile{}, fmt.Errorf("submission file %s is a directory", p)
	}

	f := domain.SubmissionFile{Path: abs, Language: lang}
	name := filepath.Base(abs)
	for _, rf := range spec.RequiredFiles {
		if rf.Name == name {
			f.RequiredName = rf.Name
			if f.Language == domain.LangUnknown {
				f.Language = rf.Language
			}
			break
		}
	}
	if f.Language == domain.LangUnknown && isAllowedBinary(name, spec.AllowedBinaries) {
		f.Language = domain.LangBinary
	}
	if f.Language == domain.LangUnknown {
		f.Language = domain.DetectLanguage(name)
	}
	return f, nil
}

func isAllowedBinary(name string, exts []string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if ext == "" {
		return false
	}
	for _, e := range exts {
		if strings.EqualFold(strings.TrimPrefix(e, "."), ext) {
			return true
		}
	}
	return false
}

func decodeStrict(data []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}
