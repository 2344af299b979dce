package domain

import (
	"path/filepath"
	"strings"
)

// Language is the category tag attached to a submitted file.
type Language string

const (
	LangJava      Language = "Java"
	LangC         Language = "C"
	LangCpp       Language = "C++"
	LangPerl      Language = "Perl"
	LangLua       Language = "Lua"
	LangBash      Language = "bash"
	LangMake      Language = "make"
	LangPlainText Language = "Plain Text"
	LangPDF       Language = "PDF"
	LangDOC       Language = "DOC"
	LangBinary    Language = "Binary"
	LangUnknown   Language = ""
)

var extensionLanguages = map[string]Language{
	".java": LangJava,
	".c":    LangC,
	".h":    LangC,
	".cpp":  LangCpp,
	".cc":   LangCpp,
	".cxx":  LangCpp,
	".hpp":  LangCpp,
	".hh":   LangCpp,
	".pl":   LangPerl,
	".pm":   LangPerl,
	".lua":  LangLua,
	".sh":   LangBash,
	".mk":   LangMake,
	".txt":  LangPlainText,
	".csv":  LangPlainText,
	".md":   LangPlainText,
	".pdf":  LangPDF,
	".doc":  LangDOC,
	".docx": LangDOC,
}

var knownLanguages = []Language{
	LangJava, LangC, LangCpp, LangPerl, LangLua, LangBash, LangMake,
	LangPlainText, LangPDF, LangDOC, LangBinary,
}

// ParseLanguage matches a language tag case-insensitively.
func ParseLanguage(s string) (Language, bool) {
	for _, l := range knownLanguages {
		if strings.EqualFold(string(l), s) {
			return l, true
		}
	}
	return LangUnknown, false
}

// DetectLanguage guesses a language tag from a file name.
func DetectLanguage(name string) Language {
	base := filepath.Base(name)
	if base == "Makefile" || base == "makefile" || base == "GNUmakefile" {
		return LangMake
	}
	if lang, ok := extensionLanguages[strings.ToLower(filepath.Ext(base))]; ok {
		if lang == LangC && filepath.Ext(base) == ".H" {
			return LangCpp
		}
		return lang
	}
	return LangUnknown
}

// RequiredFile is a source file the assignment asks for.
type RequiredFile struct {
	Name     string   `json:"name" yaml:"name"`
	Language Language `json:"language,omitempty" yaml:"language"`
}

// ResourceFile is a grader-supplied file fetched before building.
type ResourceFile struct {
	URI      string `json:"uri" yaml:"uri"`
	MimeType string `json:"mime_type,omitempty" yaml:"mime_type"`
}

// ResultFile is a file the student's program must create.
type ResultFile struct {
	Name     string `json:"name" yaml:"name"`
	MimeType string `json:"mime_type,omitempty" yaml:"mime_type"`
	// Listing includes the content inline (text verbatim, images embedded).
	Listing bool `json:"listing" yaml:"listing"`
}

// AssignmentSpec is the parsed assignment specification for a run.
// It is treated as immutable once a run starts.
type AssignmentSpec struct {
	Label         string         `json:"label" yaml:"label"`
	Title         string         `json:"title,omitempty" yaml:"title"`
	RequiredFiles []RequiredFile `json:"required_files,omitempty" yaml:"required_files"`
	MainFile      string         `json:"main_file,omitempty" yaml:"main_file"`
	// AllowedBinaries lists extensions accepted as binary submission files.
	AllowedBinaries []string       `json:"allowed_binaries,omitempty" yaml:"allowed_binaries"`
	Resources       []ResourceFile `json:"resources,omitempty" yaml:"resources"`
	Results         []ResultFile   `json:"results,omitempty" yaml:"results"`

	Args         []string `json:"args,omitempty" yaml:"args"`
	CompilerArgs []string `json:"compiler_args,omitempty" yaml:"compiler_args"`
	InvokerArgs  []string `json:"invoker_args,omitempty" yaml:"invoker_args"`
	Inputs       []string `json:"inputs,omitempty" yaml:"inputs"`

	Compile     bool   `json:"compile" yaml:"compile"`
	Run         bool   `json:"run" yaml:"run"`
	NoPDFRun    bool   `json:"no_pdf_run" yaml:"no_pdf_run"`
	BuildScript string `json:"build_script,omitempty" yaml:"build_script"`
	NoPDFScript string `json:"no_pdf_build_script,omitempty" yaml:"no_pdf_build_script"`

	// Zero values fall back to the configured defaults.
	MaxOutput    int64 `json:"max_output,omitempty" yaml:"max_output"`
	VerbMaxChars int   `json:"verb_max_chars,omitempty" yaml:"verb_max_chars"`
	VerbTabCount int   `json:"verb_tab_count,omitempty" yaml:"verb_tab_count"`
}

// RunEnabled returns the run toggle of the selected build variant.
func (a *AssignmentSpec) RunEnabled(noPDF bool) bool {
	if noPDF {
		return a.NoPDFRun
	}
	return a.Run
}

// BuildScriptURI returns the build script of the selected build variant.
func (a *AssignmentSpec) BuildScriptURI(noPDF bool) string {
	if noPDF {
		return a.NoPDFScript
	}
	return a.BuildScript
}

// SubmissionFile is a student-supplied file. The pipeline only ever copies it.
type SubmissionFile struct {
	Path string `json:"path"`
	// RequiredName is the assignment slot this file fills, if any.
	RequiredName string   `json:"required_name,omitempty"`
	Language     Language `json:"language"`
}

// Name returns the name used to match the assignment's main file.
func (f SubmissionFile) Name() string {
	if f.RequiredName != "" {
		return f.RequiredName
	}
	return filepath.Base(f.Path)
}
