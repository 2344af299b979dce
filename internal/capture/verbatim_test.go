package capture

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/passbuild/passbuild/internal/domain"
)

func mustRenderer(t *testing.T, maxChars, tab int, enc string) *Renderer {
	t.Helper()
	r, err := NewRenderer(maxChars, tab, enc)
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}
	return r
}

func TestRenderVerbatim(t *testing.T) {
	tests := []struct {
		name     string
		maxChars int
		tab      int
		enc      string
		input    string
		want     string
		warnings []domain.WarningKind
	}{
		{
			name: "plain text unchanged", maxChars: 80, tab: 8,
			input: "hello\nworld\n", want: "hello\nworld\n",
		},
		{
			name: "tab to next stop", maxChars: 80, tab: 4,
			input: "a\tb\n\tc", want: "a   b\n    c",
		},
		{
			name: "tab after full stop width", maxChars: 80, tab: 4,
			input: "abcd\te", want: "abcd    e",
		},
		{
			name: "wraps long lines", maxChars: 4, tab: 8,
			input: "abcdefghij", want: "abcd\nefgh\nij",
		},
		{
			name: "crlf normalised", maxChars: 80, tab: 8,
			input: "one\r\ntwo\r\n", want: "one\ntwo\n",
		},
		{
			name: "control character flagged", maxChars: 80, tab: 8,
			input: "bell\x07!", want: "bell[0x07]!",
			warnings: []domain.WarningKind{domain.WarnControlChar},
		},
		{
			name: "repeated control character warned once", maxChars: 80, tab: 8,
			input: "\x01\x01", want: "[0x01][0x01]",
			warnings: []domain.WarningKind{domain.WarnControlChar},
		},
		{
			name: "utf8 kept outside ascii mode", maxChars: 80, tab: 8,
			input: "café “q”", want: "café “q”",
		},
		{
			name: "ascii mode maps punctuation", maxChars: 80, tab: 8, enc: "ASCII",
			input: "“it’s” – ok…", want: "\"it's\" - ok...",
		},
		{
			name: "ascii mode flags unmapped", maxChars: 80, tab: 8, enc: "US-ASCII",
			input: "café", want: "caf[0xE9]",
			warnings: []domain.WarningKind{domain.WarnNonASCII},
		},
		{
			name: "invalid utf8 byte", maxChars: 80, tab: 8,
			input: "a\xffb", want: "a[0xFF]b",
			warnings: []domain.WarningKind{domain.WarnInvalidByte},
		},
		{
			name: "latin1 decoded", maxChars: 80, tab: 8, enc: "ISO-8859-1",
			input: "caf\xe9", want: "café",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := mustRenderer(t, tt.maxChars, tt.tab, tt.enc)
			frag, err := r.RenderVerbatim(strings.NewReader(tt.input))
			if err != nil {
				t.Fatalf("RenderVerbatim() error = %v", err)
			}
			if frag.Text != tt.want {
				t.Errorf("Text = %q, want %q", frag.Text, tt.want)
			}
			if frag.Truncated {
				t.Error("Truncated = true for unbounded render")
			}
			if len(frag.Warnings) != len(tt.warnings) {
				t.Fatalf("warnings = %+v, want kinds %v", frag.Warnings, tt.warnings)
			}
			for i, k := range tt.warnings {
				if frag.Warnings[i].Kind != k {
					t.Errorf("warning[%d] = %s, want %s", i, frag.Warnings[i].Kind, k)
				}
			}
		})
	}
}

func TestRenderVerbatim_NeverSplitsRunes(t *testing.T) {
	r := mustRenderer(t, 3, 8, "")
	frag, err := r.RenderVerbatim(strings.NewReader("ééééééé"))
	if err != nil {
		t.Fatal(err)
	}
	if !utf8.ValidString(frag.Text) {
		t.Fatalf("invalid UTF-8 in %q", frag.Text)
	}
	if frag.Text != "ééé\nééé\né" {
		t.Errorf("Text = %q", frag.Text)
	}
}

func TestRenderVerbatim_MarkerNotSplitAcrossLines(t *testing.T) {
	r := mustRenderer(t, 6, 8, "")
	frag, err := r.RenderVerbatim(strings.NewReader("abcd\x02"))
	if err != nil {
		t.Fatal(err)
	}
	if frag.Text != "abcd\n[0x02]" {
		t.Errorf("Text = %q", frag.Text)
	}
}

func TestRenderTruncated(t *testing.T) {
	r := mustRenderer(t, 80, 8, "")

	tests := []struct {
		name      string
		input     string
		budget    int64
		truncated bool
	}{
		{"under budget", "short\n", 100, false},
		{"exactly at budget", "0123456789", 10, false},
		{"one byte over", "0123456789A", 10, true},
		{"far over", strings.Repeat("line of output\n", 500), 256, true},
		{"control chars over", strings.Repeat("\x01", 100), 20, true},
		{"multibyte boundary", strings.Repeat("é", 50), 11, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frag, err := r.RenderTruncated(strings.NewReader(tt.input), tt.budget)
			if err != nil {
				t.Fatalf("RenderTruncated() error = %v", err)
			}
			if frag.Truncated != tt.truncated {
				t.Fatalf("Truncated = %v, want %v", frag.Truncated, tt.truncated)
			}
			if max := int(tt.budget) + len(TruncationMarker); len(frag.Text) > max {
				t.Errorf("len(Text) = %d, want <= %d", len(frag.Text), max)
			}
			if !utf8.ValidString(frag.Text) {
				t.Errorf("invalid UTF-8 in %q", frag.Text)
			}
			if tt.truncated && !strings.HasSuffix(frag.Text, TruncationMarker) {
				t.Errorf("Text %q missing truncation marker", frag.Text)
			}
			if !tt.truncated && frag.Text != tt.input {
				t.Errorf("Text = %q, want input reproduced", frag.Text)
			}
		})
	}
}

func TestRenderTruncated_StopsReading(t *testing.T) {
	r := mustRenderer(t, 80, 8, "")
	src := bytes.NewReader(bytes.Repeat([]byte("x"), 1<<20))

	if _, err := r.RenderTruncated(src, 64); err != nil {
		t.Fatal(err)
	}
	if read := int64(1<<20) - int64(src.Len()); read > 65 {
		t.Errorf("read %d bytes, want at most budget+1", read)
	}
}

func TestRenderFile_TruncationWarning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stdout")
	if err := os.WriteFile(path, bytes.Repeat([]byte("y\n"), 100), 0o644); err != nil {
		t.Fatal(err)
	}

	r := mustRenderer(t, 80, 8, "")
	frag, err := r.RenderFile(path, 50)
	if err != nil {
		t.Fatalf("RenderFile() error = %v", err)
	}
	if !frag.Truncated || frag.Size != 200 {
		t.Fatalf("Truncated = %v, Size = %d", frag.Truncated, frag.Size)
	}
	if len(frag.Warnings) != 1 || frag.Warnings[0].Kind != domain.WarnTruncated {
		t.Fatalf("warnings = %+v", frag.Warnings)
	}
	want := "Output size (200 bytes) exceeds maximum setting (50 bytes). Truncating with [...]"
	if frag.Warnings[0].Message != want {
		t.Errorf("message = %q, want %q", frag.Warnings[0].Message, want)
	}
}

func TestNewRenderer_Errors(t *testing.T) {
	if _, err := NewRenderer(0, 8, ""); err == nil {
		t.Error("expected error for zero width")
	}
	if _, err := NewRenderer(80, 8, "no-such-charset"); err == nil {
		t.Error("expected error for unknown encoding")
	}
}

func TestWithGeometry(t *testing.T) {
	base := mustRenderer(t, 80, 8, "")
	narrow := base.WithGeometry(2, 0)

	frag, err := narrow.RenderVerbatim(strings.NewReader("abcd"))
	if err != nil {
		t.Fatal(err)
	}
	if frag.Text != "ab\ncd" {
		t.Errorf("Text = %q", frag.Text)
	}
	if base.maxChars != 80 {
		t.Error("WithGeometry mutated the receiver")
	}
}
