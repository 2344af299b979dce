// Package capture turns captured process output into width-limited,
// sanitised text fragments ready for the report renderer.
package capture

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding"

	"github.com/passbuild/passbuild/internal/domain"
)

// TruncationMarker closes a fragment whose source exceeded its byte budget.
const TruncationMarker = "\n[...]\n"

// Fragment is a rendered block of verbatim text.
type Fragment struct {
	Text      string
	Truncated bool
	// Size is the number of source bytes, including any that were not read.
	Size     int64
	Warnings []domain.Warning
}

// Empty reports whether the source produced no text.
func (f Fragment) Empty() bool {
	return f.Text == ""
}

// Renderer converts byte streams into verbatim fragments.
type Renderer struct {
	maxChars int
	tabWidth int
	ascii    bool
	enc      encoding.Encoding
}

// NewRenderer creates a renderer wrapping lines at maxChars columns and
// expanding tabs to tabWidth stops. encodingName selects how captured bytes
// are decoded; ASCII labels also enable ASCII-only output.
func NewRenderer(maxChars, tabWidth int, encodingName string) (*Renderer, error) {
	if maxChars <= 0 || tabWidth <= 0 {
		return nil, fmt.Errorf("invalid verbatim geometry %d/%d", maxChars, tabWidth)
	}
	enc, ascii, err := resolveEncoding(encodingName)
	if err != nil {
		return nil, err
	}
	return &Renderer{maxChars: maxChars, tabWidth: tabWidth, ascii: ascii, enc: enc}, nil
}

// WithGeometry returns a copy using different line width and tab stops.
// Non-positive values keep the current setting.
func (r *Renderer) WithGeometry(maxChars, tabWidth int) *Renderer {
	c := *r
	if maxChars > 0 {
		c.maxChars = maxChars
	}
	if tabWidth > 0 {
		c.tabWidth = tabWidth
	}
	return &c
}

// ASCII reports whether ASCII-only mode is on.
func (r *Renderer) ASCII() bool {
	return r.ascii
}

// RenderVerbatim renders the whole source.
func (r *Renderer) RenderVerbatim(src io.Reader) (Fragment, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return Fragment{}, fmt.Errorf("read output: %w", err)
	}
	text, warnings, err := r.render(data)
	if err != nil {
		return Fragment{}, err
	}
	return Fragment{Text: text, Size: int64(len(data)), Warnings: warnings}, nil
}

// RenderTruncated renders at most maxBytes of the source. Reading stops once
// the budget is exceeded, and the fragment is closed with TruncationMarker.
// The rendered text before the marker never exceeds maxBytes.
func (r *Renderer) RenderTruncated(src io.Reader, maxBytes int64) (Fragment, error) {
	if maxBytes <= 0 {
		return r.RenderVerbatim(src)
	}

	data, err := io.ReadAll(io.LimitReader(src, maxBytes+1))
	if err != nil {
		return Fragment{}, fmt.Errorf("read output: %w", err)
	}
	if int64(len(data)) <= maxBytes {
		text, warnings, err := r.render(data)
		if err != nil {
			return Fragment{}, err
		}
		return Fragment{Text: text, Size: int64(len(data)), Warnings: warnings}, nil
	}

	data = data[:maxBytes]
	if r.enc == nil {
		data = trimPartialRune(data)
	}
	text, warnings, err := r.render(data)
	if err != nil {
		return Fragment{}, err
	}
	text = capBytes(text, int(maxBytes))
	text = strings.TrimSuffix(text, "\n") + TruncationMarker

	return Fragment{Text: text, Truncated: true, Size: maxBytes + 1, Warnings: warnings}, nil
}

// RenderFile renders a capture file under a byte budget and adds a
// truncation warning carrying the real file size.
func (r *Renderer) RenderFile(path string, maxBytes int64) (Fragment, error) {
	f, err := os.Open(path)
	if err != nil {
		return Fragment{}, fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()

	frag, err := r.RenderTruncated(f, maxBytes)
	if err != nil {
		return Fragment{}, err
	}
	if info, err := f.Stat(); err == nil {
		frag.Size = info.Size()
	}
	if frag.Truncated {
		msg := fmt.Sprintf("Output size (%d bytes) exceeds maximum setting (%d bytes). Truncating with [...]",
			frag.Size, maxBytes)
		frag.Warnings = append(frag.Warnings, domain.Warning{Kind: domain.WarnTruncated, Message: msg})
	}
	return frag, nil
}

// ──────────────────────────────────────────────────────
// Line rendering
// ──────────────────────────────────────────────────────

type lineWriter struct {
	b        strings.Builder
	col      int
	maxChars int
	tabWidth int
	warnings []domain.Warning
	seen     map[string]bool
}

func (w *lineWriter) newline() {
	w.b.WriteByte('\n')
	w.col = 0
}

// put writes one visible rune, wrapping first when the line is full.
func (w *lineWriter) put(r rune) {
	if w.col >= w.maxChars {
		w.newline()
	}
	w.b.WriteRune(r)
	w.col++
}

// token writes a multi-rune unit that should not be split across lines.
func (w *lineWriter) token(s string) {
	n := utf8.RuneCountInString(s)
	if w.col > 0 && w.col+n > w.maxChars {
		w.newline()
	}
	for _, r := range s {
		w.put(r)
	}
}

func (w *lineWriter) tab() {
	spaces := w.tabWidth - w.col%w.tabWidth
	if w.col+spaces > w.maxChars {
		w.newline()
		spaces = w.tabWidth
	}
	for i := 0; i < spaces; i++ {
		w.put(' ')
	}
}

func (w *lineWriter) warn(kind domain.WarningKind, key, format string, args ...any) {
	if w.seen[key] {
		return
	}
	w.seen[key] = true
	w.warnings = append(w.warnings, domain.Warning{Kind: kind, Message: fmt.Sprintf(format, args...)})
}

func (r *Renderer) render(raw []byte) (string, []domain.Warning, error) {
	data, err := decode(r.enc, raw)
	if err != nil {
		return "", nil, err
	}

	w := &lineWriter{maxChars: r.maxChars, tabWidth: r.tabWidth, seen: map[string]bool{}}
	for i := 0; i < len(data); {
		c, size := utf8.DecodeRune(data[i:])
		if c == utf8.RuneError && size == 1 {
			b := data[i]
			w.token(fmt.Sprintf("[0x%02X]", b))
			w.warn(domain.WarnInvalidByte, fmt.Sprintf("byte-%02X", b),
				"Invalid byte 0x%02X in output", b)
			i++
			continue
		}
		i += size

		switch {
		case c == '\n':
			w.newline()
		case c == '\r':
			if i < len(data) && data[i] == '\n' {
				continue
			}
			w.newline()
		case c == '\f':
			w.b.WriteRune(c)
			w.col = 0
		case c == '\t':
			w.tab()
		case unicode.IsControl(c):
			w.token(fmt.Sprintf("[0x%02X]", c))
			w.warn(domain.WarnControlChar, fmt.Sprintf("ctl-%X", c),
				"Control character U+%04X detected", c)
		case r.ascii && c > unicode.MaxASCII:
			if alt, ok := asciiEquivalents[c]; ok {
				w.token(alt)
				continue
			}
			w.token(fmt.Sprintf("[0x%02X]", c))
			w.warn(domain.WarnNonASCII, fmt.Sprintf("nonascii-%X", c),
				"ASCII mode set but non-ASCII character U+%04X detected", c)
		default:
			w.put(c)
		}
	}
	return w.b.String(), w.warnings, nil
}

// trimPartialRune drops an incomplete UTF-8 sequence at the end of data.
func trimPartialRune(data []byte) []byte {
	for back := 1; back <= utf8.UTFMax && back <= len(data); back++ {
		i := len(data) - back
		if !utf8.RuneStart(data[i]) {
			continue
		}
		if !utf8.FullRune(data[i:]) {
			return data[:i]
		}
		return data
	}
	return data
}

// capBytes shortens s to at most n bytes without splitting a rune.
func capBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
