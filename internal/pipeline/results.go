package pipeline

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/passbuild/passbuild/internal/domain"
	"github.com/passbuild/passbuild/internal/staging"
)

// scanResults looks for every declared result file relative to the
// execution directory. Found files become sections; missing ones only
// produce a warning.
func (p *Pipeline) scanResults(r *run) {
	defer p.advance(r, StateResultScan, 1)

	dir := r.strat.ExecDir(r.bc)
	for _, res := range r.spec.Results {
		path := filepath.Join(dir, filepath.FromSlash(res.Name))
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			r.report.Warn(domain.WarnMissingResult,
				"Your project application failed to create expected result file '%s'.", res.Name)
			continue
		}

		att, body, frag, err := p.attach(r, res, path, info.Size())
		if err != nil {
			r.report.Warn(domain.WarnToolchain, "Unable to read result file '%s': %v", res.Name, err)
			continue
		}
		r.report.AddSection(domain.Section{
			Kind:       domain.SectionResult,
			Title:      res.Name,
			Body:       body,
			Verbatim:   att.Mode == domain.AttachVerbatim,
			Truncated:  frag,
			Attachment: att,
		})
	}
}

// attach builds the attachment for a found result file. Text listings are
// rendered verbatim under the output budget; image listings carry the bytes.
func (p *Pipeline) attach(r *run, res domain.ResultFile, path string, size int64) (*domain.Attachment, string, bool, error) {
	mimeType := res.MimeType
	if mimeType == "" {
		detected, err := mimetype.DetectFile(path)
		if err != nil {
			return nil, "", false, err
		}
		mimeType = detected.String()
	}
	if base, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = base
	}

	att := &domain.Attachment{
		Name:     res.Name,
		MimeType: mimeType,
		Size:     size,
		Mode:     domain.AttachReference,
	}
	if r.opts.ResultsDir != "" {
		dest := filepath.Join(r.opts.ResultsDir, filepath.FromSlash(res.Name))
		if err := staging.CopyOut(path, dest); err != nil {
			p.logger.Warn("Failed to save result file", zap.String("name", res.Name), zap.Error(err))
		} else {
			att.SavedPath = dest
		}
	}

	var body string
	var truncated bool
	switch {
	case res.Listing && strings.HasPrefix(mimeType, "text/"):
		frag, err := r.renderer.RenderFile(path, r.maxOut)
		if err != nil {
			return nil, "", false, err
		}
		r.report.AddWarnings(frag.Warnings...)
		att.Mode = domain.AttachVerbatim
		body, truncated = frag.Text, frag.Truncated
		if frag.Empty() {
			body = noneText
		}
	case res.Listing && strings.HasPrefix(mimeType, "image/"):
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", false, err
		}
		att.Mode = domain.AttachImage
		att.Data = data
	default:
		body = fmt.Sprintf("%s (%s, %d bytes)", res.Name, mimeType, size)
	}
	return att, body, truncated, nil
}
