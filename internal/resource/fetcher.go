// Package resource retrieves grader-supplied files by URI.
package resource

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/passbuild/passbuild/internal/domain"
)

// DefaultTimeout bounds the connect and response-header phases of a fetch.
const DefaultTimeout = 5 * time.Second

// Namer turns a remote file name into a safe local one.
type Namer interface {
	Scrub(dir, name string) (string, bool)
}

// Result describes a fetched resource.
type Result struct {
	Path     string
	Name     string
	Original string
	Scrubbed bool
	// Reused is true when no transfer happened.
	Reused  bool
	Warning *domain.Warning
}

// Fetcher downloads resources into a local directory. Results are cached
// per URI and destination for the lifetime of the fetcher.
type Fetcher struct {
	client *http.Client
	logger *zap.Logger

	mu    sync.Mutex
	cache map[string]Result
}

// NewFetcher creates a fetcher. Redirects are never followed.
func NewFetcher(timeout time.Duration, logger *zap.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
	}
	return &Fetcher{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
		cache:  make(map[string]Result),
	}
}

// Fetch retrieves uri into destDir. Unless force is set, a resource already
// fetched by this fetcher, or already present under the same (possibly
// scrubbed) name, is returned without network access.
func (f *Fetcher) Fetch(ctx context.Context, uri, destDir string, namer Namer, force bool) (Result, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return Result{}, fmt.Errorf("%w: invalid URI '%s': %v", domain.ErrResourceUnavailable, uri, err)
	}

	key := uri + "\x00" + destDir
	if !force {
		f.mu.Lock()
		cached, ok := f.cache[key]
		f.mu.Unlock()
		if ok {
			cached.Reused = true
			cached.Warning = nil
			return cached, nil
		}
	}

	original := remoteName(u)
	if original == "" {
		return Result{}, fmt.Errorf("%w: no file name in '%s'", domain.ErrResourceUnavailable, uri)
	}
	name, scrubbed := original, false
	if namer != nil {
		name, scrubbed = namer.Scrub(destDir, original)
	}

	res := Result{
		Path:     filepath.Join(destDir, name),
		Name:     name,
		Original: original,
		Scrubbed: scrubbed,
	}
	if scrubbed {
		res.Warning = &domain.Warning{
			Kind:    domain.WarnScrubbed,
			Message: fmt.Sprintf("Filename scrubbed (one or more forbidden characters found). Original name: %s, new name: %s", original, name),
		}
	}

	if !force {
		if _, err := os.Stat(res.Path); err == nil {
			res.Reused = true
			f.remember(key, res)
			return res, nil
		}
	}

	switch u.Scheme {
	case "", "file":
		err = copyLocal(u, res.Path)
	case "http", "https":
		err = f.download(ctx, uri, res.Path)
	default:
		err = fmt.Errorf("%w: unsupported scheme '%s' in '%s'", domain.ErrResourceUnavailable, u.Scheme, uri)
	}
	if err != nil {
		return Result{}, err
	}

	f.logger.Debug("Resource fetched",
		zap.String("uri", uri),
		zap.String("path", res.Path),
		zap.Bool("scrubbed", scrubbed),
	)
	f.remember(key, res)
	return res, nil
}

func (f *Fetcher) remember(key string, res Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache[key] = res
}

// download probes the URI with HEAD and then transfers it with GET.
func (f *Fetcher) download(ctx context.Context, uri, dest string) error {
	if err := f.probe(ctx, uri); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrResourceUnavailable, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: can't fetch '%s': %v", domain.ErrResourceUnavailable, uri, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode > 299 {
		return unavailable(uri, resp.StatusCode)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		_ = os.Remove(dest)
		return fmt.Errorf("%w: transfer of '%s' failed: %v", domain.ErrResourceUnavailable, uri, err)
	}
	return out.Close()
}

func (f *Fetcher) probe(ctx context.Context, uri string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, uri, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrResourceUnavailable, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: can't fetch '%s': %v", domain.ErrResourceUnavailable, uri, err)
	}
	resp.Body.Close()
	if resp.StatusCode > 299 {
		return unavailable(uri, resp.StatusCode)
	}
	return nil
}

func unavailable(uri string, status int) error {
	return fmt.Errorf("%w: Unable to access '%s'. Status code: %d.", domain.ErrResourceUnavailable, uri, status)
}

func remoteName(u *url.URL) string {
	p := u.Path
	if u.Scheme == "" && p == "" {
		p = u.Opaque
	}
	if strings.HasSuffix(p, "/") {
		return ""
	}
	name := path.Base(filepath.ToSlash(p))
	if name == "." || name == "/" {
		return ""
	}
	return name
}

func copyLocal(u *url.URL, dest string) error {
	src := u.Path
	if u.Scheme == "" {
		src = filepath.FromSlash(u.Path)
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("%w: Unable to access '%s': %v", domain.ErrResourceUnavailable, u.String(), err)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dest)
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}
