package resource

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/passbuild/passbuild/internal/domain"
	"github.com/passbuild/passbuild/internal/staging"
)

// stubNamer replaces names containing spaces.
type stubNamer struct{}

func (stubNamer) Scrub(dir, name string) (string, bool) {
	if strings.ContainsAny(name, " %") {
		return "lab-file" + filepath.Ext(name), true
	}
	return name, false
}

type counter struct {
	mu    sync.Mutex
	heads int
	gets  int
}

func (c *counter) counts() (heads, gets int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.heads, c.gets
}

func newServer(t *testing.T, c *counter) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		if r.Method == http.MethodHead {
			c.heads++
		} else {
			c.gets++
		}
		c.mu.Unlock()
		_, _ = w.Write([]byte("payload for " + r.URL.Path))
	})
	mux.HandleFunc("/moved/data.csv", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/files/data.csv", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch_DownloadsAndCaches(t *testing.T) {
	c := &counter{}
	srv := newServer(t, c)
	dir := t.TempDir()
	f := NewFetcher(0, zap.NewNop())

	first, err := f.Fetch(context.Background(), srv.URL+"/files/input.txt", dir, stubNamer{}, false)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if first.Path != filepath.Join(dir, "input.txt") || first.Reused {
		t.Errorf("first = %+v", first)
	}
	data, _ := os.ReadFile(first.Path)
	if string(data) != "payload for /files/input.txt" {
		t.Errorf("content = %q", data)
	}

	second, err := f.Fetch(context.Background(), srv.URL+"/files/input.txt", dir, stubNamer{}, false)
	if err != nil {
		t.Fatal(err)
	}
	if second.Path != first.Path || !second.Reused {
		t.Errorf("second = %+v, want reuse of %s", second, first.Path)
	}
	if heads, gets := c.counts(); heads != 1 || gets != 1 {
		t.Errorf("network calls head=%d get=%d, want 1/1", heads, gets)
	}
}

func TestFetch_ForceRefetches(t *testing.T) {
	c := &counter{}
	srv := newServer(t, c)
	dir := t.TempDir()
	f := NewFetcher(0, zap.NewNop())

	for i := 0; i < 2; i++ {
		if _, err := f.Fetch(context.Background(), srv.URL+"/files/a.txt", dir, stubNamer{}, true); err != nil {
			t.Fatal(err)
		}
	}
	if _, gets := c.counts(); gets != 2 {
		t.Errorf("gets = %d, want 2", gets)
	}
}

func TestFetch_ReusesExistingLocalFile(t *testing.T) {
	c := &counter{}
	srv := newServer(t, c)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("local"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := NewFetcher(0, zap.NewNop()).Fetch(context.Background(), srv.URL+"/files/a.txt", dir, stubNamer{}, false)
	if err != nil {
		t.Fatal(err)
	}
	if heads, gets := c.counts(); !res.Reused || heads+gets != 0 {
		t.Errorf("res = %+v, calls = %d", res, heads+gets)
	}
}

func TestFetch_MissingResource(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewFetcher(0, zap.NewNop()).Fetch(context.Background(), srv.URL+"/gone.txt", t.TempDir(), stubNamer{}, false)
	if !errors.Is(err, domain.ErrResourceUnavailable) {
		t.Fatalf("error = %v, want ErrResourceUnavailable", err)
	}
	if !strings.Contains(err.Error(), "Status code: 404") {
		t.Errorf("error %q does not carry the status", err)
	}
}

func TestFetch_RedirectNotFollowed(t *testing.T) {
	c := &counter{}
	srv := newServer(t, c)

	_, err := NewFetcher(0, zap.NewNop()).Fetch(context.Background(), srv.URL+"/moved/data.csv", t.TempDir(), stubNamer{}, false)
	if !errors.Is(err, domain.ErrResourceUnavailable) {
		t.Fatalf("error = %v, want ErrResourceUnavailable", err)
	}
	if heads, gets := c.counts(); heads+gets != 0 {
		t.Error("redirect target was requested")
	}
}

func TestFetch_ScrubbedNameWarns(t *testing.T) {
	c := &counter{}
	srv := newServer(t, c)
	dir := t.TempDir()

	res, err := NewFetcher(0, zap.NewNop()).Fetch(context.Background(), srv.URL+"/files/my%20data.csv", dir, stubNamer{}, false)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Scrubbed || res.Name != "lab-file.csv" || res.Original != "my data.csv" {
		t.Errorf("res = %+v", res)
	}
	if res.Warning == nil || res.Warning.Kind != domain.WarnScrubbed {
		t.Fatalf("warning = %+v", res.Warning)
	}
	if !strings.Contains(res.Warning.Message, "my data.csv") || !strings.Contains(res.Warning.Message, "lab-file.csv") {
		t.Errorf("warning %q should name both files", res.Warning.Message)
	}
}

func TestFetch_ReusesScrubbedNameAcrossFetchers(t *testing.T) {
	c := &counter{}
	srv := newServer(t, c)
	area, err := staging.New(t.TempDir(), "lab", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = area.Sweep() })
	uri := srv.URL + "/files/my%20data.csv"

	first, err := NewFetcher(0, zap.NewNop()).Fetch(context.Background(), uri, area.WorkDir(), area, false)
	if err != nil {
		t.Fatal(err)
	}
	second, err := NewFetcher(0, zap.NewNop()).Fetch(context.Background(), uri, area.WorkDir(), area, false)
	if err != nil {
		t.Fatal(err)
	}

	if !first.Scrubbed || second.Path != first.Path {
		t.Errorf("first = %+v, second = %+v", first, second)
	}
	if !second.Reused {
		t.Error("scrubbed resource was transferred again")
	}
	if _, gets := c.counts(); gets != 1 {
		t.Errorf("gets = %d, want 1", gets)
	}
}

func TestFetch_LocalFile(t *testing.T) {
	srcDir := t.TempDir()
	src := filepath.Join(srcDir, "build.sh")
	if err := os.WriteFile(src, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()

	for _, uri := range []string{"file://" + filepath.ToSlash(src), src} {
		res, err := NewFetcher(0, zap.NewNop()).Fetch(context.Background(), uri, dir, nil, true)
		if err != nil {
			t.Fatalf("Fetch(%q) error = %v", uri, err)
		}
		if res.Name != "build.sh" {
			t.Errorf("Name = %q", res.Name)
		}
	}
}

func TestFetch_LocalFileMissing(t *testing.T) {
	_, err := NewFetcher(0, zap.NewNop()).Fetch(context.Background(), "file:///no/such/file.txt", t.TempDir(), nil, false)
	if !errors.Is(err, domain.ErrResourceUnavailable) {
		t.Errorf("error = %v, want ErrResourceUnavailable", err)
	}
}

func TestFetch_NoFileName(t *testing.T) {
	_, err := NewFetcher(0, zap.NewNop()).Fetch(context.Background(), "http://example.invalid/dir/", t.TempDir(), nil, false)
	if !errors.Is(err, domain.ErrResourceUnavailable) {
		t.Errorf("error = %v, want ErrResourceUnavailable", err)
	}
}
