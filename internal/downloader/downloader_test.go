package downloader

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gh "github.com/google/go-github/v80/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCloner struct {
	calls int
	err   error
	files map[string]string
}

func (f *fakeCloner) Clone(_ context.Context, _, dest string) error {
	f.calls++
	if f.err != nil {
		// Leave a partial directory behind like a failed clone would.
		_ = os.MkdirAll(filepath.Join(dest, ".git"), 0o755)
		return f.err
	}
	for name, body := range f.files {
		path := filepath.Join(dest, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func buildZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
}

func fastOptions(repoURL, outDir string, cloner Cloner) Options {
	return Options{
		RepoURL:          repoURL,
		OutputDir:        outDir,
		BackoffBase:      time.Millisecond,
		BackoffMax:       5 * time.Millisecond,
		Cloner:           cloner,
		DisableGitHubAPI: true,
	}
}

func TestFetch_ExistingDestinationSkipsNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	out := t.TempDir()
	writeTree(t, filepath.Join(out, "files"), map[string]string{"a.txt": "a", "b/c.pdf": "c", "d.png": "d"})

	cloner := &fakeCloner{}
	var names []string
	opts := fastOptions(srv.URL+"/owner/files.git", out, cloner)
	opts.Progress = func(done, total int, filename string) {
		assert.Equal(t, 2, total)
		names = append(names, filename)
	}

	dir, err := New(opts).Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(out, "files"), dir)
	assert.Zero(t, cloner.calls)
	assert.Zero(t, hits.Load())
	assert.Equal(t, []string{"a.txt", "c.pdf"}, names)
}

func TestFetch_CloneSucceeds(t *testing.T) {
	out := t.TempDir()
	cloner := &fakeCloner{files: map[string]string{"docs/report.md": "# Report"}}

	dir, err := New(fastOptions("https://example.com/org/archive", out, cloner)).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, cloner.calls)

	files, err := New(fastOptions("https://example.com/org/archive", out, cloner)).List(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "docs", "report.md")}, files)
}

func TestFetch_FallsBackToArchiveOnMaster(t *testing.T) {
	payload := buildZip(t, map[string]string{
		"repo-master/docs/a.txt":   "alpha",
		"repo-master/docs/b.md":    "beta",
		"repo-master/image.png":    "png",
		"__MACOSX/repo-master/._a": "junk",
	})
	var (
		mu    sync.Mutex
		paths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		if r.URL.Path == "/org/repo/archive/refs/heads/master.zip" {
			w.Write(payload)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	out := t.TempDir()
	d := New(fastOptions(srv.URL+"/org/repo", out, &fakeCloner{err: errors.New("git missing")}))

	dir, err := d.Fetch(context.Background())
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"/org/repo/archive/refs/heads/main.zip",
		"/org/repo/archive/refs/heads/master.zip",
	}, paths)

	files, err := d.List(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "docs", "a.txt"),
		filepath.Join(dir, "docs", "b.md"),
	}, files)

	_, err = os.Stat(filepath.Join(dir, ".git"))
	assert.True(t, os.IsNotExist(err), "partial clone should be replaced")

	leftovers, err := filepath.Glob(filepath.Join(out, ".*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestFetch_RetriesThenFails(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(fastOptions(srv.URL+"/org/repo", t.TempDir(), &fakeCloner{err: errors.New("no git")})).
		Fetch(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetrievalFailed)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
	assert.EqualValues(t, 3, hits.Load())
}

func TestFetch_RejectsZipSlip(t *testing.T) {
	var hits atomic.Int32
	payload := buildZip(t, map[string]string{"repo-main/../../evil.txt": "x"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(payload)
	}))
	defer srv.Close()

	out := t.TempDir()
	_, err := New(fastOptions(srv.URL+"/org/repo", out, &fakeCloner{err: errors.New("no git")})).
		Fetch(context.Background())

	var unsafe *UnsafePathError
	require.ErrorAs(t, err, &unsafe)
	assert.EqualValues(t, 1, hits.Load(), "unsafe archives are not retried")
	_, statErr := os.Stat(filepath.Join(out, "evil.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestFetch_UsesGitHubArchiveLink(t *testing.T) {
	payload := buildZip(t, map[string]string{"owner-repo-abc123/notes.txt": "hi"})
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/repos/owner/repo/zipball", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", srv.URL+"/codeload/owner/repo.zip")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/codeload/owner/repo.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	})

	client := gh.NewClient(nil)
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	client.BaseURL = base

	opts := fastOptions("https://github.com/owner/repo", t.TempDir(), &fakeCloner{err: errors.New("no git")})
	opts.DisableGitHubAPI = false
	opts.GitHub = client
	d := New(opts)

	dir, err := d.Fetch(context.Background())
	require.NoError(t, err)
	files, err := d.List(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "notes.txt")}, files)
}

func TestCollect_CancelTruncatesWalk(t *testing.T) {
	out := t.TempDir()
	writeTree(t, filepath.Join(out, "repo"), map[string]string{"1.txt": "", "2.txt": "", "3.txt": "", "4.txt": ""})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	calls := 0
	opts := fastOptions("https://example.com/x/repo", out, &fakeCloner{})
	opts.Progress = func(done, _ int, _ string) {
		calls++
		if done == 2 {
			cancel()
		}
	}

	_, err := New(opts).Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestList_SubfolderAndExtensions(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"top.txt":             "",
		"docs/B.PDF":          "",
		"docs/a.txt":          "",
		"docs/skip.md":        "",
		"docs/nested/c.txt":   "",
		".git/objects/x.txt":  "",
		"other/elsewhere.txt": "",
	})

	d := New(Options{RepoURL: "https://example.com/a/b", Subfolder: "docs", Extensions: []string{"TXT", ".pdf"}})
	files, err := d.List(root)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "docs", "B.PDF"),
		filepath.Join(root, "docs", "a.txt"),
		filepath.Join(root, "docs", "nested", "c.txt"),
	}, files)

	d = New(Options{RepoURL: "https://example.com/a/b", Subfolder: "missing"})
	files, err = d.List(root)
	require.NoError(t, err)
	assert.Len(t, files, 6, "missing subfolder falls back to the root with default extensions")

	files, err = d.List(filepath.Join(root, "nope"))
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestStatus(t *testing.T) {
	out := t.TempDir()
	d := New(Options{RepoURL: "https://github.com/o/dataset/", OutputDir: out, DisableGitHubAPI: true})

	st, err := d.Status()
	require.NoError(t, err)
	assert.False(t, st.Exists)
	assert.Equal(t, "0.0 B", st.TotalSize)

	writeTree(t, filepath.Join(out, "dataset"), map[string]string{"a.txt": string(make([]byte, 2048))})
	st, err = d.Status()
	require.NoError(t, err)
	assert.True(t, st.Exists)
	assert.Equal(t, 1, st.TotalFiles)
	assert.Equal(t, "2.0 KB", st.TotalSize)
	assert.Equal(t, "https://github.com/o/dataset", st.RepoURL)
}

func TestRepoName(t *testing.T) {
	cases := map[string]string{
		"https://github.com/yung-megafone/Epstein-Files":     "Epstein-Files",
		"https://github.com/yung-megafone/Epstein-Files.git": "Epstein-Files",
		"https://example.com/a/b/":                           "b",
	}
	for in, want := range cases {
		assert.Equal(t, want, RepoName(in), in)
	}
}

func TestParseGitHubRepo(t *testing.T) {
	owner, repo, ok := parseGitHubRepo("https://github.com/owner/name.git")
	require.True(t, ok)
	assert.Equal(t, "owner", owner)
	assert.Equal(t, "name", repo)

	_, _, ok = parseGitHubRepo("https://gitlab.com/owner/name")
	assert.False(t, ok)
	_, _, ok = parseGitHubRepo("https://github.com/owner")
	assert.False(t, ok)
}

func TestBackoff(t *testing.T) {
	base, limit := 4*time.Second, 30*time.Second
	assert.Equal(t, 4*time.Second, backoff(base, limit, 0))
	assert.Equal(t, 8*time.Second, backoff(base, limit, 1))
	assert.Equal(t, 16*time.Second, backoff(base, limit, 2))
	assert.Equal(t, 30*time.Second, backoff(base, limit, 3))
	assert.Equal(t, 30*time.Second, backoff(base, limit, 62))
}

func TestRetryWithBackoff_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := retryWithBackoff(ctx, 5, time.Hour, time.Hour, func(int) error {
		calls++
		return errors.New("transient")
	}, func(int, time.Duration, error) { cancel() })

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
