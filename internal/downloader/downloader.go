// Package downloader fetches a document repository to local disk and lists
// the files worth ingesting.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	gh "github.com/google/go-github/v80/github"
	"golang.org/x/oauth2"

	"github.com/dgallion1/docindex/internal/docmeta"
	"github.com/dgallion1/docindex/internal/parser"
)

// ProgressFunc is called once per file during the collection walk.
type ProgressFunc func(done, total int, filename string)

// Options configures a Downloader. Zero values get defaults.
type Options struct {
	RepoURL   string
	OutputDir string
	Subfolder string
	// Extensions filters listed files. Empty means parser.DefaultExtensions.
	Extensions []string

	Attempts    int           // archive attempts, default 3
	BackoffBase time.Duration // default 4s
	BackoffMax  time.Duration // default 30s

	// GitHubToken authenticates archive link lookups for github.com repos.
	GitHubToken string
	// GitHub overrides the client built from GitHubToken.
	GitHub *gh.Client
	// DisableGitHubAPI skips archive link lookups entirely.
	DisableGitHubAPI bool

	Cloner     Cloner
	HTTPClient *http.Client
	Progress   ProgressFunc
	Logger     *slog.Logger
}

// Downloader retrieves one repository into OutputDir/<repo name>.
type Downloader struct {
	repoURL     string
	outputDir   string
	subfolder   string
	extensions  map[string]bool
	attempts    int
	backoffBase time.Duration
	backoffMax  time.Duration
	cloner      Cloner
	httpClient  *http.Client
	github      *gh.Client
	progress    ProgressFunc
	log         *slog.Logger
}

func New(opts Options) *Downloader {
	d := &Downloader{
		repoURL:     strings.TrimRight(opts.RepoURL, "/"),
		outputDir:   opts.OutputDir,
		subfolder:   opts.Subfolder,
		extensions:  parser.NormalizeExtensions(opts.Extensions),
		attempts:    opts.Attempts,
		backoffBase: opts.BackoffBase,
		backoffMax:  opts.BackoffMax,
		cloner:      opts.Cloner,
		httpClient:  opts.HTTPClient,
		github:      opts.GitHub,
		progress:    opts.Progress,
		log:         opts.Logger,
	}
	if d.outputDir == "" {
		d.outputDir = "./data/datasets"
	}
	if d.attempts <= 0 {
		d.attempts = 3
	}
	if d.backoffBase <= 0 {
		d.backoffBase = 4 * time.Second
	}
	if d.backoffMax <= 0 {
		d.backoffMax = 30 * time.Second
	}
	if d.cloner == nil {
		d.cloner = GitCloner{}
	}
	if d.httpClient == nil {
		d.httpClient = &http.Client{Timeout: 10 * time.Minute}
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	d.log = d.log.With("component", "downloader", "repo", d.repoURL)

	if opts.DisableGitHubAPI {
		d.github = nil
	} else if d.github == nil {
		if _, _, ok := parseGitHubRepo(d.repoURL); ok {
			d.github = newGitHubClient(opts.GitHubToken)
		}
	}
	return d
}

func newGitHubClient(token string) *gh.Client {
	if token == "" {
		return gh.NewClient(&http.Client{Timeout: 30 * time.Second})
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(context.Background(), ts)
	tc.Timeout = 30 * time.Second
	return gh.NewClient(tc)
}

// parseGitHubRepo extracts owner and repo from a github.com URL.
func parseGitHubRepo(repoURL string) (owner, repo string, ok bool) {
	u, err := url.Parse(repoURL)
	if err != nil || !strings.EqualFold(u.Host, "github.com") {
		return "", "", false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), true
}

// RepoName is the last URL path segment without a ".git" suffix.
func RepoName(repoURL string) string {
	repoURL = strings.TrimRight(repoURL, "/")
	name := repoURL[strings.LastIndex(repoURL, "/")+1:]
	return docmeta.SafeFilename(strings.TrimSuffix(name, ".git"))
}

// Dest is the directory the repository is retrieved into.
func (d *Downloader) Dest() string {
	return filepath.Join(d.outputDir, RepoName(d.repoURL))
}

// Fetch makes the repository available locally and returns its directory.
// An existing non-empty destination is reused without any network access.
// Otherwise a shallow clone is attempted, then the zip archive with retry.
func (d *Downloader) Fetch(ctx context.Context) (string, error) {
	if err := os.MkdirAll(d.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	dest := d.Dest()

	if nonEmptyDir(dest) {
		d.log.Info("destination exists, resuming", "dest", dest)
		d.collect(ctx, dest)
		return dest, nil
	}

	d.log.Info("cloning repository", "dest", dest)
	if err := d.cloner.Clone(ctx, d.repoURL, dest); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		d.log.Warn("clone failed, falling back to archive", "error", err)
		if err := os.RemoveAll(dest); err != nil {
			return "", fmt.Errorf("clear partial clone: %w", err)
		}

		err = retryWithBackoff(ctx, d.attempts, d.backoffBase, d.backoffMax,
			func(int) error { return d.downloadArchive(ctx, dest) },
			func(attempt int, wait time.Duration, err error) {
				d.log.Warn("archive download failed, retrying", "attempt", attempt+1, "wait", wait, "error", err)
			})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return "", fmt.Errorf("%w: %w", ErrRetrievalFailed, err)
		}
	}

	d.collect(ctx, dest)
	return dest, nil
}

// collect walks the listed files once, reporting progress. A cancelled
// context stops the walk early.
func (d *Downloader) collect(ctx context.Context, dir string) {
	files, err := d.List(dir)
	if err != nil {
		d.log.Warn("list files failed", "error", err)
		return
	}
	for i, f := range files {
		if ctx.Err() != nil {
			d.log.Info("collection cancelled", "done", i, "total", len(files))
			return
		}
		if d.progress != nil {
			d.progress(i+1, len(files), filepath.Base(f))
		}
	}
	d.log.Info("collected supported files", "count", len(files), "dir", dir)
}

// List returns supported files under dir (or dir/<subfolder> when it
// exists) in lexical order. A missing dir yields no files.
func (d *Downloader) List(dir string) ([]string, error) {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	base := dir
	if d.subfolder != "" {
		sub := filepath.Join(dir, d.subfolder)
		if info, err := os.Stat(sub); err == nil && info.IsDir() {
			base = sub
		}
	}

	var files []string
	err := filepath.WalkDir(base, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if entry.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		if d.extensions[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", base, err)
	}
	sort.Strings(files)
	return files, nil
}

// Status summarizes what has been retrieved so far.
type Status struct {
	RepoURL    string `json:"repo_url"`
	OutputDir  string `json:"output_dir"`
	TotalFiles int    `json:"total_files"`
	TotalSize  string `json:"total_size"`
	Exists     bool   `json:"exists"`
}

func (d *Downloader) Status() (Status, error) {
	dest := d.Dest()
	files, err := d.List(dest)
	if err != nil {
		return Status{}, err
	}
	var total int64
	for _, f := range files {
		if info, err := os.Stat(f); err == nil {
			total += info.Size()
		}
	}
	_, statErr := os.Stat(dest)
	return Status{
		RepoURL:    d.repoURL,
		OutputDir:  dest,
		TotalFiles: len(files),
		TotalSize:  docmeta.FormatFileSize(total),
		Exists:     statErr == nil,
	}, nil
}

func nonEmptyDir(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	names, _ := f.Readdirnames(1)
	return len(names) > 0
}
