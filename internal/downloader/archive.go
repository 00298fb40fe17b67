package downloader

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	gh "github.com/google/go-github/v80/github"

	"github.com/dgallion1/docindex/internal/docmeta"
)

// fallbackBranches are tried in order when the archive URL is built by
// hand and the branch does not exist.
var fallbackBranches = []string{"main", "master"}

// archiveURLs lists candidate zip URLs for the repository, best first.
func (d *Downloader) archiveURLs(ctx context.Context) []string {
	var urls []string
	if d.github != nil {
		if u, err := d.githubArchiveURL(ctx); err == nil {
			urls = append(urls, u)
		} else {
			d.log.Warn("archive link lookup failed, using branch archives", "error", err)
		}
	}
	for _, branch := range fallbackBranches {
		urls = append(urls, d.repoURL+"/archive/refs/heads/"+branch+".zip")
	}
	return urls
}

// githubArchiveURL asks the GitHub API for a zipball of the default branch.
func (d *Downloader) githubArchiveURL(ctx context.Context) (string, error) {
	owner, repo, ok := parseGitHubRepo(d.repoURL)
	if !ok {
		return "", fmt.Errorf("not a github repository url: %s", d.repoURL)
	}
	u, _, err := d.github.Repositories.GetArchiveLink(ctx, owner, repo, gh.Zipball, nil, 1)
	if err != nil {
		var ghErr *gh.ErrorResponse
		if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.Request != nil {
			return "", &HTTPError{StatusCode: ghErr.Response.StatusCode, URL: ghErr.Response.Request.URL.String()}
		}
		return "", fmt.Errorf("get archive link: %w", err)
	}
	return u.String(), nil
}

// downloadArchive fetches the first available candidate archive and
// extracts it into dest, replacing whatever is there.
func (d *Downloader) downloadArchive(ctx context.Context, dest string) error {
	tmp, err := os.CreateTemp(d.outputDir, ".archive-*.zip")
	if err != nil {
		return fmt.Errorf("create temp archive: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	var size int64
	urls := d.archiveURLs(ctx)
	for i, u := range urls {
		d.log.Info("downloading archive", "url", u)
		size, err = d.fetchTo(ctx, u, tmp)
		if errors.Is(err, errNotFound) && i < len(urls)-1 {
			if err := resetFile(tmp); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		break
	}
	d.log.Info("downloaded archive, extracting", "size", docmeta.FormatFileSize(size))

	return extractArchive(tmp, size, d.outputDir, dest)
}

func (d *Downloader) fetchTo(ctx context.Context, url string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("get archive: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, fmt.Errorf("%w: %s", errNotFound, url)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, &HTTPError{StatusCode: resp.StatusCode, URL: url}
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return n, ctxErr
		}
		return n, fmt.Errorf("read archive: %w", err)
	}
	return n, nil
}

func resetFile(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate temp archive: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind temp archive: %w", err)
	}
	return nil
}

// extractArchive unpacks the zip into a staging directory under workDir
// and moves its top-level directory to dest.
func extractArchive(r io.ReaderAt, size int64, workDir, dest string) error {
	// ErrInsecurePath still yields a usable reader; entries are checked below.
	zr, err := zip.NewReader(r, size)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return fmt.Errorf("open archive: %w", err)
	}

	staging, err := os.MkdirTemp(workDir, ".extract-*")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	for _, f := range zr.File {
		if err := extractEntry(f, staging); err != nil {
			return err
		}
	}

	top, err := topLevelDir(staging)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("clear destination: %w", err)
	}
	if err := os.Rename(filepath.Join(staging, top), dest); err != nil {
		return fmt.Errorf("move extracted archive: %w", err)
	}
	return nil
}

func extractEntry(f *zip.File, root string) error {
	target := filepath.Join(root, filepath.FromSlash(f.Name))
	if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return &UnsafePathError{Name: f.Name}
	}

	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}
	if !f.Mode().IsRegular() {
		// Symlinks and other special entries are not needed for ingestion.
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", f.Name, err)
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", f.Name, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("extract %s: %w", f.Name, err)
	}
	return out.Close()
}

// topLevelDir returns the first directory in staging, ignoring __MACOSX.
func topLevelDir(staging string) (string, error) {
	entries, err := os.ReadDir(staging)
	if err != nil {
		return "", fmt.Errorf("read staging dir: %w", err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && e.Name() != "__MACOSX" {
			dirs = append(dirs, e.Name())
		}
	}
	if len(dirs) == 0 {
		return "", ErrNoArchiveDir
	}
	sort.Strings(dirs)
	return dirs[0], nil
}
