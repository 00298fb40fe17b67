package downloader

import (
	"errors"
	"fmt"
)

var (
	// ErrRetrievalFailed is returned once every retrieval strategy and
	// retry attempt has been used up.
	ErrRetrievalFailed = errors.New("downloader: retrieval failed")

	// ErrNoArchiveDir means an archive had no top-level directory.
	ErrNoArchiveDir = errors.New("downloader: no directories found in archive")

	errNotFound = errors.New("archive not found")
)

// HTTPError is a non-success response from an archive URL.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("downloader: GET %s: status %d", e.URL, e.StatusCode)
}

// UnsafePathError is an archive entry that would be written outside the
// destination directory.
type UnsafePathError struct {
	Name string
}

func (e *UnsafePathError) Error() string {
	return fmt.Sprintf("downloader: archive entry %q escapes destination", e.Name)
}

// isPermanent reports errors that retrying cannot fix.
func isPermanent(err error) bool {
	var unsafe *UnsafePathError
	return errors.As(err, &unsafe) || errors.Is(err, ErrNoArchiveDir)
}
