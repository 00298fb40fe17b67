package downloader

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Cloner performs the primary retrieval strategy.
type Cloner interface {
	Clone(ctx context.Context, repoURL, dest string) error
}

// GitCloner shells out to the git binary for a shallow clone.
type GitCloner struct {
	// Binary defaults to "git".
	Binary string
	// Timeout bounds a single clone. Zero means 10 minutes.
	Timeout time.Duration
}

func (g GitCloner) Clone(ctx context.Context, repoURL, dest string) error {
	bin := g.Binary
	if bin == "" {
		bin = "git"
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return fmt.Errorf("git not available: %w", err)
	}

	timeout := g.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, "clone", "--depth", "1", repoURL, dest)
	cmd.Stderr = &stderr
	cmd.Env = append(cmd.Environ(), "GIT_TERMINAL_PROMPT=0")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git clone failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
