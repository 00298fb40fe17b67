package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Checkpoint persists a Ledger between runs.
type Checkpoint interface {
	// Load returns the persisted ledger, or an empty one.
	Load(ctx context.Context) (*Ledger, error)
	// Save persists e, the entry just recorded in l.
	Save(ctx context.Context, l *Ledger, e Entry) error
	// Reset discards everything persisted.
	Reset(ctx context.Context) error
}

// NopCheckpoint keeps nothing.
type NopCheckpoint struct{}

func (NopCheckpoint) Load(context.Context) (*Ledger, error)      { return NewLedger(), nil }
func (NopCheckpoint) Save(context.Context, *Ledger, Entry) error { return nil }
func (NopCheckpoint) Reset(context.Context) error                { return nil }

// stateFile is the on-disk JSON shape.
type stateFile struct {
	Completed []string          `json:"completed"`
	Failed    map[string]string `json:"failed"`
}

// JSONCheckpoint stores the ledger as a single JSON state file of the form
// {"completed": [...], "failed": {...}}. Every Save rewrites the file
// through a temp file and rename.
type JSONCheckpoint struct {
	path string
}

func NewJSONCheckpoint(path string) *JSONCheckpoint {
	return &JSONCheckpoint{path: path}
}

// Path returns the state file location.
func (c *JSONCheckpoint) Path() string {
	return c.path
}

func (c *JSONCheckpoint) Load(ctx context.Context) (*Ledger, error) {
	l := NewLedger()
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var st stateFile
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode state file %s: %w", c.path, err)
	}

	// Failures first so a path listed in both ends up completed.
	failed := make([]string, 0, len(st.Failed))
	for p := range st.Failed {
		failed = append(failed, p)
	}
	sort.Strings(failed)
	for _, p := range failed {
		l.Record(Entry{Path: p, Outcome: OutcomeFailed, Err: st.Failed[p]})
	}
	for _, p := range st.Completed {
		l.Record(Entry{Path: p, Outcome: OutcomeCompleted})
	}
	return l, nil
}

func (c *JSONCheckpoint) Save(ctx context.Context, l *Ledger, _ Entry) error {
	st := stateFile{Completed: l.Completed(), Failed: l.Failed()}
	if st.Completed == nil {
		st.Completed = []string{}
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

func (c *JSONCheckpoint) Reset(ctx context.Context) error {
	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove state file: %w", err)
	}
	return nil
}
