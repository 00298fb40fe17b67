// Package vectorindex hands finished chunks to a similarity index.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"unicode/utf8"
)

// UpsertBatch is one call's worth of chunks. The three slices are
// parallel and must have equal length.
type UpsertBatch struct {
	IDs       []string         `json:"ids"`
	Documents []string         `json:"documents"`
	Metadatas []map[string]any `json:"metadatas"`
}

func (b UpsertBatch) Len() int {
	return len(b.IDs)
}

// Validate checks the slices line up.
func (b UpsertBatch) Validate() error {
	if len(b.Documents) != len(b.IDs) || len(b.Metadatas) != len(b.IDs) {
		return fmt.Errorf("vectorindex: mismatched batch: %d ids, %d documents, %d metadatas",
			len(b.IDs), len(b.Documents), len(b.Metadatas))
	}
	return nil
}

// Index receives chunk batches. Upsert is idempotent per id.
type Index interface {
	Upsert(ctx context.Context, batch UpsertBatch) error
}

// RetryableError indicates a transient failure that can be retried.
type RetryableError struct {
	StatusCode int
	Message    string
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, truncate(e.Message, 200))
}

// IsRetryable checks if an error is worth retrying.
func IsRetryable(err error) bool {
	var retryErr *RetryableError
	return errors.As(err, &retryErr)
}

// truncate caps s at n bytes, cutting on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

// Record is one stored chunk in a Memory index.
type Record struct {
	ID       string
	Document string
	Metadata map[string]any
}

// Memory is an in-process Index, used for dry runs and tests.
type Memory struct {
	mu      sync.Mutex
	records map[string]Record
	calls   int
}

var _ Index = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

func (m *Memory) Upsert(ctx context.Context, batch UpsertBatch) error {
	if err := batch.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	for i, id := range batch.IDs {
		m.records[id] = Record{ID: id, Document: batch.Documents[i], Metadata: batch.Metadatas[i]}
	}
	return nil
}

// Len is the number of distinct ids stored.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Calls is the number of accepted Upsert calls.
func (m *Memory) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Records returns stored records sorted by id.
func (m *Memory) Records() []Record {
	m.mu.Lock()
	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
