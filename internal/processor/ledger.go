package processor

import (
	"sort"
	"time"
)

// Outcome is the result recorded for a file.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

// Entry is one ledger record. Later entries for the same path supersede
// earlier ones.
type Entry struct {
	Path    string    `json:"path"`
	Outcome Outcome   `json:"outcome"`
	Err     string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// Ledger tracks which files completed or failed. Entries are kept in an
// append-only arena with an index from path to the latest entry, so a
// snapshot taken at any point stays consistent.
//
// A Ledger is owned by one goroutine at a time; it does no locking.
type Ledger struct {
	entries []Entry
	index   map[string]int
}

func NewLedger() *Ledger {
	return &Ledger{index: make(map[string]int)}
}

// Record appends e and makes it the current entry for e.Path.
func (l *Ledger) Record(e Entry) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	l.entries = append(l.entries, e)
	l.index[e.Path] = len(l.entries) - 1
}

// RecordResult records the outcome of a processed document and returns
// the new entry.
func (l *Ledger) RecordResult(doc ProcessedDocument) Entry {
	e := Entry{Path: doc.SourcePath, Outcome: OutcomeCompleted}
	if doc.Failed() {
		e.Outcome = OutcomeFailed
		e.Err = doc.Err
	}
	l.Record(e)
	return l.entries[len(l.entries)-1]
}

// Lookup returns the current entry for path.
func (l *Ledger) Lookup(path string) (Entry, bool) {
	i, ok := l.index[path]
	if !ok {
		return Entry{}, false
	}
	return l.entries[i], true
}

// IsCompleted reports whether path's current entry is a completion.
func (l *Ledger) IsCompleted(path string) bool {
	e, ok := l.Lookup(path)
	return ok && e.Outcome == OutcomeCompleted
}

// Pending returns the files not yet completed, preserving order.
func (l *Ledger) Pending(files []string) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		if !l.IsCompleted(f) {
			out = append(out, f)
		}
	}
	return out
}

// Completed returns completed paths in sorted order.
func (l *Ledger) Completed() []string {
	var out []string
	for path, i := range l.index {
		if l.entries[i].Outcome == OutcomeCompleted {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out
}

// Failed maps each currently failed path to its last error.
func (l *Ledger) Failed() map[string]string {
	out := make(map[string]string)
	for path, i := range l.index {
		if e := l.entries[i]; e.Outcome == OutcomeFailed {
			out[path] = e.Err
		}
	}
	return out
}

// Len is the number of distinct paths in the ledger.
func (l *Ledger) Len() int {
	return len(l.index)
}

// Entries returns the current entry for every path, sorted by path.
func (l *Ledger) Entries() []Entry {
	out := make([]Entry, 0, len(l.index))
	for _, i := range l.index {
		out = append(out, l.entries[i])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
