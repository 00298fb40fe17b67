package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// badgerLogger routes badger's internal logging through slog.
type badgerLogger struct {
	log *slog.Logger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (l *badgerLogger) Errorf(msg string, items ...any) {
	l.log.Error(fmt.Sprintf(msg, items...))
}

func (l *badgerLogger) Warningf(msg string, items ...any) {
	l.log.Warn(fmt.Sprintf(msg, items...))
}

func (l *badgerLogger) Infof(msg string, items ...any) {
	l.log.Debug(fmt.Sprintf(msg, items...))
}

func (l *badgerLogger) Debugf(msg string, items ...any) {
	l.log.Debug(fmt.Sprintf(msg, items...))
}

// OpenBadger opens (or creates) a badger database for ledgers. An empty
// dir opens an in-memory database.
func OpenBadger(dir string, log *slog.Logger) (*badger.DB, error) {
	if log == nil {
		log = slog.Default()
	}

	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = &badgerLogger{log: log.With("component", "badger")}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return db, nil
}

// BadgerCheckpoint stores one key per file under a scope prefix. Saves are
// single-key upserts, so the cost per file does not grow with the ledger.
type BadgerCheckpoint struct {
	db     *badger.DB
	prefix []byte
}

func NewBadgerCheckpoint(db *badger.DB, scope string) *BadgerCheckpoint {
	return &BadgerCheckpoint{db: db, prefix: []byte("ledger/" + scope + "/")}
}

func (c *BadgerCheckpoint) key(path string) []byte {
	k := make([]byte, 0, len(c.prefix)+len(path))
	k = append(k, c.prefix...)
	return append(k, path...)
}

func (c *BadgerCheckpoint) Load(ctx context.Context) (*Ledger, error) {
	var entries []Entry
	err := c.db.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = c.prefix
		it := tx.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				var e Entry
				if err := json.Unmarshal(val, &e); err != nil {
					return fmt.Errorf("decode ledger entry %q: %w", it.Item().Key(), err)
				}
				entries = append(entries, e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}

	// Replay in recording order.
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].At.Before(entries[j].At) })
	l := NewLedger()
	for _, e := range entries {
		l.Record(e)
	}
	return l, nil
}

func (c *BadgerCheckpoint) Save(ctx context.Context, _ *Ledger, e Entry) error {
	val, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode ledger entry: %w", err)
	}
	return c.db.Update(func(tx *badger.Txn) error {
		return tx.Set(c.key(e.Path), val)
	})
}

func (c *BadgerCheckpoint) Reset(ctx context.Context) error {
	if err := c.db.DropPrefix(c.prefix); err != nil {
		return fmt.Errorf("reset ledger: %w", err)
	}
	return nil
}
