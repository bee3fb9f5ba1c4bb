package layer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
)

const metaKey = "meta"

// Config holds configuration for a Store.
type Config struct {
	// Path is the directory for database files. Ignored when InMemory is
	// true.
	Path string

	// InMemory keeps the layer in memory only. Useful for tests.
	InMemory bool

	// SyncWrites makes every write durable before Persist returns.
	SyncWrites bool

	// Logger receives BadgerDB's own log lines. If nil they are dropped.
	Logger *slog.Logger
}

// Store is a layer kept in BadgerDB. Values are JSON.
type Store struct {
	db *badger.DB
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens, or creates, the layer store described by cfg.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent layer")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create layer directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open layer database: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens an empty in-memory store.
func OpenInMemory() (*Store, error) {
	return Open(Config{InMemory: true})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func recordKey(kind Kind, key string) []byte {
	return []byte(string(kind) + "/" + key)
}

// Meta returns the stored layer metadata, or ErrNoMeta.
func (s *Store) Meta() (Meta, error) {
	var meta Meta
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(metaKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNoMeta
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &meta)
		})
	})
	if err != nil {
		return Meta{}, fmt.Errorf("read layer metadata: %w", err)
	}
	return meta, nil
}

// Lookup returns the record of the node of the given kind and key.
func (s *Store) Lookup(kind Kind, key string) (Record, bool, error) {
	var rec Record
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(kind, key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("lookup %s %s: %w", kind, key, err)
	}
	return rec, found, nil
}

// Persist writes meta and records in one batch, replacing earlier values
// under the same keys.
func (s *Store) Persist(ctx context.Context, meta Meta, records []Record) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for i, rec := range records {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("persist layer: %w", err)
			}
		}
		val, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode record %s %s: %w", rec.Kind, rec.Key, err)
		}
		if err := wb.Set(recordKey(rec.Kind, rec.Key), val); err != nil {
			return fmt.Errorf("write record %s %s: %w", rec.Kind, rec.Key, err)
		}
	}
	val, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode layer metadata: %w", err)
	}
	if err := wb.Set([]byte(metaKey), val); err != nil {
		return fmt.Errorf("write layer metadata: %w", err)
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush layer: %w", err)
	}
	return nil
}

// ForEach calls fn for every record of kind, in key order.
func (s *Store) ForEach(kind Kind, fn func(Record) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(string(kind) + "/")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rec Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
		return nil
	})
}
