// Package memo caches fixes that resolved an issue, keyed by the issue
// signature, so a recurring problem skips the model.
package memo

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/metalagman/buildmend/internal/patch"
)

const keyPrefix = "fix/"

// Config selects where the cache lives.
type Config struct {
	Path     string
	InMemory bool
}

// Entry is one remembered resolution.
type Entry struct {
	Signature string        `json:"signature"`
	Issue     string        `json:"issue"`
	Patches   []patch.Patch `json:"patches"`
	Hits      int           `json:"hits"`
	CreatedAt time.Time     `json:"created_at"`
}

// Store is a badger-backed memo cache.
type Store struct {
	db *badger.DB
}

type badgerLogger struct {
	logger zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error().Msgf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn().Msgf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug().Msgf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.Trace().Msgf(format, args...)
}

// Open opens (or creates) the cache.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("memo path is required")
	}
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create memo directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{logger: log.With().Str("component", "memo").Logger()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open memo cache: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Lookup returns the entry for signature and bumps its hit counter.
func (s *Store) Lookup(signature string) (Entry, bool, error) {
	var (
		entry Entry
		found bool
	)
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + signature))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		}); err != nil {
			return err
		}
		found = true
		entry.Hits++
		return putEntry(txn, entry)
	})
	if err != nil {
		return Entry{}, false, fmt.Errorf("memo lookup: %w", err)
	}
	return entry, found, nil
}

// Put records the patches that resolved the issue with signature.
// Entries without patches are ignored.
func (s *Store) Put(entry Entry) error {
	if entry.Signature == "" || len(entry.Patches) == 0 {
		return nil
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return putEntry(txn, entry)
	}); err != nil {
		return fmt.Errorf("memo store: %w", err)
	}
	return nil
}

// Delete forgets the entry for signature. A missing entry is not an error.
func (s *Store) Delete(signature string) error {
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + signature))
	}); err != nil {
		return fmt.Errorf("memo delete: %w", err)
	}
	return nil
}

// Len counts stored entries.
func (s *Store) Len() (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(keyPrefix)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func putEntry(txn *badger.Txn, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return txn.Set([]byte(keyPrefix+entry.Signature), data)
}
