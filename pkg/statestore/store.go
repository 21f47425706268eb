// Package statestore persists one opaque runtime-state blob per session
// in an embedded BadgerDB, colocated with the engine host. It is the
// durability layer for hibernation: after every state-mutating command
// the engine writes an updated snapshot here before acknowledging the
// command's effect.
package statestore

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned when no state exists for a session.
var ErrNotFound = errors.New("session state not found")

// Config holds BadgerDB settings for the state store.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory.
	Path string

	// InMemory disables disk persistence. Only for tests.
	InMemory bool

	// SyncWrites forces fsync on every put. The snapshot-after-mutation
	// contract requires it in production.
	SyncWrites bool

	// GCInterval is how often to run value-log garbage collection.
	// 0 disables GC.
	GCInterval time.Duration
}

// DefaultConfig returns production settings.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
		GCInterval: 5 * time.Minute,
	}
}

// InMemoryConfig returns settings for tests: no disk, no GC.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// Store is a durable per-session key/value store.
type Store struct {
	db     *badger.DB
	stopGC chan struct{}
}

// Open opens (or creates) the store.
func Open(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	s := &Store{db: db, stopGC: make(chan struct{})}
	if cfg.GCInterval > 0 {
		go s.runGC(cfg.GCInterval)
	}
	return s, nil
}

// Close stops background GC and closes the database.
func (s *Store) Close() error {
	close(s.stopGC)
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close state store: %w", err)
	}
	return nil
}

// Get reads the state blob for a session.
func (s *Store) Get(sessionID string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(stateKey(sessionID))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session state: %w", err)
	}
	return data, nil
}

// Put durably writes the state blob for a session.
func (s *Store) Put(sessionID string, state []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(stateKey(sessionID), state)
	})
	if err != nil {
		return fmt.Errorf("failed to write session state: %w", err)
	}
	return nil
}

// Delete removes a session's state after clean game end.
func (s *Store) Delete(sessionID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(stateKey(sessionID))
	})
	if err != nil {
		return fmt.Errorf("failed to delete session state: %w", err)
	}
	return nil
}

func stateKey(sessionID string) []byte {
	return []byte("session/" + sessionID)
}

// runGC runs value-log garbage collection until Close.
func (s *Store) runGC(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			// ErrNoRewrite just means there was nothing to collect.
			if err := s.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				slog.Warn("State store GC failed", "error", err)
			}
		}
	}
}
