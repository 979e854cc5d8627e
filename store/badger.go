package store

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v3"
	"github.com/sirupsen/logrus"
)

// Badger is a Store backed by BadgerDB v3.
type Badger struct {
	staged staged

	mu sync.RWMutex
	db *badger.DB
}

// OpenBadger opens or creates a database in dir. An empty dir opens an
// in-memory database.
func OpenBadger(dir string) (*Badger, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(nil).
		WithNumVersionsToKeep(1)
	if dir == "" {
		opts = opts.WithInMemory(true)
	} else if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "OpenBadger",
		"package":  "store",
		"dir":      dir,
	}).Info("Store opened")

	return &Badger{staged: newStaged(), db: db}, nil
}

// Get returns the value for key.
func (b *Badger) Get(key []byte) ([]byte, error) {
	if v, ok := b.staged.lookup(key); ok {
		if v == nil {
			return nil, ErrKeyNotFound
		}
		return v, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.db == nil {
		return nil, ErrClosed
	}

	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrKeyNotFound
	}
	return value, err
}

// Add stages a write.
func (b *Badger) Add(key, value []byte) error {
	b.staged.add(key, value)
	return nil
}

// Delete stages a removal.
func (b *Badger) Delete(key []byte) error {
	b.staged.del(key)
	return nil
}

// SaveChanges flushes staged writes in one write batch. On failure the
// writes stay staged for the next attempt.
func (b *Badger) SaveChanges() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.db == nil {
		return ErrClosed
	}

	batch := b.staged.take()
	if len(batch) == 0 {
		return nil
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for k, v := range batch {
		var err error
		if v == nil {
			err = wb.Delete([]byte(k))
		} else {
			err = wb.Set([]byte(k), v)
		}
		if err != nil {
			b.staged.restore(batch)
			return fmt.Errorf("stage %d writes: %w", len(batch), err)
		}
	}
	if err := wb.Flush(); err != nil {
		b.staged.restore(batch)
		return fmt.Errorf("flush %d writes: %w", len(batch), err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "SaveChanges",
		"package":  "store",
		"writes":   len(batch),
	}).Debug("Changes saved")
	return nil
}

// ForEach visits entries with the prefix in key order.
func (b *Badger) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	b.mu.RLock()
	if b.db == nil {
		b.mu.RUnlock()
		return ErrClosed
	}
	snapshot := make(map[string][]byte)
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			snapshot[string(item.KeyCopy(nil))] = v
		}
		return nil
	})
	b.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("iterate: %w", err)
	}

	return walk(b.staged.overlay(prefix, snapshot), fn)
}

// Close closes the database. Staged writes are discarded.
func (b *Badger) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil
	}
	b.staged.take()
	err := b.db.Close()
	b.db = nil
	return err
}
