// Package store provides the append-only key-value store used to persist
// gossip state between runs.
//
// Writes are staged with Add and Delete and become durable together on
// SaveChanges. Reads see staged writes immediately. Two implementations
// share these semantics: Badger on BadgerDB v3 and Memory for tests.
package store

import (
	"bytes"
	"errors"
	"sort"
	"sync"
)

// ErrKeyNotFound indicates a key with no value.
var ErrKeyNotFound = errors.New("key not found")

// ErrClosed indicates use of a closed store.
var ErrClosed = errors.New("store closed")

// Store is an append-only key-value store with explicit commit.
type Store interface {
	// Get returns the value for key, staged or committed.
	Get(key []byte) ([]byte, error)
	// Add stages a write of value under key.
	Add(key, value []byte) error
	// Delete stages the removal of key.
	Delete(key []byte) error
	// SaveChanges commits every staged write atomically.
	SaveChanges() error
	// ForEach visits committed and staged entries with the prefix in key
	// order. Returning an error from fn stops the walk.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	// Close releases resources. Staged writes are discarded.
	Close() error
}

// staged holds writes not yet committed. A nil value is a deletion.
type staged struct {
	mu      sync.Mutex
	pending map[string][]byte
}

func newStaged() staged {
	return staged{pending: make(map[string][]byte)}
}

func (s *staged) add(key, value []byte) {
	s.mu.Lock()
	s.pending[string(key)] = append([]byte{}, value...)
	s.mu.Unlock()
}

func (s *staged) del(key []byte) {
	s.mu.Lock()
	s.pending[string(key)] = nil
	s.mu.Unlock()
}

// lookup returns the staged value and whether the key is staged at all.
func (s *staged) lookup(key []byte) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.pending[string(key)]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

// take empties the staging area and returns its contents.
func (s *staged) take() map[string][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending
	s.pending = make(map[string][]byte)
	return out
}

// restore puts back writes that failed to commit, keeping newer ones.
func (s *staged) restore(batch map[string][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range batch {
		if _, newer := s.pending[k]; !newer {
			s.pending[k] = v
		}
	}
}

// overlay merges staged writes over committed entries for ForEach.
func (s *staged) overlay(prefix []byte, committed map[string][]byte) []kv {
	s.mu.Lock()
	for k, v := range s.pending {
		if bytes.HasPrefix([]byte(k), prefix) {
			committed[k] = v
		}
	}
	s.mu.Unlock()

	out := make([]kv, 0, len(committed))
	for k, v := range committed {
		if v == nil {
			continue
		}
		out = append(out, kv{key: []byte(k), value: v})
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].key, out[j].key) < 0 })
	return out
}

type kv struct {
	key, value []byte
}

func walk(entries []kv, fn func(key, value []byte) error) error {
	for _, e := range entries {
		if err := fn(e.key, e.value); err != nil {
			return err
		}
	}
	return nil
}
