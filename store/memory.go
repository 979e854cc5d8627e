package store

import (
	"bytes"
	"sync"
)

// Memory is a Store kept entirely in process memory.
type Memory struct {
	staged staged

	mu        sync.RWMutex
	committed map[string][]byte
	closed    bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{staged: newStaged(), committed: make(map[string][]byte)}
}

// Get returns the value for key.
func (m *Memory) Get(key []byte) ([]byte, error) {
	if v, ok := m.staged.lookup(key); ok {
		if v == nil {
			return nil, ErrKeyNotFound
		}
		return v, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	v, ok := m.committed[string(key)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), v...), nil
}

// Add stages a write.
func (m *Memory) Add(key, value []byte) error {
	m.staged.add(key, value)
	return nil
}

// Delete stages a removal.
func (m *Memory) Delete(key []byte) error {
	m.staged.del(key)
	return nil
}

// SaveChanges commits staged writes.
func (m *Memory) SaveChanges() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for k, v := range m.staged.take() {
		if v == nil {
			delete(m.committed, k)
			continue
		}
		m.committed[k] = v
	}
	return nil
}

// ForEach visits entries with the prefix in key order.
func (m *Memory) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	snapshot := make(map[string][]byte)
	for k, v := range m.committed {
		if bytes.HasPrefix([]byte(k), prefix) {
			snapshot[k] = append([]byte(nil), v...)
		}
	}
	m.mu.RUnlock()

	return walk(m.staged.overlay(prefix, snapshot), fn)
}

// Close marks the store closed.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.staged.take()
	return nil
}
