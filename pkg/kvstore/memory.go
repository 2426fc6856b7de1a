package kvstore

import (
	"context"
	"sync"
)

type MemoryOption func(m *Memory)

// WithEntryOverhead overrides EntryOverhead for a memory backend.
func WithEntryOverhead(n uint64) MemoryOption {
	return func(m *Memory) {
		m.overhead = n
	}
}

// Memory is an in-process Backend. Its content is lost on Close.
type Memory struct {
	overhead uint64

	mu     sync.RWMutex
	ns     map[string]map[string]string
	usage  uint64
	closed bool
}

var _ Backend = (*Memory)(nil)

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		overhead: EntryOverhead,
		ns:       make(map[string]map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Get(_ context.Context, ns, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", false, ErrClosed
	}
	v, ok := m.ns[ns][key]
	return v, ok, nil
}

func (m *Memory) Insert(_ context.Context, ns, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	bucket := m.ns[ns]
	if bucket == nil {
		bucket = make(map[string]string)
		m.ns[ns] = bucket
	}
	old, replaced := bucket[key]
	if replaced {
		m.usage -= EntrySize(ns, key, old, m.overhead)
	}
	bucket[key] = value
	m.usage += EntrySize(ns, key, value, m.overhead)
	return replaced, nil
}

func (m *Memory) Remove(_ context.Context, ns, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	old, ok := m.ns[ns][key]
	if !ok {
		return false, nil
	}
	delete(m.ns[ns], key)
	m.usage -= EntrySize(ns, key, old, m.overhead)
	return true, nil
}

func (m *Memory) Usage(_ context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	return m.usage, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.ns = nil
	m.usage = 0
	return nil
}
