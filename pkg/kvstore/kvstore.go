// Package kvstore provides the persistent key/value storage the record store
// is built on. Every backend keeps an exact byte account of its live entries,
// which is what the admission gate measures.
package kvstore

import (
	"context"
	"errors"
)

// EntryOverhead is the fixed number of bytes billed for every live entry on
// top of its namespace, key and value.
const EntryOverhead = 40

var (
	ErrUnsupportedType = errors.New("unsupported database type")
	ErrClosed          = errors.New("backend is closed")
)

// Backend is a namespaced key/value store with storage accounting.
// Get on an absent key returns ok == false and a nil error.
type Backend interface {
	Get(ctx context.Context, ns, key string) (value string, ok bool, err error)
	// Insert stores value under (ns, key). replaced reports whether an entry
	// already existed and was overwritten.
	Insert(ctx context.Context, ns, key, value string) (replaced bool, err error)
	Remove(ctx context.Context, ns, key string) (removed bool, err error)
	// Usage returns the total bytes billed for all live entries.
	Usage(ctx context.Context) (uint64, error)
	Close() error
}

// EntrySize returns the bytes billed for one entry.
func EntrySize(ns, key, value string, overhead uint64) uint64 {
	return uint64(len(ns)+len(key)+len(value)) + overhead
}
