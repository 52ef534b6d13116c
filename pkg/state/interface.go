// Package state provides persistent storage for gateway records (server
// definitions and groups). The store is a generic keyed-document contract;
// callers JSON-encode their own types. The backing technology is an
// implementation detail behind the Store interface.
package state

import (
	"context"
	"errors"
)

// Record kinds stored by the gateway.
const (
	KindServers = "servers"
	KindGroups  = "groups"
)

// ErrNotFound is returned when no record exists for the given kind and name.
var ErrNotFound = errors.New("record not found")

// Store defines the storage operations required by the gateway: load-all,
// find-by-name, save (upsert), and delete. All implementations must be safe
// for concurrent use.
type Store interface {
	// List returns the names of all records of the given kind.
	List(ctx context.Context, kind string) ([]string, error)

	// LoadAll returns all records of the given kind, keyed by name.
	LoadAll(ctx context.Context, kind string) (map[string][]byte, error)

	// Get returns the record data for the given kind and name.
	// Returns ErrNotFound if no such record exists.
	Get(ctx context.Context, kind, name string) ([]byte, error)

	// Put saves the record, replacing any existing record with the same name.
	Put(ctx context.Context, kind, name string, data []byte) error

	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, kind, name string) error

	// Close releases any resources held by the store.
	Close() error
}
