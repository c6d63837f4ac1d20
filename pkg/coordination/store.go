package coordination

import (
	"context"
	"errors"
)

var (
	// ErrKeyNotFound is returned by Get when the key does not exist.
	ErrKeyNotFound = errors.New("coordination: key not found")

	// ErrKeyExists is returned by Create when the key already exists.
	ErrKeyExists = errors.New("coordination: key already exists")

	// ErrRevisionMismatch is returned by Update when the key was
	// modified since the revision the caller read.
	ErrRevisionMismatch = errors.New("coordination: revision mismatch")
)

// Entry is a value read from the store together with the revision
// needed for a subsequent compare-and-swap Update.
type Entry struct {
	Value    []byte
	Revision uint64
}

// Store is the shared coordination store: the only cross-process
// mutable state in the orchestration core. All writes are atomic
// conditional operations; there is no read-modify-write without a
// create-if-absent or revision-checked update.
type Store interface {
	// Get returns the entry at key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) (*Entry, error)

	// Create stores value at key only if the key does not exist.
	// Returns ErrKeyExists otherwise.
	Create(ctx context.Context, key string, value []byte) (uint64, error)

	// Update stores value at key only if the current revision matches.
	// Returns ErrRevisionMismatch otherwise.
	Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error)

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys returns all keys with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
