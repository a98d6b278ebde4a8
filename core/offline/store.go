// Package offline keeps the agent usable without connectivity: a snapshot cache for reads,
// and a durable queue of writes that is replayed against the backend once the device is back online.
package offline

import (
	"context"

	"github.com/pkg/errors"
)

// Local store layout.
const (
	cachePrefix   = "cache_"
	queueKey      = "sync_queue"
	deadLetterKey = "sync_dead_letter"
)

type (
	// Store is the device's durable key/value store.
	// Get reports ok=false when the key is absent; Remove of an absent key is not an error.
	Store interface {
		Get(key string) (value string, ok bool, err error)
		Set(key, value string) error
		Remove(key string) error
	}

	// UpdateFunc computes the new value of a key from its current one.
	UpdateFunc func(old string, ok bool) (string, error)

	// AtomicStore is implemented by stores that can run a read-modify-write atomically,
	// even against other processes sharing the same storage.
	AtomicStore interface {
		Store
		Update(key string, fn UpdateFunc) error
	}

	// Backend is the record backend mutations are replayed against.
	// Update and Delete of a key that matches no record return an error.
	Backend interface {
		Create(ctx context.Context, table string, record Record) error
		Update(ctx context.Context, table string, key Key, patch Record) error
		Delete(ctx context.Context, table string, key Key) error
	}
)

// StoreError reports a failure of the local store itself, as opposed to a problem with its content.
type StoreError struct {
	Err error
}

func (e *StoreError) Error() string {
	return "local store: " + e.Err.Error()
}

func IsStoreError(err error) bool {
	_, ok := errors.Cause(err).(*StoreError)
	return ok
}
