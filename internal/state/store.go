// ABOUTME: Store interface and entry semantics for cross-process hook state
// ABOUTME: Defines TTL-based logical expiry and the sentinel errors shared by all trackers

package state

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent or its TTL has elapsed.
var ErrNotFound = errors.New("not found")

// ErrBusy is returned when the write-lock retry budget is exhausted.
// Callers degrade to absent/unknown results rather than propagating it.
var ErrBusy = errors.New("lock budget exhausted")

// timeNow is a package-level variable for testability.
// Tests can replace this to simulate TTL expiry without sleeping.
var timeNow = time.Now

// RetryPolicy bounds how long a contended operation may spin before
// failing soft. Hooks run inside the host tool's turn, so the worst-case
// wait must stay in the tens of milliseconds.
type RetryPolicy struct {
	Attempts    int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// DefaultRetryPolicy matches the budget the hooks were tuned for:
// 5 attempts, exponential backoff from 2ms capped at 40ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:    5,
		BackoffBase: 2 * time.Millisecond,
		BackoffCap:  40 * time.Millisecond,
	}
}

// Store defines durable key/record storage shared by concurrently running
// hook processes. Values are opaque serialized records. Every key carries a
// TTL: a read at or after written_at + ttl behaves as if the key is absent.
type Store interface {
	// Read returns the value for key, or ErrNotFound if the key is absent
	// or expired. Expired rows are deleted opportunistically.
	Read(ctx context.Context, key string) ([]byte, error)

	// Write stores value under key with the given TTL, replacing any
	// previous value atomically.
	Write(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Update performs an atomic read-modify-write on key. fn receives the
	// current value (nil if absent or expired) and returns the replacement.
	// If fn returns an error the entry is left untouched and the error is
	// returned. The whole sequence is mutually exclusive against other
	// writers of the same database.
	Update(ctx context.Context, key string, ttl time.Duration, fn func(old []byte) ([]byte, error)) error

	// Increment atomically bumps an integer field inside a JSON object
	// value, creating the object if the key is absent, and returns the new
	// count. A corrupt value is treated as absent and overwritten.
	Increment(ctx context.Context, key, field string, ttl time.Duration) (int64, error)

	// Append adds a line to an append-only list. Lines from concurrent
	// writers never interleave or truncate.
	Append(ctx context.Context, listKey string, line []byte, ttl time.Duration) error

	// ReadList returns the unexpired lines of a list in append order.
	ReadList(ctx context.Context, listKey string) ([][]byte, error)

	// Close releases any resources held by the store.
	Close() error
}
