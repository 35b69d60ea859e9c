// Package idempotency remembers the acknowledgment of side-effecting requests
// that carry an Idempotency-Key, so a retried request is answered from the
// first response instead of repeating the side effect.
package idempotency

import (
	"context"
	"time"
)

// HeaderName is the request header carrying the client-chosen key.
const HeaderName = "Idempotency-Key"

// MaxKeyLength bounds the accepted key size.
const MaxKeyLength = 255

// Key identifies one logical request. Keys are scoped per operation and per
// caller, so two users never share an entry.
type Key struct {
	Scope string
	Owner string
	Value string
}

// Record is the stored state of a key. A nil Response means the first request
// is still in flight.
type Record struct {
	Key
	Fingerprint string
	Response    []byte
	CreatedAt   time.Time
}

// Repository persists records. Insert reports false when the key already
// exists.
type Repository interface {
	Insert(ctx context.Context, rec Record) (bool, error)
	Get(ctx context.Context, key Key) (Record, error)
	Complete(ctx context.Context, key Key, response []byte) error
	Delete(ctx context.Context, key Key) error
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
