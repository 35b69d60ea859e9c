package idempotency

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/clipgate/clipgate/internal/platform/db"
	"github.com/clipgate/clipgate/internal/shared"
)

// Store coordinates Begin, Finish and Abort around one side effect.
type Store struct {
	repo    Repository
	timeout time.Duration
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithTimeout bounds every repository call.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore constructs a Store.
func NewStore(repo Repository, opts ...Option) *Store {
	s := &Store{repo: repo, timeout: 5 * time.Second, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fingerprint hashes a normalised request body.
func Fingerprint(payload []byte) string {
	sum := blake2b.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// ValidateKey checks a header value.
func ValidateKey(value string) error {
	if strings.TrimSpace(value) == "" || len(value) > MaxKeyLength {
		return &shared.ValidationError{Fields: []string{HeaderName}, Reason: "Invalid fields"}
	}
	return nil
}

// Begin claims key for a new request. It returns the stored response when
// the key already completed with the same fingerprint, and
// ErrIdempotencyConflict when the key is in flight or belongs to a
// different request.
func (s *Store) Begin(ctx context.Context, key Key, fingerprint string) ([]byte, error) {
	if err := ValidateKey(key.Value); err != nil {
		return nil, err
	}
	ctx, cancel := db.Bound(ctx, s.timeout)
	defer cancel()

	inserted, err := s.repo.Insert(ctx, Record{
		Key:         key,
		Fingerprint: fingerprint,
		CreatedAt:   s.now().UTC().Truncate(time.Microsecond),
	})
	if err != nil {
		return nil, fmt.Errorf("idempotency: claim: %w", err)
	}
	if inserted {
		return nil, nil
	}

	existing, err := s.repo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			// released by a failed first attempt between our insert and read
			return nil, fmt.Errorf("idempotency: %s: %w", key.Value, shared.ErrIdempotencyConflict)
		}
		return nil, fmt.Errorf("idempotency: read: %w", err)
	}
	if existing.Fingerprint != fingerprint || existing.Response == nil {
		return nil, fmt.Errorf("idempotency: %s: %w", key.Value, shared.ErrIdempotencyConflict)
	}
	return existing.Response, nil
}

// Finish stores the acknowledgment for later replays.
func (s *Store) Finish(ctx context.Context, key Key, response []byte) error {
	ctx, cancel := db.Bound(ctx, s.timeout)
	defer cancel()
	if response == nil {
		response = []byte{}
	}
	if err := s.repo.Complete(ctx, key, response); err != nil {
		return fmt.Errorf("idempotency: finish: %w", err)
	}
	return nil
}

// Abort releases key after a failed attempt so the client may retry.
func (s *Store) Abort(ctx context.Context, key Key) error {
	ctx, cancel := db.Bound(ctx, s.timeout)
	defer cancel()
	if err := s.repo.Delete(ctx, key); err != nil {
		return fmt.Errorf("idempotency: abort: %w", err)
	}
	return nil
}

// Cleanup removes keys older than retention.
func (s *Store) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	ctx, cancel := db.Bound(ctx, s.timeout)
	defer cancel()
	n, err := s.repo.DeleteBefore(ctx, s.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("idempotency: cleanup: %w", err)
	}
	return n, nil
}
