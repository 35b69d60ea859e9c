// Package audittest provides an in-memory audit.Repository for tests.
package audittest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/clipgate/clipgate/internal/audit"
	"github.com/clipgate/clipgate/internal/shared"
)

// Store is a mutex-guarded in-memory audit repository. Set Err to make
// every call fail with it.
type Store struct {
	mu      sync.Mutex
	entries []audit.Entry
	Err     error
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{}
}

// Insert implements audit.Repository.
func (s *Store) Insert(ctx context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.entries = append(s.entries, clone(entry))
	return nil
}

// CountSince implements audit.Repository.
func (s *Store) CountSince(ctx context.Context, operation, userEmail string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	count, _ := s.window(operation, userEmail, since)
	return count, nil
}

// InsertIfBelow implements audit.Repository.
func (s *Store) InsertIfBelow(ctx context.Context, entry audit.Entry, since time.Time, limit int) (audit.Admission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return audit.Admission{}, s.Err
	}
	count, oldest := s.window(entry.Operation, entry.UserEmail, since)
	adm := audit.Admission{Count: count, Oldest: oldest}
	if count >= limit {
		return adm, nil
	}
	s.entries = append(s.entries, clone(entry))
	adm.Admitted = true
	if adm.Oldest.IsZero() {
		adm.Oldest = entry.CreatedAt
	}
	return adm, nil
}

// Get implements audit.Repository.
func (s *Store) Get(ctx context.Context, id string) (audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return audit.Entry{}, s.Err
	}
	for _, e := range s.entries {
		if e.ID == id {
			return clone(e), nil
		}
	}
	return audit.Entry{}, shared.ErrNotFound
}

// ListByUser implements audit.Repository.
func (s *Store) ListByUser(ctx context.Context, userEmail, operation string, offset, limit int) ([]audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var matched []audit.Entry
	for _, e := range s.entries {
		if e.UserEmail != userEmail {
			continue
		}
		if operation != "" && e.Operation != operation {
			continue
		}
		matched = append(matched, clone(e))
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Entries returns a snapshot of every stored entry in insertion order.
func (s *Store) Entries() []audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, clone(e))
	}
	return out
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) window(operation, userEmail string, since time.Time) (int, time.Time) {
	var count int
	var oldest time.Time
	for _, e := range s.entries {
		if e.Operation != operation || e.UserEmail != userEmail || e.CreatedAt.Before(since) {
			continue
		}
		count++
		if oldest.IsZero() || e.CreatedAt.Before(oldest) {
			oldest = e.CreatedAt
		}
	}
	return count, oldest
}

func clone(e audit.Entry) audit.Entry {
	meta := make(map[string]any, len(e.Metadata))
	for k, v := range e.Metadata {
		meta[k] = v
	}
	e.Metadata = meta
	return e
}

var _ audit.Repository = (*Store)(nil)
