package audit

import (
	"context"
	"time"
)

// Repository is the append-only store behind Log. Implementations expose no
// update or delete path.
type Repository interface {
	Insert(ctx context.Context, entry Entry) error
	CountSince(ctx context.Context, operation, userEmail string, since time.Time) (int, error)
	// InsertIfBelow counts entries matching the candidate's operation and
	// user email created at or after since and inserts the candidate only
	// when the count is below limit. Count and insert are one atomic step
	// with respect to every other caller of InsertIfBelow for the same key.
	InsertIfBelow(ctx context.Context, entry Entry, since time.Time, limit int) (Admission, error)
	Get(ctx context.Context, id string) (Entry, error)
	// ListByUser returns up to limit entries after skipping offset, newest first.
	ListByUser(ctx context.Context, userEmail, operation string, offset, limit int) ([]Entry, error)
}
