package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clipgate/clipgate/internal/platform/db"
	"github.com/clipgate/clipgate/internal/shared"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50
)

// Log is the shared append-only audit log.
type Log struct {
	repo    Repository
	timeout time.Duration
	now     func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithTimeout bounds every datastore call.
func WithTimeout(d time.Duration) Option {
	return func(l *Log) { l.timeout = d }
}

// WithClock overrides the time source used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// NewLog builds a Log on top of repo.
func NewLog(repo Repository, opts ...Option) *Log {
	l := &Log{repo: repo, timeout: 5 * time.Second, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Now returns the log's current time.
func (l *Log) Now() time.Time {
	return l.now().UTC()
}

// Append inserts entry and returns its id.
func (l *Log) Append(ctx context.Context, entry Entry) (string, error) {
	if l == nil || l.repo == nil {
		return "", errors.New("audit: log not configured")
	}
	entry, err := l.Prepare(entry)
	if err != nil {
		return "", err
	}
	ctx, cancel := db.Bound(ctx, l.timeout)
	defer cancel()
	if err := l.repo.Insert(ctx, entry); err != nil {
		return "", err
	}
	return entry.ID, nil
}

// CountSince counts entries for operation and identifier created at or
// after since.
func (l *Log) CountSince(ctx context.Context, operation, identifier string, since time.Time) (int, error) {
	if l == nil || l.repo == nil {
		return 0, errors.New("audit: log not configured")
	}
	ctx, cancel := db.Bound(ctx, l.timeout)
	defer cancel()
	return l.repo.CountSince(ctx, operation, identifier, since.UTC())
}

// AppendIfBelow appends entry only while fewer than limit matching entries
// exist since the given time. The returned entry carries the assigned id and
// timestamp.
func (l *Log) AppendIfBelow(ctx context.Context, entry Entry, since time.Time, limit int) (Entry, Admission, error) {
	if l == nil || l.repo == nil {
		return Entry{}, Admission{}, errors.New("audit: log not configured")
	}
	entry, err := l.Prepare(entry)
	if err != nil {
		return Entry{}, Admission{}, err
	}
	ctx, cancel := db.Bound(ctx, l.timeout)
	defer cancel()
	adm, err := l.repo.InsertIfBelow(ctx, entry, since.UTC(), limit)
	if err != nil {
		return Entry{}, Admission{}, err
	}
	return entry, adm, nil
}

// Get returns a single entry.
func (l *Log) Get(ctx context.Context, id string) (Entry, error) {
	if l == nil || l.repo == nil {
		return Entry{}, errors.New("audit: log not configured")
	}
	ctx, cancel := db.Bound(ctx, l.timeout)
	defer cancel()
	return l.repo.Get(ctx, id)
}

// List returns a page of a user's entries.
func (l *Log) List(ctx context.Context, filter Filter) (Page, error) {
	if l == nil || l.repo == nil {
		return Page{}, errors.New("audit: log not configured")
	}
	email := strings.TrimSpace(filter.UserEmail)
	if email == "" {
		return Page{}, shared.NewValidationError("user_email")
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	ctx, cancel := db.Bound(ctx, l.timeout)
	defer cancel()
	entries, err := l.repo.ListByUser(ctx, email, strings.TrimSpace(filter.Operation), (page-1)*pageSize, pageSize+1)
	if err != nil {
		return Page{}, err
	}
	hasNext := len(entries) > pageSize
	if hasNext {
		entries = entries[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Page{Entries: entries, Paging: paging}, nil
}

// Prepare validates entry and fills defaults for unset fields. Callers that
// write an entry inside their own transaction run it first.
func (l *Log) Prepare(entry Entry) (Entry, error) {
	var missing []string
	if strings.TrimSpace(entry.Operation) == "" {
		missing = append(missing, "operation")
	}
	if strings.TrimSpace(entry.EntityType) == "" {
		missing = append(missing, "entity_type")
	}
	if strings.TrimSpace(entry.UserEmail) == "" {
		missing = append(missing, "user_email")
	}
	if len(missing) > 0 {
		return Entry{}, fmt.Errorf("audit: %w", shared.NewValidationError(missing...))
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.EntityID == "" {
		entry.EntityID = entry.ID
	}
	if entry.Status == "" {
		entry.Status = StatusSuccess
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now()
	}
	entry.CreatedAt = entry.CreatedAt.UTC()
	if entry.Metadata == nil {
		entry.Metadata = map[string]any{}
	}
	return entry, nil
}
