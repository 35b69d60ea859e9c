package provisioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/clipgate/clipgate/internal/audit"
	"github.com/clipgate/clipgate/internal/auth"
	"github.com/clipgate/clipgate/internal/platform/db"
	"github.com/clipgate/clipgate/internal/shared"
)

// EntryPreparer stamps audit entries before they are written inside a
// repository transaction. *audit.Log satisfies it.
type EntryPreparer interface {
	Prepare(entry audit.Entry) (audit.Entry, error)
}

// Service provisions user profiles idempotently.
type Service struct {
	repo    Repository
	entries EntryPreparer
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

// Option customises the service.
type Option func(*Service)

// WithTimeout bounds each datastore round trip.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService constructs the provisioning service.
func NewService(repo Repository, entries EntryPreparer, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		entries: entries,
		logger:  slog.Default(),
		timeout: 5 * time.Second,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureProfile returns the principal's profile, creating it on first call.
// It is safe to call on every authentication; an existing profile is
// returned untouched.
func (s *Service) EnsureProfile(ctx context.Context, principal auth.Principal) (Profile, bool, error) {
	if strings.TrimSpace(principal.ID) == "" || strings.TrimSpace(principal.Email) == "" {
		return Profile{}, false, fmt.Errorf("provisioning: principal without identity: %w", shared.ErrUnauthenticated)
	}

	lookupCtx, cancel := db.Bound(ctx, s.timeout)
	existing, err := s.repo.Get(lookupCtx, principal.ID)
	cancel()
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return Profile{}, false, fmt.Errorf("provisioning: lookup: %w", err)
	}

	profile := Profile{
		ID:                 principal.ID,
		Email:              principal.Email,
		FullName:           displayName(principal),
		Credits:            InitialCredits,
		SubscriptionStatus: DefaultSubscriptionStatus,
		Role:               DefaultRole,
		CreatedAt:          s.now().UTC().Truncate(time.Microsecond),
	}
	entry, err := s.entries.Prepare(audit.Entry{
		Operation:  OperationUserCreated,
		EntityType: EntityType,
		EntityID:   profile.ID,
		UserEmail:  profile.Email,
		Status:     audit.StatusSuccess,
		Message:    "User profile created",
		Metadata: map[string]any{
			"initial_credits":     InitialCredits,
			"subscription_status": DefaultSubscriptionStatus,
			"role":                DefaultRole,
		},
		CreatedAt: profile.CreatedAt,
	})
	if err != nil {
		return Profile{}, false, fmt.Errorf("provisioning: audit entry: %w", err)
	}

	insertCtx, cancel := db.Bound(ctx, s.timeout)
	defer cancel()
	stored, created, err := s.repo.InsertIfAbsent(insertCtx, profile, entry)
	if err != nil {
		return Profile{}, false, fmt.Errorf("provisioning: insert: %w", err)
	}
	if created {
		s.logger.Info("user profile created",
			slog.String("user_id", stored.ID),
			slog.String("email", stored.Email))
	}
	return stored, created, nil
}

func displayName(p auth.Principal) string {
	if name := strings.TrimSpace(p.Name); name != "" {
		return name
	}
	local, _, _ := strings.Cut(p.Email, "@")
	return local
}
