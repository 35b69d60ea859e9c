package provisioning

import (
	"context"
	"time"

	"github.com/clipgate/clipgate/internal/audit"
)

// Defaults granted to a freshly provisioned account.
const (
	InitialCredits            = 20.0
	DefaultSubscriptionStatus = "inactive"
	DefaultRole               = "user"
)

// Audit identifiers for provisioning.
const (
	OperationUserCreated = "user_created"
	EntityType           = "user_profile"
)

// Profile is the per-principal account row. Credits are only ever set here
// at creation; later changes belong to billing.
type Profile struct {
	ID                 string    `json:"id"`
	Email              string    `json:"email"`
	FullName           string    `json:"full_name"`
	Credits            float64   `json:"credits"`
	SubscriptionStatus string    `json:"subscription_status"`
	Role               string    `json:"role"`
	CreatedAt          time.Time `json:"created_at"`
}

// Repository persists profiles.
type Repository interface {
	// Get returns shared.ErrNotFound when no profile exists for id.
	Get(ctx context.Context, id string) (Profile, error)
	// InsertIfAbsent inserts profile and its audit entry in one transaction.
	// When a row with the same id already exists it returns that row and
	// created=false, writing nothing.
	InsertIfAbsent(ctx context.Context, profile Profile, entry audit.Entry) (Profile, bool, error)
}
