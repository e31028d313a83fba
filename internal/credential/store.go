// Package credential defines the contract of the external credential store
// (login identity: email, password, confirmation state, metadata) and ships
// an in-memory implementation plus session token handling.
package credential

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidCredentials is returned by SignIn for unknown emails, wrong
// passwords and unconfirmed entities alike.
var ErrInvalidCredentials = errors.New("credential: invalid email or password")

// Entity is a login identity held by the credential store.
type Entity struct {
	ID             string         `json:"id"`
	Email          string         `json:"email"`
	EmailConfirmed bool           `json:"email_confirmed"`
	Metadata       map[string]any `json:"metadata"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// CreateRequest describes a new login identity.
type CreateRequest struct {
	Email       string
	Password    string
	AutoConfirm bool
	Metadata    map[string]any
}

// Patch changes an entity. Nil fields are left untouched; Metadata keys are
// merged into the existing metadata.
type Patch struct {
	Email    *string
	Password *string
	Metadata map[string]any
}

// Session is the outcome of a successful sign-in.
type Session struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	Entity      Entity    `json:"user"`
}

// Store is the credential store contract. Implementations enforce email
// uniqueness and report violations as apperr.ErrConflict, unknown ids as
// apperr.ErrNotFound.
type Store interface {
	Create(ctx context.Context, req CreateRequest) (string, error)
	UpdateByID(ctx context.Context, id string, patch Patch) error
	DeleteByID(ctx context.Context, id string) error
	List(ctx context.Context) ([]Entity, error)
	SignIn(ctx context.Context, email, password string) (Session, error)
}

func cloneMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// MergeMetadata returns base with patch keys applied.
func MergeMetadata(base, patch map[string]any) map[string]any {
	out := cloneMetadata(base)
	for k, v := range patch {
		out[k] = v
	}
	return out
}
