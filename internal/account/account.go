// Package account provisions student accounts across the credential store
// and the profile store, which share no transaction.
package account

import (
	"context"
	"time"
)

// Status is the lifecycle state of an account.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusPending   Status = "pending"
	StatusInactive  Status = "inactive"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusSuspended, StatusPending, StatusInactive:
		return true
	}
	return false
}

// Account is the profile row owned by the provisioner. CredentialRef is
// empty when no credential entity backs the account.
type Account struct {
	ID             string     `json:"id"`
	CredentialRef  string     `json:"credential_ref,omitempty"`
	FullName       string     `json:"full_name"`
	Email          string     `json:"email"`
	Phone          string     `json:"phone,omitempty"`
	ParentPhone    string     `json:"parent_phone,omitempty"`
	Status         Status     `json:"status"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	EnrollmentDate time.Time  `json:"enrollment_date"`
	LastActivity   *time.Time `json:"last_activity,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// CreateInput describes a new account.
type CreateInput struct {
	FullName    string     `json:"full_name" validate:"required"`
	Email       string     `json:"email" validate:"required,email"`
	Password    string     `json:"password" validate:"required"`
	Phone       string     `json:"phone"`
	ParentPhone string     `json:"parent_phone"`
	Role        string     `json:"role"`
	Status      Status     `json:"status"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

// Patch changes an account. Nil fields are left untouched.
type Patch struct {
	FullName    *string    `json:"full_name"`
	Email       *string    `json:"email"`
	Phone       *string    `json:"phone"`
	ParentPhone *string    `json:"parent_phone"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.FullName == nil && p.Email == nil && p.Phone == nil && p.ParentPhone == nil && p.ExpiresAt == nil
}

// ListFilter narrows ListAccounts. Zero values match everything.
type ListFilter struct {
	Status        Status
	EnrolledSince time.Time
	Limit         int
}

// ProfileStore persists accounts. Implementations report unknown ids as
// apperr.ErrNotFound and email uniqueness violations as apperr.ErrConflict.
// DeleteAccount also removes the account's section grants.
type ProfileStore interface {
	InsertAccount(ctx context.Context, a Account) error
	GetAccount(ctx context.Context, id string) (Account, error)
	UpdateAccount(ctx context.Context, a Account) error
	DeleteAccount(ctx context.Context, id string) error
	// ListAccounts returns accounts newest enrollment first.
	ListAccounts(ctx context.Context, f ListFilter) ([]Account, error)
}
