package users

import (
	"errors"
	"time"

	"github.com/pricebook/pricebook/internal/rbac"
)

var (
	// ErrNotFound indicates the profile does not exist.
	ErrNotFound = errors.New("users: profile not found")
	// ErrExists indicates a profile with the same uid or email exists.
	ErrExists = errors.New("users: profile already exists")
)

// Profile is a user directory entry. Role drives permission resolution.
type Profile struct {
	UID           string    `json:"uid"`
	Email         string    `json:"email"`
	DisplayName   string    `json:"displayName"`
	Role          rbac.Role `json:"role"`
	EmailVerified bool      `json:"emailVerified"`
	CreatedAt     time.Time `json:"createdAt"`
}

// CreateInput is the payload for a manually created profile.
type CreateInput struct {
	UID         string `json:"uid" validate:"required,max=128"`
	Email       string `json:"email" validate:"required,email"`
	DisplayName string `json:"displayName" validate:"max=100"`
	Role        string `json:"role" validate:"required,oneof=admin pricing_manager viewer"`
}

// FieldErrors maps form fields to validation messages.
type FieldErrors map[string]string

func (f FieldErrors) Error() string {
	return "users: invalid input"
}
