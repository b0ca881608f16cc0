package authctx

import (
	"errors"
	"time"
)

// APIToken is a long-lived credential bound to one user and company. The
// secret is stored as a bcrypt hash; the plaintext is shown once at creation.
type APIToken struct {
	ID          int64
	UserID      int64
	CompanyID   int64
	WarehouseID int64
	Name        string
	SecretHash  string
	CreatedAt   time.Time
	LastUsedAt  *time.Time
	RevokedAt   *time.Time
}

// Revoked reports whether the token has been revoked.
func (t APIToken) Revoked() bool {
	return t.RevokedAt != nil
}

var (
	// ErrTokenNotFound indicates an unknown token id.
	ErrTokenNotFound = errors.New("authctx: token not found")
	// ErrInvalidToken indicates a malformed or failed credential.
	ErrInvalidToken = errors.New("authctx: invalid token")
)
