// Package auth establishes who is making a request and what they may do.
package auth

import (
	"time"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/user"
)

// Principal is the identity established for one request. It is never persisted.
type Principal struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      user.Role `json:"role"`
	SessionID string    `json:"-"` // set when authenticated by session cookie

	// set when authenticated by bearer token
	TokenID        string    `json:"-"`
	TokenExpiresAt time.Time `json:"-"`
}

func PrincipalOf(usr user.User) Principal {
	return Principal{ID: usr.ID, Email: usr.Email, Role: usr.Role}
}

func (p Principal) HasRole(roles ...user.Role) bool {
	for _, role := range roles {
		if p.Role == role {
			return true
		}
	}
	return false
}

// errors
var (
	ErrAuthRequired       = core.NewAuthenticationError("authentication required")
	ErrTokenExpired       = core.NewAuthenticationError("token expired")
	ErrTokenInvalid       = core.NewAuthenticationError("invalid token")
	ErrTokenRevoked       = core.NewAuthenticationError("token has been revoked")
	ErrSessionInvalid     = core.NewAuthenticationError("invalid or expired session")
	ErrInvalidCredentials = core.NewAuthenticationError("Invalid email or password")
	ErrAccountDisabled    = core.NewAuthorizationError("account deactivated")
	ErrForbidden          = core.NewAuthorizationError("permission denied")
)
