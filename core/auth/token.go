package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/chuo/core/kv"
	"github.com/trezcool/chuo/core/user"
)

var nowFunc = time.Now // mockable

// Claims represents the authorization claims transmitted via a JWT.
type Claims struct {
	jwt.RegisteredClaims
	Email string    `json:"email,omitempty"`
	Role  user.Role `json:"role,omitempty"`
}

func (c *Claims) Principal() Principal {
	p := Principal{ID: c.Subject, Email: c.Email, Role: c.Role, TokenID: c.ID}
	if c.ExpiresAt != nil {
		p.TokenExpiresAt = c.ExpiresAt.Time
	}
	return p
}

// TokenManager issues and verifies HS256 bearer tokens. Revoked token ids are kept
// in the kv store until the token would have expired anyway.
type TokenManager struct {
	key     []byte
	issuer  string
	ttl     time.Duration
	revoked kv.Store
}

func NewTokenManager(secret, issuer string, ttl time.Duration, revoked kv.Store) *TokenManager {
	return &TokenManager{key: []byte(secret), issuer: issuer, ttl: ttl, revoked: revoked}
}

func revokedKey(jti string) string { return "revoked:" + jti }

// Issue signs a token for p.
func (tm *TokenManager) Issue(p Principal) (string, *Claims, error) {
	now := nowFunc()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    tm.issuer,
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.ttl)),
		},
		Email: p.Email,
		Role:  p.Role,
	}
	ss, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.key)
	if err != nil {
		return "", nil, errors.Wrap(err, "signing token")
	}
	return ss, claims, nil
}

// Parse verifies the signature, issuer and expiry of token and that it was not revoked.
func (tm *TokenManager) Parse(ctx context.Context, token string) (*Claims, error) {
	claims := new(Claims)
	_, err := jwt.ParseWithClaims(
		token, claims,
		func(*jwt.Token) (interface{}, error) { return tm.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tm.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(nowFunc),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case err != nil:
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" || claims.ID == "" || !claims.Role.Valid() {
		return nil, ErrTokenInvalid
	}

	if _, err = tm.revoked.Get(ctx, revokedKey(claims.ID)); err == nil {
		return nil, ErrTokenRevoked
	} else if err != kv.ErrNotFound {
		return nil, errors.Wrap(err, "checking token revocation")
	}
	return claims, nil
}

// Revoke rejects the token jti from now until it expires.
func (tm *TokenManager) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return nil
	}
	ttl := expiresAt.Sub(nowFunc())
	if ttl <= 0 {
		return nil
	}
	return errors.Wrap(tm.revoked.Set(ctx, revokedKey(jti), 1, ttl), "revoking token")
}
