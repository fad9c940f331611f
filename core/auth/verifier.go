package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/chuo/core"
)

// Mode declares which credentials a route accepts.
type Mode int

const (
	ModeBearer Mode = iota + 1
	ModeSession
	ModeBearerOrSession
)

func (m Mode) String() string {
	switch m {
	case ModeBearer:
		return "bearer"
	case ModeSession:
		return "session"
	case ModeBearerOrSession:
		return "bearer-or-session"
	default:
		return "unknown"
	}
}

// SessionValidator resolves a session id into the identity it was created for.
// Unknown or expired sessions are reported with authentication errors.
type SessionValidator interface {
	Validate(ctx context.Context, id string) (Principal, error)
}

// Verifier establishes the Principal of a request from a bearer token or a session cookie.
type Verifier struct {
	tokens   *TokenManager
	sessions SessionValidator
	cookie   *SessionCookie
	logger   core.Logger
}

func NewVerifier(tokens *TokenManager, sessions SessionValidator, cookie *SessionCookie, logger core.Logger) *Verifier {
	return &Verifier{tokens: tokens, sessions: sessions, cookie: cookie, logger: logger}
}

// Verify returns the Principal of r, trying in order:
// - a bearer token (unless mode is ModeSession); a rejected token fails the request in ModeBearer
// - the session cookie (unless mode is ModeBearer)
// Storage failures are returned as they are; every other failure is an authentication error.
func (v *Verifier) Verify(r *http.Request, mode Mode) (Principal, error) {
	ctx := r.Context()
	var authErr error

	if mode != ModeSession {
		if token, ok := bearerToken(r); ok {
			claims, err := v.tokens.Parse(ctx, token)
			if err == nil {
				return claims.Principal(), nil
			}
			if core.KindOf(err) != core.KindAuthentication {
				return Principal{}, errors.Wrap(err, "verifying bearer token")
			}
			v.logger.Info("bearer token rejected", map[string]interface{}{
				"reason": err.Error(),
				"path":   r.URL.Path,
				"mode":   mode.String(),
			})
			if mode == ModeBearer {
				return Principal{}, err
			}
			authErr = err
		}
	}

	if mode != ModeBearer {
		p, err := v.verifySession(ctx, r)
		if err == nil {
			return p, nil
		}
		if core.KindOf(err) != core.KindAuthentication {
			return Principal{}, err
		}
		if err != ErrAuthRequired && authErr == nil {
			authErr = err
		}
	}

	if authErr != nil {
		return Principal{}, authErr
	}
	return Principal{}, ErrAuthRequired
}

func (v *Verifier) verifySession(ctx context.Context, r *http.Request) (Principal, error) {
	id, err := v.cookie.Read(r)
	if err == http.ErrNoCookie {
		return Principal{}, ErrAuthRequired
	}
	if err != nil {
		v.logger.Warn("session cookie rejected", map[string]interface{}{"reason": err.Error(), "path": r.URL.Path})
		return Principal{}, ErrSessionInvalid
	}

	p, err := v.sessions.Validate(ctx, id)
	if err != nil {
		if core.KindOf(err) == core.KindAuthentication {
			return Principal{}, ErrSessionInvalid
		}
		return Principal{}, errors.Wrap(err, "validating session")
	}
	return p, nil
}

// SessionID returns the session id carried by r, if any. The session itself is not validated.
func (v *Verifier) SessionID(r *http.Request) (string, bool) {
	id, err := v.cookie.Read(r)
	return id, err == nil && id != ""
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if len(header) < 7 || !strings.EqualFold(header[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[7:])
	return token, token != ""
}
