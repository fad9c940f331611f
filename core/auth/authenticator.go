package auth

import (
	"context"
	"math/rand"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/guard"
	"github.com/trezcool/chuo/core/user"
)

const (
	minFailureDelay = 200 * time.Millisecond
	maxFailureDelay = 500 * time.Millisecond
)

// failureDelay is added to every failed sign-in. mockable
var failureDelay = func() time.Duration {
	return minFailureDelay + time.Duration(rand.Int63n(int64(maxFailureDelay-minFailureDelay)))
}

type LoginResult struct {
	User      user.User
	Principal Principal
	Token     string
	Claims    *Claims
}

// Authenticator signs users in with their email and password.
type Authenticator struct {
	users   *user.Service
	lockout *guard.LockoutTracker
	tokens  *TokenManager
	mailSvc core.EmailService
	logger  core.Logger
}

func NewAuthenticator(
	users *user.Service,
	lockout *guard.LockoutTracker,
	tokens *TokenManager,
	mailSvc core.EmailService,
	logger core.Logger,
) *Authenticator {
	return &Authenticator{users: users, lockout: lockout, tokens: tokens, mailSvc: mailSvc, logger: logger}
}

// Login checks the credentials of email. Failures are counted against both the
// client address and the email, and an unknown email fails exactly like a wrong password.
func (a *Authenticator) Login(ctx context.Context, email, pwd, clientIP string) (*LoginResult, error) {
	email = core.CleanString(email, true /* lower */)
	if err := a.lockout.Check(ctx, clientIP, email); err != nil {
		return nil, err
	}

	usr, err := a.users.GetByEmail(ctx, email)
	switch {
	case errors.Cause(err) == user.ErrNotFound:
		user.SimulatePasswordCheck(pwd)
		return nil, a.fail(ctx, nil, email, clientIP)
	case err != nil:
		return nil, errors.Wrap(err, "finding user by email")
	}
	if err = usr.CheckPassword(pwd); err != nil {
		return nil, a.fail(ctx, &usr, email, clientIP)
	}
	if !usr.IsActive {
		return nil, ErrAccountDisabled
	}

	if err = a.lockout.Succeed(ctx, clientIP, email); err != nil {
		return nil, err
	}
	if usr, err = a.users.SetLastLogin(ctx, usr); err != nil {
		return nil, errors.Wrap(err, "setting lastLogin")
	}

	p := PrincipalOf(usr)
	token, claims, err := a.tokens.Issue(p)
	if err != nil {
		return nil, errors.Wrap(err, "issuing token")
	}
	a.logger.Info("login succeeded", map[string]interface{}{"user_id": usr.ID, "ip": clientIP})
	return &LoginResult{User: usr, Principal: p, Token: token, Claims: claims}, nil
}

func (a *Authenticator) fail(ctx context.Context, usr *user.User, email, clientIP string) error {
	locked, err := a.lockout.Fail(ctx, clientIP, email)
	if err != nil {
		return err
	}
	a.logger.Info("login failed", map[string]interface{}{"email": email, "ip": clientIP, "locked": locked})
	if locked && usr != nil {
		until := nowFunc().Add(a.lockout.Duration())
		a.mailSvc.SendMessages(core.AccountLockedMessage(usr.MailAddress(), until))
	}

	timer := time.NewTimer(failureDelay())
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
	return ErrInvalidCredentials
}

// Logout revokes the bearer token p was authenticated with, if any.
func (a *Authenticator) Logout(ctx context.Context, p Principal) error {
	return a.tokens.Revoke(ctx, p.TokenID, p.TokenExpiresAt)
}
