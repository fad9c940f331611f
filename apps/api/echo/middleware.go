package echoapi

import (
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/auth"
	"github.com/trezcool/chuo/core/coursework"
	"github.com/trezcool/chuo/core/user"
)

const contextPrincipalKey = "principal"

// rateLimit counts the request against category for the client address.
func (s *server) rateLimit(category string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			dec, err := s.opts.Limiter.Allow(ctx.Request().Context(), category, ctx.RealIP())
			if err != nil {
				return err
			}
			h := ctx.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(dec.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
			return next(ctx)
		}
	}
}

// identify rejects requests without valid credentials for mode and stores the Principal in the context.
func (s *server) identify(mode auth.Mode) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			p, err := s.opts.Verifier.Verify(ctx.Request(), mode)
			if err != nil {
				return err
			}
			ctx.Set(contextPrincipalKey, p)
			return next(ctx)
		}
	}
}

// identifyOptional stores the Principal in the context when credentials are valid, and carries on regardless.
func (s *server) identifyOptional(mode auth.Mode) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if p, err := s.opts.Verifier.Verify(ctx.Request(), mode); err == nil {
				ctx.Set(contextPrincipalKey, p)
			} else if core.KindOf(err) != core.KindAuthentication {
				return err
			}
			return next(ctx)
		}
	}
}

// requireRoles lets through principals holding any of roles. It must run after identify.
// requireActive refuses principals whose account was deleted or deactivated after they signed in.
func (s *server) requireActive(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		if _, err := s.contextUser(ctx); err != nil {
			return err
		}
		return next(ctx)
	}
}

func (s *server) requireRoles(roles ...user.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			var prcpl *auth.Principal
			if p, err := contextPrincipal(ctx); err == nil {
				prcpl = &p
			}
			if err := s.opts.Authorizer.Authorize(prcpl, ctx.Request().URL.Path, roles...); err != nil {
				return err
			}
			return next(ctx)
		}
	}
}

func contextPrincipal(ctx echo.Context) (auth.Principal, error) {
	if p, ok := ctx.Get(contextPrincipalKey).(auth.Principal); ok {
		return p, nil
	}
	return auth.Principal{}, auth.ErrAuthRequired
}

func contextRequester(ctx echo.Context) (coursework.Requester, error) {
	p, err := contextPrincipal(ctx)
	if err != nil {
		return coursework.Requester{}, err
	}
	return coursework.Requester{ID: p.ID, Role: p.Role}, nil
}

// contextUser loads the account of the context Principal. A deleted account is unauthenticated
// and a deactivated one is forbidden.
func (s *server) contextUser(ctx echo.Context) (user.User, error) {
	p, err := contextPrincipal(ctx)
	if err != nil {
		return user.User{}, err
	}
	usr, err := s.opts.UserSvc.GetByID(ctx.Request().Context(), p.ID)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return user.User{}, auth.ErrAuthRequired
		}
		return user.User{}, errors.Wrap(err, "finding user by ID")
	}
	if !usr.IsActive {
		return user.User{}, auth.ErrAccountDisabled
	}
	return usr, nil
}
