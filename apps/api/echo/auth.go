package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/auth"
	"github.com/trezcool/chuo/core/user"
)

type authAPI struct {
	*server
}

func registerAuthAPI(g *echo.Group, s *server) {
	api := authAPI{server: s}
	authLimit := s.rateLimit(core.RateLimitAuth)
	pwdLimit := s.rateLimit(core.RateLimitPasswordChange)
	authed := s.identify(auth.ModeBearerOrSession)

	ag := g.Group("/auth")

	// un-authed endpoints
	ag.POST("/register", api.register, authLimit)
	ag.POST("/login", api.login, authLimit)
	ag.GET("/status", api.status, s.identifyOptional(auth.ModeBearerOrSession))

	// authed endpoints
	ag.POST("/logout", api.logout, authed)
	ag.GET("/me", api.me, authed)
	ag.POST("/change-password", api.changePassword, pwdLimit, authed)
}

// Handlers

func (api authAPI) register(ctx echo.Context) error {
	var data user.NewUser
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewUser")
	}
	if err := data.Validate(ctx.Request().Context(), api.opts.Validate, api.opts.UserSvc); err != nil {
		return err
	}

	usr, err := api.opts.UserSvc.Register(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "registering user")
	}
	return ctx.JSON(http.StatusCreated, response{Success: true, Message: "Registration successful", User: usr})
}

func (api authAPI) login(ctx echo.Context) error {
	var data LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	if err := data.Validate(api.opts.Validate); err != nil {
		return err
	}

	rctx := ctx.Request().Context()
	res, err := api.opts.Authenticator.Login(rctx, data.Email, data.Password, ctx.RealIP())
	if err != nil {
		return err
	}

	sess, err := api.opts.Sessions.Create(rctx, res.Principal, ctx.RealIP())
	if err != nil {
		return errors.Wrap(err, "creating session")
	}
	if err = api.opts.Cookie.Write(ctx.Response(), sess.ID); err != nil {
		return errors.Wrap(err, "writing session cookie")
	}

	return ctx.JSON(http.StatusOK, response{Success: true, Message: "Login successful", Token: res.Token, User: res.User})
}

// logout revokes the bearer token and destroys the session the request carries, if any.
func (api authAPI) logout(ctx echo.Context) error {
	p, err := contextPrincipal(ctx)
	if err != nil {
		return err
	}

	rctx := ctx.Request().Context()
	if err = api.opts.Authenticator.Logout(rctx, p); err != nil {
		return errors.Wrap(err, "revoking token")
	}

	sessionID := p.SessionID
	if sessionID == "" {
		sessionID, _ = api.opts.Verifier.SessionID(ctx.Request())
	}
	if sessionID != "" {
		if err = api.opts.Sessions.Destroy(rctx, sessionID); err != nil {
			return errors.Wrap(err, "destroying session")
		}
	}
	api.opts.Cookie.Clear(ctx.Response())

	return ctx.JSON(http.StatusOK, response{Success: true, Message: "Logout successful"})
}

func (api authAPI) status(ctx echo.Context) error {
	if _, err := contextPrincipal(ctx); err != nil {
		return ctx.JSON(http.StatusOK, response{Success: true, Message: "Not authenticated"})
	}
	usr, err := api.contextUser(ctx)
	if err != nil {
		if core.KindOf(err) == core.KindInternal {
			return err
		}
		return ctx.JSON(http.StatusOK, response{Success: true, Message: "Not authenticated"})
	}
	return ctx.JSON(http.StatusOK, response{Success: true, Message: "Authenticated", User: usr})
}

func (api authAPI) me(ctx echo.Context) error {
	usr, err := api.contextUser(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, response{Success: true, User: usr})
}

// changePassword also rotates the session id so a session captured before the change is worthless.
func (api authAPI) changePassword(ctx echo.Context) error {
	usr, err := api.contextUser(ctx)
	if err != nil {
		return err
	}

	var data user.ChangePassword
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ChangePassword")
	}
	if err = data.Validate(api.opts.Validate, usr); err != nil {
		return err
	}

	rctx := ctx.Request().Context()
	if _, err = api.opts.UserSvc.ChangePassword(rctx, usr, data, ctx.RealIP()); err != nil {
		return errors.Wrap(err, "changing password")
	}

	if sessionID, ok := api.opts.Verifier.SessionID(ctx.Request()); ok {
		sess, err := api.opts.Sessions.Rotate(rctx, sessionID)
		switch {
		case err == nil:
			if err = api.opts.Cookie.Write(ctx.Response(), sess.ID); err != nil {
				return errors.Wrap(err, "writing session cookie")
			}
		case core.KindOf(err) == core.KindAuthentication:
			api.opts.Cookie.Clear(ctx.Response())
		default:
			return errors.Wrap(err, "rotating session")
		}
	}

	return ctx.JSON(http.StatusOK, response{Success: true, Message: "Password changed successfully"})
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (lr *LoginRequest) Validate(validate *validator.Validate) error {
	lr.Email = core.CleanString(lr.Email, true /* lower */)
	return validate.Struct(lr)
}
