// Package echoapi exposes the portal's authentication and file routes over HTTP.
package echoapi

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/auth"
	"github.com/trezcool/chuo/core/coursework"
	"github.com/trezcool/chuo/core/guard"
	"github.com/trezcool/chuo/core/session"
	"github.com/trezcool/chuo/core/user"
)

// multipart framing allowed on top of the upload size limit
const bodyOverhead = 1 << 20

type (
	Options struct {
		Conf           *core.Config
		Logger         core.Logger
		Validate       *validator.Validate
		Translator     ut.Translator
		DisableReqLogs bool
		Shutdown       chan os.Signal

		Limiter       *guard.RateLimiter
		Verifier      *auth.Verifier
		Authorizer    *auth.Authorizer
		Authenticator *auth.Authenticator
		Sessions      *session.Store
		Cookie        *auth.SessionCookie

		UserSvc       *user.Service
		CourseworkSvc *coursework.Service
	}

	Server interface {
		http.Handler
		Start() error
		Stop(context.Context) error
	}

	server struct {
		opts *Options
		app  *echo.Echo
	}
)

var _ Server = (*server)(nil)

func NewServer(opts *Options) Server {
	s := &server{
		opts: opts,
		app:  echo.New(),
	}
	s.setup()
	return s
}

func (s *server) setup() {
	conf := s.opts.Conf

	s.app.HideBanner = true
	s.app.IPExtractor = ipExtractor(conf.Server)
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.opts.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !conf.Debug {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	s.app.Use(middleware.BodyLimit(fmt.Sprintf("%dB", conf.Upload.MaxSize+bodyOverhead)))

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.opts.Logger, s.opts.Translator, s.signalShutdown)
	s.app.Debug = conf.Debug

	s.app.GET("/", s.home)

	api := s.app.Group("/api", s.rateLimit(core.RateLimitAPI))
	registerAuthAPI(api, s)
	registerFilesAPI(api, s)
}

// ipExtractor ignores X-Forwarded-For unless trusted proxies are configured.
func ipExtractor(conf core.ServerConfig) echo.IPExtractor {
	if len(conf.TrustedProxies) == 0 {
		return echo.ExtractIPDirect()
	}
	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, ipNet := range conf.TrustedProxies {
		opts = append(opts, echo.TrustIPRange(ipNet))
	}
	return echo.ExtractIPFromXFFHeader(opts...)
}

func (s *server) signalShutdown() {
	if s.opts.Shutdown != nil {
		s.opts.Shutdown <- syscall.SIGSTOP
	}
}

func (s *server) Start() error {
	return s.app.Start(s.opts.Conf.Server.Address)
}

func (s *server) Stop(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to "+s.opts.Conf.AppName+" API!")
}
