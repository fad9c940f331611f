package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof on the default mux
	"os"
	"os/signal"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/chuo/apps/api/echo"
	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/auth"
	"github.com/trezcool/chuo/core/coursework"
	"github.com/trezcool/chuo/core/files"
	"github.com/trezcool/chuo/core/guard"
	"github.com/trezcool/chuo/core/kv"
	"github.com/trezcool/chuo/core/password"
	"github.com/trezcool/chuo/core/session"
	"github.com/trezcool/chuo/core/user"
	"github.com/trezcool/chuo/services/email"
	"github.com/trezcool/chuo/services/logger"
	"github.com/trezcool/chuo/storage/database"
	"github.com/trezcool/chuo/storage/database/inmem"
	"github.com/trezcool/chuo/storage/database/sqlx"
	"github.com/trezcool/chuo/storage/kv/redis"
)

const (
	engineMemory = "memory"
	redisPrefix  = "chuo:"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	conf, err := core.NewConfig()
	if err != nil {
		stdLogger.Fatalf("loading config: %v", err)
	}

	// set up loggers
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug && conf.RollbarToken != "")

	dbLogger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)

	ctx := context.Background()

	// set up repositories
	var (
		usrRepo user.Repository
		cwRepo  coursework.Repository
	)
	if conf.Database.Engine == engineMemory {
		db := inmemdb.Open()
		usrRepo = inmemdb.NewUserRepository(db)
		cwRepo = inmemdb.NewCourseworkRepository(db)
	} else {
		db, err := setUpDB(ctx, conf)
		if err != nil {
			logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
		}
		defer func() {
			if err := db.Close(); err != nil {
				dbLogger.Error("Failed to close", err)
			}
		}()
		usrRepo = sqlxrepos.NewUserRepository(db)
		cwRepo = sqlxrepos.NewCourseworkRepository(db)
	}

	// set up counters & sessions
	var (
		store          kv.Store
		sessionBackend session.Backend
	)
	if conf.RedisURL != "" {
		client, err := rediskv.NewClient(ctx, conf.RedisURL)
		if err != nil {
			logger.Fatal(fmt.Sprintf("connecting to redis: %v", err), err)
		}
		defer func() { _ = client.Close() }()
		store = rediskv.NewStore(client, redisPrefix)
		sessionBackend = rediskv.NewSessionBackend(client, redisPrefix)
	} else {
		memStore := kv.NewMemoryStore()
		defer func() { _ = memStore.Close() }()
		store = memStore
		memSessions := session.NewMemoryBackend()
		defer func() { _ = memSessions.Close() }()
		sessionBackend = memSessions
	}

	// set up services
	var mailSvc core.EmailService
	if conf.Debug || conf.Email.SendgridAPIKey == "" {
		mailSvc = emailsvc.NewConsoleService(log.New(os.Stdout, "MAIL : ", log.LstdFlags), conf)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}

	usrSvc := user.NewService(usrRepo, mailSvc)
	cwSvc := coursework.NewService(cwRepo, files.NewGateway(conf.Upload, logger), conf.Upload)

	tokens := auth.NewTokenManager(conf.SecretKey, conf.AppName, conf.Server.JWTExpirationDelta, store)
	sessions := session.NewStore(sessionBackend, conf.Session.MaxAge)
	cookie := auth.NewSessionCookie(conf.Session, conf.SessionSecret)
	lockout := guard.NewLockoutTracker(store, conf.Lockout, logger)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	password.RegisterValidator(validate, translator)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	server := echoapi.NewServer(&echoapi.Options{
		Conf:          conf,
		Logger:        logger,
		Validate:      validate,
		Translator:    translator,
		Shutdown:      shutdown,
		Limiter:       guard.NewRateLimiter(store, conf.RateLimit, logger),
		Verifier:      auth.NewVerifier(tokens, sessions, cookie, logger),
		Authorizer:    auth.NewAuthorizer(logger),
		Authenticator: auth.NewAuthenticator(usrSvc, lockout, tokens, mailSvc, logger),
		Sessions:      sessions,
		Cookie:        cookie,
		UserSvc:       usrSvc,
		CourseworkSvc: cwSvc,
	})

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info(fmt.Sprintf("API listening on %s", conf.Server.Address))
		serverErrors <- server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error(fmt.Sprintf("server error: %v", err), err)
		}

	case sig := <-shutdown:
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		if err = server.Stop(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)
		}
	}
}

func setUpDB(ctx context.Context, conf *core.Config) (*sqlx.DB, error) {
	if err := database.CreateIfNotExist(ctx, conf); err != nil {
		return nil, errors.Wrap(err, "creating database")
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}
	if err = database.Ping(ctx, db); err != nil {
		return nil, err
	}
	if err = database.Migrate(ctx, db.DB, "up"); err != nil {
		return nil, err
	}
	return db, nil
}
