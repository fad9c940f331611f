package main

import (
	"context"
	"log"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/guard"
	"github.com/trezcool/chuo/core/kv"
	"github.com/trezcool/chuo/core/password"
	"github.com/trezcool/chuo/core/user"
	"github.com/trezcool/chuo/services/email"
	"github.com/trezcool/chuo/services/logger"
	"github.com/trezcool/chuo/storage/database"
	"github.com/trezcool/chuo/storage/database/sqlx"
	"github.com/trezcool/chuo/storage/kv/redis"
)

var stdLogger *log.Logger

func main() {
	stdLogger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	ctx := context.Background()

	conf, err := core.NewConfig()
	errAndDie(err)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)

	// set up DB
	errAndDie(database.CreateIfNotExist(ctx, conf))
	db, err := database.Open(conf)
	errAndDie(err)
	defer func() { _ = db.Close() }()
	errAndDie(database.Ping(ctx, db))

	// lockouts live in the API's counter store
	var store kv.Store
	if conf.RedisURL != "" {
		client, err := rediskv.NewClient(ctx, conf.RedisURL)
		errAndDie(err)
		defer func() { _ = client.Close() }()
		store = rediskv.NewStore(client, "chuo:")
	} else {
		stdLogger.Println("REDIS_URL not set: lockouts are local to each API process and cannot be lifted from here")
		store = kv.NewMemoryStore()
	}

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	password.RegisterValidator(validate, translator)

	mailSvc := emailsvc.NewConsoleService(log.New(os.Stdout, "MAIL : ", log.LstdFlags), conf)
	if !conf.Debug && conf.Email.SendgridAPIKey != "" {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}

	// start CLI
	cli := commandLine{
		db:         db.DB,
		usrSvc:     user.NewService(sqlxrepos.NewUserRepository(db), mailSvc),
		lockout:    guard.NewLockoutTracker(store, conf.Lockout, logger),
		validate:   validate,
		translator: translator,
		out:        os.Stdout,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			stdLogger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		stdLogger.Fatal(err)
	}
}
