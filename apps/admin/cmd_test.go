package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/guard"
	"github.com/trezcool/chuo/core/kv"
	"github.com/trezcool/chuo/core/user"
	"github.com/trezcool/chuo/storage/database/inmem"
	"github.com/trezcool/chuo/tests"
)

const strongPwd = "Tr0ub4dor&7Qz"

type fixture struct {
	cli     *commandLine
	usrRepo user.Repository
	mailer  *testutil.Mailer
	out     *bytes.Buffer
}

func setup(t *testing.T) *fixture {
	t.Helper()
	usrRepo := inmemdb.NewUserRepository(inmemdb.Open())
	mailer := testutil.NewMailer()
	store := kv.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	validate, translator := testutil.NewValidator()
	out := new(bytes.Buffer)

	return &fixture{
		cli: &commandLine{
			usrSvc:     user.NewService(usrRepo, mailer),
			lockout:    guard.NewLockoutTracker(store, core.LockoutConfig{MaxAttempts: 2, Duration: time.Minute}, testutil.NewLogger()),
			validate:   validate,
			translator: translator,
			out:        out,
		},
		usrRepo: usrRepo,
		mailer:  mailer,
		out:     out,
	}
}

func mockPassword(t *testing.T, pwd string) {
	t.Helper()
	orig := readPasswordFunc
	readPasswordFunc = func(int) ([]byte, error) { return []byte(pwd), nil }
	t.Cleanup(func() { readPasswordFunc = orig })
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func checkErr(t *testing.T, tt cliTest, err error) {
	t.Helper()
	switch {
	case tt.wantErr != nil:
		assert.Equal(t, tt.wantErr, err)
	case tt.wantErrStr != "":
		if assert.Error(t, err) {
			assert.Equal(t, tt.wantErrStr, err.Error())
		}
	default:
		assert.NoError(t, err)
	}
}

func Test_commandLine_run(t *testing.T) {
	f := setup(t)

	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.out.Reset()
			checkErr(t, tt, f.cli.run(append([]string{"admin"}, tt.args...)))
			assert.Contains(t, f.out.String(), "Usage:")
		})
	}
}

func Test_commandLine_migrate(t *testing.T) {
	f := setup(t)

	var gotCommand string
	orig := migrateFunc
	t.Cleanup(func() { migrateFunc = orig })
	migrateFunc = func(_ context.Context, _ *sql.DB, command string, args ...string) error {
		gotCommand = command
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "up", args: []string{"migrate", "up"}, extra: "up"},
		{name: "up-by-one", args: []string{"migrate", "up-by-one"}, extra: "up-by-one"},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}, extra: "up-to"},
		{name: "down", args: []string{"migrate", "down"}, extra: "down"},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}, extra: "down-to"},
		{name: "redo", args: []string{"migrate", "redo"}, extra: "redo"},
		{name: "status", args: []string{"migrate", "status"}, extra: "status"},
		{name: "version", args: []string{"migrate", "version"}, extra: "version"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotCommand = ""
			checkErr(t, tt, f.cli.run(append([]string{"admin"}, tt.args...)))
			if want, ok := tt.extra.(string); ok {
				assert.Equal(t, want, gotCommand)
			}
		})
	}
}

func Test_commandLine_addUser(t *testing.T) {
	f := setup(t)
	testutil.CreateUser(t, f.usrRepo, "Taken", "taken@test.cd", strongPwd, user.RoleStudent, true)

	tests := []cliTest{
		{name: "no args", args: []string{"adduser"}, wantErr: errHelp},
		{name: "no email", args: []string{"adduser", "-name", "Jane"}, wantErr: errHelp},
		{name: "bad role", args: []string{"adduser", "-name", "Jane", "-email", "jane@test.cd", "-role", "dean"}, wantErr: errHelp},
		{name: "no password", args: []string{"adduser", "-name", "Jane", "-email", "jane@test.cd"}, wantErr: errHelp},
		{
			name:       "weak password",
			args:       []string{"adduser", "-name", "Jane", "-email", "jane@test.cd"},
			extra:      "password",
			wantErrStr: "invalid input:\n  password: password is too common",
		},
		{
			name:  "duplicate email",
			args:  []string{"adduser", "-name", "Other", "-email", "TAKEN@test.cd"},
			extra: strongPwd,
			// the uniqueness check reports through the email field
			wantErrStr: "invalid input:\n  email: " + user.ErrEmailExists.Error(),
		},
		{name: "teacher created", args: []string{"adduser", "-name", "Jane", "-email", "Jane@Test.cd", "-role", "teacher"}, extra: strongPwd},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pwd, _ := tt.extra.(string)
			mockPassword(t, pwd)
			checkErr(t, tt, f.cli.run(append([]string{"admin"}, tt.args...)))
		})
	}

	usr, err := f.usrRepo.GetUserByEmail(context.Background(), "jane@test.cd")
	require.NoError(t, err)
	assert.Equal(t, "Jane", usr.Name)
	assert.Equal(t, user.RoleTeacher, usr.Role)
	assert.True(t, usr.IsActive)
	assert.NoError(t, usr.CheckPassword(strongPwd))
}

func Test_commandLine_resetPassword(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	usr := testutil.CreateUser(t, f.usrRepo, "Awe", "awe@test.cd", strongPwd, user.RoleStudent, true)

	// a reset also lifts the account's lockout
	for i := 0; i < 2; i++ {
		_, err := f.cli.lockout.Fail(ctx, usr.Email)
		require.NoError(t, err)
	}
	_, locked, err := f.cli.lockout.LockedUntil(ctx, usr.Email)
	require.NoError(t, err)
	require.True(t, locked)

	tests := []cliTest{
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "email but no password", args: []string{"resetpassword", "-email", usr.Email}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-email", "lol@test.cd"}, extra: strongPwd, wantErr: user.ErrNotFound},
		{
			name:       "weak password",
			args:       []string{"resetpassword", "-email", usr.Email},
			extra:      "short",
			wantErrStr: "invalid input:\n  password: password must contain at least 8 characters",
		},
		{name: "reset", args: []string{"resetpassword", "-email", "AWE@test.cd"}, extra: "N3w&Str0ng!Pass"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pwd, _ := tt.extra.(string)
			mockPassword(t, pwd)
			checkErr(t, tt, f.cli.run(append([]string{"admin"}, tt.args...)))
		})
	}

	refreshed, err := f.usrRepo.GetUserByID(ctx, usr.ID)
	require.NoError(t, err)
	assert.NoError(t, refreshed.CheckPassword("N3w&Str0ng!Pass"))
	assert.Len(t, f.mailer.Sent(), 1)

	_, locked, err = f.cli.lockout.LockedUntil(ctx, usr.Email)
	require.NoError(t, err)
	assert.False(t, locked)
}

func Test_commandLine_unlock(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.cli.lockout.Fail(ctx, "10.0.0.7")
		require.NoError(t, err)
	}
	require.Error(t, f.cli.lockout.Check(ctx, "10.0.0.7"))

	tests := []cliTest{
		{name: "no args", args: []string{"unlock"}, wantErr: errHelp},
		{name: "locked ip", args: []string{"unlock", "-id", "10.0.0.7"}, extra: "10.0.0.7 unlocked"},
		{name: "not locked", args: []string{"unlock", "-id", "Nobody@test.cd"}, extra: "nobody@test.cd was not locked"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.out.Reset()
			checkErr(t, tt, f.cli.run(append([]string{"admin"}, tt.args...)))
			if want, ok := tt.extra.(string); ok {
				assert.Contains(t, f.out.String(), want)
			}
		})
	}

	assert.NoError(t, f.cli.lockout.Check(ctx, "10.0.0.7"))
}
