package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"golang.org/x/term"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/guard"
	"github.com/trezcool/chuo/core/user"
	"github.com/trezcool/chuo/storage/database"
)

var (
	readPasswordFunc = term.ReadPassword // mockable
	migrateFunc      = database.Migrate  // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db         *sql.DB
	usrSvc     *user.Service
	lockout    *guard.LockoutTracker
	validate   *validator.Validate
	translator ut.Translator
	out        io.Writer
}

func (cli *commandLine) printUsage() {
	_, _ = fmt.Fprintln(cli.out, "Usage:")
	_, _ = fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS]                           - run a goose command (up, down, status, version...)")
	_, _ = fmt.Fprintln(cli.out, "  adduser -name NAME -email EMAIL [-role ROLE]     - create a user")
	_, _ = fmt.Fprintln(cli.out, "  resetpassword -email EMAIL                       - reset user's password")
	_, _ = fmt.Fprintln(cli.out, "  unlock -id EMAIL|IP                              - lift a sign-in lockout")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}
	ctx := context.Background()

	addUserCmd := flag.NewFlagSet("adduser", flag.ContinueOnError)
	addUserCmd.SetOutput(cli.out)
	addUserName := addUserCmd.String("name", "", "The user's full name.")
	addUserEmail := addUserCmd.String("email", "", "The user's email. The password will be prompted next.")
	addUserRole := addUserCmd.String("role", string(user.RoleStudent), "One of: student, teacher, admin.")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ContinueOnError)
	resetPasswordCmd.SetOutput(cli.out)
	resetPasswordEmail := resetPasswordCmd.String("email", "", "The user's email. The password will be prompted next.")

	unlockCmd := flag.NewFlagSet("unlock", flag.ContinueOnError)
	unlockCmd.SetOutput(cli.out)
	unlockID := unlockCmd.String("id", "", "The locked out email or client IP.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(ctx, args[2:])

	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return err
		}
		role, ok := user.ParseRole(*addUserRole)
		if *addUserName == "" || *addUserEmail == "" || !ok {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, err := cli.readPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			addUserCmd.Usage()
			return errHelp
		}
		return cli.addUser(ctx, *addUserName, *addUserEmail, pwd, role)

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resetPasswordEmail == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := cli.readPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.resetPassword(ctx, *resetPasswordEmail, pwd)

	case "unlock":
		if err := unlockCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *unlockID == "" {
			unlockCmd.Usage()
			return errHelp
		}
		return cli.unlock(ctx, *unlockID)

	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) readPassword() (string, error) {
	_, _ = fmt.Fprint(cli.out, "Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	_, _ = fmt.Fprintln(cli.out)
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}

// describe flattens validation failures into a readable error.
func (cli *commandLine) describe(err error) error {
	var vErrs validator.ValidationErrors
	if errors.As(err, &vErrs) {
		return describeFields(core.TranslateValidationErrors(vErrs, cli.translator))
	}
	if appErr, ok := core.AsError(err); ok && len(appErr.Fields) > 0 {
		return describeFields(appErr.Fields)
	}
	return err
}

func describeFields(flds []core.FieldError) error {
	msg := "invalid input:"
	for _, fld := range flds {
		msg += fmt.Sprintf("\n  %s: %s", fld.Field, fld.Error)
	}
	return errors.New(msg)
}
