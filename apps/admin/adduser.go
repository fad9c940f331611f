package main

import (
	"context"
	"fmt"

	"github.com/trezcool/chuo/core/user"
)

// addUser creates an active user with role. The password policy applies.
func (cli *commandLine) addUser(ctx context.Context, name, email, pwd string, role user.Role) error {
	nu := user.NewUser{
		Name:            name,
		Email:           email,
		Password:        pwd,
		PasswordConfirm: pwd,
		Role:            role,
	}
	if err := nu.Validate(ctx, cli.validate, cli.usrSvc); err != nil {
		return cli.describe(err)
	}
	usr, err := cli.usrSvc.Register(ctx, nu)
	if err != nil {
		return cli.describe(err)
	}
	_, _ = fmt.Fprintf(cli.out, "created %s %s (%s)\n", usr.Role, usr.Email, usr.ID)
	return nil
}
