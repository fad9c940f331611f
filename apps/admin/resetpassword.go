package main

import (
	"context"
	"fmt"
)

func (cli *commandLine) resetPassword(ctx context.Context, email, pwd string) error {
	usr, err := cli.usrSvc.ResetPassword(ctx, email, pwd)
	if err != nil {
		return cli.describe(err)
	}
	// a forgotten password is the usual reason for a reset
	if err = cli.lockout.Unlock(ctx, usr.Email); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cli.out, "password reset for %s\n", usr.Email)
	return nil
}
