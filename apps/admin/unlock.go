package main

import (
	"context"
	"fmt"

	"github.com/trezcool/chuo/core"
)

func (cli *commandLine) unlock(ctx context.Context, id string) error {
	id = core.CleanString(id, true /* lower */)
	until, locked, err := cli.lockout.LockedUntil(ctx, id)
	if err != nil {
		return err
	}
	if err = cli.lockout.Unlock(ctx, id); err != nil {
		return err
	}
	if locked {
		_, _ = fmt.Fprintf(cli.out, "%s unlocked (was locked until %s)\n", id, until.UTC().Format("2006-01-02 15:04:05 MST"))
	} else {
		_, _ = fmt.Fprintf(cli.out, "%s was not locked; failure count cleared\n", id)
	}
	return nil
}
