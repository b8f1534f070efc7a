package main

import (
	"context"
	"fmt"

	"github.com/trezcool/mashindano/core"
)

// eraseUser removes the user with everything they own. Nobody requests it from the CLI,
// so the self-deletion guard never applies.
func (cli *commandLine) eraseUser(uname string) error {
	ctx := context.Background()
	usr, err := cli.usrSvc.GetByUsernameOrEmail(ctx, core.CleanString(uname, true /* lower */))
	if err != nil {
		return err
	}
	if err := cli.usrSvc.Erase(ctx, usr.ID, ""); err != nil {
		return err
	}
	fmt.Printf("erased user %s (%s)\n", usr.Username, usr.ID)
	return nil
}
