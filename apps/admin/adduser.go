package main

import (
	"context"

	"github.com/trezcool/mashindano/core"
	"github.com/trezcool/mashindano/core/user"
)

// addUser updates or creates an active user.User
func (cli *commandLine) addUser(name, uname, email, pwd string, isAdmin bool) (user.User, error) {
	ctx := context.Background()
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)

	lookup := uname
	if lookup == "" {
		lookup = email
	}
	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{UsernameOrEmail: lookup})
	if err != nil {
		if err != user.ErrNotFound {
			return user.User{}, err
		}
		now := core.NowFunc()
		usr = user.User{
			Username:  uname,
			Email:     email,
			Role:      user.RoleStudent,
			CreatedAt: now,
		}
	}
	if name != "" {
		usr.Name = name
	}
	if isAdmin {
		usr.Role = user.RoleAdmin
	}
	usr.UpdatedAt = core.NowFunc()
	usr.SetActive(true)
	if err := usr.SetPassword(pwd); err != nil {
		return user.User{}, err
	}
	return cli.usrRepo.UpdateOrCreateUser(ctx, usr)
}
