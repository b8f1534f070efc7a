package main

import (
	"fmt"
	"log"
	"os"

	"github.com/trezcool/mashindano/core"
	"github.com/trezcool/mashindano/core/user"
	emailsvc "github.com/trezcool/mashindano/services/email"
	logsvc "github.com/trezcool/mashindano/services/logger"
	"github.com/trezcool/mashindano/storage/database"
	boiledrepos "github.com/trezcool/mashindano/storage/database/sqlboiler"
)

func main() {
	conf := core.NewConfig()

	logger := logsvc.NewRollbarLogger(log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile), conf)
	logger.Enable(false) // reported on the terminal only

	// set up DB
	if err := database.CreateIfNotExist(conf); err != nil {
		logger.Fatal(fmt.Sprintf("creating database: %v", err), err)
	}
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}

	// start CLI
	usrRepo := boiledrepos.NewUserRepository(db)
	cli := commandLine{
		db:      db,
		usrRepo: usrRepo,
		usrSvc:  user.NewService(db, usrRepo, emailsvc.NewConsoleService(conf, logger), logger, conf),
	}
	err = cli.run(os.Args)
	_ = db.Close()
	if err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("error: %v", err))
		}
		os.Exit(1)
	}
}
