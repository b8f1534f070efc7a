package dig_container

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/mashindano/apps/api/echo"
	"github.com/trezcool/mashindano/core"
	"github.com/trezcool/mashindano/core/exam"
	"github.com/trezcool/mashindano/core/leaderboard"
	"github.com/trezcool/mashindano/core/user"
	emailsvc "github.com/trezcool/mashindano/services/email"
	logsvc "github.com/trezcool/mashindano/services/logger"
	"github.com/trezcool/mashindano/storage/database"
	boiledrepos "github.com/trezcool/mashindano/storage/database/sqlboiler"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

type ServerParams struct {
	dig.In
	Conf           *core.Config
	Logger         core.Logger
	Shutdown       chan os.Signal
	UserSvc        user.Service
	ExamSvc        exam.Service
	LeaderboardSvc leaderboard.Service
	Validate       *validator.Validate
	Translator     ut.Translator
}

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags)
	return logsvc.NewRollbarLogger(stdLogger, conf)
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	return logsvc.NewRollbarLogger(stdLogger, conf)
}

func newDB(conf *core.Config, loggerParam DBLoggerParam) (*sql.DB, core.DB, core.DBExecutor) {
	setUp := func() (*sql.DB, error) {
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(db, "up"); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db, db, db
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

// newShutdownChannel relays SIGINT and SIGTERM. The server also writes to it on fatal errors.
func newShutdownChannel() chan os.Signal {
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	return shutdown
}

func newServer(p ServerParams) echoapi.Server {
	return echoapi.NewServer(p.Conf.Server.Address, p.Shutdown, &echoapi.ServerDeps{
		Conf:           p.Conf,
		Logger:         p.Logger,
		UserSvc:        p.UserSvc,
		ExamSvc:        p.ExamSvc,
		LeaderboardSvc: p.LeaderboardSvc,
		Validate:       p.Validate,
		Translator:     p.Translator,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newDB))
	must(c.Provide(newEmailService))
	must(c.Provide(newShutdownChannel))

	must(c.Provide(boiledrepos.NewUserRepository, dig.As(new(user.Repository))))
	must(c.Provide(boiledrepos.NewExamRepository, dig.As(new(exam.Repository))))
	must(c.Provide(boiledrepos.NewLeaderboardRepository, dig.As(new(leaderboard.Repository))))

	must(c.Provide(leaderboard.NewSynchronizer, dig.As(new(exam.ResultSyncer))))
	must(c.Provide(user.NewService))
	must(c.Provide(exam.NewService))
	must(c.Provide(leaderboard.NewService))

	must(c.Provide(validator.New))
	must(c.Provide(newTranslator))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
