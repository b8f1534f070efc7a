package echoapi

import (
	"context"
	"net/http"
	"os"
	"syscall"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/mashindano/core"
	"github.com/trezcool/mashindano/core/exam"
	"github.com/trezcool/mashindano/core/leaderboard"
	"github.com/trezcool/mashindano/core/user"
)

type (
	ServerDeps struct {
		Conf           *core.Config
		Logger         core.Logger
		UserSvc        user.Service
		ExamSvc        exam.Service
		LeaderboardSvc leaderboard.Service
		Validate       *validator.Validate
		Translator     ut.Translator
		// Now is read once per request; window checks use that value. Defaults to core.NowFunc.
		Now            func() time.Time
		DisableReqLogs bool
	}

	Server interface {
		http.Handler
		Start() error
		Stop(context.Context) error
	}

	server struct {
		address  string
		shutdown chan os.Signal
		deps     *ServerDeps
		auth     *authenticator
		app      *echo.Echo
	}
)

var _ Server = (*server)(nil)

func NewServer(address string, shutdown chan os.Signal, deps *ServerDeps) Server {
	if deps.Now == nil {
		deps.Now = func() time.Time { return core.NowFunc() }
	}
	s := &server{
		address:  address,
		shutdown: shutdown,
		deps:     deps,
		auth:     newAuthenticator(deps.Conf, deps.UserSvc),
		app:      echo.New(),
	}
	s.setup()
	return s
}

func (s *server) setup() {
	conf := s.deps.Conf

	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.deps.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Translator, s.signalShutdown)
	s.app.Debug = conf.Debug && !conf.TestMode
	s.app.Server.ReadTimeout = conf.Server.ReadTimeout
	s.app.Server.WriteTimeout = conf.Server.WriteTimeout

	s.app.GET("/", s.home)

	v1 := s.app.Group("/v1")
	jwt := s.auth.middleware()

	registerUserAPI(v1, jwt, s.auth, s.deps)
	registerExamAPI(v1, jwt, s.deps)
	registerLeaderboardAPI(v1, jwt, s.deps)
}

func (s *server) Start() error {
	return s.app.Start(s.address)
}

func (s *server) Stop(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *server) signalShutdown() {
	if s.shutdown != nil {
		s.shutdown <- syscall.SIGTERM
	}
}

func (s *server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to "+s.deps.Conf.AppName+" API!")
}
