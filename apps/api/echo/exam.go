package echoapi

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/mashindano/core/exam"
	"github.com/trezcool/mashindano/core/user"
)

type examApi struct {
	svc      exam.Service
	userSvc  user.Service
	validate *validator.Validate
	now      func() time.Time
}

func registerExamAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps *ServerDeps) {
	api := examApi{
		svc:      deps.ExamSvc,
		userSvc:  deps.UserSvc,
		validate: deps.Validate,
		now:      deps.Now,
	}

	eg := g.Group("/exams", jwt)
	eg.GET("", api.query)
	eg.POST("", api.create, adminMiddleware())
	eg.GET("/:id", api.retrieve)
	eg.PUT("/:id", api.update, adminMiddleware())
	eg.DELETE("/:id", api.purge, adminMiddleware())
	eg.PUT("/:id/announcement", api.announce, graderMiddleware())
	eg.GET("/:id/registration", api.registration, studentMiddleware())
	eg.POST("/:id/register", api.register, studentMiddleware())
	eg.POST("/:id/submissions", api.submit, studentMiddleware())
	eg.GET("/:id/submissions", api.querySubmissions)

	g.PUT("/submissions/:id/grade", api.grade, jwt, graderMiddleware())
}

// Handlers

// query lists exams: graders see the catalogue, students see it with their own status.
func (api *examApi) query(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	reqCtx := ctx.Request().Context()

	if ctxUsr.CanGrade() {
		ordering := new(Ordering)
		if err := ordering.Bind(ctx, examOrderingFields...); err != nil {
			return err
		}
		exams, err := api.svc.Query(reqCtx, ordering.Orderings)
		if err != nil {
			return errors.Wrap(err, "querying exams")
		}
		if exams == nil {
			exams = []exam.Exam{}
		}
		return ctx.JSON(http.StatusOK, exams)
	}

	exams, err := api.svc.QueryForStudent(reqCtx, ctxUsr.ID, api.now())
	if err != nil {
		return errors.Wrap(err, "querying student exams")
	}
	if exams == nil {
		exams = []exam.StudentExam{}
	}
	return ctx.JSON(http.StatusOK, exams)
}

func (api *examApi) create(ctx echo.Context) error {
	var data exam.NewExam
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewExam")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	e, err := api.svc.Create(ctx.Request().Context(), data, ctxUsr)
	if err != nil {
		return errors.Wrap(err, "creating exam")
	}
	return ctx.JSON(http.StatusCreated, e)
}

func (api *examApi) retrieve(ctx echo.Context) error {
	e, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding exam")
	}
	return ctx.JSON(http.StatusOK, e)
}

func (api *examApi) update(ctx echo.Context) error {
	var data exam.UpdateExam
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateExam")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	e, err := api.svc.Update(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating exam")
	}
	return ctx.JSON(http.StatusOK, e)
}

func (api *examApi) purge(ctx echo.Context) error {
	if err := api.svc.Purge(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "purging exam")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *examApi) announce(ctx echo.Context) error {
	var data exam.Announcement
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Announcement")
	}
	data.Clean()

	e, err := api.svc.Announce(ctx.Request().Context(), ctx.Param("id"), data.Text)
	if err != nil {
		return errors.Wrap(err, "announcing")
	}
	return ctx.JSON(http.StatusOK, e)
}

func (api *examApi) registration(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	reqCtx := ctx.Request().Context()
	if _, err = api.svc.Get(reqCtx, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "finding exam")
	}

	registered, err := api.svc.IsRegistered(reqCtx, ctx.Param("id"), claims.Subject)
	if err != nil {
		return errors.Wrap(err, "checking registration")
	}
	return ctx.JSON(http.StatusOK, RegistrationStatus{IsRegistered: registered})
}

func (api *examApi) register(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	reg, err := api.svc.Register(ctx.Request().Context(), ctx.Param("id"), claims.Subject, api.now())
	if err != nil {
		return errors.Wrap(err, "registering")
	}
	return ctx.JSON(http.StatusOK, reg)
}

func (api *examApi) submit(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	var data exam.NewSubmission
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSubmission")
	}
	data.ExamID = ctx.Param("id")
	data.StudentID = claims.Subject
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	sub, err := api.svc.Submit(ctx.Request().Context(), data, api.now())
	if err != nil {
		return errors.Wrap(err, "submitting")
	}
	return ctx.JSON(http.StatusCreated, sub)
}

func (api *examApi) querySubmissions(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	subs, err := api.svc.QuerySubmissions(ctx.Request().Context(), ctx.Param("id"), ctxUsr)
	if err != nil {
		return errors.Wrap(err, "querying submissions")
	}
	if subs == nil {
		subs = []exam.Submission{}
	}
	return ctx.JSON(http.StatusOK, subs)
}

func (api *examApi) grade(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	var data exam.GradeSubmission
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to GradeSubmission")
	}
	data.SubmissionID = ctx.Param("id")
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	sub, err := api.svc.Grade(ctx.Request().Context(), data, ctxUsr, api.now())
	if err != nil {
		return errors.Wrap(err, "grading")
	}
	return ctx.JSON(http.StatusOK, sub)
}

type RegistrationStatus struct {
	IsRegistered bool `json:"is_registered"`
}
