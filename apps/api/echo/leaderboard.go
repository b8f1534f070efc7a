package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/mashindano/core/leaderboard"
)

type leaderboardApi struct {
	svc      leaderboard.Service
	validate *validator.Validate
}

func registerLeaderboardAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps *ServerDeps) {
	api := leaderboardApi{
		svc:      deps.LeaderboardSvc,
		validate: deps.Validate,
	}

	g.GET("/leaderboard", api.standings, jwt)
	g.GET("/users/:id/achievements", api.userAchievements, jwt)

	ag := g.Group("/achievements", jwt, adminMiddleware())
	ag.POST("", api.awardBadge)
	ag.DELETE("/:id", api.revokeBadge)
}

// Handlers

func (api *leaderboardApi) standings(ctx echo.Context) error {
	standings, err := api.svc.Standings(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "computing standings")
	}
	if standings == nil {
		standings = []leaderboard.Standing{}
	}
	return ctx.JSON(http.StatusOK, standings)
}

func (api *leaderboardApi) userAchievements(ctx echo.Context) error {
	achievements, err := api.svc.UserAchievements(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "querying achievements")
	}
	if achievements == nil {
		achievements = []leaderboard.Achievement{}
	}
	return ctx.JSON(http.StatusOK, achievements)
}

func (api *leaderboardApi) awardBadge(ctx echo.Context) error {
	var data leaderboard.NewBadge
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewBadge")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	a, err := api.svc.AwardBadge(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "awarding badge")
	}
	return ctx.JSON(http.StatusCreated, a)
}

func (api *leaderboardApi) revokeBadge(ctx echo.Context) error {
	if err := api.svc.RevokeBadge(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "revoking badge")
	}
	return ctx.NoContent(http.StatusNoContent)
}
