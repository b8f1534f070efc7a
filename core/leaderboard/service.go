package leaderboard

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/mashindano/core"
	"github.com/trezcool/mashindano/core/user"
)

var (
	// errors
	ErrNotFound = core.NewAppError(core.KindNotFound, "achievement not found")
)

type (
	Repository interface {
		// QueryStandings returns every student with the sum of their points, in registration order.
		QueryStandings(ctx context.Context, exec ...core.DBExecutor) ([]Standing, error)
		QueryUserAchievements(ctx context.Context, userID string, exec ...core.DBExecutor) ([]Achievement, error)
		GetAchievement(ctx context.Context, id string, exec ...core.DBExecutor) (Achievement, error)
		CreateAchievement(ctx context.Context, a Achievement, exec ...core.DBExecutor) (Achievement, error)
		DeleteAchievement(ctx context.Context, id string, exec ...core.DBExecutor) error
		// DeleteExamAchievements deletes the achievements derived from the exam,
		// only those of userIDs when provided.
		DeleteExamAchievements(ctx context.Context, exec core.DBExecutor, examID string, userIDs ...string) error
		// RenameExamAchievements retitles the achievements derived from the exam.
		RenameExamAchievements(ctx context.Context, exec core.DBExecutor, examID, title string) error
	}

	Service interface {
		Standings(ctx context.Context) ([]Standing, error)
		UserAchievements(ctx context.Context, userID string) ([]Achievement, error)
		AwardBadge(ctx context.Context, nb NewBadge) (Achievement, error)
		RevokeBadge(ctx context.Context, id string) error
	}

	service struct {
		repo    Repository
		userSvc user.Service
	}
)

var _ Service = (*service)(nil) // interface compliance check

func NewService(repo Repository, userSvc user.Service) Service {
	return &service{repo: repo, userSvc: userSvc}
}

// Standings computes the ranked leaderboard from the achievements as they are now.
func (svc *service) Standings(ctx context.Context) ([]Standing, error) {
	standings, err := svc.repo.QueryStandings(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "querying standings")
	}
	return Rank(standings), nil
}

func (svc *service) UserAchievements(ctx context.Context, userID string) ([]Achievement, error) {
	if _, err := svc.userSvc.GetByID(ctx, userID); err != nil {
		return nil, err
	}
	return svc.repo.QueryUserAchievements(ctx, userID)
}

func (svc *service) AwardBadge(ctx context.Context, nb NewBadge) (Achievement, error) {
	if _, err := svc.userSvc.GetByID(ctx, nb.UserID); err != nil {
		return Achievement{}, err
	}
	return svc.repo.CreateAchievement(ctx, Achievement{
		ID:          uuid.New().String(),
		UserID:      nb.UserID,
		Title:       nb.Title,
		Description: nb.Description,
		Points:      nb.Points,
		DateAwarded: core.NowFunc(),
	})
}

// RevokeBadge deletes a manual badge. Exam-derived achievements only change through grading.
func (svc *service) RevokeBadge(ctx context.Context, id string) error {
	a, err := svc.repo.GetAchievement(ctx, id)
	if err != nil {
		return err
	}
	if !a.IsBadge() {
		return ErrNotFound
	}
	return svc.repo.DeleteAchievement(ctx, id)
}
