package boiledrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/queries"

	"github.com/trezcool/mashindano/core"
	"github.com/trezcool/mashindano/core/leaderboard"
	"github.com/trezcool/mashindano/core/user"
)

const achievementColumns = `id, user_id, exam_id, title, description, points, date_awarded`

type achievementRow struct {
	ID          string      `boil:"id"`
	UserID      string      `boil:"user_id"`
	ExamID      null.String `boil:"exam_id"`
	Title       string      `boil:"title"`
	Description string      `boil:"description"`
	Points      int         `boil:"points"`
	DateAwarded time.Time   `boil:"date_awarded"`
}

type standingRow struct {
	UserID   string      `boil:"user_id"`
	Name     string      `boil:"name"`
	Username null.String `boil:"username"`
	Points   int         `boil:"points"`
}

type leaderboardRepository struct {
	repository
}

var _ leaderboard.Repository = (*leaderboardRepository)(nil) // interface compliance check

func NewLeaderboardRepository(exec core.DBExecutor) *leaderboardRepository {
	return &leaderboardRepository{repository{exec: exec}}
}

func (repo leaderboardRepository) boil(a leaderboard.Achievement) achievementRow {
	return achievementRow{
		ID:          a.ID,
		UserID:      a.UserID,
		ExamID:      null.NewString(a.ExamID, a.ExamID != ""),
		Title:       a.Title,
		Description: a.Description,
		Points:      a.Points,
		DateAwarded: a.DateAwarded.UTC(),
	}
}

func (repo leaderboardRepository) unboil(r achievementRow) leaderboard.Achievement {
	return leaderboard.Achievement{
		ID:          r.ID,
		UserID:      r.UserID,
		ExamID:      r.ExamID.String,
		Title:       r.Title,
		Description: r.Description,
		Points:      r.Points,
		DateAwarded: r.DateAwarded.UTC(),
	}
}

// QueryStandings sums the points of every student, including those without achievements.
// Rows come in registration order so that ranking ties stay stable.
func (repo leaderboardRepository) QueryStandings(ctx context.Context, exec ...core.DBExecutor) ([]leaderboard.Standing, error) {
	var rows []standingRow
	err := queries.Raw(
		`SELECT u.id AS user_id, u.name, u.username, COALESCE(SUM(a.points), 0) AS points
		FROM "user" u
		LEFT JOIN achievement a ON a.user_id = u.id
		WHERE u.role = $1
		GROUP BY u.id
		ORDER BY u.created_at, u.id`,
		user.RoleStudent,
	).Bind(ctx, repo.getExec(exec), &rows)
	if err != nil {
		return nil, errors.Wrap(err, "querying standings")
	}

	standings := make([]leaderboard.Standing, 0, len(rows))
	for _, r := range rows {
		standings = append(standings, leaderboard.Standing{
			UserID:   r.UserID,
			Name:     r.Name,
			Username: r.Username.String,
			Points:   r.Points,
		})
	}
	return standings, nil
}

func (repo leaderboardRepository) QueryUserAchievements(ctx context.Context, userID string, exec ...core.DBExecutor) ([]leaderboard.Achievement, error) {
	var rows []achievementRow
	err := queries.Raw(
		`SELECT `+achievementColumns+` FROM achievement WHERE user_id = $1 ORDER BY date_awarded DESC, id`,
		userID,
	).Bind(ctx, repo.getExec(exec), &rows)
	if err != nil {
		return nil, errors.Wrap(err, "querying achievements")
	}
	achievements := make([]leaderboard.Achievement, 0, len(rows))
	for _, r := range rows {
		achievements = append(achievements, repo.unboil(r))
	}
	return achievements, nil
}

func (repo leaderboardRepository) GetAchievement(ctx context.Context, id string, exec ...core.DBExecutor) (leaderboard.Achievement, error) {
	if _, err := uuid.Parse(id); err != nil {
		return leaderboard.Achievement{}, leaderboard.ErrNotFound
	}
	var r achievementRow
	err := queries.Raw(`SELECT `+achievementColumns+` FROM achievement WHERE id = $1`, id).Bind(ctx, repo.getExec(exec), &r)
	if err != nil {
		if errors.Cause(err) == sql.ErrNoRows {
			return leaderboard.Achievement{}, leaderboard.ErrNotFound
		}
		return leaderboard.Achievement{}, errors.Wrap(err, "finding achievement")
	}
	return repo.unboil(r), nil
}

func (repo leaderboardRepository) CreateAchievement(ctx context.Context, a leaderboard.Achievement, exec ...core.DBExecutor) (leaderboard.Achievement, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	r := repo.boil(a)

	var created achievementRow
	err := queries.Raw(
		`INSERT INTO achievement (`+achievementColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+achievementColumns,
		r.ID, r.UserID, r.ExamID, r.Title, r.Description, r.Points, r.DateAwarded,
	).Bind(ctx, repo.getExec(exec), &created)
	if err != nil {
		return leaderboard.Achievement{}, errors.Wrap(err, "inserting achievement")
	}
	return repo.unboil(created), nil
}

func (repo leaderboardRepository) DeleteAchievement(ctx context.Context, id string, exec ...core.DBExecutor) error {
	res, err := repo.getExec(exec).ExecContext(ctx, `DELETE FROM achievement WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deleting achievement")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return leaderboard.ErrNotFound
	}
	return nil
}

func (repo leaderboardRepository) DeleteExamAchievements(ctx context.Context, exec core.DBExecutor, examID string, userIDs ...string) error {
	q, args := `DELETE FROM achievement WHERE exam_id = ?`, []interface{}{examID}
	if len(userIDs) > 0 {
		q += ` AND user_id IN (?)`
		args = append(args, userIDs)
	}
	q, args, err := in(q, args...)
	if err != nil {
		return errors.Wrap(err, "building achievements deletion")
	}
	if _, err := exec.ExecContext(ctx, q, args...); err != nil {
		return errors.Wrap(err, "deleting exam achievements")
	}
	return nil
}

func (repo leaderboardRepository) RenameExamAchievements(ctx context.Context, exec core.DBExecutor, examID, title string) error {
	// the description reads "Scored <score> in <title>."
	_, err := exec.ExecContext(
		ctx,
		`UPDATE achievement
		SET title = $2::text, description = replace(description, ' in ' || title || '.', ' in ' || $2::text || '.')
		WHERE exam_id = $1`,
		examID, title,
	)
	return errors.Wrap(err, "renaming exam achievements")
}
