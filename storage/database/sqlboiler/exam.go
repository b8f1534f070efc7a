package boiledrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/queries"

	"github.com/trezcool/mashindano/core"
	"github.com/trezcool/mashindano/core/exam"
)

const examColumns = `id, name, reg_start_time, reg_end_time, start_time, end_time, duration_minutes,
	announcement, question_url, created_by, created_at, updated_at`

var examOrderings = map[string]string{
	"name":           "name",
	"reg_start_time": "reg_start_time",
	"start_time":     "start_time",
	"end_time":       "end_time",
	"created_at":     "created_at",
}

type examRow struct {
	ID              string      `boil:"id"`
	Name            string      `boil:"name"`
	RegStartTime    time.Time   `boil:"reg_start_time"`
	RegEndTime      time.Time   `boil:"reg_end_time"`
	StartTime       time.Time   `boil:"start_time"`
	EndTime         time.Time   `boil:"end_time"`
	DurationMinutes int         `boil:"duration_minutes"`
	Announcement    null.String `boil:"announcement"`
	QuestionURL     null.String `boil:"question_url"`
	CreatedBy       string      `boil:"created_by"`
	CreatedAt       time.Time   `boil:"created_at"`
	UpdatedAt       time.Time   `boil:"updated_at"`
}

type studentExamRow struct {
	ID              string              `boil:"id"`
	Name            string              `boil:"name"`
	RegStartTime    time.Time           `boil:"reg_start_time"`
	RegEndTime      time.Time           `boil:"reg_end_time"`
	StartTime       time.Time           `boil:"start_time"`
	EndTime         time.Time           `boil:"end_time"`
	DurationMinutes int                 `boil:"duration_minutes"`
	Announcement    null.String         `boil:"announcement"`
	QuestionURL     null.String         `boil:"question_url"`
	CreatedBy       string              `boil:"created_by"`
	CreatedAt       time.Time           `boil:"created_at"`
	UpdatedAt       time.Time           `boil:"updated_at"`
	IsRegistered    bool                `boil:"is_registered"`
	HasSubmitted    bool                `boil:"has_submitted"`
	Score           decimal.NullDecimal `boil:"score"`
}

func (r studentExamRow) exam() examRow {
	return examRow{
		ID:              r.ID,
		Name:            r.Name,
		RegStartTime:    r.RegStartTime,
		RegEndTime:      r.RegEndTime,
		StartTime:       r.StartTime,
		EndTime:         r.EndTime,
		DurationMinutes: r.DurationMinutes,
		Announcement:    r.Announcement,
		QuestionURL:     r.QuestionURL,
		CreatedBy:       r.CreatedBy,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

type examRepository struct {
	repository
}

var _ exam.Repository = (*examRepository)(nil) // interface compliance check

func NewExamRepository(exec core.DBExecutor) *examRepository {
	return &examRepository{repository{exec: exec}}
}

func (repo examRepository) boil(e exam.Exam) examRow {
	return examRow{
		ID:              e.ID,
		Name:            e.Name,
		RegStartTime:    e.RegStartTime.UTC(),
		RegEndTime:      e.RegEndTime.UTC(),
		StartTime:       e.StartTime.UTC(),
		EndTime:         e.EndTime.UTC(),
		DurationMinutes: e.DurationMinutes,
		Announcement:    null.NewString(e.Announcement, e.Announcement != ""),
		QuestionURL:     null.NewString(e.QuestionURL, e.QuestionURL != ""),
		CreatedBy:       e.CreatedBy,
		CreatedAt:       e.CreatedAt.UTC(),
		UpdatedAt:       e.UpdatedAt.UTC(),
	}
}

func (repo examRepository) unboil(e examRow) exam.Exam {
	return exam.Exam{
		ID:              e.ID,
		Name:            e.Name,
		RegStartTime:    e.RegStartTime.UTC(),
		RegEndTime:      e.RegEndTime.UTC(),
		StartTime:       e.StartTime.UTC(),
		EndTime:         e.EndTime.UTC(),
		DurationMinutes: e.DurationMinutes,
		Announcement:    e.Announcement.String,
		QuestionURL:     e.QuestionURL.String,
		CreatedBy:       e.CreatedBy,
		CreatedAt:       e.CreatedAt.UTC(),
		UpdatedAt:       e.UpdatedAt.UTC(),
	}
}

// trapNoRowsErr maps psql "no rows" err to exam.ErrExamNotFound
func (repo examRepository) trapNoRowsErr(err error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return exam.ErrExamNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo examRepository) CreateExam(ctx context.Context, e exam.Exam, exec ...core.DBExecutor) (exam.Exam, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	r := repo.boil(e)

	var created examRow
	err := queries.Raw(
		`INSERT INTO exam (`+examColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING `+examColumns,
		r.ID, r.Name, r.RegStartTime, r.RegEndTime, r.StartTime, r.EndTime, r.DurationMinutes,
		r.Announcement, r.QuestionURL, r.CreatedBy, r.CreatedAt, r.UpdatedAt,
	).Bind(ctx, repo.getExec(exec), &created)
	if err != nil {
		return exam.Exam{}, errors.Wrap(err, "inserting exam")
	}
	return repo.unboil(created), nil
}

func (repo examRepository) GetExam(ctx context.Context, id string, exec ...core.DBExecutor) (exam.Exam, error) {
	if _, err := uuid.Parse(id); err != nil {
		return exam.Exam{}, exam.ErrExamNotFound
	}
	var r examRow
	if err := queries.Raw(`SELECT `+examColumns+` FROM exam WHERE id = $1`, id).Bind(ctx, repo.getExec(exec), &r); err != nil {
		return exam.Exam{}, repo.trapNoRowsErr(err, "finding exam")
	}
	return repo.unboil(r), nil
}

func (repo examRepository) UpdateExam(ctx context.Context, e exam.Exam, exec ...core.DBExecutor) (exam.Exam, error) {
	r := repo.boil(e)

	var updated examRow
	err := queries.Raw(
		`UPDATE exam SET
			name = $2, reg_start_time = $3, reg_end_time = $4, start_time = $5, end_time = $6,
			duration_minutes = $7, announcement = $8, question_url = $9, updated_at = $10
		WHERE id = $1
		RETURNING `+examColumns,
		r.ID, r.Name, r.RegStartTime, r.RegEndTime, r.StartTime, r.EndTime,
		r.DurationMinutes, r.Announcement, r.QuestionURL, r.UpdatedAt,
	).Bind(ctx, repo.getExec(exec), &updated)
	if err != nil {
		return exam.Exam{}, repo.trapNoRowsErr(err, "updating exam")
	}
	return repo.unboil(updated), nil
}

func (repo examRepository) QueryExams(ctx context.Context, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]exam.Exam, error) {
	var rows []examRow
	q := `SELECT ` + examColumns + ` FROM exam` + orderBy(ordering, examOrderings, "start_time DESC, id")
	if err := queries.Raw(q).Bind(ctx, repo.getExec(exec), &rows); err != nil {
		return nil, errors.Wrap(err, "querying exams")
	}
	exams := make([]exam.Exam, 0, len(rows))
	for _, r := range rows {
		exams = append(exams, repo.unboil(r))
	}
	return exams, nil
}

func (repo examRepository) QueryStudentExams(ctx context.Context, studentID string, exec ...core.DBExecutor) ([]exam.StudentExam, error) {
	var rows []studentExamRow
	err := queries.Raw(
		`SELECT e.id, e.name, e.reg_start_time, e.reg_end_time, e.start_time, e.end_time, e.duration_minutes,
			e.announcement, e.question_url, e.created_by, e.created_at, e.updated_at,
			(r.student_id IS NOT NULL) AS is_registered,
			(s.id IS NOT NULL) AS has_submitted,
			s.score
		FROM exam e
		LEFT JOIN registration r ON r.exam_id = e.id AND r.student_id = $1
		LEFT JOIN submission s ON s.exam_id = e.id AND s.student_id = $1
		ORDER BY e.start_time DESC, e.id`,
		studentID,
	).Bind(ctx, repo.getExec(exec), &rows)
	if err != nil {
		return nil, errors.Wrap(err, "querying student exams")
	}

	exams := make([]exam.StudentExam, 0, len(rows))
	for _, r := range rows {
		exams = append(exams, exam.StudentExam{
			Exam:         repo.unboil(r.exam()),
			IsRegistered: r.IsRegistered,
			HasSubmitted: r.HasSubmitted,
			Score:        r.Score,
		})
	}
	return exams, nil
}

func (repo examRepository) PurgeExam(ctx context.Context, id string, exec core.DBExecutor) error {
	for _, q := range []string{
		`DELETE FROM submission WHERE exam_id = $1`,
		`DELETE FROM registration WHERE exam_id = $1`,
		`DELETE FROM exam WHERE id = $1`,
	} {
		if _, err := exec.ExecContext(ctx, q, id); err != nil {
			return errors.Wrap(err, "purging exam")
		}
	}
	return nil
}
