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
	"github.com/trezcool/mashindano/core/user"
	"github.com/trezcool/mashindano/storage/database"
)

const submissionColumns = `id, exam_id, student_id, answer, file_url, score, feedback, marked_by, submitted_at, graded_at`

type submissionRow struct {
	ID          string              `boil:"id"`
	ExamID      string              `boil:"exam_id"`
	StudentID   string              `boil:"student_id"`
	Answer      string              `boil:"answer"`
	FileURL     null.String         `boil:"file_url"`
	Score       decimal.NullDecimal `boil:"score"`
	Feedback    null.String         `boil:"feedback"`
	MarkedBy    null.String         `boil:"marked_by"`
	SubmittedAt time.Time           `boil:"submitted_at"`
	GradedAt    null.Time           `boil:"graded_at"`
}

type submissionListRow struct {
	ID          string              `boil:"id"`
	ExamID      string              `boil:"exam_id"`
	StudentID   string              `boil:"student_id"`
	Answer      string              `boil:"answer"`
	FileURL     null.String         `boil:"file_url"`
	Score       decimal.NullDecimal `boil:"score"`
	Feedback    null.String         `boil:"feedback"`
	MarkedBy    null.String         `boil:"marked_by"`
	SubmittedAt time.Time           `boil:"submitted_at"`
	GradedAt    null.Time           `boil:"graded_at"`
	StudentName string              `boil:"student_name"`
}

func (repo examRepository) boilSubmission(sub exam.Submission) submissionRow {
	r := submissionRow{
		ID:          sub.ID,
		ExamID:      sub.ExamID,
		StudentID:   sub.StudentID,
		Answer:      sub.Answer,
		FileURL:     null.NewString(sub.FileURL, sub.FileURL != ""),
		Score:       sub.Score,
		Feedback:    null.NewString(sub.Feedback, sub.Feedback != ""),
		MarkedBy:    null.NewString(sub.MarkedBy, sub.MarkedBy != ""),
		SubmittedAt: sub.SubmittedAt.UTC(),
	}
	if sub.GradedAt != nil {
		r.GradedAt = null.TimeFrom(sub.GradedAt.UTC())
	}
	return r
}

func (repo examRepository) unboilSubmission(r submissionRow) exam.Submission {
	sub := exam.Submission{
		ID:          r.ID,
		ExamID:      r.ExamID,
		StudentID:   r.StudentID,
		Answer:      r.Answer,
		FileURL:     r.FileURL.String,
		Score:       r.Score,
		Feedback:    r.Feedback.String,
		MarkedBy:    r.MarkedBy.String,
		SubmittedAt: r.SubmittedAt.UTC(),
	}
	if r.GradedAt.Valid {
		gradedAt := r.GradedAt.Time.UTC()
		sub.GradedAt = &gradedAt
	}
	return sub
}

// trapSubmissionNoRowsErr maps psql "no rows" err to exam.ErrSubmissionNotFound
func (repo examRepository) trapSubmissionNoRowsErr(err error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return exam.ErrSubmissionNotFound
	}
	return errors.Wrap(err, msg)
}

// trapSubmissionFKErr maps a reference lost to a concurrent purge or erasure
// to the error the precondition checks report. It returns nil for any other err.
func (repo examRepository) trapSubmissionFKErr(err error) error {
	switch {
	case database.IsForeignKeyViolation(err, "submission_exam_id_fkey"):
		return exam.ErrExamNotFound
	case database.IsForeignKeyViolation(err, "submission_student_id_fkey"),
		database.IsForeignKeyViolation(err, "submission_marked_by_fkey"):
		return user.ErrNotFound
	}
	return nil
}

func (repo examRepository) HasSubmitted(ctx context.Context, examID, studentID string, exec ...core.DBExecutor) (bool, error) {
	var exists bool
	err := repo.getExec(exec).QueryRowContext(
		ctx,
		`SELECT EXISTS (SELECT 1 FROM submission WHERE exam_id = $1 AND student_id = $2)`,
		examID, studentID,
	).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "checking submission")
	}
	return exists, nil
}

func (repo examRepository) CreateSubmission(ctx context.Context, sub exam.Submission, exec ...core.DBExecutor) (exam.Submission, error) {
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	r := repo.boilSubmission(sub)

	var created submissionRow
	err := queries.Raw(
		`INSERT INTO submission (id, exam_id, student_id, answer, file_url, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+submissionColumns,
		r.ID, r.ExamID, r.StudentID, r.Answer, r.FileURL, r.SubmittedAt,
	).Bind(ctx, repo.getExec(exec), &created)
	if err != nil {
		if database.IsUniqueViolation(err, "submission_exam_id_student_id_key") {
			return exam.Submission{}, exam.ErrAlreadySubmitted
		}
		if fkErr := repo.trapSubmissionFKErr(err); fkErr != nil {
			return exam.Submission{}, fkErr
		}
		return exam.Submission{}, errors.Wrap(err, "inserting submission")
	}
	return repo.unboilSubmission(created), nil
}

func (repo examRepository) GetSubmission(ctx context.Context, id string, exec ...core.DBExecutor) (exam.Submission, error) {
	if _, err := uuid.Parse(id); err != nil {
		return exam.Submission{}, exam.ErrSubmissionNotFound
	}
	var r submissionRow
	err := queries.Raw(`SELECT `+submissionColumns+` FROM submission WHERE id = $1`, id).Bind(ctx, repo.getExec(exec), &r)
	if err != nil {
		return exam.Submission{}, repo.trapSubmissionNoRowsErr(err, "finding submission")
	}
	return repo.unboilSubmission(r), nil
}

func (repo examRepository) LockSubmission(ctx context.Context, id string, exec core.DBExecutor) (exam.Submission, error) {
	if _, err := uuid.Parse(id); err != nil {
		return exam.Submission{}, exam.ErrSubmissionNotFound
	}
	var r submissionRow
	err := queries.Raw(`SELECT `+submissionColumns+` FROM submission WHERE id = $1 FOR UPDATE`, id).Bind(ctx, exec, &r)
	if err != nil {
		return exam.Submission{}, repo.trapSubmissionNoRowsErr(err, "locking submission")
	}
	return repo.unboilSubmission(r), nil
}

func (repo examRepository) UpdateGrade(ctx context.Context, sub exam.Submission, exec ...core.DBExecutor) (exam.Submission, error) {
	r := repo.boilSubmission(sub)

	var updated submissionRow
	err := queries.Raw(
		`UPDATE submission SET score = $2, feedback = $3, marked_by = $4, graded_at = $5
		WHERE id = $1
		RETURNING `+submissionColumns,
		r.ID, r.Score, r.Feedback, r.MarkedBy, r.GradedAt,
	).Bind(ctx, repo.getExec(exec), &updated)
	if err != nil {
		if fkErr := repo.trapSubmissionFKErr(err); fkErr != nil {
			return exam.Submission{}, fkErr
		}
		return exam.Submission{}, repo.trapSubmissionNoRowsErr(err, "updating grade")
	}
	return repo.unboilSubmission(updated), nil
}

func (repo examRepository) QuerySubmissions(ctx context.Context, examID string, exec ...core.DBExecutor) ([]exam.Submission, error) {
	var rows []submissionListRow
	err := queries.Raw(
		`SELECT s.id, s.exam_id, s.student_id, s.answer, s.file_url, s.score, s.feedback, s.marked_by,
			s.submitted_at, s.graded_at, u.name AS student_name
		FROM submission s
		JOIN "user" u ON u.id = s.student_id
		WHERE s.exam_id = $1
		ORDER BY s.submitted_at, s.id`,
		examID,
	).Bind(ctx, repo.getExec(exec), &rows)
	if err != nil {
		return nil, errors.Wrap(err, "querying submissions")
	}

	subs := make([]exam.Submission, 0, len(rows))
	for _, r := range rows {
		sub := repo.unboilSubmission(submissionRow{
			ID:          r.ID,
			ExamID:      r.ExamID,
			StudentID:   r.StudentID,
			Answer:      r.Answer,
			FileURL:     r.FileURL,
			Score:       r.Score,
			Feedback:    r.Feedback,
			MarkedBy:    r.MarkedBy,
			SubmittedAt: r.SubmittedAt,
			GradedAt:    r.GradedAt,
		})
		sub.StudentName = r.StudentName
		subs = append(subs, sub)
	}
	return subs, nil
}
