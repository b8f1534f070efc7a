package boiledrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/sqlboiler/v4/queries"

	"github.com/trezcool/mashindano/core"
	"github.com/trezcool/mashindano/core/exam"
	"github.com/trezcool/mashindano/core/user"
	"github.com/trezcool/mashindano/storage/database"
)

type registrationRow struct {
	ExamID    string    `boil:"exam_id"`
	StudentID string    `boil:"student_id"`
	CreatedAt time.Time `boil:"created_at"`
}

func (r registrationRow) unboil() exam.Registration {
	return exam.Registration{ExamID: r.ExamID, StudentID: r.StudentID, CreatedAt: r.CreatedAt.UTC()}
}

func (repo examRepository) CreateRegistration(
	ctx context.Context,
	reg exam.Registration,
	exec ...core.DBExecutor,
) (exam.Registration, bool, error) {
	if _, err := uuid.Parse(reg.ExamID); err != nil {
		return exam.Registration{}, false, exam.ErrExamNotFound
	}
	if reg.CreatedAt.IsZero() {
		reg.CreatedAt = core.NowFunc()
	}
	db := repo.getExec(exec)

	// concurrent duplicates resolve to a single row: losers insert nothing and read the winner's
	var r registrationRow
	err := queries.Raw(
		`INSERT INTO registration (exam_id, student_id, created_at) VALUES ($1, $2, $3)
		ON CONFLICT ON CONSTRAINT registration_pkey DO NOTHING
		RETURNING exam_id, student_id, created_at`,
		reg.ExamID, reg.StudentID, reg.CreatedAt.UTC(),
	).Bind(ctx, db, &r)
	switch {
	case err == nil:
		return r.unboil(), true, nil
	case errors.Cause(err) != sql.ErrNoRows:
		if database.IsForeignKeyViolation(err, "registration_exam_id_fkey") {
			return exam.Registration{}, false, exam.ErrExamNotFound
		}
		if database.IsForeignKeyViolation(err, "registration_student_id_fkey") {
			return exam.Registration{}, false, user.ErrNotFound
		}
		return exam.Registration{}, false, errors.Wrap(err, "inserting registration")
	}

	err = queries.Raw(
		`SELECT exam_id, student_id, created_at FROM registration WHERE exam_id = $1 AND student_id = $2`,
		reg.ExamID, reg.StudentID,
	).Bind(ctx, db, &r)
	if err != nil {
		return exam.Registration{}, false, errors.Wrap(err, "finding registration")
	}
	return r.unboil(), false, nil
}

func (repo examRepository) IsRegistered(ctx context.Context, examID, studentID string, exec ...core.DBExecutor) (bool, error) {
	var exists bool
	err := repo.getExec(exec).QueryRowContext(
		ctx,
		`SELECT EXISTS (SELECT 1 FROM registration WHERE exam_id = $1 AND student_id = $2)`,
		examID, studentID,
	).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "checking registration")
	}
	return exists, nil
}
