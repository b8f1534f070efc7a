package exam

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/mashindano/core"
	"github.com/trezcool/mashindano/core/user"
)

var (
	// errors
	ErrExamNotFound       = core.NewAppError(core.KindNotFound, "exam not found")
	ErrSubmissionNotFound = core.NewAppError(core.KindNotFound, "submission not found")
	ErrRegistrationClosed = core.NewAppError(core.KindWindowClosed, "the registration window for this exam is closed")
	ErrSubmissionClosed   = core.NewAppError(core.KindWindowClosed, "the submission window for this exam is closed")
	ErrNotRegistered      = core.NewAppError(core.KindNotRegistered, "you are not registered for this exam")
	ErrAlreadySubmitted   = core.NewAppError(core.KindAlreadySubmitted, "you have already submitted an answer for this exam")
	ErrUnauthorized       = core.NewAppError(core.KindUnauthorized, "only moderators and admins can grade submissions")
)

type (
	Repository interface {
		CreateExam(ctx context.Context, e Exam, exec ...core.DBExecutor) (Exam, error)
		GetExam(ctx context.Context, id string, exec ...core.DBExecutor) (Exam, error)
		UpdateExam(ctx context.Context, e Exam, exec ...core.DBExecutor) (Exam, error)
		QueryExams(ctx context.Context, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Exam, error)
		// QueryStudentExams lists every exam with the student's registration and submission status.
		QueryStudentExams(ctx context.Context, studentID string, exec ...core.DBExecutor) ([]StudentExam, error)
		// PurgeExam deletes the exam with its submissions and registrations.
		PurgeExam(ctx context.Context, id string, exec core.DBExecutor) error

		// CreateRegistration inserts the registration unless it already exists.
		// created is false when the existing registration is returned.
		CreateRegistration(ctx context.Context, reg Registration, exec ...core.DBExecutor) (r Registration, created bool, err error)
		IsRegistered(ctx context.Context, examID, studentID string, exec ...core.DBExecutor) (bool, error)

		HasSubmitted(ctx context.Context, examID, studentID string, exec ...core.DBExecutor) (bool, error)
		// CreateSubmission returns ErrAlreadySubmitted if the student already submitted for the exam.
		CreateSubmission(ctx context.Context, sub Submission, exec ...core.DBExecutor) (Submission, error)
		GetSubmission(ctx context.Context, id string, exec ...core.DBExecutor) (Submission, error)
		// LockSubmission takes a row lock on the submission for the rest of the transaction.
		LockSubmission(ctx context.Context, id string, exec core.DBExecutor) (Submission, error)
		UpdateGrade(ctx context.Context, sub Submission, exec ...core.DBExecutor) (Submission, error)
		QuerySubmissions(ctx context.Context, examID string, exec ...core.DBExecutor) ([]Submission, error)
	}

	// ResultSyncer keeps derived records in line with the latest grade of a submission.
	ResultSyncer interface {
		SyncExamResult(ctx context.Context, exec core.DBExecutor, res ExamResult) error
		RemoveExamResults(ctx context.Context, exec core.DBExecutor, examID string) error
		RenameExamResults(ctx context.Context, exec core.DBExecutor, examID, name string) error
	}

	Service interface {
		Create(ctx context.Context, ne NewExam, creator user.User) (Exam, error)
		Get(ctx context.Context, id string) (Exam, error)
		Query(ctx context.Context, ordering []core.DBOrdering) ([]Exam, error)
		QueryForStudent(ctx context.Context, studentID string, now time.Time) ([]StudentExam, error)
		Update(ctx context.Context, id string, ue UpdateExam) (Exam, error)
		Announce(ctx context.Context, id string, text string) (Exam, error)
		Purge(ctx context.Context, id string) error

		Register(ctx context.Context, examID, studentID string, now time.Time) (Registration, error)
		IsRegistered(ctx context.Context, examID, studentID string) (bool, error)

		Submit(ctx context.Context, ns NewSubmission, now time.Time) (Submission, error)
		Grade(ctx context.Context, gs GradeSubmission, grader user.User, now time.Time) (Submission, error)
		QuerySubmissions(ctx context.Context, examID string, viewer user.User) ([]Submission, error)
	}

	service struct {
		db      core.DB
		repo    Repository
		syncer  ResultSyncer
		userSvc user.Service
		mailSvc core.EmailService
		logger  core.Logger
	}
)

var _ Service = (*service)(nil) // interface compliance check

func NewService(
	db core.DB,
	repo Repository,
	syncer ResultSyncer,
	userSvc user.Service,
	mailSvc core.EmailService,
	logger core.Logger,
) Service {
	return &service{
		db:      db,
		repo:    repo,
		syncer:  syncer,
		userSvc: userSvc,
		mailSvc: mailSvc,
		logger:  logger,
	}
}

func (svc *service) Create(ctx context.Context, ne NewExam, creator user.User) (Exam, error) {
	now := core.NowFunc()
	e := Exam{
		ID:              uuid.New().String(),
		Name:            ne.Name,
		RegStartTime:    ne.RegStartTime.UTC(),
		RegEndTime:      ne.RegEndTime.UTC(),
		StartTime:       ne.StartTime.UTC(),
		EndTime:         ne.EndTime.UTC(),
		DurationMinutes: ne.DurationMinutes,
		Announcement:    ne.Announcement,
		QuestionURL:     ne.QuestionURL,
		CreatedBy:       creator.ID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	return svc.repo.CreateExam(ctx, e)
}

func (svc *service) Get(ctx context.Context, id string) (Exam, error) {
	return svc.repo.GetExam(ctx, id)
}

func (svc *service) Query(ctx context.Context, ordering []core.DBOrdering) ([]Exam, error) {
	return svc.repo.QueryExams(ctx, ordering)
}

func (svc *service) QueryForStudent(ctx context.Context, studentID string, now time.Time) ([]StudentExam, error) {
	exams, err := svc.repo.QueryStudentExams(ctx, studentID)
	if err != nil {
		return nil, err
	}
	for i := range exams {
		exams[i].RegistrationState = exams[i].RegistrationWindow().State(now)
		exams[i].SubmissionState = exams[i].SubmissionWindow().State(now)
	}
	return exams, nil
}

// Update rewrites the exam. A rename is carried over to the achievements derived from it.
func (svc *service) Update(ctx context.Context, id string, ue UpdateExam) (Exam, error) {
	var updated Exam
	err := core.InTx(ctx, svc.db, func(tx core.DBExecutor) error {
		e, err := svc.repo.GetExam(ctx, id, tx)
		if err != nil {
			return err
		}
		renamed := e.Name != ue.Name

		e.Name = ue.Name
		e.RegStartTime = ue.RegStartTime.UTC()
		e.RegEndTime = ue.RegEndTime.UTC()
		e.StartTime = ue.StartTime.UTC()
		e.EndTime = ue.EndTime.UTC()
		e.DurationMinutes = ue.DurationMinutes
		e.Announcement = ue.Announcement
		e.QuestionURL = ue.QuestionURL
		e.UpdatedAt = core.NowFunc()
		if updated, err = svc.repo.UpdateExam(ctx, e, tx); err != nil {
			return err
		}

		if renamed {
			err = svc.syncer.RenameExamResults(ctx, tx, e.ID, e.Name)
			return errors.Wrap(err, "renaming exam results")
		}
		return nil
	})
	if err != nil {
		return Exam{}, err
	}
	return updated, nil
}

func (svc *service) Announce(ctx context.Context, id string, text string) (Exam, error) {
	e, err := svc.repo.GetExam(ctx, id)
	if err != nil {
		return Exam{}, err
	}
	e.Announcement = text
	e.UpdatedAt = core.NowFunc()
	return svc.repo.UpdateExam(ctx, e)
}

// Purge deletes the exam and everything derived from it, or nothing at all.
func (svc *service) Purge(ctx context.Context, id string) error {
	return core.InTx(ctx, svc.db, func(tx core.DBExecutor) error {
		if _, err := svc.repo.GetExam(ctx, id, tx); err != nil {
			return err
		}
		if err := svc.syncer.RemoveExamResults(ctx, tx, id); err != nil {
			return errors.Wrap(err, "removing exam results")
		}
		if err := svc.repo.PurgeExam(ctx, id, tx); err != nil {
			return errors.Wrap(err, "purging exam")
		}
		return nil
	})
}

// Register records the student's registration for the exam. Registering twice returns
// the existing registration.
func (svc *service) Register(ctx context.Context, examID, studentID string, now time.Time) (Registration, error) {
	if err := vala.BeginValidation().Validate(
		vala.StringNotEmpty(studentID, "studentID"),
	).Check(); err != nil {
		return Registration{}, errors.Wrap(err, "checking arguments")
	}

	e, err := svc.repo.GetExam(ctx, examID)
	if err != nil {
		return Registration{}, err
	}
	if !e.RegistrationWindow().Contains(now) {
		return Registration{}, ErrRegistrationClosed
	}

	reg, created, err := svc.repo.CreateRegistration(ctx, Registration{ExamID: e.ID, StudentID: studentID, CreatedAt: now})
	if err != nil {
		return Registration{}, errors.Wrap(err, "creating registration")
	}
	if created {
		svc.notifyRegistered(ctx, e, studentID)
	}
	return reg, nil
}

func (svc *service) IsRegistered(ctx context.Context, examID, studentID string) (bool, error) {
	return svc.repo.IsRegistered(ctx, examID, studentID)
}

// Submit records the student's only submission for the exam.
func (svc *service) Submit(ctx context.Context, ns NewSubmission, now time.Time) (Submission, error) {
	if err := vala.BeginValidation().Validate(
		vala.StringNotEmpty(ns.StudentID, "ns.StudentID"),
	).Check(); err != nil {
		return Submission{}, errors.Wrap(err, "checking arguments")
	}

	e, err := svc.repo.GetExam(ctx, ns.ExamID)
	if err != nil {
		return Submission{}, err
	}

	registered, err := svc.repo.IsRegistered(ctx, e.ID, ns.StudentID)
	if err != nil {
		return Submission{}, errors.Wrap(err, "checking registration")
	}
	if !registered {
		return Submission{}, ErrNotRegistered
	}

	if !e.SubmissionWindow().Contains(now) {
		return Submission{}, ErrSubmissionClosed
	}

	submitted, err := svc.repo.HasSubmitted(ctx, e.ID, ns.StudentID)
	if err != nil {
		return Submission{}, errors.Wrap(err, "checking prior submission")
	}
	if submitted {
		return Submission{}, ErrAlreadySubmitted
	}

	// the unique constraint settles concurrent submissions
	return svc.repo.CreateSubmission(ctx, Submission{
		ID:          uuid.New().String(),
		ExamID:      e.ID,
		StudentID:   ns.StudentID,
		Answer:      ns.Answer,
		FileURL:     ns.FileURL,
		SubmittedAt: now,
	})
}

// Grade overwrites the submission's grade and replaces the student's result for the exam
// in the same transaction.
func (svc *service) Grade(ctx context.Context, gs GradeSubmission, grader user.User, now time.Time) (Submission, error) {
	if !grader.CanGrade() {
		return Submission{}, ErrUnauthorized
	}
	if err := vala.BeginValidation().Validate(
		vala.StringNotEmpty(grader.ID, "grader.ID"),
	).Check(); err != nil {
		return Submission{}, errors.Wrap(err, "checking arguments")
	}
	if gs.Score == nil {
		return Submission{}, core.NewValidationError(nil, core.FieldError{Field: "score", Error: "this field is required"})
	}

	var (
		sub  Submission
		exam Exam
	)
	err := core.InTx(ctx, svc.db, func(tx core.DBExecutor) error {
		var err error
		if sub, err = svc.repo.LockSubmission(ctx, gs.SubmissionID, tx); err != nil {
			return err
		}
		if exam, err = svc.repo.GetExam(ctx, sub.ExamID, tx); err != nil {
			return errors.Wrap(err, "finding submission exam")
		}

		gradedAt := now
		sub.Score.Decimal = *gs.Score
		sub.Score.Valid = true
		sub.Feedback = gs.Feedback
		sub.MarkedBy = grader.ID
		sub.GradedAt = &gradedAt
		if sub, err = svc.repo.UpdateGrade(ctx, sub, tx); err != nil {
			return errors.Wrap(err, "updating grade")
		}

		err = svc.syncer.SyncExamResult(ctx, tx, ExamResult{
			StudentID: sub.StudentID,
			ExamID:    exam.ID,
			ExamName:  exam.Name,
			Score:     sub.Score.Decimal, // as stored
			Feedback:  sub.Feedback,
			At:        now,
		})
		return errors.Wrap(err, "syncing exam result")
	})
	if err != nil {
		return Submission{}, err
	}

	svc.notifyGraded(ctx, exam, sub)
	return sub, nil
}

// QuerySubmissions lists the exam's submissions. Viewers who cannot grade are told the exam does not exist.
func (svc *service) QuerySubmissions(ctx context.Context, examID string, viewer user.User) ([]Submission, error) {
	if !viewer.CanGrade() {
		return nil, ErrExamNotFound
	}
	if _, err := svc.repo.GetExam(ctx, examID); err != nil {
		return nil, err
	}
	return svc.repo.QuerySubmissions(ctx, examID)
}

// notifications: failures are logged, never returned

func (svc *service) notifyRegistered(ctx context.Context, e Exam, studentID string) {
	student, err := svc.userSvc.GetByID(ctx, studentID)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("registration email: finding student %s: %v", studentID, err), err)
		return
	}
	if student.Email == "" {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: student.Name, Address: student.Email}},
		Subject:      "Registration confirmed: " + e.Name,
		TemplateName: "exam_registration",
		TemplateData: map[string]string{
			"Name":      student.Name,
			"ExamName":  e.Name,
			"StartTime": e.StartTime.Format(time.RFC1123),
			"EndTime":   e.EndTime.Format(time.RFC1123),
		},
	})
}

func (svc *service) notifyGraded(ctx context.Context, e Exam, sub Submission) {
	student, err := svc.userSvc.GetByID(ctx, sub.StudentID)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("grade email: finding student %s: %v", sub.StudentID, err), err)
		return
	}
	if student.Email == "" {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: student.Name, Address: student.Email}},
		Subject:      "Your submission has been graded: " + e.Name,
		TemplateName: "submission_graded",
		TemplateData: map[string]string{
			"Name":     student.Name,
			"ExamName": e.Name,
			"Score":    sub.Score.Decimal.String(),
			"Feedback": sub.Feedback,
		},
	})
}
