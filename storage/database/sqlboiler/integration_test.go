package boiledrepos

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/mashindano/core"
	"github.com/trezcool/mashindano/core/exam"
	"github.com/trezcool/mashindano/core/leaderboard"
	"github.com/trezcool/mashindano/core/user"
	emailsvc "github.com/trezcool/mashindano/services/email"
	"github.com/trezcool/mashindano/tests/testutil"
)

type loggerStub struct{}

func (loggerStub) Debug(string, ...interface{}) {}
func (loggerStub) Info(string, ...interface{})  {}
func (loggerStub) Warn(string, ...interface{})  {}
func (loggerStub) Error(string, ...interface{}) {}
func (loggerStub) Fatal(string, ...interface{}) {}

var (
	regOpen   = time.Date(2021, time.March, 1, 9, 0, 0, 0, time.UTC)
	examStart = regOpen.Add(24 * time.Hour)
	examEnd   = examStart.Add(2 * time.Hour)
)

type stack struct {
	db      *sql.DB
	usrRepo *userRepository
	exRepo  *examRepository
	lbRepo  *leaderboardRepository
	usrSvc  user.Service
	exSvc   exam.Service
	lbSvc   leaderboard.Service
	mails   *emailsvc.ConsoleServiceMock

	admin, grader, s1, s2 user.User
	exam                  exam.Exam
}

func setupStack(t *testing.T) *stack {
	conf := testutil.TestConfig(t)
	db := testutil.PrepareDB(t)
	core.ParseEmailTemplates(conf, loggerStub{})

	s := &stack{
		db:      db,
		usrRepo: NewUserRepository(db),
		exRepo:  NewExamRepository(db),
		lbRepo:  NewLeaderboardRepository(db),
		mails:   emailsvc.NewConsoleServiceMock(conf, loggerStub{}),
	}
	s.usrSvc = user.NewService(db, s.usrRepo, s.mails, loggerStub{}, conf)
	s.exSvc = exam.NewService(db, s.exRepo, leaderboard.NewSynchronizer(s.lbRepo), s.usrSvc, s.mails, loggerStub{})
	s.lbSvc = leaderboard.NewService(s.lbRepo, s.usrSvc)

	s.admin = testutil.CreateUser(t, s.usrRepo, "Admin", "admin", "admin@test.cd", "pwd", user.RoleAdmin, true, regOpen.Add(-4*time.Hour))
	s.grader = testutil.CreateUser(t, s.usrRepo, "Grader", "grader", "grader@test.cd", "pwd", user.RoleModerator, true, regOpen.Add(-3*time.Hour))
	s.s1 = testutil.CreateUser(t, s.usrRepo, "Student One", "one", "one@test.cd", "pwd", user.RoleStudent, true, regOpen.Add(-2*time.Hour))
	s.s2 = testutil.CreateUser(t, s.usrRepo, "Student Two", "two", "two@test.cd", "pwd", user.RoleStudent, true, regOpen.Add(-time.Hour))
	s.exam = testutil.CreateExam(t, s.exRepo, "Algebra I", s.admin.ID, regOpen, examStart, examEnd)
	return s
}

// submitted registers and submits for student, returning the submission.
func (s *stack) submitted(t *testing.T, student user.User) exam.Submission {
	ctx := context.Background()
	_, err := s.exSvc.Register(ctx, s.exam.ID, student.ID, regOpen.Add(time.Minute))
	require.NoError(t, err)
	sub, err := s.exSvc.Submit(ctx, exam.NewSubmission{ExamID: s.exam.ID, StudentID: student.ID, Answer: "x = 2"}, examStart.Add(time.Minute))
	require.NoError(t, err)
	return sub
}

func (s *stack) grade(t *testing.T, sub exam.Submission, score int64) {
	d := decimal.NewFromInt(score)
	_, err := s.exSvc.Grade(context.Background(), exam.GradeSubmission{SubmissionID: sub.ID, Score: &d}, s.grader, examEnd.Add(time.Hour))
	require.NoError(t, err)
}

func (s *stack) examAchievements(t *testing.T, usr user.User) []leaderboard.Achievement {
	all, err := s.lbSvc.UserAchievements(context.Background(), usr.ID)
	require.NoError(t, err)
	var derived []leaderboard.Achievement
	for _, a := range all {
		if !a.IsBadge() {
			derived = append(derived, a)
		}
	}
	return derived
}

func TestIntegration_Register(t *testing.T) {
	s := setupStack(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.exSvc.Register(ctx, s.exam.ID, s.s1.ID, regOpen.Add(time.Minute))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT count(*) FROM registration WHERE exam_id = $1`, s.exam.ID).Scan(&count))
	assert.Equal(t, 1, count)
	assert.Len(t, s.mails.SentMessages(), 1, "only the first registration is confirmed")

	ok, err := s.exSvc.IsRegistered(ctx, s.exam.ID, s.s1.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.exSvc.Register(ctx, s.exam.ID, s.s2.ID, examStart.Add(time.Second))
	assert.Equal(t, exam.ErrRegistrationClosed, err)
	_, err = s.exSvc.Register(ctx, "not-a-uuid", s.s2.ID, regOpen.Add(time.Minute))
	assert.Equal(t, exam.ErrExamNotFound, err)

	exams, err := s.exSvc.QueryForStudent(ctx, s.s1.ID, regOpen.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, exams, 1)
	assert.True(t, exams[0].IsRegistered)
	assert.False(t, exams[0].HasSubmitted)
	assert.False(t, exams[0].Score.Valid)
}

func TestIntegration_Submit(t *testing.T) {
	s := setupStack(t)
	ctx := context.Background()

	_, err := s.exSvc.Submit(ctx, exam.NewSubmission{ExamID: s.exam.ID, StudentID: s.s2.ID, Answer: "x"}, examStart.Add(time.Minute))
	assert.Equal(t, exam.ErrNotRegistered, err)

	_, err = s.exSvc.Register(ctx, s.exam.ID, s.s1.ID, regOpen.Add(time.Minute))
	require.NoError(t, err)

	const n = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, lost int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.exSvc.Submit(ctx, exam.NewSubmission{ExamID: s.exam.ID, StudentID: s.s1.ID, Answer: "x = 2"}, examEnd.Add(4*time.Minute))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if err == exam.ErrAlreadySubmitted {
				lost++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, lost)

	subs, err := s.exSvc.QuerySubmissions(ctx, s.exam.ID, s.grader)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "Student One", subs[0].StudentName)
	assert.False(t, subs[0].Score.Valid)
}

func TestIntegration_GradeSyncsLeaderboard(t *testing.T) {
	s := setupStack(t)
	ctx := context.Background()
	sub := s.submitted(t, s.s1)

	standings, err := s.lbSvc.Standings(ctx)
	require.NoError(t, err)
	require.Len(t, standings, 2)
	assert.Equal(t, s.s1.ID, standings[0].UserID, "ties keep registration order")
	assert.Equal(t, 0, standings[0].Points)

	s.grade(t, sub, 87)
	achievements := s.examAchievements(t, s.s1)
	require.Len(t, achievements, 1)
	assert.Equal(t, 87, achievements[0].Points)
	assert.Equal(t, s.exam.ID, achievements[0].ExamID)

	// regrading replaces the result
	s.grade(t, sub, 42)
	achievements = s.examAchievements(t, s.s1)
	require.Len(t, achievements, 1)
	assert.Equal(t, 42, achievements[0].Points)

	standings, err = s.lbSvc.Standings(ctx)
	require.NoError(t, err)
	assert.Equal(t, s.s1.ID, standings[0].UserID)
	assert.Equal(t, 42, standings[0].Points)
	assert.Equal(t, 1, standings[0].Rank)

	badge, err := s.lbSvc.AwardBadge(ctx, leaderboard.NewBadge{UserID: s.s2.ID, Title: "Helper", Points: 50})
	require.NoError(t, err)
	standings, err = s.lbSvc.Standings(ctx)
	require.NoError(t, err)
	assert.Equal(t, s.s2.ID, standings[0].UserID)
	assert.Equal(t, 50, standings[0].Points)
	assert.Equal(t, 2, standings[1].Rank)

	// a zero score leaves no result
	s.grade(t, sub, 0)
	assert.Empty(t, s.examAchievements(t, s.s1))

	graded, err := s.exRepo.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, graded.Score.Decimal.IsZero())
	assert.True(t, graded.Score.Valid)
	assert.Equal(t, s.grader.ID, graded.MarkedBy)

	// exam results cannot be revoked as badges
	require.NoError(t, s.lbSvc.RevokeBadge(ctx, badge.ID))
	assert.Equal(t, leaderboard.ErrNotFound, s.lbSvc.RevokeBadge(ctx, badge.ID))
}

func TestIntegration_Grade_Unauthorized(t *testing.T) {
	s := setupStack(t)
	sub := s.submitted(t, s.s1)

	d := decimal.NewFromInt(100)
	_, err := s.exSvc.Grade(context.Background(), exam.GradeSubmission{SubmissionID: sub.ID, Score: &d}, s.s2, examEnd)
	assert.Equal(t, core.KindUnauthorized, core.KindOf(err))
	assert.Empty(t, s.examAchievements(t, s.s1))

	_, err = s.exSvc.Grade(context.Background(), exam.GradeSubmission{SubmissionID: "missing", Score: &d}, s.grader, examEnd)
	assert.Equal(t, exam.ErrSubmissionNotFound, err)
}

func TestIntegration_Purge(t *testing.T) {
	s := setupStack(t)
	ctx := context.Background()
	s.grade(t, s.submitted(t, s.s1), 70)
	_, err := s.lbSvc.AwardBadge(ctx, leaderboard.NewBadge{UserID: s.s1.ID, Title: "Helper", Points: 5})
	require.NoError(t, err)

	require.NoError(t, s.exSvc.Purge(ctx, s.exam.ID))

	_, err = s.exSvc.Get(ctx, s.exam.ID)
	assert.Equal(t, exam.ErrExamNotFound, err)
	achievements, err := s.lbSvc.UserAchievements(ctx, s.s1.ID)
	require.NoError(t, err)
	require.Len(t, achievements, 1)
	assert.True(t, achievements[0].IsBadge())
}

func TestIntegration_Erase(t *testing.T) {
	s := setupStack(t)
	ctx := context.Background()
	sub := s.submitted(t, s.s1)
	s.grade(t, sub, 90)
	s.submitted(t, s.s2)
	_, err := s.lbSvc.AwardBadge(ctx, leaderboard.NewBadge{UserID: s.s2.ID, Title: "Helper", Points: 5})
	require.NoError(t, err)

	assert.Equal(t, user.ErrSelfDeleteForbidden, s.usrSvc.Erase(ctx, s.admin.ID, s.admin.ID))

	// the grader goes, their grades stay
	require.NoError(t, s.usrSvc.Erase(ctx, s.grader.ID, s.admin.ID))
	graded, err := s.exRepo.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "", graded.MarkedBy)
	assert.True(t, graded.Score.Valid)

	// a student takes their submission and result along
	require.NoError(t, s.usrSvc.Erase(ctx, s.s1.ID, s.admin.ID))
	_, err = s.exRepo.GetSubmission(ctx, sub.ID)
	assert.Equal(t, exam.ErrSubmissionNotFound, err)
	standings, err := s.lbSvc.Standings(ctx)
	require.NoError(t, err)
	require.Len(t, standings, 1)
	assert.Equal(t, s.s2.ID, standings[0].UserID)

	// the exam creator takes the exam with everything derived from it
	require.NoError(t, s.usrSvc.Erase(ctx, s.admin.ID, s.s2.ID))
	_, err = s.exSvc.Get(ctx, s.exam.ID)
	assert.Equal(t, exam.ErrExamNotFound, err)
	registered, err := s.exRepo.IsRegistered(ctx, s.exam.ID, s.s2.ID)
	require.NoError(t, err)
	assert.False(t, registered)
	achievements, err := s.lbSvc.UserAchievements(ctx, s.s2.ID)
	require.NoError(t, err)
	require.Len(t, achievements, 1)
	assert.True(t, achievements[0].IsBadge())

	assert.Equal(t, user.ErrNotFound, s.usrSvc.Erase(ctx, s.admin.ID, s.s2.ID))
}

// failingSyncer writes the result, then fails the grading transaction.
type failingSyncer struct {
	*leaderboard.Synchronizer
}

func (s failingSyncer) SyncExamResult(ctx context.Context, exec core.DBExecutor, res exam.ExamResult) error {
	if err := s.Synchronizer.SyncExamResult(ctx, exec, res); err != nil {
		return err
	}
	return errors.New("leaderboard unavailable")
}

func TestIntegration_Grade_SyncFailureKeepsPreviousGrade(t *testing.T) {
	s := setupStack(t)
	ctx := context.Background()
	sub := s.submitted(t, s.s1)
	s.grade(t, sub, 87)

	exSvc := exam.NewService(s.db, s.exRepo, failingSyncer{leaderboard.NewSynchronizer(s.lbRepo)}, s.usrSvc, s.mails, loggerStub{})
	d := decimal.NewFromInt(42)
	_, err := exSvc.Grade(ctx, exam.GradeSubmission{SubmissionID: sub.ID, Score: &d, Feedback: "regraded"}, s.grader, examEnd.Add(2*time.Hour))
	require.Error(t, err)

	graded, err := s.exRepo.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "87", graded.Score.Decimal.String())
	assert.Empty(t, graded.Feedback)

	achievements := s.examAchievements(t, s.s1)
	require.Len(t, achievements, 1)
	assert.Equal(t, 87, achievements[0].Points)
}

func TestIntegration_Grade_StoresTwoPlaces(t *testing.T) {
	s := setupStack(t)
	ctx := context.Background()
	sub := s.submitted(t, s.s1)

	d := decimal.New(4, -3)
	graded, err := s.exSvc.Grade(ctx, exam.GradeSubmission{SubmissionID: sub.ID, Score: &d}, s.grader, examEnd.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, graded.Score.Decimal.IsZero())
	assert.Empty(t, s.examAchievements(t, s.s1), "a score stored as zero leaves no result")
}

// failingExec fails the first statement containing stmt.
type failingExec struct {
	core.DBExecutor
	stmt string
}

func (e failingExec) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if strings.Contains(query, e.stmt) {
		return nil, errors.New("deadlock detected")
	}
	return e.DBExecutor.ExecContext(ctx, query, args...)
}

// stepFailingUserRepo erases users through an executor failing at one step of the cascade.
type stepFailingUserRepo struct {
	*userRepository
	stmt string
}

func (r stepFailingUserRepo) EraseUser(ctx context.Context, usr user.User, exec core.DBExecutor) error {
	return r.userRepository.EraseUser(ctx, usr, failingExec{DBExecutor: exec, stmt: r.stmt})
}

func TestIntegration_Erase_StepFailureKeepsEverything(t *testing.T) {
	s := setupStack(t)
	ctx := context.Background()
	sub := s.submitted(t, s.s1)
	s.grade(t, sub, 90)

	tests := []struct {
		name string
		stmt string
	}{
		{name: "exam step", stmt: `DELETE FROM "exam"`},
		{name: "last step", stmt: `DELETE FROM "user"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := new(recordingLogger)
			usrSvc := user.NewService(s.db, stepFailingUserRepo{s.usrRepo, tt.stmt}, s.mails, logger, testutil.TestConfig(t))

			err := usrSvc.Erase(ctx, s.admin.ID, s.s2.ID)
			assert.Equal(t, core.KindEraseFailed, core.KindOf(err))
			assert.True(t, errors.Is(err, user.ErrEraseFailed))
			assert.Len(t, logger.errors, 1)

			_, err = s.usrSvc.GetByID(ctx, s.admin.ID)
			assert.NoError(t, err)
			_, err = s.exSvc.Get(ctx, s.exam.ID)
			assert.NoError(t, err)
			registered, err := s.exRepo.IsRegistered(ctx, s.exam.ID, s.s1.ID)
			require.NoError(t, err)
			assert.True(t, registered)
			graded, err := s.exRepo.GetSubmission(ctx, sub.ID)
			require.NoError(t, err)
			assert.Equal(t, s.grader.ID, graded.MarkedBy)
			assert.Len(t, s.examAchievements(t, s.s1), 1)
		})
	}
}

type recordingLogger struct {
	loggerStub
	errors []string
}

func (l *recordingLogger) Error(msg string, _ ...interface{}) {
	l.errors = append(l.errors, msg)
}

func TestIntegration_Update_RenamesResults(t *testing.T) {
	s := setupStack(t)
	ctx := context.Background()
	s.grade(t, s.submitted(t, s.s1), 75)

	_, err := s.exSvc.Update(ctx, s.exam.ID, exam.UpdateExam{
		Name:            "Algebra 101",
		RegStartTime:    s.exam.RegStartTime,
		RegEndTime:      s.exam.RegEndTime,
		StartTime:       s.exam.StartTime,
		EndTime:         s.exam.EndTime,
		DurationMinutes: s.exam.DurationMinutes,
	})
	require.NoError(t, err)

	achievements := s.examAchievements(t, s.s1)
	require.Len(t, achievements, 1)
	assert.Equal(t, "Algebra 101", achievements[0].Title)
	assert.Equal(t, "Scored 75 in Algebra 101.", achievements[0].Description)
}
