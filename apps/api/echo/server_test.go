package echoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/mashindano/core"
	"github.com/trezcool/mashindano/core/exam"
	"github.com/trezcool/mashindano/core/leaderboard"
	"github.com/trezcool/mashindano/core/user"
)

var (
	fixedNow = time.Date(2021, time.March, 2, 10, 0, 0, 0, time.UTC)

	admin   = user.User{ID: "a0000000-0000-0000-0000-000000000001", Name: "Admin", Username: "admin", Role: user.RoleAdmin}
	mod     = user.User{ID: "a0000000-0000-0000-0000-000000000002", Name: "Mod", Username: "mod", Role: user.RoleModerator}
	student = user.User{ID: "a0000000-0000-0000-0000-000000000003", Name: "Jane", Username: "jane", Role: user.RoleStudent}

	errMissingToken = httpErr{Error: "missing or malformed jwt"}
)

type userSvcStub struct {
	user.Service
	users    map[string]user.User
	eraseErr error
	erased   []string
}

func (s *userSvcStub) GetByID(_ context.Context, id string) (user.User, error) {
	if usr, ok := s.users[id]; ok {
		return usr, nil
	}
	return user.User{}, user.ErrNotFound
}

func (s *userSvcStub) GetByUsernameOrEmail(_ context.Context, uname string) (user.User, error) {
	for _, usr := range s.users {
		if usr.Username == uname {
			return usr, nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (s *userSvcStub) SetLastLogin(_ context.Context, usr user.User) (user.User, error) {
	usr.LastLogin = fixedNow
	return usr, nil
}

func (s *userSvcStub) Erase(_ context.Context, id, requesterID string) error {
	if id == requesterID {
		return user.ErrSelfDeleteForbidden
	}
	if s.eraseErr != nil {
		return s.eraseErr
	}
	s.erased = append(s.erased, id)
	return nil
}

// examSvcStub returns err from every call when set.
type examSvcStub struct {
	exam.Service
	err       error
	lastNow   time.Time
	orderings []core.DBOrdering
}

func (s *examSvcStub) Query(_ context.Context, ordering []core.DBOrdering) ([]exam.Exam, error) {
	s.orderings = ordering
	return nil, s.err
}

func (s *examSvcStub) Register(_ context.Context, examID, studentID string, now time.Time) (exam.Registration, error) {
	s.lastNow = now
	if s.err != nil {
		return exam.Registration{}, s.err
	}
	return exam.Registration{ExamID: examID, StudentID: studentID, CreatedAt: now}, nil
}

func (s *examSvcStub) Submit(_ context.Context, ns exam.NewSubmission, now time.Time) (exam.Submission, error) {
	s.lastNow = now
	if s.err != nil {
		return exam.Submission{}, s.err
	}
	return exam.Submission{ID: "sub", ExamID: ns.ExamID, StudentID: ns.StudentID, Answer: ns.Answer, SubmittedAt: now}, nil
}

func (s *examSvcStub) Grade(_ context.Context, gs exam.GradeSubmission, grader user.User, now time.Time) (exam.Submission, error) {
	if !grader.CanGrade() {
		return exam.Submission{}, exam.ErrUnauthorized
	}
	if s.err != nil {
		return exam.Submission{}, s.err
	}
	sub := exam.Submission{ID: gs.SubmissionID, Feedback: gs.Feedback, MarkedBy: grader.ID, GradedAt: &now}
	sub.Score.Decimal, sub.Score.Valid = *gs.Score, true
	return sub, nil
}

func (s *examSvcStub) QuerySubmissions(_ context.Context, examID string, viewer user.User) ([]exam.Submission, error) {
	if !viewer.CanGrade() {
		return nil, exam.ErrExamNotFound
	}
	return nil, s.err
}

type leaderboardSvcStub struct {
	leaderboard.Service
	standings []leaderboard.Standing
}

func (s *leaderboardSvcStub) Standings(context.Context) ([]leaderboard.Standing, error) {
	return leaderboard.Rank(s.standings), nil
}

type loggerStub struct {
	mu     sync.Mutex
	errors []string
}

func (l *loggerStub) Debug(string, ...interface{}) {}
func (l *loggerStub) Info(string, ...interface{})  {}
func (l *loggerStub) Warn(string, ...interface{})  {}
func (l *loggerStub) Fatal(string, ...interface{}) {}

func (l *loggerStub) Error(msg string, _ ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

type testEnv struct {
	srv     *server
	userSvc *userSvcStub
	examSvc *examSvcStub
	lbSvc   *leaderboardSvcStub
	logger  *loggerStub
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	enLocale := en.New()
	translator, ok := ut.New(enLocale, enLocale).GetTranslator("en")
	require.True(t, ok)
	validate := validator.New()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	exam.InitValidators(validate, translator)

	env := &testEnv{
		userSvc: &userSvcStub{users: map[string]user.User{admin.ID: admin, mod.ID: mod, student.ID: student}},
		examSvc: new(examSvcStub),
		lbSvc:   new(leaderboardSvcStub),
		logger:  new(loggerStub),
	}
	conf := &core.Config{AppName: "Mashindano", SecretKey: "secret", TestMode: true}
	conf.Server.JWTExpirationDelta = time.Hour
	conf.Server.JWTRefreshExpirationDelta = 24 * time.Hour

	env.srv = NewServer("", nil, &ServerDeps{
		Conf:           conf,
		Logger:         env.logger,
		UserSvc:        env.userSvc,
		ExamSvc:        env.examSvc,
		LeaderboardSvc: env.lbSvc,
		Validate:       validate,
		Translator:     translator,
		Now:            func() time.Time { return fixedNow },
		DisableReqLogs: true,
	}).(*server)
	return env
}

func (env *testEnv) token(t *testing.T, usr user.User) string {
	t.Helper()
	token, err := env.srv.auth.generateToken(env.srv.auth.userClaims(usr))
	require.NoError(t, err)
	return token
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, httptest.NewRecorder()
}

func marshallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshallObj(): %v", err)
	}
	return data
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func runHTTPTests(t *testing.T, env *testEnv, tests []httpTest) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			req, rec := newAuthRequest(method, tt.path, tt.token, tt.body)
			env.srv.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func TestServer_Home(t *testing.T) {
	env := setup(t)
	req, rec := newAuthRequest(http.MethodGet, "/", "")
	env.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Welcome to Mashindano API!", rec.Body.String())
}

func Test_examApi_register(t *testing.T) {
	env := setup(t)
	path := "/v1/exams/e1/register"

	runHTTPTests(t, env, []httpTest{
		{name: "auth required", method: http.MethodPost, path: path, wantCode: http.StatusUnauthorized, wantData: marshallObj(t, errMissingToken)},
		{
			name: "students only", method: http.MethodPost, path: path, token: env.token(t, admin),
			wantCode: http.StatusForbidden, wantData: marshallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "registered", method: http.MethodPost, path: path, token: env.token(t, student),
			wantCode: http.StatusOK, wantData: marshallObj(t, exam.Registration{ExamID: "e1", StudentID: student.ID, CreatedAt: fixedNow}),
		},
	})
	assert.Equal(t, fixedNow, env.examSvc.lastNow, "the request time is captured once by the server")

	env.examSvc.err = exam.ErrRegistrationClosed
	runHTTPTests(t, env, []httpTest{
		{
			name: "window closed", method: http.MethodPost, path: path, token: env.token(t, student),
			wantCode: http.StatusForbidden, wantData: marshallObj(t, httpErr{Error: exam.ErrRegistrationClosed.Msg}),
		},
	})

	env.examSvc.err = errors.Wrap(exam.ErrExamNotFound, "finding exam")
	runHTTPTests(t, env, []httpTest{
		{
			name: "unknown exam", method: http.MethodPost, path: path, token: env.token(t, student),
			wantCode: http.StatusNotFound, wantData: marshallObj(t, httpErr{Error: "exam not found"}),
		},
	})
}

func Test_examApi_submit(t *testing.T) {
	env := setup(t)
	path := "/v1/exams/e1/submissions"
	body := []byte(`{"answer": "x = 2"}`)

	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{name: "accepted", wantCode: http.StatusCreated},
		{name: "not registered", err: exam.ErrNotRegistered, wantCode: http.StatusForbidden, wantErr: exam.ErrNotRegistered.Msg},
		{name: "window closed", err: exam.ErrSubmissionClosed, wantCode: http.StatusForbidden, wantErr: exam.ErrSubmissionClosed.Msg},
		{name: "already submitted", err: exam.ErrAlreadySubmitted, wantCode: http.StatusConflict, wantErr: exam.ErrAlreadySubmitted.Msg},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.examSvc.err = tt.err
			req, rec := newAuthRequest(http.MethodPost, path, env.token(t, student), body)
			env.srv.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantErr != "" {
				var got httpErr
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
				assert.Equal(t, tt.wantErr, got.Error)
			}
		})
	}
}

func Test_examApi_grade(t *testing.T) {
	env := setup(t)
	path := "/v1/submissions/s1/grade"

	runHTTPTests(t, env, []httpTest{
		{
			name: "students cannot grade", method: http.MethodPut, path: path, token: env.token(t, student),
			body: []byte(`{"score": 87}`), wantCode: http.StatusForbidden, wantData: marshallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "students with a malformed body", method: http.MethodPut, path: path, token: env.token(t, student),
			body: []byte(`{"score": "lots"`), wantCode: http.StatusForbidden, wantData: marshallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "score required", method: http.MethodPut, path: path, token: env.token(t, mod),
			body: []byte(`{"feedback": "ok"}`), wantCode: http.StatusBadRequest,
			wantData: marshallObj(t, map[string]string{"score": "this field is required"}),
		},
		{
			name: "more than 2 decimal places", method: http.MethodPut, path: path, token: env.token(t, mod),
			body: []byte(`{"score": 87.456}`), wantCode: http.StatusBadRequest,
			wantData: marshallObj(t, map[string]string{"score": "score cannot have more than 2 decimal places"}),
		},
		{name: "graded", method: http.MethodPut, path: path, token: env.token(t, mod), body: []byte(`{"score": 87, "feedback": "good"}`), wantCode: http.StatusOK},
	})
}

func Test_examApi_query_ordering(t *testing.T) {
	env := setup(t)

	runHTTPTests(t, env, []httpTest{
		{
			name: "unknown field", path: "/v1/exams?ordering=-start_time,password_hash", token: env.token(t, mod),
			wantCode: http.StatusBadRequest,
			wantData: marshallObj(t, httpErr{
				Error: `cannot order by "password_hash", use one of: name, reg_start_time, start_time, end_time, created_at`,
			}),
		},
		{name: "known fields", path: "/v1/exams?ordering=-start_time,%20name,", token: env.token(t, mod), wantCode: http.StatusOK, wantData: []byte(`[]`)},
	})
	assert.Equal(t, []core.DBOrdering{{Field: "start_time"}, {Field: "name", Ascending: true}}, env.examSvc.orderings)
}

func Test_examApi_querySubmissions(t *testing.T) {
	env := setup(t)
	path := "/v1/exams/e1/submissions"

	runHTTPTests(t, env, []httpTest{
		{
			name: "hidden from students", path: path, token: env.token(t, student),
			wantCode: http.StatusNotFound, wantData: marshallObj(t, httpErr{Error: "exam not found"}),
		},
		{name: "graders", path: path, token: env.token(t, mod), wantCode: http.StatusOK, wantData: []byte(`[]`)},
	})
}

func Test_leaderboardApi_standings(t *testing.T) {
	env := setup(t)
	env.lbSvc.standings = []leaderboard.Standing{
		{UserID: "a", Name: "A", Points: 60},
		{UserID: "b", Name: "B", Points: 95},
		{UserID: "c", Name: "C", Points: 60},
	}

	runHTTPTests(t, env, []httpTest{
		{name: "auth required", path: "/v1/leaderboard", wantCode: http.StatusUnauthorized, wantData: marshallObj(t, errMissingToken)},
		{
			name: "ranked", path: "/v1/leaderboard", token: env.token(t, student), wantCode: http.StatusOK,
			wantData: marshallObj(t, []leaderboard.Standing{
				{Rank: 1, UserID: "b", Name: "B", Points: 95},
				{Rank: 2, UserID: "a", Name: "A", Points: 60},
				{Rank: 3, UserID: "c", Name: "C", Points: 60},
			}),
		},
		{
			name: "badges are admin only", method: http.MethodPost, path: "/v1/achievements", token: env.token(t, mod),
			body: []byte(`{}`), wantCode: http.StatusForbidden, wantData: marshallObj(t, httpErr{Error: "permission denied"}),
		},
	})
}

func Test_userApi_destroy(t *testing.T) {
	env := setup(t)

	runHTTPTests(t, env, []httpTest{
		{
			name: "admin only", method: http.MethodDelete, path: "/v1/users/" + student.ID, token: env.token(t, student),
			wantCode: http.StatusForbidden, wantData: marshallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "not yourself", method: http.MethodDelete, path: "/v1/users/" + admin.ID, token: env.token(t, admin),
			wantCode: http.StatusForbidden, wantData: marshallObj(t, httpErr{Error: user.ErrSelfDeleteForbidden.Msg}),
		},
		{
			name: "unknown user", method: http.MethodDelete, path: "/v1/users/a0000000-0000-0000-0000-00000000dead", token: env.token(t, admin),
			wantCode: http.StatusNotFound, wantData: marshallObj(t, httpErr{Error: user.ErrNotFound.Msg}),
		},
		{name: "erased", method: http.MethodDelete, path: "/v1/users/" + mod.ID, token: env.token(t, admin), wantCode: http.StatusNoContent},
	})
	assert.Equal(t, []string{mod.ID}, env.userSvc.erased)

	env.userSvc.eraseErr = user.ErrEraseFailed.WithCause(errors.New("cascading to submission: deadlock detected"))
	runHTTPTests(t, env, []httpTest{
		{
			name: "failure is opaque", method: http.MethodDelete, path: "/v1/users/" + student.ID, token: env.token(t, admin),
			wantCode: http.StatusInternalServerError, wantData: marshallObj(t, httpErr{Error: user.ErrEraseFailed.Msg}),
		},
	})
	assert.Len(t, env.logger.errors, 1, "the cause is logged for operators")
}

func Test_userApi_login(t *testing.T) {
	env := setup(t)
	usr := env.userSvc.users[student.ID]
	require.NoError(t, usr.SetPassword("c0rrect-h0rse"))
	env.userSvc.users[student.ID] = usr

	runHTTPTests(t, env, []httpTest{
		{
			name: "wrong password", method: http.MethodPost, path: "/v1/users/login",
			body:     marshallObj(t, LoginRequest{Username: "jane", Password: "nope"}),
			wantCode: http.StatusBadRequest, wantData: marshallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "unknown user", method: http.MethodPost, path: "/v1/users/login",
			body:     marshallObj(t, LoginRequest{Username: "john", Password: "c0rrect-h0rse"}),
			wantCode: http.StatusBadRequest, wantData: marshallObj(t, httpErr{Error: "authentication failed"}),
		},
	})

	req, rec := newAuthRequest(http.MethodPost, "/v1/users/login", "", marshallObj(t, LoginRequest{Username: "JANE ", Password: "c0rrect-h0rse"}))
	env.srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	// the issued token opens authenticated routes
	req, rec = newAuthRequest(http.MethodGet, "/v1/leaderboard", resp.Token)
	env.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAppErrorStatus(t *testing.T) {
	tests := []struct {
		kind core.ErrorKind
		want int
	}{
		{core.KindNotFound, http.StatusNotFound},
		{core.KindUnauthorized, http.StatusForbidden},
		{core.KindForbidden, http.StatusForbidden},
		{core.KindWindowClosed, http.StatusForbidden},
		{core.KindNotRegistered, http.StatusForbidden},
		{core.KindSelfDeleteForbidden, http.StatusForbidden},
		{core.KindAlreadySubmitted, http.StatusConflict},
		{core.KindConflict, http.StatusConflict},
		{core.KindEraseFailed, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, appErrorStatus(tt.kind))
		})
	}
}
