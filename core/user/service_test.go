package user

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/mashindano/core"
)

// repoStub implements the few Repository methods the tests reach.
type repoStub struct {
	Repository
	users     map[string]User
	uniqueErr error
	eraseErr  error
}

func (r repoStub) GetUser(_ context.Context, filter GetFilter, _ ...core.DBExecutor) (User, error) {
	if usr, ok := r.users[filter.ID]; ok {
		return usr, nil
	}
	return User{}, ErrNotFound
}

func (r repoStub) LockUser(ctx context.Context, id string, exec ...core.DBExecutor) (User, error) {
	return r.GetUser(ctx, GetFilter{ID: id}, exec...)
}

func (r repoStub) EraseUser(context.Context, User, core.DBExecutor) error {
	return r.eraseErr
}

func (r repoStub) CheckUsernameUniqueness(context.Context, string, string, []User, ...core.DBExecutor) error {
	return r.uniqueErr
}

type loggerStub struct{ errors []string }

func (l *loggerStub) Debug(string, ...interface{}) {}
func (l *loggerStub) Info(string, ...interface{})  {}
func (l *loggerStub) Warn(string, ...interface{})  {}
func (l *loggerStub) Error(msg string, _ ...interface{}) {
	l.errors = append(l.errors, msg)
}
func (l *loggerStub) Fatal(string, ...interface{}) {}

func TestService_Erase_Preconditions(t *testing.T) {
	admin := User{ID: "a", Role: RoleAdmin}
	svc := &service{
		repo:   repoStub{users: map[string]User{admin.ID: admin}},
		logger: new(loggerStub),
	}

	tests := []struct {
		name        string
		id          string
		requesterID string
		wantErr     error
	}{
		{name: "self delete", id: "a", requesterID: "a", wantErr: ErrSelfDeleteForbidden},
		{name: "unknown user", id: "b", requesterID: "a", wantErr: ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Erase(context.Background(), tt.id, tt.requesterID)
			assert.Equal(t, tt.wantErr, err)
		})
	}

	t.Run("missing id", func(t *testing.T) {
		err := svc.Erase(context.Background(), "", "a")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "checking arguments")
	})
}

func TestService_Erase_Transaction(t *testing.T) {
	student := User{ID: "s", Role: RoleStudent}
	users := map[string]User{student.ID: student}

	tests := []struct {
		name     string
		eraseErr error
		expect   func(mock sqlmock.Sqlmock)
		wantKind core.ErrorKind
		wantErr  bool
		wantLogs int
	}{
		{
			name: "committed",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectCommit()
			},
		},
		{
			name:     "step failure rolls back",
			eraseErr: errors.New(`deleting from "exam": deadlock detected`),
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectRollback()
			},
			wantKind: core.KindEraseFailed,
			wantErr:  true,
			wantLogs: 1,
		},
		{
			name:     "erased concurrently",
			eraseErr: ErrNotFound,
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectRollback()
			},
			wantKind: core.KindNotFound,
			wantErr:  true,
		},
		{
			name: "commit failure",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectCommit().WillReturnError(errors.New("connection lost"))
			},
			wantKind: core.KindEraseFailed,
			wantErr:  true,
			wantLogs: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()
			tt.expect(mock)

			logger := new(loggerStub)
			svc := &service{db: db, repo: repoStub{users: users, eraseErr: tt.eraseErr}, logger: logger}

			err = svc.Erase(context.Background(), student.ID, "a")
			assert.Equal(t, tt.wantErr, err != nil)
			assert.Equal(t, tt.wantKind, core.KindOf(err))
			assert.Len(t, logger.errors, tt.wantLogs)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestService_CheckUniqueness(t *testing.T) {
	tests := []struct {
		name       string
		repoErr    error
		wantFields []string
	}{
		{name: "unique"},
		{name: "username taken", repoErr: ErrUsernameExists, wantFields: []string{"username"}},
		{name: "email taken", repoErr: ErrEmailExists, wantFields: []string{"email"}},
		{name: "both taken", repoErr: ErrUserExists, wantFields: []string{"username", "email"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &service{repo: repoStub{uniqueErr: tt.repoErr}}
			err := svc.CheckUniqueness(context.Background(), "jdoe", "jd@test.test")
			if tt.wantFields == nil {
				assert.NoError(t, err)
				return
			}

			vErr, ok := err.(*core.ValidationError)
			require.True(t, ok, "want *core.ValidationError, got %T", err)
			fields := make([]string, 0, len(vErr.Fields))
			for _, f := range vErr.Fields {
				fields = append(fields, f.Field)
			}
			assert.Equal(t, tt.wantFields, fields)
		})
	}
}
