package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/trezcool/mashindano/core/exam"
	"github.com/trezcool/mashindano/core/user"
)

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd, role string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Role:      role,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	usr.SetActive(isActive)
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

// CreateExam inserts an exam whose registration opens at regStart and closes when the exam starts.
func CreateExam(t *testing.T, repo exam.Repository, name, createdBy string, regStart, start, end time.Time) exam.Exam {
	t.Helper()
	now := time.Now().UTC()
	e, err := repo.CreateExam(context.Background(), exam.Exam{
		Name:            name,
		RegStartTime:    regStart,
		RegEndTime:      start,
		StartTime:       start,
		EndTime:         end,
		DurationMinutes: int(end.Sub(start).Minutes()),
		CreatedBy:       createdBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		t.Fatalf("CreateExam() failed: %v", err)
	}
	return e
}
