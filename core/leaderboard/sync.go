package leaderboard

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/mashindano/core"
	"github.com/trezcool/mashindano/core/exam"
)

// Synchronizer keeps exactly zero or one achievement per (student, exam),
// reflecting the latest grade only.
type Synchronizer struct {
	repo Repository
}

var _ exam.ResultSyncer = (*Synchronizer)(nil) // interface compliance check

func NewSynchronizer(repo Repository) *Synchronizer {
	return &Synchronizer{repo: repo}
}

// SyncExamResult replaces the student's achievement for the exam. Scores <= 0 leave none.
// exec must be the transaction that wrote the grade.
func (s *Synchronizer) SyncExamResult(ctx context.Context, exec core.DBExecutor, res exam.ExamResult) error {
	if err := s.repo.DeleteExamAchievements(ctx, exec, res.ExamID, res.StudentID); err != nil {
		return errors.Wrap(err, "deleting previous exam achievement")
	}
	if res.Score.Sign() <= 0 {
		return nil
	}

	_, err := s.repo.CreateAchievement(ctx, Achievement{
		ID:          uuid.New().String(),
		UserID:      res.StudentID,
		ExamID:      res.ExamID,
		Title:       res.ExamName,
		Description: describeResult(res),
		Points:      Points(res.Score),
		DateAwarded: res.At,
	}, exec)
	return errors.Wrap(err, "creating exam achievement")
}

// RemoveExamResults deletes every achievement derived from the exam.
func (s *Synchronizer) RemoveExamResults(ctx context.Context, exec core.DBExecutor, examID string) error {
	return s.repo.DeleteExamAchievements(ctx, exec, examID)
}

// RenameExamResults carries an exam rename over to its achievements.
func (s *Synchronizer) RenameExamResults(ctx context.Context, exec core.DBExecutor, examID, name string) error {
	return s.repo.RenameExamAchievements(ctx, exec, examID, name)
}

// Points rounds a score half away from zero.
func Points(score decimal.Decimal) int {
	return int(score.Round(0).IntPart())
}

func describeResult(res exam.ExamResult) string {
	desc := fmt.Sprintf("Scored %s in %s.", res.Score.String(), res.ExamName)
	if res.Feedback != "" {
		desc += " Feedback: " + res.Feedback
	}
	return desc
}
