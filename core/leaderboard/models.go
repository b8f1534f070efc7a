package leaderboard

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/mashindano/core"
)

// Achievement is a leaderboard entry: either derived from a graded exam (ExamID set) or a manual badge.
type Achievement struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	ExamID      string    `json:"exam_id,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Points      int       `json:"points"`
	DateAwarded time.Time `json:"date_awarded"` // UTC
}

func (a Achievement) IsBadge() bool { return a.ExamID == "" }

// Standing is a student's position on the leaderboard.
type Standing struct {
	Rank     int    `json:"rank"`
	UserID   string `json:"user_id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Points   int    `json:"points"`
}

// NewBadge contains information needed to award a manual badge.
type NewBadge struct {
	UserID      string `json:"user_id" validate:"required,uuid"`
	Title       string `json:"title" validate:"required,notblank,max=255"`
	Description string `json:"description"`
	Points      int    `json:"points" validate:"min=-100000,max=100000"`
}

func (nb *NewBadge) Validate(validate *validator.Validate) error {
	nb.Title = core.CleanString(nb.Title)
	nb.Description = core.CleanString(nb.Description)
	return validate.Struct(nb)
}
