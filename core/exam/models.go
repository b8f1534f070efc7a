package exam

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/trezcool/mashindano/core"
)

type Exam struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	RegStartTime    time.Time `json:"reg_start_time"` // UTC
	RegEndTime      time.Time `json:"reg_end_time"`   // UTC
	StartTime       time.Time `json:"start_time"`     // UTC
	EndTime         time.Time `json:"end_time"`       // UTC
	DurationMinutes int       `json:"duration_minutes"`
	Announcement    string    `json:"announcement,omitempty"`
	QuestionURL     string    `json:"question_url,omitempty"`
	CreatedBy       string    `json:"created_by"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (e Exam) RegistrationWindow() Window {
	return Window{Name: "registration", Open: e.RegStartTime, Close: e.RegEndTime}
}

func (e Exam) SubmissionWindow() Window {
	return Window{Name: "submission", Open: e.StartTime, Close: e.EndTime, Grace: SubmissionGracePeriod}
}

// NewExam contains information needed to create a new Exam.
type NewExam struct {
	Name            string    `json:"name" validate:"required,notblank,max=255"`
	RegStartTime    time.Time `json:"reg_start_time" validate:"required"`
	RegEndTime      time.Time `json:"reg_end_time" validate:"required"`
	StartTime       time.Time `json:"start_time" validate:"required"`
	EndTime         time.Time `json:"end_time" validate:"required"`
	DurationMinutes int       `json:"duration_minutes" validate:"required,min=1"`
	Announcement    string    `json:"announcement"`
	QuestionURL     string    `json:"question_url" validate:"omitempty,url"`
}

func (ne *NewExam) Validate(validate *validator.Validate) error {
	ne.Name = core.CleanString(ne.Name)
	ne.Announcement = core.CleanString(ne.Announcement)
	ne.QuestionURL = core.CleanString(ne.QuestionURL)
	return validate.Struct(ne)
}

// UpdateExam replaces the editable fields of an Exam.
type UpdateExam NewExam

func (ue *UpdateExam) Validate(validate *validator.Validate) error {
	ne := NewExam(*ue)
	if err := ne.Validate(validate); err != nil {
		return err
	}
	*ue = UpdateExam(ne)
	return nil
}

type Announcement struct {
	Text string `json:"announcement"`
}

func (a *Announcement) Clean() {
	a.Text = core.CleanString(a.Text)
}

type Registration struct {
	ExamID    string    `json:"exam_id"`
	StudentID string    `json:"student_id"`
	CreatedAt time.Time `json:"created_at"`
}

type Submission struct {
	ID          string              `json:"id"`
	ExamID      string              `json:"exam_id"`
	StudentID   string              `json:"student_id"`
	Answer      string              `json:"answer"`
	FileURL     string              `json:"file_url,omitempty"`
	Score       decimal.NullDecimal `json:"score"` // null while ungraded
	Feedback    string              `json:"feedback,omitempty"`
	MarkedBy    string              `json:"marked_by,omitempty"`
	SubmittedAt time.Time           `json:"submitted_at"`
	GradedAt    *time.Time          `json:"graded_at,omitempty"`

	// populated on listings
	StudentName string `json:"student_name,omitempty"`
}

func (s Submission) IsGraded() bool { return s.Score.Valid }

// NewSubmission is a student's answer to an Exam.
type NewSubmission struct {
	ExamID    string `json:"-"`
	StudentID string `json:"-"`
	Answer    string `json:"answer" validate:"required_without=FileURL"`
	FileURL   string `json:"file_url" validate:"omitempty,url"`
}

func (ns *NewSubmission) Validate(validate *validator.Validate) error {
	ns.FileURL = core.CleanString(ns.FileURL)
	return validate.Struct(ns)
}

// GradeSubmission overwrites the grade of a Submission.
type GradeSubmission struct {
	SubmissionID string           `json:"-"`
	Score        *decimal.Decimal `json:"score" validate:"required"`
	Feedback     string           `json:"feedback"`
}

func (gs *GradeSubmission) Validate(validate *validator.Validate) error {
	gs.Feedback = core.CleanString(gs.Feedback)
	return validate.Struct(gs)
}

// StudentExam is an Exam as seen by one student.
type StudentExam struct {
	Exam
	RegistrationState string              `json:"registration_state"`
	SubmissionState   string              `json:"submission_state"`
	IsRegistered      bool                `json:"is_registered"`
	HasSubmitted      bool                `json:"has_submitted"`
	Score             decimal.NullDecimal `json:"score"`
}

// ExamResult is the latest grade of a student for an exam.
type ExamResult struct {
	StudentID string
	ExamID    string
	ExamName  string
	Score     decimal.Decimal
	Feedback  string
	At        time.Time
}
