package exam

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindow_Contains(t *testing.T) {
	open := time.Date(2021, time.March, 1, 9, 0, 0, 0, time.UTC)
	end := open.Add(2 * time.Hour)

	tests := []struct {
		name  string
		grace time.Duration
		now   time.Time
		want  bool
	}{
		{name: "before open", now: open.Add(-time.Nanosecond), want: false},
		{name: "at open", now: open, want: true},
		{name: "inside", now: open.Add(time.Hour), want: true},
		{name: "at close", now: end, want: true},
		{name: "after close", now: end.Add(time.Nanosecond), want: false},
		{name: "inside grace", grace: SubmissionGracePeriod, now: end.Add(4 * time.Minute), want: true},
		{name: "at grace end", grace: SubmissionGracePeriod, now: end.Add(SubmissionGracePeriod), want: true},
		{name: "after grace", grace: SubmissionGracePeriod, now: end.Add(6 * time.Minute), want: false},
		{name: "grace does not open early", grace: SubmissionGracePeriod, now: open.Add(-time.Minute), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := Window{Open: open, Close: end, Grace: tt.grace}
			assert.Equal(t, tt.want, w.Contains(tt.now))
		})
	}
}

func TestWindow_State(t *testing.T) {
	open := time.Date(2021, time.March, 1, 9, 0, 0, 0, time.UTC)
	w := Window{Open: open, Close: open.Add(time.Hour), Grace: SubmissionGracePeriod}

	assert.Equal(t, WindowUpcoming, w.State(open.Add(-time.Second)))
	assert.Equal(t, WindowOpen, w.State(open))
	assert.Equal(t, WindowOpen, w.State(w.Deadline()))
	assert.Equal(t, WindowClosed, w.State(w.Deadline().Add(time.Second)))
}

func TestExam_Windows(t *testing.T) {
	t0 := time.Date(2021, time.March, 1, 9, 0, 0, 0, time.UTC)
	t1 := t0.Add(24 * time.Hour)
	t2 := t1.Add(2 * time.Hour)
	e := Exam{RegStartTime: t0, RegEndTime: t1, StartTime: t1, EndTime: t2}

	reg := e.RegistrationWindow()
	assert.True(t, reg.Contains(t0.Add(time.Minute)))
	assert.False(t, reg.Contains(t1.Add(time.Second)), "registration has no grace period")

	sub := e.SubmissionWindow()
	assert.True(t, sub.Contains(t2.Add(4*time.Minute)))
	assert.True(t, sub.Contains(t2.Add(4*time.Minute+30*time.Second)))
	assert.False(t, sub.Contains(t2.Add(6*time.Minute)))
	assert.False(t, sub.Contains(t1.Add(-time.Second)))
}
