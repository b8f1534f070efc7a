package exam

import "time"

// SubmissionGracePeriod is how long after an exam ends submissions are still accepted.
const SubmissionGracePeriod = 5 * time.Minute

// Window is a closed time interval, optionally extended past Close by Grace.
type Window struct {
	Name  string
	Open  time.Time
	Close time.Time
	Grace time.Duration
}

// Contains reports whether now is within [Open, Close+Grace].
func (w Window) Contains(now time.Time) bool {
	return !now.Before(w.Open) && !now.After(w.Close.Add(w.Grace))
}

// Deadline is the last instant the window accepts.
func (w Window) Deadline() time.Time {
	return w.Close.Add(w.Grace)
}

// State describes now relative to the window: "upcoming", "open" or "closed".
func (w Window) State(now time.Time) string {
	switch {
	case now.Before(w.Open):
		return WindowUpcoming
	case w.Contains(now):
		return WindowOpen
	default:
		return WindowClosed
	}
}

const (
	WindowUpcoming = "upcoming"
	WindowOpen     = "open"
	WindowClosed   = "closed"
)
