package core

import (
	"strings"
	"time"
)

// CleanString trims all leading and trailing whitespace in `s` and optionally lowers it.
func CleanString(s string, lower ...bool) string {
	s = strings.TrimSpace(s)
	if len(lower) > 0 && lower[0] {
		return strings.ToLower(s)
	}
	return s
}

// NowFunc returns the current UTC time. Request handlers call it once and pass the value down.
var NowFunc = func() time.Time { return time.Now().UTC() } // mockable
