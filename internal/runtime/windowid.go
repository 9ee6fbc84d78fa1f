package runtime

import (
	"fmt"
	"strings"
)

// WindowID identifies a PTY window as "<sessionName>:<windowName>".
type WindowID struct {
	Session string
	Window  string
}

// String returns the canonical "<session>:<window>" form.
func (id WindowID) String() string {
	return id.Session + ":" + id.Window
}

// ParseWindowID parses a canonical window identifier. The form must have
// exactly one colon separator with non-empty halves.
func ParseWindowID(s string) (WindowID, error) {
	if strings.Count(s, ":") != 1 {
		return WindowID{}, fmt.Errorf("invalid window id %q: want <session>:<window>", s)
	}
	session, window, _ := strings.Cut(s, ":")
	if session == "" || window == "" {
		return WindowID{}, fmt.Errorf("invalid window id %q: empty session or window", s)
	}
	return WindowID{Session: session, Window: window}, nil
}
