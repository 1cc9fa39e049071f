package bucket

import (
	"errors"
	"fmt"
	"time"
)

// TimestampLayout is the accepted input format for window bounds.
const TimestampLayout = "2006-01-02 15:04:05"

var (
	// ErrInvalidTimestamp is returned when a window bound does not match TimestampLayout.
	ErrInvalidTimestamp = errors.New("invalid timestamp")

	// ErrInvalidWindow is returned when the window start is after its end.
	ErrInvalidWindow = errors.New("window start is after window end")
)

// Window is a closed interval of epoch seconds.
type Window struct {
	Start int64
	End   int64
}

// ParseTimestamp converts a timestamp in TimestampLayout to epoch seconds,
// interpreting it in loc. A nil loc means time.Local.
func ParseTimestamp(s string, loc *time.Location) (int64, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(TimestampLayout, s, loc)
	if err != nil {
		return 0, fmt.Errorf("%w: %q (want %q): %v", ErrInvalidTimestamp, s, TimestampLayout, err)
	}
	return t.Unix(), nil
}

// ResolveWindow parses the start and end bounds into a Window.
func ResolveWindow(start, end string, loc *time.Location) (Window, error) {
	s, err := ParseTimestamp(start, loc)
	if err != nil {
		return Window{}, fmt.Errorf("start date: %w", err)
	}
	e, err := ParseTimestamp(end, loc)
	if err != nil {
		return Window{}, fmt.Errorf("end date: %w", err)
	}
	if s > e {
		return Window{}, fmt.Errorf("%w: %q > %q", ErrInvalidWindow, start, end)
	}
	return Window{Start: s, End: e}, nil
}

// Contains returns true if the bucket is well formed and its whole range
// lies inside the window.
func (w Window) Contains(id ID) bool {
	if !id.WellFormed() {
		return false
	}
	return id.StartTime >= w.Start && id.EndTime <= w.End
}

// String renders the window bounds in UTC.
func (w Window) String() string {
	return fmt.Sprintf("[%s, %s]",
		time.Unix(w.Start, 0).UTC().Format(time.RFC3339),
		time.Unix(w.End, 0).UTC().Format(time.RFC3339))
}
