package core

import (
	"fmt"
	"time"
)

// DefaultWindowSize is one calendar week.
const DefaultWindowSize = 7 * 24 * time.Hour

// Window is a half-open processing interval [Start, End).
type Window struct {
	ID    string    `json:"id"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewWindow builds a window starting at start and spanning size.
func NewWindow(start time.Time, size time.Duration) Window {
	start = start.UTC()
	return Window{
		ID:    start.Format("2006-01-02"),
		Start: start,
		End:   start.Add(size),
	}
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

func (w Window) String() string {
	return fmt.Sprintf("%s..%s", w.Start.Format("2006-01-02"), w.End.Format("2006-01-02"))
}

// SplitWindows cuts [from, to) into consecutive windows of the given size in
// chronological order. A trailing partial window is kept.
func SplitWindows(from, to time.Time, size time.Duration) ([]Window, error) {
	if size <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %s", size)
	}
	if !to.After(from) {
		return nil, fmt.Errorf("range end %s is not after start %s", to.Format(time.RFC3339), from.Format(time.RFC3339))
	}
	var windows []Window
	for start := from; start.Before(to); start = start.Add(size) {
		w := NewWindow(start, size)
		if w.End.After(to) {
			w.End = to.UTC()
		}
		windows = append(windows, w)
	}
	return windows, nil
}
