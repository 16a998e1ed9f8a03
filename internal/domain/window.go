package domain

import "time"

// WindowSize is the fixed aggregation window.
const WindowSize = 5 * time.Minute

// WindowFor returns the start of the epoch-aligned window containing t.
// A timestamp exactly on a boundary belongs to the window it starts.
func WindowFor(t time.Time) time.Time {
	return t.UTC().Truncate(WindowSize)
}

// WindowEnd returns the exclusive end of the window starting at start.
func WindowEnd(start time.Time) time.Time {
	return start.Add(WindowSize)
}
