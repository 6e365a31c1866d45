// Timing windows delimiting migration phases
package migration

import "time"

// Window is a closed time interval in wall-clock seconds. It is created
// fresh for each phase and never mutated afterwards.
type Window struct {
	StartTS float64 `json:"start_ts"`
	EndTS   float64 `json:"end_ts"`
}

// NewWindow builds a window, swapping the bounds if needed so that
// EndTS >= StartTS always holds.
func NewWindow(start, end float64) Window {
	if end < start {
		start, end = end, start
	}
	return Window{StartTS: start, EndTS: end}
}

// Duration returns the window length in seconds.
func (w Window) Duration() float64 { return w.EndTS - w.StartTS }

// DurationMS returns the window length in milliseconds.
func (w Window) DurationMS() float64 { return w.Duration() * 1000 }

// IsZero reports whether the window was never recorded, which is how
// aborted runs are represented.
func (w Window) IsZero() bool { return w.StartTS == 0 && w.EndTS == 0 }

// Contains reports whether ts falls inside the closed interval.
func (w Window) Contains(ts float64) bool {
	return ts >= w.StartTS && ts <= w.EndTS
}

// nowTS is the shared clock for phase timestamps.
func nowTS() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
