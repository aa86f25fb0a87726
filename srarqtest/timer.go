package srarqtest

import "time"

// ManualTimer is a srarq.Timer that only fires when the test says so.
type ManualTimer struct {
	running  bool
	duration time.Duration
	starts   int
	stops    int
}

func (t *ManualTimer) Start(d time.Duration) {
	t.running = true
	t.duration = d
	t.starts++
}

func (t *ManualTimer) Stop() {
	t.running = false
	t.stops++
}

func (t *ManualTimer) Running() bool {
	return t.running
}

// Duration is the duration passed to the most recent Start.
func (t *ManualTimer) Duration() time.Duration {
	return t.duration
}

func (t *ManualTimer) Starts() int {
	return t.starts
}

func (t *ManualTimer) Stops() int {
	return t.stops
}

// Fire expires a running timer by calling h.OnTimerExpired.
// It reports false, doing nothing, if the timer is stopped.
func (t *ManualTimer) Fire(h interface{ OnTimerExpired() }) bool {
	if !t.running {
		return false
	}
	t.running = false
	h.OnTimerExpired()
	return true
}
