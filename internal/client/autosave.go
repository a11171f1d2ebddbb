package client

import (
	"sync"
	"time"
)

// DefaultDebounce matches the standard variant; live deployments use
// LiveDebounce to leave room for broadcast round trips.
const (
	DefaultDebounce = 250 * time.Millisecond
	LiveDebounce    = time.Second
)

// Autosaver coalesces rapid edits into one save: every Trigger cancels any
// not-yet-fired timer and starts a new one, so only the most recent schedule
// survives. An in-flight save is never cancelled; last write wins.
type Autosaver struct {
	mu    sync.Mutex
	timer *time.Timer
	delay time.Duration
	save  func()
}

func NewAutosaver(delay time.Duration, save func()) *Autosaver {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Autosaver{delay: delay, save: save}
}

// Trigger schedules a save after the debounce window, replacing any pending
// schedule.
func (a *Autosaver) Trigger() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.delay, a.save)
}

// Flush cancels any pending schedule and saves immediately.
func (a *Autosaver) Flush() {
	a.mu.Lock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.mu.Unlock()
	a.save()
}

// Stop cancels any pending schedule without saving.
func (a *Autosaver) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}
