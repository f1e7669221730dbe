package fetch

import (
	"sync"
	"time"
)

// LoadingIndicator is told when the loading state changes.
type LoadingIndicator interface {
	SetLoading(loading bool)
}

// LoadingFunc adapts a function to LoadingIndicator.
type LoadingFunc func(loading bool)

func (f LoadingFunc) SetLoading(loading bool) { f(loading) }

// loadingSession drives the indicator for one fetch: shown after a delay,
// force-cleared after the hard budget, and cleared when the fetch ends.
// Each transition is reported at most once.
type loadingSession struct {
	mu        sync.Mutex
	indicator LoadingIndicator
	showTimer *time.Timer
	maxTimer  *time.Timer
	shown     bool
	done      bool
}

func newLoadingSession(indicator LoadingIndicator, showDelay, maxLoading time.Duration) *loadingSession {
	ls := &loadingSession{indicator: indicator}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.showTimer = time.AfterFunc(showDelay, ls.show)
	if maxLoading > 0 {
		ls.maxTimer = time.AfterFunc(maxLoading, ls.finish)
	}
	return ls
}

func (ls *loadingSession) show() {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.done || ls.shown {
		return
	}
	ls.shown = true
	ls.indicator.SetLoading(true)
}

func (ls *loadingSession) cancelShow() {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.showTimer.Stop()
}

// finish clears the indicator and stops both timers. Later calls are
// no-ops.
func (ls *loadingSession) finish() {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.done {
		return
	}
	ls.done = true
	ls.showTimer.Stop()
	if ls.maxTimer != nil {
		ls.maxTimer.Stop()
	}
	if ls.shown {
		ls.shown = false
		ls.indicator.SetLoading(false)
	}
}
