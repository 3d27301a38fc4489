package browser

import (
	"context"
	"sync"
	"time"
)

// idleTracker counts started and finished requests. Whenever the two match
// it arms a quiet timer; any new request disarms it. The timer firing marks
// the page idle until the next request starts.
type idleTracker struct {
	quiet time.Duration

	mu       sync.Mutex
	started  int
	finished int
	timer    *time.Timer
	// generation invalidates timers armed before the latest activity.
	generation uint64
	idle       chan struct{}
	isIdle     bool
}

func newIdleTracker(quiet time.Duration) *idleTracker {
	return &idleTracker{quiet: quiet, idle: make(chan struct{})}
}

func (t *idleTracker) requestStarted() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.started++
	t.disarmLocked()
	if t.isIdle {
		t.idle = make(chan struct{})
		t.isIdle = false
	}
}

func (t *idleTracker) requestFinished() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.finished++
	if t.finished >= t.started {
		t.armLocked()
	}
}

func (t *idleTracker) counts() (started, finished int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started, t.finished
}

// wait blocks until the tracker goes idle or ctx ends. A page that has not
// requested anything yet starts its quiet period on the first wait.
func (t *idleTracker) wait(ctx context.Context) error {
	t.mu.Lock()
	if !t.isIdle && t.timer == nil && t.finished >= t.started {
		t.armLocked()
	}
	idle := t.idle
	t.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stop releases the timer. The tracker must not be used afterwards.
func (t *idleTracker) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disarmLocked()
}

func (t *idleTracker) armLocked() {
	t.disarmLocked()
	gen := t.generation
	t.timer = time.AfterFunc(t.quiet, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if gen != t.generation || t.isIdle {
			return
		}
		t.timer = nil
		t.isIdle = true
		close(t.idle)
	})
}

func (t *idleTracker) disarmLocked() {
	t.generation++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
