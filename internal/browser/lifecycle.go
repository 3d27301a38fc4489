package browser

import (
	"context"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
)

// loadTracker follows the main frame's documents and remembers which of them
// fired their load event. Each new document is identified by its loader ID.
type loadTracker struct {
	mu      sync.Mutex
	frame   cdp.FrameID
	current cdp.LoaderID
	loaded  map[cdp.LoaderID]bool
	changed chan struct{}
}

func newLoadTracker(mainFrame cdp.FrameID) *loadTracker {
	return &loadTracker{
		frame:   mainFrame,
		loaded:  make(map[cdp.LoaderID]bool),
		changed: make(chan struct{}),
	}
}

func (l *loadTracker) handleEvent(ev interface{}) {
	e, ok := ev.(*page.EventLifecycleEvent)
	if !ok {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.frame != "" && e.FrameID != l.frame {
		return
	}
	switch e.Name {
	case "init":
		l.setCurrentLocked(e.LoaderID)
	case "load":
		l.loaded[e.LoaderID] = true
		l.notifyLocked()
	}
}

// setFrame narrows tracking to the main frame once its ID is known.
func (l *loadTracker) setFrame(frame cdp.FrameID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frame = frame
}

// setCurrent records the document the page now shows. An empty ID, as
// returned for same-document navigations, keeps the current one.
func (l *loadTracker) setCurrent(id cdp.LoaderID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setCurrentLocked(id)
}

func (l *loadTracker) setCurrentLocked(id cdp.LoaderID) {
	if id != "" && l.current != id {
		l.current = id
		l.notifyLocked()
	}
}

func (l *loadTracker) notifyLocked() {
	close(l.changed)
	l.changed = make(chan struct{})
}

// wait blocks until the current document has loaded. If the page moves on
// to another document meanwhile, that one is waited for instead.
func (l *loadTracker) wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		done := l.current != "" && l.loaded[l.current]
		changed := l.changed
		l.mu.Unlock()
		if done {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
