package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitAsync(ctx context.Context, tr *idleTracker) <-chan error {
	done := make(chan error, 1)
	go func() { done <- tr.wait(ctx) }()
	return done
}

func TestIdleTracker_NoTrafficGoesIdleAfterQuietPeriod(t *testing.T) {
	quiet := 30 * time.Millisecond
	tr := newIdleTracker(quiet)
	defer tr.stop()

	start := time.Now()
	require.NoError(t, tr.wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), quiet)
}

func TestIdleTracker_InFlightRequestBlocksIdle(t *testing.T) {
	quiet := 30 * time.Millisecond
	tr := newIdleTracker(quiet)
	defer tr.stop()

	tr.requestStarted()
	done := waitAsync(context.Background(), tr)

	select {
	case <-done:
		t.Fatal("went idle while a request was in flight")
	case <-time.After(3 * quiet):
	}

	finishedAt := time.Now()
	tr.requestFinished()

	select {
	case err := <-done:
		require.NoError(t, err)
		assert.GreaterOrEqual(t, time.Since(finishedAt), quiet)
	case <-time.After(time.Second):
		t.Fatal("never went idle after the request finished")
	}

	started, finished := tr.counts()
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, finished)
}

func TestIdleTracker_NewRequestCancelsArmedTimer(t *testing.T) {
	quiet := 60 * time.Millisecond
	tr := newIdleTracker(quiet)
	defer tr.stop()

	tr.requestStarted()
	tr.requestFinished() // timer armed
	time.Sleep(quiet / 2)
	tr.requestStarted() // disarms it

	done := waitAsync(context.Background(), tr)
	select {
	case <-done:
		t.Fatal("stale timer marked the page idle")
	case <-time.After(2 * quiet):
	}

	tr.requestFinished()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("never went idle")
	}
}

func TestIdleTracker_IdleResetsOnLaterTraffic(t *testing.T) {
	quiet := 20 * time.Millisecond
	tr := newIdleTracker(quiet)
	defer tr.stop()

	require.NoError(t, tr.wait(context.Background()))

	tr.requestStarted()
	ctx, cancel := context.WithTimeout(context.Background(), 3*quiet)
	defer cancel()
	assert.ErrorIs(t, tr.wait(ctx), context.DeadlineExceeded, "page is busy again")
}

func TestIdleTracker_WaitHonorsContext(t *testing.T) {
	tr := newIdleTracker(time.Hour)
	defer tr.stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := waitAsync(ctx, tr)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("wait ignored cancellation")
	}
}
