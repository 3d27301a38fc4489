package browser

import (
	"context"
)

// CombineContext derives a context from primary that also ends when op ends.
// Values come from primary only, which matters for chromedp: primary carries
// the target, op carries the caller's deadline and cancellation. op's
// deadline is copied so a timeout surfaces as context.DeadlineExceeded.
func CombineContext(primary, op context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(primary)
	cancelDeadline := context.CancelFunc(func() {})
	if deadline, ok := op.Deadline(); ok {
		ctx, cancelDeadline = context.WithDeadline(ctx, deadline)
	}
	stop := context.AfterFunc(op, cancel)
	return ctx, func() {
		stop()
		cancelDeadline()
		cancel()
	}
}

// Detach returns a context carrying ctx's values but none of its
// cancellation. Cleanup that must run after the caller gave up uses it.
func Detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
