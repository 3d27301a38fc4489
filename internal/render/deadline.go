package render

import "time"

// minRemaining keeps waits positive once the budget is spent, so the last
// wait times out immediately instead of blocking forever.
const minRemaining = time.Millisecond

// deadline is a render's time budget, fixed when Render is entered.
type deadline struct {
	start  time.Time
	budget time.Duration
	now    func() time.Time
}

func newDeadline(budget time.Duration) deadline {
	return newDeadlineAt(time.Now, budget)
}

func newDeadlineAt(now func() time.Time, budget time.Duration) deadline {
	return deadline{start: now(), budget: budget, now: now}
}

// Remaining is the budget left, never less than a millisecond.
func (d deadline) Remaining() time.Duration {
	left := d.budget - d.now().Sub(d.start)
	if left < minRemaining {
		return minRemaining
	}
	return left
}

// Expired reports whether the whole budget is spent.
func (d deadline) Expired() bool {
	return d.now().Sub(d.start) >= d.budget
}
