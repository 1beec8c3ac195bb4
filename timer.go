package aio

import "time"

// timer is a one-shot [Event], fired by the [Loop] when its deadline
// arrives. It is removed from the timer heap lazily: once every listener
// stops watching it (because the watching task resumed for some other
// reason, e.g. cancellation), it is marked done and simply skipped the
// next time the loop pops it, rather than searched for and removed from
// the heap eagerly.
type timer struct {
	Signal
	deadline time.Time
	seq      uint64 // breaks ties between equal deadlines, FIFO.
	done     bool   // true once safe to skip when popped from the heap.
	fired    bool   // true only once the loop has actually delivered it.
}

func (t *timer) less(o *timer) bool {
	if !t.deadline.Equal(o.deadline) {
		return t.deadline.Before(o.deadline)
	}
	return t.seq < o.seq
}

func (t *timer) removeListener(co *Task) {
	t.Signal.removeListener(co)
	if len(t.listeners) == 0 {
		t.done = true
	}
}

// Sleep returns an [Operation] that suspends the running task for at least
// d, then ends.
//
// Sleep re-checks fired, rather than stashing a continuation to run once
// woken, specifically so that a cancellation delivered while asleep makes
// it try to suspend again instead of silently falling through to End: a
// task resumed by [Task.Cancel] observes the yield attempt and converts it
// into an exit, the same as any other suspension point would.
func Sleep(d time.Duration) Operation {
	var t *timer
	return func(co *Task) Result {
		if t == nil {
			if d <= 0 {
				return co.End()
			}
			t = co.loop.scheduleTimer(d)
		}
		if !t.fired {
			return co.Yield(t)
		}
		return co.End()
	}
}
