package aio

import "time"

// A Group is a structured-concurrency scope: a set of child tasks, bound
// to the task that opened it, that are guaranteed to have finished (one
// way or another) by the time the scope closes.
//
// A Group must not be shared by more than one [Loop].
type Group struct {
	parent       *Task
	children     map[*Task]struct{}
	firstFailure error
	cancelling   bool
	closed       bool
	joining      bool
	joiner       *Task
	pending      *State[int]
}

// Open opens a Group bound to co as its parent. Open must only be called
// from within co's own running [Operation].
func Open(co *Task) *Group {
	if co.Ended() {
		panic(&MisuseError{Reason: "open a task group outside a running task"})
	}
	return &Group{parent: co, children: make(map[*Task]struct{})}
}

// Spawn creates a child task to work on op and adds it to the group.
//
// Unlike [Task.Spawn], Spawn does not run op immediately: the child is
// merely enqueued, and starts on the loop's next pause (e.g. when the
// calling task itself next suspends). Spawn may be called both before and
// after the group has started cancelling, but not once [Group.Close] has
// started running.
func (g *Group) Spawn(op Operation) {
	if g.closed {
		panic(&MisuseError{Reason: "spawn into a closed task group"})
	}
	loop := g.parent.loop
	child := loop.newCoroutine().init(loop, g.wrapChild(op)).recyclable().withLevel(g.parent.level + 1)
	g.children[child] = struct{}{}
	if g.pending != nil {
		g.pending.Set(len(g.children))
	}
	loop.resumeCoroutine(child, true)
}

// SpawnLimited is like Spawn, but first acquires a weight of n from sema,
// blocking the caller until capacity is available, and releases it once
// the child has finished. It bounds how many children spawned this way
// can be running at once without requiring the group itself to track a
// limit.
//
// SpawnLimited must only be called from within the group's parent task
// (the same restriction as [Group.Spawn]); the wait for sema is performed
// by the parent, not by the child.
func (g *Group) SpawnLimited(sema *Semaphore, n int64, op Operation) Operation {
	return Block(
		sema.Acquire(n),
		Do(func() {
			g.Spawn(Block(op, Do(func() { sema.Release(n) })))
		}),
	)
}

// Pending returns a [State] tracking the number of children currently
// alive in the group (spawned but not yet finished, whether or not they
// have started running). Watching it lets a task react to the group's
// occupancy, e.g. to report progress while a [Group.SpawnLimited] batch
// drains.
func (g *Group) Pending() *State[int] {
	if g.pending == nil {
		g.pending = NewState(len(g.children))
	}
	return g.pending
}

func (g *Group) wrapChild(op Operation) Operation {
	return func(co *Task) Result {
		co.Defer(func(co *Task) Result {
			g.onChildDone(co)
			return co.End()
		})
		return co.Transition(op)
	}
}

func (g *Group) onChildDone(co *Task) {
	delete(g.children, co)
	if g.pending != nil {
		g.pending.Set(len(g.children))
	}
	switch {
	case co.Cancelled():
		// Outcomes of cancellation are never recorded as a group failure,
		// and never trigger a second round of cancellation. A failure the
		// child raised while cleaning up is discarded here too.
		co.Recover2()
	case co.Panicking():
		v, _ := co.Recover2()
		if err := failureFromPanic(v); g.firstFailure == nil {
			g.firstFailure = err
			g.beginCancelling()
		}
		// Otherwise a failure has already been recorded; this one is
		// discarded, per the lost-secondary-failure rule.
	}
	if len(g.children) == 0 && g.joiner != nil {
		j := g.joiner
		g.joiner = nil
		j.Resume()
	}
}

func (g *Group) beginCancelling() {
	if g.cancelling {
		return
	}
	g.cancelling = true
	for c := range g.children {
		c.Cancel()
	}
	if !g.joining {
		g.parent.Cancel()
	}
}

// Close returns an [Operation] that suspends the parent task until every
// child has finished, then ends normally, or re-raises the group's first
// recorded failure if one occurred.
//
// Close is meant to be registered with [Task.Defer] (or via [WithGroup]),
// so that it also observes a failure raised by the scope's own body — such
// a failure becomes a candidate first failure exactly like a child's would,
// and triggers the same cancellation fan-out.
//
// The join-wait itself runs under [NonCancelable]: beginCancelling may have
// just canceled the parent (its self-cancel guard only fires when the
// parent isn't already joining, and joining only becomes true right here),
// and a plain Yield at that point would be converted straight into a
// cancellation exit by the task's own pending flagCanceled — returning with
// children still alive and dropping firstFailure on the floor instead of
// actually waiting for them.
func (g *Group) Close() Operation {
	return func(co *Task) Result {
		// joining must be set before beginCancelling can possibly run
		// below: beginCancelling's self-cancel guard (`if !g.joining`)
		// exists to avoid canceling co when co is itself a child being
		// canceled by a sibling's failure, not when co is the parent
		// recording its own body's failure right here.
		g.joining = true

		if !g.closed {
			g.closed = true
			if co.Panicking() {
				v, _ := co.Recover2()
				err := failureFromPanic(v)
				if isCancelled(err) {
					if g.firstFailure == nil {
						g.firstFailure = err
					}
				} else if g.firstFailure == nil {
					g.firstFailure = err
					g.beginCancelling()
				}
			}
		}

		return co.Transition(Block(NonCancelable(g.wait()), g.finish()))
	}
}

func (g *Group) wait() Operation {
	return func(co *Task) Result {
		if len(g.children) == 0 {
			return co.End()
		}
		g.joiner = co
		return co.Yield()
	}
}

func (g *Group) finish() Operation {
	return func(co *Task) Result {
		if g.firstFailure != nil {
			err := g.firstFailure
			g.firstFailure = nil
			return co.Throw(err)
		}
		return co.End()
	}
}

// WithGroup runs body with a freshly opened [Group], guaranteeing the
// group is closed — waiting for every child, then re-raising its first
// failure if any — no matter how body itself ends.
func WithGroup(body func(g *Group) Operation) Operation {
	return Func(func(co *Task) Result {
		g := Open(co)
		co.Defer(g.Close())
		return co.Transition(body(g))
	})
}

// Gather runs each computation in cs concurrently as children of a new
// group, in their own order, and stores their results into *dst in the
// same order once every one of them has ended.
//
// Each computation receives a pointer to the slot it must fill before its
// returned [Operation] ends; computations that produce no meaningful
// value (e.g. one built on [Sleep]) may ignore it, leaving that slot nil.
// If any computation fails, Gather raises the group's first failure and
// *dst is left unmodified.
func Gather(dst *[]any, cs ...func(*any) Operation) Operation {
	results := make([]any, len(cs))
	return Block(
		WithGroup(func(g *Group) Operation {
			return func(co *Task) Result {
				for i, c := range cs {
					g.Spawn(c(&results[i]))
				}
				return co.End()
			}
		}),
		Do(func() { *dst = results }),
	)
}

// WaitAll runs each operation in cs concurrently and ends once every one
// of them has, independent of any [Group]: unlike [Gather], a failure in
// one does not cancel the rest. It is the right tool when the computations
// in cs are already each responsible for recovering their own failures,
// and the caller just needs a barrier.
func WaitAll(cs ...Operation) Operation {
	return Join(cs...)
}

// WithTimeout runs body and raises [TimeoutError] if it has not ended
// within d. If body ends first, the pending timer is canceled.
//
// WithTimeout is built on [Select], exactly the sibling-sleep-task
// recipe described for task groups: a timeout is not a primitive of its
// own, just a race between body and a timer.
func WithTimeout(d time.Duration, body Operation) Operation {
	var timedOut bool
	return Block(
		Select(
			Block(Sleep(d), Do(func() { timedOut = true })),
			body,
		),
		func(co *Task) Result {
			if timedOut {
				return co.Throw(TimeoutError{})
			}
			return co.End()
		},
	)
}
