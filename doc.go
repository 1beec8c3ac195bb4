// Package aio is a small cooperative asynchronous runtime.
//
// Go already does a great job of giving every goroutine its own stack, so
// this package doesn't try to replace goroutines. Instead it gives a
// single goroutine a [Loop]: a ready queue, a timer heap, and a readiness
// poller, all driven cooperatively, so that timers, file descriptors and
// in-process events can be waited on without blocking the underlying
// goroutine. One can create as many loops as one likes; each one only
// ever touches its own state from the single goroutine that happens to be
// inside its [Loop.Run] at the time.
//
// # Starting a Computation
//
// [Run] is the usual entry point: it builds a [Loop], spawns a root
// [Task] to work on an [Operation], drains the loop until that task ends,
// and translates whatever happened into a single error (or nil). Use
// [Option] values like [WithClock] or [WithPoller] to customize the loop,
// mainly for tests.
//
// # Suspending and Resuming
//
// An [Operation] is spawned with a [Task] to take care of it. In this
// user-provided function, one can return a specific [Result] to tell a
// coroutine to watch and await some events (e.g. [Signal], [timer],
// [ioWatch], [Future]), and the coroutine can just re-run the task
// whenever any of these events notifies.
//
// A [Task] can also make a transition from one [Operation] to another,
// just like a state machine can make a transition from one state to
// another. This is done by returning another specific [Result] from
// within a task function. A coroutine can transition from one task to
// another until a task ends it.
//
// With the ability to transition, this package provides more advanced
// control structures, like [Block], [Do] and [Func], to ease the process
// of writing async code. The experience feels similar to writing sync
// code, just without blocking the goroutine underneath it.
//
// # Timers and Readiness
//
// [Sleep] suspends a task for at least a given duration, backed by a
// timer heap kept on the [Loop]; [Read] and [Write] suspend until a file
// descriptor becomes ready, backed by the platform's readiness poller
// (epoll on Linux). Both return a [Future] alongside the [Operation] that
// resolves it, so a task can kick several of these off before awaiting
// any of them.
//
// # Structured Concurrency
//
// A [Group] is a set of child tasks bound to the task that opened it.
// [Open] opens one; [Group.Close], usually registered with [Task.Defer]
// or reached through [WithGroup], suspends until every child has
// finished, one way or another, and re-raises the first failure any of
// them (or the scope's own body) recorded. The moment a first failure is
// recorded, every other child is canceled — fan-out, not best-effort.
// [Gather] and [WithTimeout] are built on top of this and [Select].
//
// Child coroutines are Operation-scoped and, therefore, cancelable. When
// an [Operation] completes, all child coroutines spawned directly in it
// (via [Task.Spawn], as opposed to a [Group]) are canceled.
//
// Root coroutines, on the other hand, are not cancelable from outside in
// the ordinary sense; [Loop.Interrupt] exists specifically to break one
// out of a suspension point it would otherwise never leave on its own,
// e.g. one waiting on an external event the loop has no way to observe.
//
// By default, canceled child coroutines cannot yield. All yield points
// are treated like exit points. However, within a [NonCancelable]
// context, a canceled child coroutine is allowed to yield, which would
// correspondingly cause its parent coroutine to yield, too. In such a
// case, the parent coroutine stays suspended until all its child
// coroutines complete.
//
// # Failures
//
// Child coroutines propagate unrecovered panics to their parent
// coroutines. Root coroutines propagate unrecovered panics to their
// [Loop], causing [Run] to return a translated error — see
// [CancelledError], [DeadlockError], [*MisuseError], [*UserFailure],
// [TimeoutError] — or, for a raw runtime.Error, to panic once [Loop.Run]
// returns, the same as the underlying computation did.
//
// If a coroutine spawns multiple child coroutines and one of them panics
// without recovering, the coroutine cancels the others. Then, once every
// child has completed, the coroutine propagates the first failure to its
// parent coroutine, or its [Loop] if it's a root coroutine. A [Group]
// generalizes exactly this mechanism to children started after the
// parent has already begun running.
package aio
