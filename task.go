package aio

import (
	"iter"
	"slices"
)

type action int

const (
	_ action = iota
	doYield
	doTransition
	doTailTransition // Do transition and remove controller.
	doEnd
	doBreak
	doContinue
	doReturn
	doRaise // Exit or panic.
)

const (
	flagResumed = 1 << iota
	flagEnqueued
	flagEnded
	flagExiting
	flagPanicking
	flagCanceled
	flagRecyclable
	flagRecycled
	flagEscaped
	flagNonCancelable
)

// A Task is an execution of code, similar to a goroutine but cooperative
// and stackless.
//
// A coroutine is created with a function called [Operation].
// A coroutine's job is to end the task.
// When an [Loop] spawns a coroutine with a task, it runs the coroutine by
// calling the task function with the coroutine as the argument.
// The return value determines whether to end the coroutine or to yield it
// so that it could resume later.
//
// In order for a coroutine to resume, the coroutine must watch at least one
// [Event] (e.g. [Signal], [State] and [Future], etc.), when calling the task
// function.
// A notification of such an event resumes the coroutine.
// When a coroutine is resumed, the loop runs the coroutine again.
//
// A coroutine can also make a transition to work on another task according to
// the return value of the task function.
// A coroutine can transition from one task to another until a task ends it.
type Task struct {
	flag        uint16
	level       uint32
	parent      *Task
	loop        *Loop
	ps          panicstack
	guard       func() bool
	task        Operation
	deps        map[Event]struct{}
	cleanups    []Cleanup
	defers      []Operation
	controllers []controller
}

func (e *Loop) newCoroutine() *Task {
	if co := e.coroutinePool().Get(); co != nil {
		return co.(*Task)
	}
	return new(Task)
}

func (e *Loop) freeCoroutine(co *Task) {
	if co.flag&(flagRecyclable|flagRecycled|flagEscaped) == flagRecyclable {
		co.flag |= flagRecycled
		co.parent = nil
		co.loop = nil
		clear(co.ps)
		co.ps = co.ps[:0]
		co.task = nil
		e.coroutinePool().Put(co)
	}
}

func (co *Task) init(e *Loop, t Operation) *Task {
	co.flag = flagResumed
	co.level = 0
	co.loop = e
	co.task = t
	return co
}

func (co *Task) recyclable() *Task {
	co.flag |= flagRecyclable
	return co
}

func (co *Task) withLevel(l uint32) *Task {
	co.level = l
	return co
}

// Resume resumes co.
func (co *Task) Resume() {
	co.loop.resumeCoroutine(co, true)
}

func (e *Loop) resumeCoroutine(co *Task, lock bool) {
	switch flag := co.flag; {
	case flag&flagRecycled != 0:
		panic("aio: coroutine has been recycled")
	case flag&flagEnqueued != 0:
		co.flag = flag | flagResumed
	default:
		co.flag = flag | flagResumed | flagEnqueued
		var autorun func()
		if lock {
			e.mu.Lock()
		}
		if !e.running && e.autorun != nil {
			e.running = true
			autorun = e.autorun
		}
		e.readyQueue().Add(co)
		if lock {
			e.mu.Unlock()
		}
		if autorun != nil {
			autorun()
		}
	}
}

func (e *Loop) runCoroutine(co *Task) {
	flag := co.flag
	flag &^= flagEnqueued
	co.flag = flag
	switch {
	case flag&flagEnded != 0:
		e.freeCoroutine(co)
	case flag&flagResumed != 0:
		e.mu.Unlock()
		co.run()
		e.mu.Lock()
	}
}

func (co *Task) run() (yielded bool) {
	var res Result

	ps := &co.ps
	guard := co.guard

	for {
		if guard != nil {
			var ok bool

			co.flag &^= flagResumed

			if !ps.Try(func() { ok = guard() }) {
				co.task = (*Task).panic
				ok = true
			}

			if !ok {
				return true
			}

			guard = nil
			co.guard = nil
		}

		co.clearDeps()
		co.clearCleanups()

		co.flag &^= flagResumed | flagEnded

		if !ps.Try(func() { res = co.task(co) }) {
			res = co.panic()
		}

		if res.action == doYield && co.flag&(flagCanceled|flagNonCancelable) == flagCanceled {
			res = co.cancel()
		}

		if res.action != doYield && res.action != doTransition {
			co.clearDeps()
			co.clearCleanups()
			if co.Panicking() {
				res = co.panic()
			}
			controllers := co.controllers
			for len(controllers) != 0 {
				i := len(controllers) - 1
				c := &controllers[i]
				if !ps.Try(func() { res = c.negotiate(co, res) }) {
					res = c.negotiate(co, co.panic())
				}
				if res.action != doTransition {
					if !ps.Try(c.cleanup) {
						res = co.panic()
					}
					controllers[i] = controller{}
					controllers = controllers[:i]
					co.controllers = controllers
				}
				if res.action == doTransition || res.action == doTailTransition {
					break
				}
			}
			if res.action != doTransition && res.action != doTailTransition {
				rootController := &controller{kind: funcController}
				if !ps.Try(func() { res = rootController.negotiate(co, res) }) {
					res = rootController.negotiate(co, co.panic())
				}
			}
			if res.action == doTailTransition {
				res.action = doTransition
			}
		}

		if res.task != nil {
			co.task = res.task
		}

		if res.guard != nil {
			guard = res.guard
			co.guard = guard
			continue // For calling guard immediately.
		}

		if res.action != doTransition {
			break
		}

		if res.controller.kind != 0 {
			addController := true
			if res.controller.kind == funcController && !res.controller.wasExiting && !res.controller.wasPanicking {
				lastController := &controller{kind: funcController}
				if n := len(co.controllers); n != 0 {
					lastController = &co.controllers[n-1]
				}
				if lastController.kind == funcController && lastController.numDefer == res.controller.numDefer {
					// Tail-call optimization:
					// If the last controller is also a funcController, do not add another one.
					// (doTailTransition also pays tribute to this optimization.)
					addController = false
				}
			}
			if addController {
				co.controllers = append(co.controllers, res.controller)
				if capSizeLimit := 1000000; cap(co.controllers) > capSizeLimit {
					co.flag &^= flagRecyclable
					co.task = func(co *Task) Result {
						panic("aio: too many controllers or recursions")
					}
				}
			}
		}
	}

	if res.action == doYield {
		return true
	}

	co.flag |= flagEnded

	co.clearDeps()
	co.clearCleanups()
	co.removeFromParent()

	if co.Panicking() {
		if parent := co.parent; parent != nil {
			parent.flag |= flagPanicking
			parent.guard = nil
			parent.task = (*Task).panic
			parent.ps = append(parent.ps, co.ps...)
			parent.Resume()
		} else {
			co.loop.ps = append(co.loop.ps, co.ps...)
		}
	}

	if len(co.defers) != 0 {
		panic("aio: internal error: not all deferred tasks are handled")
	}

	if len(co.controllers) != 0 {
		panic("aio: internal error: not all controllers are handled")
	}

	if co.flag&flagEnqueued == 0 {
		co.loop.freeCoroutine(co)
	}

	return false
}

func (co *Task) clearDeps() {
	deps := co.deps
	for d := range deps {
		delete(deps, d)
		d.removeListener(co)
	}
}

func (co *Task) clearCleanups() {
	ok := true
	cleanups := co.cleanups
	for len(co.cleanups) != 0 {
		cleanups := co.cleanups
		co.cleanups = nil
		for _, c := range slices.Backward(cleanups) {
			ok = co.ps.Try(c.Cleanup) && ok
		}
	}
	clear(cleanups)
	co.cleanups = cleanups[:0]
	if !ok {
		co.flag |= flagPanicking
		co.task = (*Task).panic
	}
}

func (co *Task) removeFromParent() {
	parent := co.parent
	if parent == nil {
		return
	}
	for i, c := range parent.cleanups {
		if c == (*childCoroutineCleanup)(co) {
			parent.cleanups = slices.Delete(parent.cleanups, i, i+1)
			break
		}
	}
}

type childCoroutineCleanup Task

func (child *childCoroutineCleanup) Cleanup() {
	co := (*Task)(child)
	co.guard = nil
	co.task = (*Task).cancel
	if yielded := co.run(); yielded {
		panic("aio: internal error: child coroutine did not end")
	}
}

// Parent returns the parent coroutine of co.
func (co *Task) Parent() *Task {
	return co.parent
}

// Loop returns the loop that spawned co.
func (co *Task) Loop() *Loop {
	return co.loop
}

// Ended reports whether co has already ended (or exited).
func (co *Task) Ended() bool {
	return co.flag&flagEnded != 0
}

// Exiting reports whether co is exiting.
//
// When exiting, entering a [Func], in a deferred task, would temporarily
// reset Exiting to false until that [Func] ends or exits again.
func (co *Task) Exiting() bool {
	return co.flag&flagExiting != 0
}

// Panicking reports whether co is panicking.
//
// When panicking, entering a [Func], in a deferred task, would temporarily
// reset Panicking to false until that [Func] ends or panics again.
func (co *Task) Panicking() bool {
	return co.flag&flagPanicking != 0
}

// Resumed reports whether co has been resumed.
func (co *Task) Resumed() bool {
	return co.flag&flagResumed != 0
}

// Cancelled reports whether co has been asked to cancel.
//
// A cancelled coroutine keeps running, but any attempt to yield outside a
// [NonCancelable] scope is turned into an immediate exit, so cleanups and
// deferred tasks still run on the way out.
func (co *Task) Cancelled() bool {
	return co.flag&flagCanceled != 0
}

// Cancel asks co to cancel.
//
// Cancel is idempotent and does not itself stop co from running; it only
// marks co so that its next yield attempt (outside a [NonCancelable] scope)
// exits instead of suspending. If co is currently suspended waiting on some
// [Event], Cancel wakes it so that it observes the request right away.
func (co *Task) Cancel() {
	if co.flag&(flagEnded|flagCanceled) != 0 {
		return
	}
	co.flag |= flagCanceled
	co.Resume()
}

// Escape marks co as an escaped coroutine, preventing co from being put into
// pool for recycling.
// Useful when one wants to access co from another goroutine.
//
// Without calling this method, a coroutine may be put into pool for recycling
// when it ends or exits.
func (co *Task) Escape() {
	co.flag |= flagEscaped
}

// Unescape undoes what [Task.Escape] does so that co can be put into
// pool again for recycling.
//
// Panics if Escape has not yet been called after the last call of Unescape.
func (co *Task) Unescape() {
	if co.flag&flagEscaped == 0 {
		panic("aio: coroutine did not escape")
	}
	co.flag &^= flagEscaped
}

// Watch watches some events so that, when any of them notifies, co resumes.
func (co *Task) Watch(ev ...Event) {
	if co.flag&flagEnded != 0 || co.flag&(flagCanceled|flagNonCancelable) == flagCanceled {
		return
	}
	for _, d := range ev {
		deps := co.deps
		if deps == nil {
			deps = make(map[Event]struct{})
			co.deps = deps
		}
		deps[d] = struct{}{}
		d.addListener(co)
	}
}

// Cleanup represents any type that carries a Cleanup method.
// A Cleanup can be added to a coroutine in a [Operation] function for making
// an effect some time later when the coroutine resumes or ends or exits, or
// when the coroutine is making a transition to work on another [Operation].
type Cleanup interface {
	Cleanup()
}

// A CleanupFunc is a func() that implements the [Cleanup] interface.
type CleanupFunc func()

// Cleanup implements the [Cleanup] interface.
func (f CleanupFunc) Cleanup() { f() }

// Cleanup adds something to clean up when co resumes or ends or exits, or when
// co is making a transition to work on another [Operation].
func (co *Task) Cleanup(c Cleanup) {
	if co.Ended() {
		panic("aio: coroutine has already ended")
	}
	if c == nil {
		return
	}
	co.cleanups = append(co.cleanups, c)
}

// CleanupFunc adds a function call when co resumes or ends or exits, or when
// co is making a transition to work on another [Operation].
func (co *Task) CleanupFunc(f func()) {
	if co.Ended() {
		panic("aio: coroutine has already ended")
	}
	if f == nil {
		return
	}
	co.cleanups = append(co.cleanups, CleanupFunc(f))
}

// Defer adds a [Operation] for execution when returning from a [Func].
// Deferred tasks are executed in last-in-first-out (LIFO) order.
func (co *Task) Defer(t Operation) {
	if co.Ended() {
		panic("aio: coroutine has already ended")
	}
	if t == nil {
		return
	}
	co.defers = append(co.defers, t)
}

// Recover returns the latest value in the panic stack and stops co from
// panicking.
// If co isn't panicking, Recover returns nil.
//
// One might be tempted to use the built-in panic function and this method to
// mimic the power of try-catch statement in some other programming languages,
// but there's a cost.
// In order to be able to continue running, when there's a panic, a coroutine
// immediately recovers it and puts it into the panic stack, along with a stack
// trace returned by [runtime/debug.Stack], which might take thousands of bytes.
//
// Instead of using the built-in panic function to trigger a panic, one could
// consider use [Task.Throw] to mimic one, which leaves no stack trace
// behind.
func (co *Task) Recover() (v any) {
	v, _ = co.Recover2()
	return v
}

// Recover2 is like [Task.Recover] but also returns the stack trace.
func (co *Task) Recover2() (v any, stacktrace []byte) {
	if !co.Panicking() {
		return nil, nil
	}
	p := &co.ps[len(co.ps)-1]
	p.recovered = true
	co.flag &^= flagPanicking
	return p.value, p.stack
}

// Spawn creates a child coroutine to work on t.
//
// Spawn runs t immediately. If t panics immediately, Spawn panics too.
//
// Child coroutines, if not yet ended, are canceled when the parent one resumes
// or ends or exits, or when the parent one is making a transition to work on
// another [Operation].
// When a coroutine is canceled, it runs to completion with all yield points
// treated like exit points.
func (co *Task) Spawn(t Operation) {
	if co.Ended() {
		panic("aio: coroutine has already ended")
	}

	level := co.level + 1
	if level == 0 {
		panic("aio: too many levels")
	}

	child := co.loop.newCoroutine().init(co.loop, t).recyclable().withLevel(level)
	child.parent = co

	switch yielded := child.run(); {
	case yielded:
		co.cleanups = append(co.cleanups, (*childCoroutineCleanup)(child))
	case co.Panicking():
		// child panics.
		panic(dummy{}) // Stop current task.
	}
}

// Result is the type of the return value of a [Operation] function.
// A Result determines what next for a coroutine to do after running a task.
//
// A Result can be created by calling one of the following methods:
//   - [Task.Await]: for creating a [PendingResult] that can be transformed
//     into a [Result] with one of its methods, which will then cause
//     the running coroutine to yield;
//   - [Task.Yield]: for yielding a coroutine with additional events to
//     watch and, when resumed, reiterating the running task;
//   - [Task.Transition]: for making a transition to work on another task;
//   - [Task.End]: for ending the running task of a coroutine;
//   - [Task.Break]: for breaking a [Loop] (or [LoopN]);
//   - [Task.Continue]: for continuing a [Loop] (or [LoopN]);
//   - [Task.Return]: for returning from a [Func];
//   - [Task.Exit]: for exiting a coroutine;
//   - [Task.Throw]: for simulating a panic.
//
// These methods may have side effects. One should never store a Result in
// a variable and overwrite it with another, before returning it. Instead,
// one should just return a Result right after it is created.
type Result struct {
	action     action
	guard      func() bool // used by doYield only
	task       Operation        // used by doYield, doTransition and doTailTransition
	controller controller  // used by doTransition only
}

// PendingResult is the return type of the [Task.Await] method.
// A PendingResult is an intermediate value that must be transformed into
// a [Result] with one of its methods before returning from a [Operation].
type PendingResult struct {
	res Result
}

// Reiterate returns a [Result] that will cause the running coroutine to yield
// and, when resumed, reiterate the running task.
func (pr PendingResult) Reiterate() Result {
	return pr.res
}

// Then returns a [Result] that will cause the running coroutine to yield and,
// when resumed, make a transition to work on another [Operation].
func (pr PendingResult) Then(t Operation) Result {
	pr.res.task = must(t)
	return pr.res
}

// End returns a [Result] that will cause the running coroutine to yield and,
// when resumed, end the running task.
func (pr PendingResult) End() Result {
	return pr.Then(End())
}

// Break returns a [Result] that will cause the running coroutine to yield and,
// when resumed, break a [Loop] (or [LoopN]).
func (pr PendingResult) Break() Result {
	return pr.Then(Break())
}

// Continue returns a [Result] that will cause the running coroutine to yield
// and, when resumed, continue a [Loop] (or [LoopN]).
func (pr PendingResult) Continue() Result {
	return pr.Then(Continue())
}

// Return returns a [Result] that will cause the running coroutine to yield and,
// when resumed, return from a [Func].
func (pr PendingResult) Return() Result {
	return pr.Then(Return())
}

// Exit returns a [Result] that will cause the running coroutine to yield and,
// when resumed, cause the running coroutine to exit.
func (pr PendingResult) Exit() Result {
	return pr.Then(Exit())
}

// Throw returns a [Result] that will cause the running coroutine to yield and,
// when resumed, cause the running coroutine to behave like there's a panic.
// Unlike the built-in panic function, Throw leaves no stack trace behind.
// Please use with caution.
func (pr PendingResult) Throw(v any) Result {
	return pr.Then(Throw(v))
}

// Until transforms pr into one with a condition.
// Affected coroutines remain yielded until the condition is met.
func (pr PendingResult) Until(f func() bool) PendingResult {
	pr.res.guard = f
	return pr
}

// Await returns a [PendingResult] that can be transformed into a [Result]
// with one of its methods, which will then cause co to yield.
// Await also accepts additional events to watch.
func (co *Task) Await(ev ...Event) PendingResult {
	if len(ev) != 0 {
		co.Watch(ev...)
	}
	return PendingResult{res: Result{action: doYield}}
}

// Yield returns a [Result] that will cause co to yield and, when co is resumed,
// reiterate the running task.
// Yield also accepts additional events to watch.
func (co *Task) Yield(ev ...Event) Result {
	return co.Await(ev...).Reiterate()
}

// Transition returns a [Result] that will cause co to make a transition to
// work on t.
func (co *Task) Transition(t Operation) Result {
	return Result{action: doTransition, task: must(t)}
}

// End returns a [Result] that will cause co to end its current running task.
func (co *Task) End() Result {
	return Result{action: doEnd}
}

// Break returns a [Result] that will cause co to break a [Loop] (or [LoopN]).
func (co *Task) Break() Result {
	return Result{action: doBreak}
}

// Continue returns a [Result] that will cause co to continue a [Loop]
// (or [LoopN]).
func (co *Task) Continue() Result {
	return Result{action: doContinue}
}

// Return returns a [Result] that will cause co to return from a [Func].
func (co *Task) Return() Result {
	return Result{action: doReturn}
}

// Exit returns a [Result] that will cause co to exit.
// All deferred tasks will be run before co exits.
func (co *Task) Exit() Result {
	co.flag |= flagExiting
	return Result{action: doRaise}
}

func (co *Task) cancel() Result {
	co.flag |= flagExiting | flagCanceled
	return Result{action: doRaise}
}

func (co *Task) panic() Result {
	co.flag |= flagPanicking
	return Result{action: doRaise}
}

// Throw returns a [Result] that will cause co to behave like there's a panic.
// Unlike the built-in panic function, Throw leaves no stack trace behind.
// Please use with caution.
func (co *Task) Throw(v any) Result {
	if v == nil {
		panic("aio: Throw called with nil argument")
	}
	co.ps.push(v, nil)
	co.flag |= flagPanicking
	return Result{action: doRaise}
}

type controllerKind int8

const (
	_ controllerKind = iota
	funcController
	thenController
	blockController
	loopController
	seqController
	nonCancelableController
)

type controller struct {
	kind             controllerKind
	wasExiting       bool                // used by funcController only
	wasPanicking     bool                // used by funcController only
	wasNonCancelable bool                // used by nonCancelableController only
	numPanic         int                 // used by funcController only
	numDefer         int                 // used by funcController only
	task             Operation                // used by thenController and loopController
	tasks            []Operation              // used by blockController only
	next             func() (Operation, bool) // used by seqController only
	stop             func()              // used by seqController only
}

func (c *controller) negotiate(co *Task, res Result) Result {
	switch c.kind {
	case funcController:
		switch res.action {
		case doEnd, doReturn, doRaise:
			if !co.Panicking() && len(co.ps) > c.numPanic {
				// Discard recovered panic values.
				clear(co.ps[c.numPanic:])
				co.ps = co.ps[:c.numPanic]
			}
			if len(co.defers) > c.numDefer {
				i := len(co.defers) - 1
				t := co.defers[i]
				co.defers[i] = nil
				co.defers = co.defers[:i]
				return co.Transition(t)
			}
			raise := co.flag&(flagExiting|flagPanicking) != 0
			if c.wasExiting {
				co.flag |= flagExiting
			}
			if c.wasPanicking {
				co.flag |= flagPanicking
			}
			if raise {
				return Result{action: doRaise}
			}
			return co.End()
		case doBreak:
			panic("aio: unhandled break action")
		case doContinue:
			panic("aio: unhandled continue action")
		default:
			panic("aio: internal error: unknown action")
		}
	case thenController:
		if res.action != doEnd {
			return res
		}
		return Result{action: doTailTransition, task: c.task}
	case blockController:
		if res.action != doEnd || len(c.tasks) == 0 {
			return res
		}
		t := c.tasks[0]
		c.tasks = c.tasks[1:]
		action := doTransition
		if len(c.tasks) == 0 {
			action = doTailTransition
		}
		return Result{action: action, task: must(t)}
	case loopController:
		switch res.action {
		case doEnd:
			return co.Transition(c.task)
		case doBreak:
			return co.End()
		case doContinue:
			return co.Transition(c.task)
		default:
			return res
		}
	case seqController:
		if res.action == doEnd {
			if t, ok := c.next(); ok {
				return co.Transition(t)
			}
		}
		return res
	case nonCancelableController:
		if !c.wasNonCancelable {
			co.flag &^= flagNonCancelable
		}
		return res
	default:
		panic("aio: internal error: unknown controller")
	}
}

func (c *controller) cleanup() {
	switch c.kind {
	case seqController:
		c.stop()
	}
}

// A Operation is a piece of work that a coroutine is given to do when it is spawned.
// The return value of a task, a [Result], determines what next for a coroutine
// to do.
//
// Without calling [Task.Escape], co must not escape to another goroutine
// because, co may be put into pool for recycling when co ends or exits.
type Operation func(co *Task) Result

// Then returns a [Operation] that first works on t, then next after t ends.
//
// To chain multiple tasks, use [Block] function.
func (t Operation) Then(next Operation) Operation {
	return func(co *Task) Result {
		return Result{
			action:     doTransition,
			task:       must(t),
			controller: controller{kind: thenController, task: must(next)},
		}
	}
}

// Do returns a [Operation] that calls f, and then ends.
func Do(f func()) Operation {
	return func(co *Task) Result {
		f()
		return co.End()
	}
}

// End returns a [Operation] that ends without doing anything.
func End() Operation {
	return (*Task).End
}

// Await returns a [Operation] that awaits some events until any of them notifies,
// and then ends.
// If ev is empty, Await returns a [Operation] that never ends.
func Await(ev ...Event) Operation {
	if len(ev) == 0 {
		// Return a pure function instead.
		return func(co *Task) Result {
			return co.Await().End()
		}
	}
	return func(co *Task) Result {
		return co.Await(ev...).End()
	}
}

// YieldNow returns an Operation that suspends the calling task for exactly
// one trip through the scheduler: every task already on the ready queue
// gets a turn first, then this one resumes and ends. It has no effect on
// the computation's result, only on scheduling order — the same
// self-requeue idiom [Group.Spawn] uses to defer a child's first run, just
// applied to the calling task itself instead of a new one.
func YieldNow() Operation {
	return func(co *Task) Result {
		co.Resume()
		return co.Await().Then(End())
	}
}

// Block returns a [Operation] that runs each of the given tasks in sequence.
// When one task ends, Block runs another.
func Block(s ...Operation) Operation {
	switch len(s) {
	case 0:
		return End()
	case 1:
		return s[0]
	case 2:
		return s[0].Then(s[1])
	}
	return func(co *Task) Result {
		return Result{
			action:     doTransition,
			task:       must(s[0]),
			controller: controller{kind: blockController, tasks: s[1:]},
		}
	}
}

// Break returns a [Operation] that breaks a [Loop] (or [LoopN]).
func Break() Operation {
	return (*Task).Break
}

// Continue returns a [Operation] that continues a [Loop] (or [LoopN]).
func Continue() Operation {
	return (*Task).Continue
}

// Loop returns a [Operation] that forms a loop, which would run t repeatedly.
// Both [Task.Break] and [Break] can break this loop early.
// Both [Task.Continue] and [Continue] can continue this loop early.
func Loop(t Operation) Operation {
	return func(co *Task) Result {
		return Result{
			action:     doTransition,
			task:       must(t),
			controller: controller{kind: loopController, task: t},
		}
	}
}

// LoopN returns a [Operation] that forms a loop, which would run t repeatedly
// for n times.
// Both [Task.Break] and [Break] can break this loop early.
// Both [Task.Continue] and [Continue] can continue this loop early.
func LoopN[Int intType](n Int, t Operation) Operation {
	return func(co *Task) Result {
		i := Int(0)
		f := func(co *Task) Result {
			if i < n {
				i++
				return co.Transition(t)
			}
			return co.Break()
		}
		return Result{
			action:     doTransition,
			task:       f,
			controller: controller{kind: loopController, task: f},
		}
	}
}

type intType interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// Defer returns a [Operation] that adds t for execution when returning from
// a [Func].
// Deferred tasks are executed in last-in-first-out (LIFO) order.
func Defer(t Operation) Operation {
	return func(co *Task) Result {
		co.Defer(t)
		return co.End()
	}
}

// Return returns a [Operation] that returns from a surrounding [Func].
func Return() Operation {
	return (*Task).Return
}

// Exit returns a [Operation] that causes the coroutine that runs it to exit.
// All deferred tasks are run before the coroutine exits.
func Exit() Operation {
	return (*Task).Exit
}

// Throw returns a [Operation] that causes the coroutine that runs it to behave
// like there's a panic.
// Unlike the built-in panic function, Throw leaves no stack trace behind.
// Please use with caution.
func Throw(v any) Operation {
	return func(co *Task) Result {
		return co.Throw(v)
	}
}

// Func returns a [Operation] that runs t in a function scope.
// Spawned tasks are considered surrounded by an invisible [Func].
func Func(t Operation) Operation {
	return func(co *Task) Result {
		res := Result{
			action: doTransition,
			task:   must(t),
			controller: controller{
				kind:         funcController,
				wasExiting:   co.Exiting(),
				wasPanicking: co.Panicking(),
				numPanic:     len(co.ps),
				numDefer:     len(co.defers),
			},
		}
		co.flag &^= flagExiting | flagPanicking
		return res
	}
}

// NonCancelable returns a [Operation] that runs t with cancellation checks
// suspended: if co has been asked to [Task.Cancel], t may still yield (e.g.
// to perform a bounded wait while cleaning up) without co being forced to
// exit immediately. The suppression lasts only for the duration of t; once
// t ends, the previous cancellation-check state (on or off, for nested
// NonCancelable scopes) is restored.
//
// NonCancelable does not clear a pending cancellation: once t ends, if co
// is still cancelled, the next yield outside any NonCancelable scope exits
// as usual.
func NonCancelable(t Operation) Operation {
	return func(co *Task) Result {
		was := co.flag&flagNonCancelable != 0
		co.flag |= flagNonCancelable
		return Result{
			action: doTransition,
			task:   must(t),
			controller: controller{
				kind:             nonCancelableController,
				wasNonCancelable: was,
			},
		}
	}
}

func must(t Operation) Operation {
	if t == nil {
		panic("aio: nil Operation")
	}
	return t
}

// FromSeq returns a [Operation] that runs each of the tasks from seq in sequence.
//
// Caveat: requires spawning a goroutine (which is stackful) when running
// the returned task. The goroutine leaks, as well as the coroutine that runs
// the returned task, if the returned task never ends.
func FromSeq(seq iter.Seq[Operation]) Operation {
	return func(co *Task) Result {
		next, stop := iter.Pull(seq)
		return Result{
			action:     doTransition,
			task:       End(),
			controller: controller{kind: seqController, next: next, stop: stop},
		}
	}
}

func resumeParent(co *Task) Result {
	co.Parent().Resume()
	return co.End()
}

// Join returns a [Operation] that runs each of the given tasks in its own
// child coroutine and awaits until all of them complete, and then ends.
//
// When passed no arguments, Join returns a [Operation] that never ends.
func Join(s ...Operation) Operation {
	return func(co *Task) Result {
		n := len(s)
		done := func(co *Task) Result {
			if n--; n == 0 {
				co.Parent().Resume()
			}
			return co.End()
		}
		for _, t := range s {
			co.Spawn(func(co *Task) Result {
				co.Defer(done)
				return co.Transition(t)
			})
		}
		return co.Await().End()
	}
}

// Select returns a [Operation] that runs each of the given tasks in its own
// child coroutine and awaits until any of them completes, and then ends.
// When Select ends, tasks other than the one that completes are canceled
// (see [Task.Spawn]).
//
// When passed no arguments, Select returns a [Operation] that never ends.
func Select(s ...Operation) Operation {
	z := slices.Clone(s)
	for i, t := range z {
		z[i] = func(co *Task) Result {
			co.Defer(resumeParent)
			return co.Transition(t)
		}
	}
	return func(co *Task) Result {
		for _, t := range z {
			co.Spawn(t)
			if co.Resumed() {
				break
			}
		}
		return co.Await().End()
	}
}

// MergeSeq returns a [Operation] that runs each of the tasks from seq in its own
// child coroutine concurrently until all of them complete, and then ends.
// The argument concurrency specifies the maximum number of tasks that can
// run at the same time. If it is zero, no tasks will be run and MergeSeq
// never ends. It may wrap around. The maximum value of concurrency is -1.
//
// Caveat: requires spawning a goroutine (which is stackful) when running
// the returned task. The goroutine leaks, as well as the coroutine that runs
// the returned task, if the returned task never ends.
func MergeSeq(concurrency int, seq iter.Seq[Operation]) Operation {
	return func(co *Task) Result {
		next, stop := iter.Pull(seq)
		co.CleanupFunc(stop)
		var tasks struct {
			n int
		}
		done := func(co *Task) Result {
			tasks.n--
			return resumeParent(co)
		}
		return co.Await().Until(func() bool {
			for {
				if tasks.n == concurrency {
					return false
				}
				t, ok := next()
				if !ok {
					return tasks.n == 0
				}
				tasks.n++
				co.Spawn(func(co *Task) Result {
					co.Defer(done)
					return co.Transition(t)
				})
			}
		}).End()
	}
}
