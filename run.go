package aio

import "time"

// runConfig collects what [Option] values configure before a [Loop] is
// even chosen, since [WithLoop] picks the Loop itself rather than mutating
// one that already exists.
type runConfig struct {
	loop          *Loop
	clockFn       func() time.Time
	pollBatchSize int
	pollerImpl    poller
}

// Option configures how [Run] sets up and drives a [Loop]. Passing none
// gets a fresh Loop with a real-time clock, a default poll batch size, and
// the platform's readiness poller.
type Option func(*runConfig)

// WithClock overrides the clock a [Loop] uses for [Sleep] deadlines and
// for deciding when a timer is due. Mainly useful for tests.
func WithClock(now func() time.Time) Option {
	return func(c *runConfig) { c.clockFn = now }
}

// WithPollBatchSize overrides how many readiness events a [Loop] asks its
// poller for per call. The default is 128.
func WithPollBatchSize(n int) Option {
	return func(c *runConfig) { c.pollBatchSize = n }
}

// WithPoller overrides the readiness poller backend a [Loop] uses, in
// place of the platform default. Mainly useful for tests that want to
// fake readiness without real file descriptors.
func WithPoller(p poller) Option {
	return func(c *runConfig) { c.pollerImpl = p }
}

// WithLoop runs op on an already-constructed Loop instead of a fresh one.
// This is what lets a second, concurrent or nested, call to [Run] on the
// same Loop be detected and reported as a [MisuseError]; a freshly
// allocated Loop, used by exactly one Run call, never can be.
func WithLoop(l *Loop) Option {
	return func(c *runConfig) { c.loop = l }
}

// Run runs op to completion and reports its outcome.
//
// If op ends normally, Run returns nil. If op's computation fails, Run
// returns that failure as an error — [CancelledError], [DeadlockError],
// [*MisuseError], [*UserFailure], or whatever error value the computation
// itself raised with [Task.Throw]. If the loop goes idle (no ready tasks,
// no timers, no I/O watches) while op has not yet terminated, Run returns
// a [DeadlockError]. If op panics with a runtime.Error — a genuine Go bug
// rather than a logical failure — Run panics too, the same as the
// underlying [Loop.Run] would.
func Run(op Operation, opts ...Option) error {
	var cfg runConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	e := cfg.loop
	if e == nil {
		e = &Loop{}
	}
	if cfg.clockFn != nil {
		e.clockFn = cfg.clockFn
	}
	if cfg.pollBatchSize != 0 {
		e.pollBatchSize = cfg.pollBatchSize
	}
	if cfg.pollerImpl != nil {
		e.pollerImpl = cfg.pollerImpl
	}

	// e.mu only ever guards this check and flag, never the call to e.Run()
	// itself: Loop.Run releases e.mu before invoking a coroutine's
	// Operation (see runCoroutine), so a nested call to Run from op,
	// on this same goroutine, finds e.mu free and reaches this check
	// rather than blocking on it. A concurrent call from a genuinely
	// different goroutine that takes e.mu while the first Run is still in
	// progress observes inRun the same way and is turned away too.
	e.mu.Lock()
	if e.inRun {
		e.mu.Unlock()
		return &MisuseError{Reason: "Run called re-entrantly on the same Loop"}
	}
	e.inRun = true
	e.mu.Unlock()

	root := e.spawnRoot(op)

	e.Run()

	e.mu.Lock()
	e.inRun = false
	failures := e.ps
	e.ps = nil
	e.mu.Unlock()

	if !root.Ended() {
		return DeadlockError{}
	}
	return translateRootFailure(failures)
}
