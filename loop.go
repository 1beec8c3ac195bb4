package aio

import (
	"sync"
	"time"

	"github.com/eapache/queue"
)

// A Loop runs coroutines cooperatively on a single goroutine.
//
// The zero value for Loop is usable directly, exactly like the zero value
// of a [sync.Mutex]. Loop.Spawn is safe to call from any goroutine; the
// coroutines themselves, and everything they touch through this package
// (timers, readiness watches, the ready queue), run exclusively on
// whichever goroutine happens to be inside Run at the time.
type Loop struct {
	mu      sync.Mutex
	ready   *queue.Queue
	running bool
	inRun   bool
	autorun func()
	pool    sync.Pool
	ps      panicstack

	clockFn       func() time.Time
	pollBatchSize int
	pollerImpl    poller

	timers   priorityqueue[*timer]
	timerSeq uint64

	ioFDs map[int]*fdState
}

func (e *Loop) coroutinePool() *sync.Pool {
	return &e.pool
}

func (e *Loop) readyQueue() *queue.Queue {
	if e.ready == nil {
		e.ready = queue.New()
	}
	return e.ready
}

func (e *Loop) clock() func() time.Time {
	if e.clockFn == nil {
		e.clockFn = time.Now
	}
	return e.clockFn
}

func (e *Loop) now() time.Time {
	return e.clock()()
}

func (e *Loop) batchSize() int {
	if e.pollBatchSize <= 0 {
		return 128
	}
	return e.pollBatchSize
}

// Autorun registers f to be called whenever a coroutine is spawned or
// resumed while the loop is not already running. The usual choice of f is
// the loop's own Run method, which makes Spawn drive the loop inline; tests
// that want the loop to run on a background goroutine instead pass a
// closure that starts Run in a new goroutine.
func (e *Loop) Autorun(f func()) {
	e.autorun = f
}

// Spawn creates a root coroutine to work on op and resumes it.
//
// Spawn is safe to call from any goroutine, including one that is not
// currently inside Run.
func (e *Loop) Spawn(op Operation) {
	e.spawnRoot(op)
}

func (e *Loop) spawnRoot(op Operation) *Task {
	t := e.newCoroutine().init(e, op)
	e.resumeCoroutine(t, true)
	return t
}

// Run drains the ready queue, then, as long as any timer or I/O watch is
// still pending, polls for the next one and keeps draining, until the
// ready queue, the timer heap and the set of I/O watches are all empty.
//
// Run returns once the loop has gone idle. It does not itself decide
// whether that idleness means the computation finished, stalled, or
// deadlocked; see [Run] (the package-level function) for that.
func (e *Loop) Run() {
	e.mu.Lock()
	e.running = true

	for {
		for e.readyQueue().Length() != 0 {
			co := e.readyQueue().Remove().(*Task)
			e.runCoroutine(co)
		}

		for !e.timers.Empty() && e.timers.Peek().done {
			e.timers.Pop()
		}

		if e.timers.Empty() && len(e.ioFDs) == 0 {
			break
		}

		timeout := e.computeTimeout()

		e.mu.Unlock()
		events, _ := e.poll(timeout)
		// Notify ultimately calls Task.Resume, which re-acquires e.mu itself,
		// so deliveries must happen while it is free. The timer heap and the
		// I/O watch set are touched only from this goroutine (the one
		// running the loop), never concurrently, so this is safe even
		// without holding the lock.
		e.deliverIOEvents(events)
		e.deliverDueTimers()
		e.mu.Lock()
	}

	e.running = false
	var ps panicstack
	if !e.inRun {
		// Outside the package-level Run, which translates them itself,
		// unrecovered root panics are repanicked once the loop is idle.
		ps, e.ps = e.ps, nil
	}
	e.mu.Unlock()
	ps.Repanic()
}

func (e *Loop) computeTimeout() time.Duration {
	if e.timers.Empty() {
		return -1 // Block until an I/O watch fires; there are no timers.
	}
	d := e.timers.Peek().deadline.Sub(e.now())
	if d < 0 {
		d = 0
	}
	return d
}

func (e *Loop) deliverDueTimers() {
	now := e.now()
	for !e.timers.Empty() {
		t := e.timers.Peek()
		if t.done {
			e.timers.Pop()
			continue
		}
		if t.deadline.After(now) {
			break
		}
		e.timers.Pop()
		t.done = true
		t.fired = true
		t.Notify()
	}
}

func (e *Loop) scheduleTimer(d time.Duration) *timer {
	e.timerSeq++
	t := &timer{deadline: e.now().Add(d), seq: e.timerSeq}
	e.timers.Push(t)
	return t
}

type fdState struct {
	read, write *ioWatch
}

func (e *Loop) watchFD(fd int, dir ioDirection) (*ioWatch, error) {
	if e.ioFDs == nil {
		e.ioFDs = make(map[int]*fdState)
	}
	st := e.ioFDs[fd]
	if st == nil {
		st = &fdState{}
	}
	w := &ioWatch{}
	switch dir {
	case ioRead:
		st.read = w
	case ioWrite:
		st.write = w
	}
	if err := e.reprogram(fd, st); err != nil {
		switch dir {
		case ioRead:
			st.read = nil
		case ioWrite:
			st.write = nil
		}
		return nil, err
	}
	e.ioFDs[fd] = st
	return w, nil
}

func (e *Loop) unwatchFD(fd int, dir ioDirection) {
	st := e.ioFDs[fd]
	if st == nil {
		return
	}
	switch dir {
	case ioRead:
		st.read = nil
	case ioWrite:
		st.write = nil
	}
	if st.read == nil && st.write == nil {
		delete(e.ioFDs, fd)
		if e.pollerImpl != nil {
			_ = e.pollerImpl.Remove(fd)
		}
		return
	}
	_ = e.reprogram(fd, st)
}

func (e *Loop) reprogram(fd int, st *fdState) error {
	p, err := e.pollerBackend()
	if err != nil {
		return err
	}
	var mask uint32
	if st.read != nil {
		mask |= pollerRead
	}
	if st.write != nil {
		mask |= pollerWrite
	}
	return p.Add(fd, mask)
}

func (e *Loop) pollerBackend() (poller, error) {
	if e.pollerImpl == nil {
		p, err := newPoller()
		if err != nil {
			return nil, err
		}
		e.pollerImpl = p
	}
	return e.pollerImpl, nil
}

func (e *Loop) poll(timeout time.Duration) ([]readyEvent, error) {
	if len(e.ioFDs) == 0 {
		// Nothing but timers pending: no need for a real poller, and no
		// need to fail on platforms that don't have one.
		if timeout > 0 {
			time.Sleep(timeout)
		}
		return nil, nil
	}
	p, err := e.pollerBackend()
	if err != nil {
		return nil, err
	}
	return p.Wait(timeout, e.batchSize())
}

func (e *Loop) deliverIOEvents(events []readyEvent) {
	for _, ev := range events {
		st := e.ioFDs[ev.fd]
		if st == nil {
			continue
		}
		if ev.events&pollerRead != 0 && st.read != nil {
			w := st.read
			st.read = nil
			w.ready = true
			w.Notify()
		}
		if ev.events&pollerWrite != 0 && st.write != nil {
			w := st.write
			st.write = nil
			w.ready = true
			w.Notify()
		}
		if st.read == nil && st.write == nil {
			delete(e.ioFDs, ev.fd)
			if e.pollerImpl != nil {
				_ = e.pollerImpl.Remove(ev.fd)
			}
		} else {
			_ = e.reprogram(ev.fd, st)
		}
	}
}

// Interrupt injects err as a failure at t's current suspension point, from
// any goroutine. It does not touch t's state directly; it replaces t's
// pending wakeup with an immediate failure and resumes t, so that whatever
// cleanups and deferred tasks t has registered still run on the way out.
//
// Interrupt is meant for aborting a loop that is stuck waiting on an
// external event the loop itself has no way to observe, e.g. a process
// signal.
func (e *Loop) Interrupt(t *Task, err error) {
	if err == nil {
		panic("aio: Interrupt called with nil error")
	}
	e.mu.Lock()
	if t.flag&flagEnded == 0 {
		t.guard = nil
		t.task = func(co *Task) Result {
			return co.Throw(err)
		}
		e.resumeCoroutine(t, false)
	}
	e.mu.Unlock()
}
