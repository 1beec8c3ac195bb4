package aio

// ioDirection selects which half of a file descriptor a watch cares about.
type ioDirection int

const (
	ioRead ioDirection = iota
	ioWrite
)

// ioWatch is a one-shot [Event] fired once when its fd/direction becomes
// ready. Like timer, it exists only transiently: the [Loop] clears it the
// moment it fires, and [Task.clearDeps] drops it as a listener if the
// watching task resumes for any other reason first.
type ioWatch struct {
	Signal
	ready bool
}

// Read returns a [Future] and an [Operation] that, when run, awaits until
// fd becomes readable, performs a single non-blocking read of at most n
// bytes, and resolves the Future with the result.
//
// fd must already be in non-blocking mode. Exactly one read syscall is
// issued per readiness notification, even if it returns fewer bytes than
// requested; a short or empty (EOF) read is not retried automatically.
// If the task is canceled while waiting, the Future is resolved with a
// Cancelled error and no read is attempted.
func Read(fd int, n int) (*Future[[]byte], Operation) {
	f := NewFuture[[]byte]()
	var w *ioWatch
	return f, func(co *Task) Result {
		if co.Cancelled() {
			f.SetException(CancelledError{})
			return co.End()
		}
		if w == nil {
			watch, err := co.loop.watchFD(fd, ioRead)
			if err != nil {
				f.SetException(err)
				return co.End()
			}
			w = watch
			co.CleanupFunc(func() { co.loop.unwatchFD(fd, ioRead) })
		}
		if !w.ready {
			return co.Yield(w)
		}
		buf := make([]byte, n)
		nr, err := osRead(fd, buf)
		if err != nil {
			f.SetException(err)
		} else {
			f.SetResult(buf[:nr])
		}
		return co.End()
	}
}

// ReadAll returns a [Future] and an [Operation] that repeatedly reads from
// fd, chunk bytes at a time, until a read returns zero bytes (EOF) or
// fails. At EOF it resolves the Future with the concatenation of every
// chunk read; if a read fails, it resolves the Future with that error
// instead.
//
// fd must already be in non-blocking mode. Each chunk is awaited with its
// own [Read], so the sequence of reads is paced by fd's readiness exactly
// like a single Read would be; it is built on [FromSeq] because the number
// of reads it takes to reach EOF isn't known up front.
func ReadAll(fd int, chunk int) (*Future[[]byte], Operation) {
	f := NewFuture[[]byte]()
	var buf []byte
	var readErr error
	return f, Block(
		FromSeq(func(yield func(Operation) bool) {
			for {
				rf, rop := Read(fd, chunk)
				if !yield(rop) {
					return
				}
				b, err := rf.Result()
				if err != nil {
					readErr = err
					return
				}
				if len(b) == 0 {
					return
				}
				buf = append(buf, b...)
			}
		}),
		Do(func() {
			if readErr != nil {
				f.SetException(readErr)
			} else {
				f.SetResult(buf)
			}
		}),
	)
}

// Write returns a [Future] and an [Operation] that, when run, awaits until
// fd becomes writable, performs a single non-blocking write of p, and
// resolves the Future with the number of bytes actually written.
//
// fd must already be in non-blocking mode. Exactly one write syscall is
// issued per readiness notification; a short write is not retried
// automatically. If the task is canceled while waiting, the Future is
// resolved with a Cancelled error and no write is attempted.
func Write(fd int, p []byte) (*Future[int], Operation) {
	f := NewFuture[int]()
	var w *ioWatch
	return f, func(co *Task) Result {
		if co.Cancelled() {
			f.SetException(CancelledError{})
			return co.End()
		}
		if w == nil {
			watch, err := co.loop.watchFD(fd, ioWrite)
			if err != nil {
				f.SetException(err)
				return co.End()
			}
			w = watch
			co.CleanupFunc(func() { co.loop.unwatchFD(fd, ioWrite) })
		}
		if !w.ready {
			return co.Yield(w)
		}
		nw, err := osWrite(fd, p)
		if err != nil {
			f.SetException(err)
		} else {
			f.SetResult(nw)
		}
		return co.End()
	}
}
