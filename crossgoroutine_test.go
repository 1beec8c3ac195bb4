package aio_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kestrelio/aio"
)

// This drives several goroutines feeding one Loop concurrently, using
// errgroup.Group in place of the sync.WaitGroup + error-channel plumbing
// the other cross-goroutine tests in this package use: each worker reports
// its own outcome as an error, and errgroup.Wait collects the first one.
func TestCrossGoroutine(t *testing.T) {
	var myExecutor aio.Loop

	var eg errgroup.Group

	myExecutor.Autorun(func() { eg.Go(func() error { myExecutor.Run(); return nil }) })

	boom := errors.New("boom")

	for n := 1; n <= 8; n++ {
		n := n
		eg.Go(func() error {
			ch := make(chan int, 1)
			myExecutor.Spawn(aio.Block(
				aio.Sleep(time.Duration(n) * time.Millisecond),
				aio.Do(func() { ch <- n * n }),
			))
			got := <-ch
			if n == 7 {
				return boom // Simulates a worker-detected failure.
			}
			if got != n*n {
				return fmt.Errorf("got %d, want %d", got, n*n)
			}
			return nil
		})
	}

	if err := eg.Wait(); !errors.Is(err, boom) {
		t.Fatalf("got error %v, want %v", err, boom)
	}
}

// TestCrossGoroutineInterrupt checks that Loop.Interrupt, called from a
// goroutine outside the loop, injects a failure at a task's current
// suspension point and lets its deferred cleanup observe it.
func TestCrossGoroutineInterrupt(t *testing.T) {
	var myExecutor aio.Loop

	var eg errgroup.Group

	myExecutor.Autorun(func() { eg.Go(func() error { myExecutor.Run(); return nil }) })

	captured := make(chan *aio.Task, 1)
	done := make(chan struct{})
	boom := errors.New("boom")

	myExecutor.Spawn(func(co *aio.Task) aio.Result {
		captured <- co
		co.Defer(func(co *aio.Task) aio.Result {
			if v := co.Recover(); v != nil {
				close(done)
			}
			return co.End()
		})
		return co.Transition(aio.Sleep(50 * time.Millisecond))
	})

	eg.Go(func() error {
		task := <-captured
		time.Sleep(10 * time.Millisecond)
		myExecutor.Interrupt(task, boom)
		return nil
	})

	if err := eg.Wait(); err != nil {
		t.Fatalf("unexpected error from loop goroutines: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Interrupt did not unblock the sleeping task")
	}
}
