package aio_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kestrelio/aio"
)

// This example demonstrates running two independent fetches concurrently
// with [aio.Join] and combining their results once both have returned.
// Unlike [aio.Select], Join waits for every task regardless of how long
// each one takes.
func ExampleJoin() {
	var wg sync.WaitGroup // For keeping track of goroutines simulating the two backends.

	var myExecutor aio.Loop

	myExecutor.Autorun(func() { wg.Go(myExecutor.Run) })

	var latency, throughput aio.State[int]

	myExecutor.Spawn(aio.Block(
		aio.Join(
			func(co *aio.Task) aio.Result {
				wg.Go(func() {
					time.Sleep(500 * time.Millisecond) // Backend #1 responds.
					myExecutor.Spawn(aio.Do(func() { latency.Set(15) }))
				})
				return co.Await(&latency).End()
			},
			func(co *aio.Task) aio.Result {
				wg.Go(func() {
					time.Sleep(1500 * time.Millisecond) // Backend #2 responds.
					myExecutor.Spawn(aio.Do(func() { throughput.Set(27) }))
				})
				return co.Await(&throughput).End()
			},
		),
		aio.Do(func() { fmt.Println("latency + throughput =", latency.Get()+throughput.Get()) }),
	))

	wg.Wait()

	// Output:
	// latency + throughput = 42
}

// This example demonstrates racing two fetches with [aio.Select]: once the
// first one reports in, its sibling is canceled and its result is used.
func ExampleSelect() {
	var wg sync.WaitGroup

	var myExecutor aio.Loop

	myExecutor.Autorun(func() { wg.Go(myExecutor.Run) })

	var fromPrimary, fromMirror aio.State[int]

	myExecutor.Spawn(aio.Block(
		aio.Select(
			func(co *aio.Task) aio.Result {
				wg.Go(func() {
					time.Sleep(500 * time.Millisecond) // The primary answers first.
					myExecutor.Spawn(aio.Do(func() { fromPrimary.Set(15) }))
				})
				return co.Await(&fromPrimary).End()
			},
			func(co *aio.Task) aio.Result {
				wg.Go(func() {
					time.Sleep(1500 * time.Millisecond) // The mirror is slower.
					myExecutor.Spawn(aio.Do(func() { fromMirror.Set(27) }))
				})
				return co.Await(&fromMirror).End()
			},
		),
		aio.Do(func() { fmt.Println("answer =", fromPrimary.Get()+fromMirror.Get()) }),
	))

	wg.Wait()

	// Output:
	// answer = 15
}

// Without actually canceling the loser, ExampleSelect would still have to
// wait out the mirror's full 1500ms before the goroutine driving it ever
// notices it lost the race — the next example plumbs a [context.Context]
// through so the loser stops doing real work the moment it is canceled.
func ExampleSelect_withCancel() {
	var wg sync.WaitGroup

	var myExecutor aio.Loop

	myExecutor.Autorun(func() { wg.Go(myExecutor.Run) })

	var fromPrimary, fromMirror aio.State[int]

	myExecutor.Spawn(aio.Block(
		aio.Func(
			func(co *aio.Task) aio.Result {
				ctx, cancel := context.WithCancel(context.Background())
				co.Defer(aio.Do(cancel))
				return co.Transition(aio.Select(
					func(co *aio.Task) aio.Result {
						wg.Go(func() {
							select {
							case <-time.After(500 * time.Millisecond):
							case <-ctx.Done():
								return // The race was already decided; stop dialing out.
							}
							myExecutor.Spawn(aio.Do(func() { fromPrimary.Set(15) }))
						})
						return co.Await(&fromPrimary).End()
					},
					func(co *aio.Task) aio.Result {
						wg.Go(func() {
							select {
							case <-time.After(1500 * time.Millisecond):
							case <-ctx.Done():
								return
							}
							myExecutor.Spawn(aio.Do(func() { fromMirror.Set(27) }))
						})
						return co.Await(&fromMirror).End()
					},
				))
			},
		),
		aio.Do(func() { fmt.Println("answer =", fromPrimary.Get()+fromMirror.Get()) }),
	))

	wg.Wait()

	// Output:
	// answer = 15
}

// This example demonstrates [aio.MergeSeq] draining a lazily generated
// sequence of timed operations with at most 3 running concurrently at
// once — the shape a worker pool draining a backlog of retries takes,
// without the backlog having to be materialized up front.
func ExampleMergeSeq() {
	var wg sync.WaitGroup

	var myExecutor aio.Loop

	myExecutor.Autorun(func() { wg.Go(myExecutor.Run) })

	backoff := func(d time.Duration) aio.Operation {
		return func(co *aio.Task) aio.Result {
			co.Escape()
			wg.Add(1) // Keep track of the timer goroutine too.
			tm := time.AfterFunc(d, func() {
				defer wg.Done()
				myExecutor.Spawn(aio.Do(func() {
					co.Unescape()
					co.Resume()
				}))
			})
			co.CleanupFunc(func() {
				if tm.Stop() {
					wg.Done()
					co.Unescape()
				}
			})
			return co.Await().End()
		}
	}

	myExecutor.Spawn(aio.MergeSeq(3, func(yield func(aio.Operation) bool) {
		defer fmt.Println("done")
		for n := 1; n <= 6; n++ {
			d := time.Duration(n*100) * time.Millisecond
			attempt := n
			t := backoff(d).Then(aio.Do(func() { fmt.Println(attempt) }))
			if !yield(t) {
				return
			}
		}
	}))

	wg.Wait()
	fmt.Println("--- SEPARATOR ---")

	myExecutor.Spawn(aio.Select(
		backoff(1000*time.Millisecond), // Give up draining the backlog after a while.
		aio.MergeSeq(3, func(yield func(aio.Operation) bool) {
			defer fmt.Println("done")
			for n := 1; ; n++ { // An unbounded backlog.
				d := time.Duration(n*100) * time.Millisecond
				attempt := n
				t := backoff(d).Then(aio.Do(func() { fmt.Println(attempt) }))
				if !yield(t) {
					return
				}
			}
		}),
	))

	wg.Wait()

	// Output:
	// 1
	// 2
	// 3
	// 4
	// done
	// 5
	// 6
	// --- SEPARATOR ---
	// 1
	// 2
	// 3
	// 4
	// 5
	// 6
	// done
}

// This example demonstrates [aio.FromSeq] driving a dynamically generated
// sequence of operations — the same combinator [aio.ReadAll] uses
// internally to keep issuing reads until one signals EOF, here shown over
// a state that a watcher reacts to one change at a time.
func ExampleFromSeq() {
	var myExecutor aio.Loop

	myExecutor.Autorun(myExecutor.Run)

	var chunksRead aio.State[int]

	myExecutor.Spawn(aio.FromSeq(
		func(yield func(aio.Operation) bool) {
			await := aio.Await(&chunksRead)
			for yield(await) {
				v := chunksRead.Get()
				if v%2 != 0 {
					fmt.Println(v)
				}
				if v >= 7 {
					return
				}
			}
		},
	))

	for i := 1; i <= 9; i++ {
		myExecutor.Spawn(aio.Do(func() { chunksRead.Set(i) }))
	}

	fmt.Println(chunksRead.Get()) // Prints 9.

	// Output:
	// 1
	// 3
	// 5
	// 7
	// 9
}

// This example demonstrates how failures propagate and are recovered: a
// direct panic in a task, a panic raised from a cleanup, a child
// coroutine's panic reaching its parent, and the lost-secondary-failure
// rule a [Group] also relies on (see group.go).
func Example_panicAndRecover() {
	var wg sync.WaitGroup // For keeping track of goroutines.

	var myExecutor aio.Loop

	dummyError := errors.New("dummy")

	myExecutor.Autorun(func() {
		wg.Go(func() {
			defer func() {
				if v := recover(); v != nil {
					err, ok := v.(error)
					if ok && errors.Is(err, dummyError) && strings.Contains(err.Error(), "dummy") {
						fmt.Println("dummy error recovered!")
						return
					}
					panic(v) // Repanic unexpected values.
				}
			}()
			myExecutor.Run()
		})
	})

	sleep := func(d time.Duration) aio.Operation {
		return func(co *aio.Task) aio.Result {
			co.Escape()
			wg.Add(1) // Keep track of timers too.
			tm := time.AfterFunc(d, func() {
				defer wg.Done()
				myExecutor.Spawn(aio.Do(func() {
					co.Unescape()
					co.Resume()
				}))
			})
			co.CleanupFunc(func() {
				if tm.Stop() {
					wg.Done()
					co.Unescape()
				}
			})
			return co.Await().End()
		}
	}

	recover := func(co *aio.Task) aio.Result {
		if v := co.Recover(); v != nil {
			fmt.Println(v)
		}
		return co.End()
	}

	myExecutor.Spawn(func(co *aio.Task) aio.Result {
		co.Defer(recover)
		panic("A")
	})

	wg.Wait()
	fmt.Println("--- SEPARATOR ---")

	myExecutor.Spawn(func(co *aio.Task) aio.Result {
		// Cleanups are Operation-scoped, while defers are Func-scoped.
		co.CleanupFunc(func() { panic("A") }) // Goes out of scope first.
		co.Defer(recover)
		return co.End()
	})

	wg.Wait()
	fmt.Println("--- SEPARATOR ---")

	myExecutor.Spawn(aio.Join(
		aio.Block(
			aio.Defer(recover),
			func(co *aio.Task) aio.Result {
				co.Spawn(func(_ *aio.Task) aio.Result {
					panic("A") // Child coroutines propagate panics.
				})
				panic("B") // Didn't run.
			},
		),
		aio.Block(
			aio.Defer(recover),
			func(co *aio.Task) aio.Result {
				co.Spawn(aio.Block(
					sleep(100*time.Millisecond),
					aio.Do(func() { panic("A") }), // Panics after 100ms.
				))
				co.Spawn(aio.Block(
					aio.Defer(aio.Do(func() { fmt.Println("canceled") })),
					aio.Await(), // This child coroutine never ends, but it can be canceled.
				))
				return co.Await().End()
			},
		),
	))

	wg.Wait()
	fmt.Println("--- SEPARATOR ---")

	myExecutor.Spawn(aio.Join(
		aio.Block(
			aio.Defer(recover), // Recovers the whole panic stack (but only given the latest one).
			aio.Defer(func(_ *aio.Task) aio.Result {
				panic("B") // Panics stack up.
			}),
			aio.Do(func() { panic("A") }),
		),
		aio.Block(
			aio.Defer(recover), // Recovers "C", while "A" is discarded.
			aio.Defer(aio.Block(
				// aio.Func introduces a new scope for panic recovering.
				aio.Func(func(co *aio.Task) aio.Result {
					co.Defer(recover) // Recovers "B", while "A" remains in the panic stack.
					panic("B")
				}),
				aio.Do(func() { panic("C") }), // Stacks up onto "A".
			)),
			aio.Do(func() { panic("A") }),
		),
	))

	wg.Wait()
	fmt.Println("--- SEPARATOR ---")

	myExecutor.Spawn(aio.Block(
		aio.Defer(recover),
		func(co *aio.Task) aio.Result {
			return co.Await().Until(func() bool { panic("A") }).End()
		},
	))

	wg.Wait()
	fmt.Println("--- SEPARATOR ---")

	myExecutor.Spawn(aio.Join(
		aio.Block(
			aio.Defer(recover),
			aio.FromSeq(func(yield func(aio.Operation) bool) {
				panic("A")
			}),
		),
		aio.Block(
			aio.Defer(recover),
			aio.FromSeq(func(yield func(aio.Operation) bool) {
				yield(aio.Return())
				panic("A")
			}),
		),
	))

	wg.Wait()
	fmt.Println("--- SEPARATOR ---")

	myExecutor.Spawn(aio.Join(
		aio.Block(
			aio.Defer(recover),
			aio.Break(), // Break without a loop.
		),
		aio.Block(
			aio.Defer(recover),
			aio.Continue(), // Continue without a loop.
		),
		aio.Block(
			aio.Defer(recover),
			aio.Throw("A"), // Throw is like panic but leaves no stack trace behind.
		),
	))

	wg.Wait()
	fmt.Println("--- SEPARATOR ---")

	myExecutor.Spawn(func(_ *aio.Task) aio.Result {
		panic(dummyError) // Unrecovered panics get repanicked when (*aio.Loop).Run returns.
	})

	wg.Wait()

	// Output:
	// A
	// --- SEPARATOR ---
	// A
	// --- SEPARATOR ---
	// A
	// canceled
	// A
	// --- SEPARATOR ---
	// B
	// B
	// C
	// --- SEPARATOR ---
	// A
	// --- SEPARATOR ---
	// A
	// A
	// --- SEPARATOR ---
	// aio: unhandled break action
	// aio: unhandled continue action
	// A
	// --- SEPARATOR ---
	// dummy error recovered!
}
