package aio

import (
	"testing"
	"time"
)

func mkTimer(seq uint64, d time.Duration) *timer {
	return &timer{deadline: time.Unix(0, 0).Add(d), seq: seq}
}

func TestPriorityQueue(t *testing.T) {
	t.Run("Overall", func(t *testing.T) {
		var pq priorityqueue[*timer]

		var seq uint64
		next := func(d time.Duration) *timer {
			seq++
			return mkTimer(seq, d)
		}

		for _, d := range []time.Duration{8, 7, 6, 5, 4, 3, 2, 1} {
			pq.Push(next(d * time.Second))
		}

		for _, want := range []time.Duration{1, 2, 3, 4} {
			if u := pq.Pop(); u.deadline.Sub(time.Unix(0, 0)) != want*time.Second {
				t.Fatalf("got deadline %v, want %v", u.deadline, want*time.Second)
			}
		}

		for _, d := range []time.Duration{11, 12, 13} {
			pq.Push(next(d * time.Second))
		}

		pq.Push(next(5 * time.Second))

		if u := pq.Pop(); u.deadline.Sub(time.Unix(0, 0)) != 5*time.Second {
			t.Fatalf("got deadline %v, want 5s", u.deadline)
		}

		pq.Push(next(7 * time.Second))
		pq.Push(next(6 * time.Second))

		for _, want := range []time.Duration{5, 6, 6, 7, 7, 8, 11, 12, 13} {
			if u := pq.Pop(); u.deadline.Sub(time.Unix(0, 0)) != want*time.Second {
				t.Fatalf("got deadline %v, want %v", u.deadline, want*time.Second)
			}
		}

		if !pq.Empty() {
			t.FailNow()
		}
	})

	t.Run("FIFO", func(t *testing.T) {
		var pq priorityqueue[*timer]

		u := mkTimer(1, time.Second)
		v := mkTimer(2, time.Second)
		w := mkTimer(3, time.Second)

		pq.Push(u)
		pq.Push(v)
		pq.Push(w)

		if pq.Pop() != u || pq.Pop() != v || pq.Pop() != w {
			t.FailNow()
		}
	})

	t.Run("Peek", func(t *testing.T) {
		var pq priorityqueue[*timer]

		u := mkTimer(1, 2*time.Second)
		v := mkTimer(2, time.Second)

		pq.Push(u)
		pq.Push(v)

		if pq.Peek() != v {
			t.FailNow()
		}
		if pq.Empty() {
			t.FailNow()
		}
		if pq.Pop() != v {
			t.FailNow()
		}
		if pq.Pop() != u {
			t.FailNow()
		}
	})
}
