package sim

import (
	"container/heap"
	"time"
)

// timedEntry is one scheduled wakeup. Exactly one of sig or proc is set.
type timedEntry struct {
	at        time.Duration
	seq       uint64
	sig       *Signal
	proc      *Proc
	cancelled bool
}

// timedQueue orders entries by time, then by scheduling order.
type timedQueue []*timedEntry

func (q timedQueue) Len() int { return len(q) }

func (q timedQueue) Less(i, j int) bool {
	if q[i].at != q[j].at {
		return q[i].at < q[j].at
	}
	return q[i].seq < q[j].seq
}

func (q timedQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *timedQueue) Push(x any) { *q = append(*q, x.(*timedEntry)) }

func (q *timedQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return e
}

func (q *timedQueue) schedule(e *timedEntry) { heap.Push(q, e) }

// next pops the earliest live entry, skipping cancelled ones.
func (q *timedQueue) next() (*timedEntry, bool) {
	for q.Len() > 0 {
		e := heap.Pop(q).(*timedEntry)
		if !e.cancelled {
			return e, true
		}
	}
	return nil, false
}

// peek returns the time of the earliest live entry.
func (q *timedQueue) peek() (time.Duration, bool) {
	for q.Len() > 0 {
		if (*q)[0].cancelled {
			heap.Pop(q)
			continue
		}
		return (*q)[0].at, true
	}
	return 0, false
}
