package sim

import "time"

type pendingKind uint8

const (
	pendingNone pendingKind = iota
	pendingDelta
	pendingTimed
)

// Signal is a value-less event tasks can wait on.
//
// Raise and RaiseAfter must be called from a task or from a function passed
// to Kernel.Post.
type Signal struct {
	k       *Kernel
	name    string
	waiters []*Proc

	pending pendingKind
	entry   *timedEntry
}

// Name returns the signal name.
func (s *Signal) Name() string { return s.name }

// Waiting returns the number of tasks currently suspended on s.
func (s *Signal) Waiting() int { return len(s.waiters) }

// Raise wakes every current waiter in the current evaluation phase and
// cancels any pending notification.
func (s *Signal) Raise() {
	if s.k.halted.Load() {
		return
	}
	s.cancelPending()
	s.fire()
}

// RaiseAfter schedules a notification. Zero means the next delta cycle.
// If a notification is already pending, the earlier of the two is kept.
func (s *Signal) RaiseAfter(d time.Duration) {
	if s.k.halted.Load() {
		return
	}

	if d <= 0 {
		switch s.pending {
		case pendingDelta:
			return
		case pendingTimed:
			s.cancelPending()
		}
		s.pending = pendingDelta
		s.k.deltaSigs = append(s.k.deltaSigs, s)
		return
	}

	at := s.k.Now() + d
	switch s.pending {
	case pendingDelta:
		return
	case pendingTimed:
		if s.entry.at <= at {
			return
		}
		s.cancelPending()
	}

	s.pending = pendingTimed
	s.entry = &timedEntry{at: at, sig: s}
	s.k.scheduleAt(s.entry)
}

func (s *Signal) cancelPending() {
	if s.entry != nil {
		s.entry.cancelled = true
		s.entry = nil
	}
	s.pending = pendingNone
}

// fire moves all waiters to the runnable queue, in the order they waited.
func (s *Signal) fire() {
	s.pending = pendingNone
	s.entry = nil
	if len(s.waiters) == 0 {
		return
	}
	s.k.runnable = append(s.k.runnable, s.waiters...)
	s.waiters = nil
}
