package hifi

import (
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/hifi-console/internal/sim"
)

// EventKind names an engine transition.
type EventKind string

const (
	EventModeDispatched    EventKind = "mode_dispatched"
	EventModeRejected      EventKind = "mode_rejected"
	EventModeCompleted     EventKind = "mode_completed"
	EventHandoff           EventKind = "handoff"
	EventHandback          EventKind = "handback"
	EventDiscDispatched    EventKind = "disc_dispatched"
	EventDiscRejected      EventKind = "disc_rejected"
	EventDiscCompleted     EventKind = "disc_completed"
	EventVolumeSet         EventKind = "volume_set"
	EventChannelCorrupted  EventKind = "channel_corrupted"
	EventChannelOverflow   EventKind = "channel_overflow"
	EventProtocolViolation EventKind = "protocol_violation"
)

// Event is one observable engine transition, stamped with virtual time.
type Event struct {
	ID      string
	Session string
	Kind    EventKind
	At      time.Duration
	Actor   string
	Mode    Mode
	Disc    DiscCommand
	Code    int
	Detail  string
}

// Observer receives events on the kernel goroutine and must not block.
type Observer func(Event)

type notifier struct {
	k       *sim.Kernel
	session string
	observe Observer
}

func (n *notifier) emit(e Event) {
	if n == nil || n.observe == nil {
		return
	}
	e.ID = uuid.NewString()
	e.Session = n.session
	e.At = n.k.Now()
	n.observe(e)
}
