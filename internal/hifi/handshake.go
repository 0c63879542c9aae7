package hifi

import (
	"fmt"

	"github.com/e7canasta/hifi-console/internal/sim"
)

// Handshake is the pair of signals connecting the mode side (CD actor) with
// the disc side. Forward goes from selector to handler, Back the other way.
type Handshake struct {
	Forward *sim.Signal
	Back    *sim.Signal
}

// NewHandshake creates both handshake signals on k.
func NewHandshake(k *sim.Kernel) Handshake {
	return Handshake{
		Forward: k.NewSignal("handshake.selector_to_handler"),
		Back:    k.NewSignal("handshake.handler_to_selector"),
	}
}

// Link is one side's view of the handshake: it raises To and waits on From.
type Link struct {
	To   *sim.Signal
	From *sim.Signal
}

// SelectorSide is the view held by the mode controller.
func (h Handshake) SelectorSide() Link { return Link{To: h.Forward, From: h.Back} }

// HandlerSide is the view held by the disc controller.
func (h Handshake) HandlerSide() Link { return Link{To: h.Back, From: h.Forward} }

func (l Link) validate(owner string) error {
	switch {
	case l.To == nil:
		return fmt.Errorf("%s: outgoing handshake signal is nil: %w", owner, ErrUnwiredPeer)
	case l.From == nil:
		return fmt.Errorf("%s: incoming handshake signal is nil: %w", owner, ErrUnwiredPeer)
	}
	return nil
}
