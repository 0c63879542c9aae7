package hifi

import "sync"

// Phase is a controller's position in its dispatch cycle.
type Phase string

const (
	PhaseIdle                Phase = "idle"
	PhaseAwaitingSelection   Phase = "awaiting_selection"
	PhaseDispatched          Phase = "dispatched"
	PhaseAwaitingHandoff     Phase = "awaiting_handoff"
	PhaseDispatching         Phase = "dispatching"
	PhaseAwaitingSubComplete Phase = "awaiting_sub_complete"
)

// modeState tracks which mode a controller has dispatched. Actors check it
// on wakeup; a wakeup for a mode that is not current is a protocol
// violation.
type modeState[M comparable] struct {
	mu      sync.RWMutex
	phase   Phase
	current M
	active  bool
}

func newModeState[M comparable]() *modeState[M] {
	return &modeState[M]{phase: PhaseIdle}
}

func (s *modeState[M]) enter(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

func (s *modeState[M]) dispatch(m M, p Phase) {
	s.mu.Lock()
	s.current = m
	s.active = true
	s.phase = p
	s.mu.Unlock()
}

func (s *modeState[M]) clear(p Phase) {
	var zero M
	s.mu.Lock()
	s.current = zero
	s.active = false
	s.phase = p
	s.mu.Unlock()
}

// is reports whether m is the dispatched mode.
func (s *modeState[M]) is(m M) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active && s.current == m
}

func (s *modeState[M]) snapshot() (Phase, M, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase, s.current, s.active
}
