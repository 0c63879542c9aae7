package hifi

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/e7canasta/hifi-console/internal/sim"
)

// ModeController is the top-level dispatcher. It prompts for a mode, posts
// the code to the channel, signals the matching actor and waits for the
// actor to report completion. It also owns the generic mode actors and the
// CD actor, which forwards to the disc controller through the handshake.
type ModeController struct {
	k      *sim.Kernel
	ch     *Channel
	panel  Panel
	link   Link
	log    *slog.Logger
	events *notifier
	settle time.Duration

	signals  map[Mode]*sim.Signal
	complete *sim.Signal
	state    *modeState[Mode]

	cycles     atomic.Uint64
	rejected   atomic.Uint64
	performed  atomic.Uint64
	violations atomic.Uint64
}

// NewModeController wires a controller to the channel, the panel and the
// selector side of the handshake.
func NewModeController(k *sim.Kernel, ch *Channel, panel Panel, link Link, opts Options) (*ModeController, error) {
	opts.normalize()
	if err := link.validate("mode controller"); err != nil {
		opts.Logger.Error("handshake peer not wired", "component", "selector", "error", err)
		return nil, err
	}
	if panel == nil {
		return nil, ErrNilPanel
	}

	mc := &ModeController{
		k:        k,
		ch:       ch,
		panel:    panel,
		link:     link,
		log:      opts.Logger.With("component", "selector"),
		events:   &notifier{k: k, session: opts.Session, observe: opts.Observer},
		settle:   opts.Settle,
		signals:  make(map[Mode]*sim.Signal, len(Modes)),
		complete: k.NewSignal("mode.complete"),
		state:    newModeState[Mode](),
	}
	for _, m := range Modes {
		mc.signals[m] = k.NewSignal("mode." + m.String())
	}
	return mc, nil
}

// Signal returns the signal raised when m is dispatched.
func (mc *ModeController) Signal(m Mode) *sim.Signal { return mc.signals[m] }

// Complete returns the mode-complete signal.
func (mc *ModeController) Complete() *sim.Signal { return mc.complete }

// Start spawns the mode actors and the selector loop. The volume mode is
// served by a VolumeSubActor, started separately.
func (mc *ModeController) Start() {
	for _, m := range Modes {
		if m == ModeVolume {
			continue
		}
		mc.k.Spawn("actor."+m.String(), mc.actor(m))
	}
	mc.k.Spawn("selector", mc.run)
}

func (mc *ModeController) run(p *sim.Proc) error {
	for {
		if err := mc.ch.ValidateAndHandleErrors(); err != nil {
			return err
		}

		mc.state.enter(PhaseAwaitingSelection)
		v, err := mc.panel.Select(p.Context(), PromptMode)
		if err != nil {
			return fmt.Errorf("mode selection: %w", err)
		}

		if err := mc.ch.Write(p, v); err != nil {
			return err
		}

		mode := Mode(v)
		if !mode.Valid() {
			mc.rejected.Add(1)
			mc.panel.Reject(PromptMode, v)
			// The rejected value was never meant for an actor. Anything
			// queued ahead of it still goes through validation.
			mc.ch.DropLast(v)
			mc.log.Info("mode selection rejected", "code", v)
			mc.events.emit(Event{Kind: EventModeRejected, Actor: "selector", Code: v})
			continue
		}

		mc.state.dispatch(mode, PhaseDispatched)
		if err := p.Delay(mc.settle); err != nil {
			return err
		}

		mc.log.Debug("mode dispatched", "mode", mode, "at", p.Now())
		mc.events.emit(Event{Kind: EventModeDispatched, Actor: "selector", Mode: mode, Code: v})
		mc.signals[mode].Raise()

		if err := p.Wait(mc.complete); err != nil {
			return err
		}

		mc.state.clear(PhaseAwaitingSelection)
		mc.cycles.Add(1)
		mc.events.emit(Event{Kind: EventModeCompleted, Actor: "selector", Mode: mode})
	}
}

// actor serves one mode. The CD actor additionally hands off to the disc
// controller and waits for the handback before completing.
func (mc *ModeController) actor(mode Mode) sim.TaskFunc {
	return func(p *sim.Proc) error {
		sig := mc.signals[mode]
		for {
			if err := p.Wait(sig); err != nil {
				return err
			}
			if !mc.state.is(mode) {
				mc.violation(p.Name(), mode)
				continue
			}

			matched, err := consumeIf(p, mc.ch, int(mode))
			if err != nil {
				return err
			}
			if matched {
				if err := mc.panel.Perform(p.Context(), mode); err != nil {
					return fmt.Errorf("%s action: %w", mode, err)
				}
				mc.performed.Add(1)
			}

			if mode == ModeCD && matched {
				mc.events.emit(Event{Kind: EventHandoff, Actor: p.Name(), Mode: mode})
				mc.link.To.RaiseAfter(0)
				if err := p.Wait(mc.link.From); err != nil {
					return err
				}
				mc.events.emit(Event{Kind: EventHandback, Actor: p.Name(), Mode: mode})
			}

			if err := p.Delay(mc.settle); err != nil {
				return err
			}
			mc.complete.Raise()
		}
	}
}

func (mc *ModeController) violation(actor string, mode Mode) {
	mc.violations.Add(1)
	mc.log.Warn("protocol violation: actor woken without matching dispatch",
		"actor", actor,
		"mode", mode,
		"at", mc.k.Now(),
	)
	mc.events.emit(Event{Kind: EventProtocolViolation, Actor: actor, Mode: mode})
}

// SelectorStatus is a snapshot of the mode controller.
type SelectorStatus struct {
	Phase      Phase  `json:"phase"`
	Mode       string `json:"mode,omitempty"`
	Cycles     uint64 `json:"cycles"`
	Rejected   uint64 `json:"rejected"`
	Performed  uint64 `json:"performed"`
	Violations uint64 `json:"violations"`
}

// Status returns a snapshot safe to take from any goroutine.
func (mc *ModeController) Status() SelectorStatus {
	phase, mode, active := mc.state.snapshot()
	s := SelectorStatus{
		Phase:      phase,
		Cycles:     mc.cycles.Load(),
		Rejected:   mc.rejected.Load(),
		Performed:  mc.performed.Load(),
		Violations: mc.violations.Load(),
	}
	if active {
		s.Mode = mode.String()
	}
	return s
}

// consumeIf reads one value if any is buffered and reports whether it
// equals want. A mismatching value is consumed and dropped.
func consumeIf(p *sim.Proc, ch *Channel, want int) (bool, error) {
	if !ch.HasData() {
		return false, nil
	}
	v, err := ch.Read(p)
	if err != nil {
		return false, err
	}
	if v != want {
		ch.log.Debug("channel value does not match actor, skipping",
			"actor", p.Name(),
			"want", want,
			"got", v,
		)
		return false, nil
	}
	return true, nil
}
