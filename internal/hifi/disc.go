package hifi

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/e7canasta/hifi-console/internal/sim"
)

// DiscController handles disc sub-operations once the CD actor hands
// control over. Each command has a sub-actor that performs it, hands control
// back, and completes once the next handoff arrives.
type DiscController struct {
	k      *sim.Kernel
	ch     *Channel
	panel  Panel
	link   Link
	log    *slog.Logger
	events *notifier
	settle time.Duration
	ack    time.Duration
	strict bool

	signals  map[DiscCommand]*sim.Signal
	complete *sim.Signal
	state    *modeState[DiscCommand]

	// carried is set by a sub-actor that consumed a handoff while parked.
	// The controller then treats that handoff as its own activation.
	carried bool

	dispatched  atomic.Uint64
	rejected    atomic.Uint64
	performed   atomic.Uint64
	violations  atomic.Uint64
	stuck       atomic.Bool
	lastCommand atomic.Int64
}

// NewDiscController wires a controller to the handler side of the handshake.
func NewDiscController(k *sim.Kernel, ch *Channel, panel Panel, link Link, opts Options) (*DiscController, error) {
	opts.normalize()
	if err := link.validate("disc controller"); err != nil {
		opts.Logger.Error("handshake peer not wired", "component", "disc", "error", err)
		return nil, err
	}
	if panel == nil {
		return nil, ErrNilPanel
	}

	d := &DiscController{
		k:        k,
		ch:       ch,
		panel:    panel,
		link:     link,
		log:      opts.Logger.With("component", "disc"),
		events:   &notifier{k: k, session: opts.Session, observe: opts.Observer},
		settle:   opts.Settle,
		ack:      opts.Ack,
		strict:   opts.StrictDiscRejection,
		signals:  make(map[DiscCommand]*sim.Signal, len(DiscCommands)),
		complete: k.NewSignal("disc.complete"),
		state:    newModeState[DiscCommand](),
	}
	for _, c := range DiscCommands {
		d.signals[c] = k.NewSignal("disc." + c.String())
	}
	return d, nil
}

// Signal returns the signal raised when c is dispatched.
func (d *DiscController) Signal(c DiscCommand) *sim.Signal { return d.signals[c] }

// Complete returns the disc-complete signal.
func (d *DiscController) Complete() *sim.Signal { return d.complete }

// Start spawns the sub-actors and the controller loop.
func (d *DiscController) Start() {
	for _, c := range DiscCommands {
		d.k.Spawn("disc."+c.String(), d.subActor(c))
	}
	d.k.Spawn("disc.controller", d.run)
}

func (d *DiscController) run(p *sim.Proc) error {
	for {
		if !d.carried {
			d.state.enter(PhaseAwaitingHandoff)
			if err := p.Wait(d.link.From); err != nil {
				return err
			}
		} else {
			d.log.Debug("handoff already observed by sub-actor", "at", p.Now())
		}
		d.carried = false

		cmd, err := d.prompt(p)
		if err != nil {
			return err
		}
		if cmd == 0 {
			// Legacy rejection: nothing was dispatched and nothing will
			// complete unless another handoff is carried in.
			d.stuck.Store(true)
			if err := p.Wait(d.complete); err != nil {
				return err
			}
			d.stuck.Store(false)
			d.state.clear(PhaseAwaitingHandoff)
			continue
		}

		if err := d.ch.Write(p, int(cmd)); err != nil {
			return err
		}
		d.state.dispatch(cmd, PhaseAwaitingSubComplete)
		if err := p.Delay(d.settle); err != nil {
			return err
		}

		d.dispatched.Add(1)
		d.lastCommand.Store(int64(cmd))
		d.log.Debug("disc command dispatched", "command", cmd, "at", p.Now())
		d.events.emit(Event{Kind: EventDiscDispatched, Actor: "disc.controller", Disc: cmd, Code: int(cmd)})
		d.signals[cmd].Raise()

		if err := p.Wait(d.complete); err != nil {
			return err
		}
		d.state.clear(PhaseAwaitingHandoff)
		d.events.emit(Event{Kind: EventDiscCompleted, Actor: "disc.controller", Disc: cmd})
	}
}

// prompt asks for a disc command until one is accepted. In legacy mode an
// out-of-range value is forwarded to the channel and 0 is returned.
func (d *DiscController) prompt(p *sim.Proc) (DiscCommand, error) {
	for {
		if err := d.ch.ValidateAndHandleErrors(); err != nil {
			return 0, err
		}

		d.state.enter(PhaseDispatching)
		v, err := d.panel.Select(p.Context(), PromptDisc)
		if err != nil {
			return 0, fmt.Errorf("disc selection: %w", err)
		}

		cmd := DiscCommand(v)
		if cmd.Valid() {
			return cmd, nil
		}

		d.rejected.Add(1)
		d.panel.Reject(PromptDisc, v)
		d.events.emit(Event{Kind: EventDiscRejected, Actor: "disc.controller", Code: v})

		if d.strict {
			// Nothing was written, so queued codes stay for validation.
			d.log.Info("disc command rejected, prompting again", "code", v)
			continue
		}

		d.ch.Flush()

		d.log.Warn("disc command rejected, forwarding anyway; no sub-actor will complete it",
			"code", v,
		)
		if err := d.ch.Write(p, v); err != nil {
			return 0, err
		}
		d.state.enter(PhaseAwaitingSubComplete)
		if err := p.Delay(d.settle); err != nil {
			return 0, err
		}
		return 0, nil
	}
}

func (d *DiscController) subActor(cmd DiscCommand) sim.TaskFunc {
	return func(p *sim.Proc) error {
		sig := d.signals[cmd]
		for {
			if err := p.Wait(sig); err != nil {
				return err
			}
			if !d.state.is(cmd) {
				d.violations.Add(1)
				d.log.Warn("protocol violation: disc sub-actor woken without matching dispatch",
					"actor", p.Name(),
					"command", cmd,
					"at", p.Now(),
				)
				d.events.emit(Event{Kind: EventProtocolViolation, Actor: p.Name(), Disc: cmd})
				continue
			}

			matched, err := consumeIf(p, d.ch, int(cmd))
			if err != nil {
				return err
			}
			if matched {
				if err := d.panel.PerformDisc(p.Context(), cmd); err != nil {
					return fmt.Errorf("%s action: %w", cmd, err)
				}
				d.performed.Add(1)
			}

			d.link.To.RaiseAfter(d.ack)
			if err := p.Wait(d.link.From); err != nil {
				return err
			}
			d.carried = true

			if err := p.Delay(d.settle); err != nil {
				return err
			}
			d.complete.Raise()
		}
	}
}

// DiscStatus is a snapshot of the disc controller.
type DiscStatus struct {
	Phase       Phase  `json:"phase"`
	Command     string `json:"command,omitempty"`
	LastCommand string `json:"last_command,omitempty"`
	Dispatched  uint64 `json:"dispatched"`
	Rejected    uint64 `json:"rejected"`
	Performed   uint64 `json:"performed"`
	Violations  uint64 `json:"violations"`
	Stuck       bool   `json:"stuck"`
}

// Status returns a snapshot safe to take from any goroutine.
func (d *DiscController) Status() DiscStatus {
	phase, cmd, active := d.state.snapshot()
	s := DiscStatus{
		Phase:      phase,
		Dispatched: d.dispatched.Load(),
		Rejected:   d.rejected.Load(),
		Performed:  d.performed.Load(),
		Violations: d.violations.Load(),
		Stuck:      d.stuck.Load(),
	}
	if active {
		s.Command = cmd.String()
	}
	if last := DiscCommand(d.lastCommand.Load()); last.Valid() {
		s.LastCommand = last.String()
	}
	return s
}
