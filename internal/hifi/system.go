package hifi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/e7canasta/hifi-console/internal/sim"
)

// ErrNotRunning is returned by operations that need a running engine.
var ErrNotRunning = errors.New("hifi: engine not running")

// System is the wired console engine: one kernel, one channel, the mode
// controller with its actors, the volume actor and the disc controller.
type System struct {
	opts    Options
	session string
	log     *slog.Logger

	kernel *sim.Kernel
	ch     *Channel
	hs     Handshake
	modes  *ModeController
	volume *VolumeSubActor
	disc   *DiscController

	started atomic.Bool
}

// New builds an engine around panel. Nothing runs until Run.
func New(panel Panel, opts Options) (*System, error) {
	if panel == nil {
		return nil, ErrNilPanel
	}
	opts.normalize()
	if opts.Session == "" {
		opts.Session = uuid.NewString()
	}

	log := opts.Logger.With("session", opts.Session)
	opts.Logger = log

	k := sim.New(sim.WithLogger(log.With("component", "kernel")), sim.WithRealtime(opts.Realtime))
	ch := NewChannel(k, opts.ChannelCapacity, log.With("component", "channel"))
	ch.events = &notifier{k: k, session: opts.Session, observe: opts.Observer}
	hs := NewHandshake(k)

	modes, err := NewModeController(k, ch, panel, hs.SelectorSide(), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create mode controller: %w", err)
	}
	volume, err := NewVolumeSubActor(modes, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create volume actor: %w", err)
	}
	disc, err := NewDiscController(k, ch, panel, hs.HandlerSide(), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create disc controller: %w", err)
	}

	return &System{
		opts:    opts,
		session: opts.Session,
		log:     log,
		kernel:  k,
		ch:      ch,
		hs:      hs,
		modes:   modes,
		volume:  volume,
		disc:    disc,
	}, nil
}

// Run starts every actor and drives the kernel until shutdown, a fatal
// channel error or a panel failure. It returns the halt reason.
func (s *System) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return sim.ErrAlreadyRunning
	}

	s.disc.Start()
	s.volume.Start()
	s.modes.Start()

	s.log.Info("console engine starting",
		"channel_capacity", s.opts.ChannelCapacity,
		"settle", s.opts.Settle,
		"strict_disc_rejection", s.opts.StrictDiscRejection,
		"volume_policy", s.opts.VolumePolicy,
	)

	err := s.kernel.Run(ctx)

	s.log.Info("console engine stopped", "at", s.kernel.Now(), "reason", err)
	return err
}

// Inject writes a raw code into the channel between task steps, without
// validation. Used to exercise the corruption path from outside.
func (s *System) Inject(code int) error {
	if !s.started.Load() {
		return ErrNotRunning
	}
	return s.kernel.Post(func() {
		if !s.ch.TryWrite(code) {
			s.log.Warn("channel full, injected code dropped", "code", code)
			s.ch.events.emit(Event{Kind: EventChannelOverflow, Actor: "inject", Code: code})
			return
		}
		s.log.Info("code injected into channel", "code", code)
	})
}

// Flush empties the channel between task steps.
func (s *System) Flush() error {
	if !s.started.Load() {
		return ErrNotRunning
	}
	return s.kernel.Post(func() {
		n := s.ch.Flush()
		s.log.Info("channel flushed on request", "dropped", n)
	})
}

// Shutdown halts the engine. Safe to call more than once.
func (s *System) Shutdown() { s.kernel.Stop(nil) }

// Session returns the engine session ID.
func (s *System) Session() string { return s.session }

// Kernel exposes the scheduler.
func (s *System) Kernel() *sim.Kernel { return s.kernel }

// Channel exposes the shared command channel.
func (s *System) Channel() *Channel { return s.ch }

// Modes exposes the mode controller.
func (s *System) Modes() *ModeController { return s.modes }

// Disc exposes the disc controller.
func (s *System) Disc() *DiscController { return s.disc }

// Volume exposes the volume actor.
func (s *System) Volume() *VolumeSubActor { return s.volume }

// Status is a JSON-friendly snapshot of the whole engine.
type Status struct {
	Session     string         `json:"session"`
	VirtualTime string         `json:"virtual_time"`
	VirtualMS   int64          `json:"virtual_ms"`
	Running     bool           `json:"running"`
	Halted      bool           `json:"halted"`
	Stalled     bool           `json:"stalled"`
	HaltReason  string         `json:"halt_reason,omitempty"`
	Selector    SelectorStatus `json:"selector"`
	Disc        DiscStatus     `json:"disc"`
	Channel     ChannelStats   `json:"channel"`
	Volume      *int           `json:"volume,omitempty"`
}

// Status returns a snapshot safe to take from any goroutine.
func (s *System) Status() Status {
	now := s.kernel.Now()
	st := Status{
		Session:     s.session,
		VirtualTime: now.String(),
		VirtualMS:   now.Milliseconds(),
		Running:     s.started.Load() && !s.kernel.Halted(),
		Halted:      s.kernel.Halted(),
		Stalled:     s.kernel.Stalled(),
		Selector:    s.modes.Status(),
		Disc:        s.disc.Status(),
		Channel:     s.ch.Stats(),
	}
	if reason := s.kernel.Reason(); reason != nil {
		st.HaltReason = reason.Error()
	}
	if level, ok := s.volume.Level(); ok {
		st.Volume = &level
	}
	return st
}
