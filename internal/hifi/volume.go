package hifi

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/e7canasta/hifi-console/internal/sim"
)

// VolumeSubActor serves the volume mode: it asks for a level, applies it
// and reports completion to the mode controller.
type VolumeSubActor struct {
	mc     *ModeController
	panel  Panel
	log    *slog.Logger
	events *notifier
	settle time.Duration
	gap    time.Duration
	policy VolumePolicy

	done *sim.Signal

	level   atomic.Int64
	applied atomic.Bool
}

// NewVolumeSubActor attaches a volume actor to mc's volume signal.
func NewVolumeSubActor(mc *ModeController, opts Options) (*VolumeSubActor, error) {
	opts.normalize()
	if _, err := ParseVolumePolicy(string(opts.VolumePolicy)); err != nil {
		return nil, err
	}
	return &VolumeSubActor{
		mc:     mc,
		panel:  mc.panel,
		log:    opts.Logger.With("component", "volume"),
		events: mc.events,
		settle: opts.Settle,
		gap:    opts.VolumeGap,
		policy: opts.VolumePolicy,
		done:   mc.k.NewSignal("volume.done"),
	}, nil
}

// Done is raised once a level has been applied, ahead of mode-complete.
func (v *VolumeSubActor) Done() *sim.Signal { return v.done }

// Level returns the last applied level.
func (v *VolumeSubActor) Level() (int, bool) {
	return int(v.level.Load()), v.applied.Load()
}

// Start spawns the actor task.
func (v *VolumeSubActor) Start() {
	v.mc.k.Spawn("actor.volume", v.run)
}

func (v *VolumeSubActor) run(p *sim.Proc) error {
	trigger := v.mc.Signal(ModeVolume)
	for {
		if err := p.Wait(trigger); err != nil {
			return err
		}
		if !v.mc.state.is(ModeVolume) {
			v.mc.violation(p.Name(), ModeVolume)
			continue
		}

		matched, err := consumeIf(p, v.mc.ch, int(ModeVolume))
		if err != nil {
			return err
		}
		if matched {
			if err := v.apply(p); err != nil {
				return err
			}
		}

		if err := p.Delay(v.settle); err != nil {
			return err
		}
		v.done.Raise()
		if err := p.Delay(v.gap); err != nil {
			return err
		}
		v.mc.complete.Raise()
	}
}

func (v *VolumeSubActor) apply(p *sim.Proc) error {
	for {
		raw, err := v.panel.Select(p.Context(), PromptVolume)
		if err != nil {
			return fmt.Errorf("volume selection: %w", err)
		}

		level, ok := v.resolve(raw)
		if !ok {
			v.panel.Reject(PromptVolume, raw)
			continue
		}

		if err := v.panel.ShowVolume(p.Context(), level); err != nil {
			return fmt.Errorf("volume action: %w", err)
		}
		v.level.Store(int64(level))
		v.applied.Store(true)
		v.mc.performed.Add(1)

		v.log.Info("volume set", "level", level)
		v.events.emit(Event{Kind: EventVolumeSet, Actor: p.Name(), Mode: ModeVolume, Code: level})
		return nil
	}
}

// resolve applies the volume policy to a raw level.
func (v *VolumeSubActor) resolve(raw int) (int, bool) {
	if raw >= VolumeMin && raw <= VolumeMax {
		return raw, true
	}

	switch v.policy {
	case VolumeAccept:
		v.log.Warn("volume level outside 0-100 accepted", "level", raw)
		return raw, true
	case VolumeReject:
		v.log.Info("volume level outside 0-100 rejected", "level", raw)
		return 0, false
	default:
		clamped := min(max(raw, VolumeMin), VolumeMax)
		v.log.Warn("volume level clamped", "requested", raw, "applied", clamped)
		return clamped, true
	}
}
