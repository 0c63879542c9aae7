package hifi

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Prompt identifies which value the engine is asking the user for.
type Prompt int

const (
	PromptMode Prompt = iota + 1
	PromptDisc
	PromptVolume
)

func (p Prompt) String() string {
	switch p {
	case PromptMode:
		return "mode"
	case PromptDisc:
		return "disc"
	case PromptVolume:
		return "volume"
	}
	return fmt.Sprintf("prompt(%d)", int(p))
}

// Panel is the user-facing side of the console: the input source plus the
// interactive per-mode actions. Every method is called from a kernel task,
// so while one runs the whole engine waits for it.
type Panel interface {
	// Select asks for an integer. Unparsable input is reported as 0.
	Select(ctx context.Context, prompt Prompt) (int, error)
	// Perform runs the interaction for a top-level mode (banner, sub-choices).
	Perform(ctx context.Context, mode Mode) error
	// PerformDisc runs the interaction for a disc command.
	PerformDisc(ctx context.Context, cmd DiscCommand) error
	// ShowVolume reports the applied volume level.
	ShowVolume(ctx context.Context, level int) error
	// Reject tells the user a value was out of range for prompt.
	Reject(prompt Prompt, value int)
}

// VolumePolicy decides what happens to a level outside 0..100.
type VolumePolicy string

const (
	VolumeClamp  VolumePolicy = "clamp"
	VolumeReject VolumePolicy = "reject"
	VolumeAccept VolumePolicy = "accept"
)

// ParseVolumePolicy accepts the policy names case-insensitively.
func ParseVolumePolicy(s string) (VolumePolicy, error) {
	switch p := VolumePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case VolumeClamp, VolumeReject, VolumeAccept:
		return p, nil
	case "":
		return VolumeClamp, nil
	}
	return "", fmt.Errorf("unknown volume policy %q (must be clamp, reject or accept)", s)
}

const (
	VolumeMin = 0
	VolumeMax = 100
)

// Options tunes the engine.
type Options struct {
	ChannelCapacity int
	// Settle is the delay between writing a selection and signalling it,
	// and between an action and its completion.
	Settle time.Duration
	// Ack is the disc sub-actor's delay before handing control back.
	Ack time.Duration
	// VolumeGap separates the volume-done and mode-complete signals.
	VolumeGap time.Duration
	// StrictDiscRejection re-prompts on an out-of-range disc command
	// instead of forwarding it and stalling.
	StrictDiscRejection bool
	VolumePolicy        VolumePolicy
	Realtime            bool

	// Session tags every emitted event.
	Session  string
	Logger   *slog.Logger
	Observer Observer
}

// DefaultOptions returns the console's stock timing and policies.
func DefaultOptions() Options {
	return Options{
		ChannelCapacity:     DefaultChannelCapacity,
		Settle:              50 * time.Millisecond,
		Ack:                 10 * time.Millisecond,
		VolumeGap:           10 * time.Millisecond,
		StrictDiscRejection: true,
		VolumePolicy:        VolumeClamp,
	}
}

func (o *Options) normalize() {
	def := DefaultOptions()
	if o.ChannelCapacity < 1 {
		o.ChannelCapacity = def.ChannelCapacity
	}
	if o.Settle < 0 {
		o.Settle = 0
	}
	if o.Ack < 0 {
		o.Ack = 0
	}
	if o.VolumeGap < 0 {
		o.VolumeGap = 0
	}
	if o.VolumePolicy == "" {
		o.VolumePolicy = def.VolumePolicy
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}
