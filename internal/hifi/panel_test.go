package hifi

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// scriptedPanel answers prompts from a fixed script and records every
// interaction. It is only touched from kernel tasks; tests read it after
// Run returns.
type scriptedPanel struct {
	inputs []int
	log    []string
}

func newScriptedPanel(inputs ...int) *scriptedPanel {
	return &scriptedPanel{inputs: inputs}
}

func (p *scriptedPanel) Select(_ context.Context, prompt Prompt) (int, error) {
	p.log = append(p.log, "prompt:"+prompt.String())
	if len(p.inputs) == 0 {
		return 0, io.EOF
	}
	v := p.inputs[0]
	p.inputs = p.inputs[1:]
	return v, nil
}

func (p *scriptedPanel) Perform(_ context.Context, mode Mode) error {
	p.log = append(p.log, "perform:"+mode.String())
	return nil
}

func (p *scriptedPanel) PerformDisc(_ context.Context, cmd DiscCommand) error {
	p.log = append(p.log, "disc:"+cmd.String())
	return nil
}

func (p *scriptedPanel) ShowVolume(_ context.Context, level int) error {
	p.log = append(p.log, fmt.Sprintf("volume:%d", level))
	return nil
}

func (p *scriptedPanel) Reject(prompt Prompt, value int) {
	p.log = append(p.log, fmt.Sprintf("reject:%s:%d", prompt, value))
}

// actions filters the log down to performed actions.
func (p *scriptedPanel) actions() []string {
	var out []string
	for _, entry := range p.log {
		if strings.HasPrefix(entry, "perform:") ||
			strings.HasPrefix(entry, "disc:") ||
			strings.HasPrefix(entry, "volume:") {
			out = append(out, entry)
		}
	}
	return out
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return opts
}
