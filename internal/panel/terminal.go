// Package panel implements the console's user-facing side on a text
// terminal: menus, sub-choices and action notices.
package panel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/e7canasta/hifi-console/internal/hifi"
)

// Band is the radio wave band.
type Band int

const (
	BandFM Band = iota
	BandAM
)

func (b Band) String() string {
	if b == BandAM {
		return "AM"
	}
	return "FM"
}

// DiscFormat is the disc type chosen when entering CD mode.
type DiscFormat int

const (
	FormatCDAudio DiscFormat = iota
	FormatCDMP3
	FormatDVDAudio
	FormatDVDMP3
)

func (f DiscFormat) String() string {
	switch f {
	case FormatCDAudio:
		return "CD Audio"
	case FormatCDMP3:
		return "CD MP3"
	case FormatDVDAudio:
		return "DVD Audio"
	}
	return "DVD MP3"
}

var modeTitles = map[hifi.Mode]string{
	hifi.ModeRadio:     "Radio",
	hifi.ModeCassette:  "Cassette",
	hifi.ModeTurntable: "Turntable",
	hifi.ModeCD:        "CD",
	hifi.ModeDVD:       "DVD",
	hifi.ModeAUX:       "AUX",
	hifi.ModeVolume:    "Volume",
}

var discLabels = map[hifi.DiscCommand]string{
	hifi.DiscPlay:     "Play",
	hifi.DiscStop:     "Stop",
	hifi.DiscNext:     "Next Track",
	hifi.DiscPrevious: "Previous Track",
}

var discNotices = map[hifi.DiscCommand]string{
	hifi.DiscPlay:     "Playing",
	hifi.DiscStop:     "Stopped",
	hifi.DiscNext:     "Next Track",
	hifi.DiscPrevious: "Previous Track",
}

type line struct {
	text string
	err  error
}

type styles struct {
	title  lipgloss.Style
	header lipgloss.Style
	notice lipgloss.Style
	reject lipgloss.Style
	prompt lipgloss.Style
}

// Terminal is a hifi.Panel reading integers line by line from an input
// stream. Styling degrades to plain text when out is not a terminal.
type Terminal struct {
	in  io.Reader
	out io.Writer

	once      sync.Once
	lines     chan line
	closeOnce sync.Once
	done      chan struct{}
	stopped   chan struct{}

	mu     sync.Mutex
	styles styles

	band   Band
	format DiscFormat
}

var _ hifi.Panel = (*Terminal)(nil)

// New creates a terminal panel.
func New(in io.Reader, out io.Writer) *Terminal {
	r := lipgloss.NewRenderer(out)
	return &Terminal{
		in:      in,
		out:     out,
		lines:   make(chan line),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		styles: styles{
			title:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
			header: r.NewStyle().Bold(true).Foreground(lipgloss.Color("14")),
			notice: r.NewStyle().Foreground(lipgloss.Color("10")),
			reject: r.NewStyle().Foreground(lipgloss.Color("9")),
			prompt: r.NewStyle().Faint(true),
		},
	}
}

// Select prints the menu for prompt and reads one integer.
func (t *Terminal) Select(ctx context.Context, prompt hifi.Prompt) (int, error) {
	switch prompt {
	case hifi.PromptMode:
		t.println(t.styles.title.Render("Select mode:"))
		for _, m := range hifi.Modes {
			t.printf(" %d. %s\n", int(m), modeTitles[m])
		}
		t.print(t.styles.prompt.Render("Enter choice: "))
	case hifi.PromptDisc:
		t.println(t.styles.title.Render("Disc control:"))
		for _, c := range hifi.DiscCommands {
			t.printf(" %d. %s\n", int(c), discLabels[c])
		}
		t.print(t.styles.prompt.Render("Enter command: "))
	case hifi.PromptVolume:
		t.print(t.styles.prompt.Render("Enter volume level (0-100): "))
	default:
		t.print(t.styles.prompt.Render(prompt.String() + ": "))
	}
	return t.readInt(ctx)
}

// Perform prints the mode banner and runs its sub-choice, if any.
func (t *Terminal) Perform(ctx context.Context, mode hifi.Mode) error {
	t.println(t.styles.header.Render(modeTitles[mode] + " mode"))

	switch mode {
	case hifi.ModeRadio:
		t.print(t.styles.prompt.Render("Select wave type (1 for AM, other for FM): "))
		v, err := t.readInt(ctx)
		if err != nil {
			return err
		}
		band := BandFM
		if v == 1 {
			band = BandAM
		}
		t.mu.Lock()
		t.band = band
		t.mu.Unlock()
		t.println(t.styles.notice.Render("Radio " + band.String() + " selected"))

	case hifi.ModeCD:
		t.print(t.styles.prompt.Render("Select disc type (0: CD Audio, 1: CD MP3, 2: DVD Audio, other: DVD MP3): "))
		v, err := t.readInt(ctx)
		if err != nil {
			return err
		}
		format := FormatDVDMP3
		if v >= int(FormatCDAudio) && v <= int(FormatDVDAudio) {
			format = DiscFormat(v)
		}
		t.mu.Lock()
		t.format = format
		t.mu.Unlock()
		t.println(t.styles.notice.Render(format.String() + " selected"))

	default:
		t.println(t.styles.notice.Render(modeTitles[mode] + " active"))
	}
	return nil
}

// PerformDisc prints the disc command notice.
func (t *Terminal) PerformDisc(_ context.Context, cmd hifi.DiscCommand) error {
	t.println(t.styles.notice.Render(discNotices[cmd]))
	return nil
}

// ShowVolume prints the applied level.
func (t *Terminal) ShowVolume(_ context.Context, level int) error {
	t.println(t.styles.notice.Render(fmt.Sprintf("Volume set to: %d", level)))
	return nil
}

// Reject prints a rejection notice.
func (t *Terminal) Reject(prompt hifi.Prompt, value int) {
	msg := fmt.Sprintf("Invalid selection: %d", value)
	if prompt == hifi.PromptVolume {
		msg = fmt.Sprintf("Volume out of range: %d", value)
	}
	t.println(t.styles.reject.Render(msg))
}

// Band returns the last radio band chosen.
func (t *Terminal) Band() Band {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.band
}

// Format returns the last disc format chosen.
func (t *Terminal) Format() DiscFormat {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.format
}

// readInt reads one line. Input that is not an integer reads as 0.
func (t *Terminal) readInt(ctx context.Context) (int, error) {
	s, err := t.readLine(ctx)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, nil
	}
	return v, nil
}

func (t *Terminal) readLine(ctx context.Context) (string, error) {
	t.once.Do(func() { go t.scan() })

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-t.done:
		return "", io.EOF
	case l, ok := <-t.lines:
		if !ok {
			return "", io.EOF
		}
		return l.text, l.err
	}
}

// Close releases the input scanner. A scanner blocked inside a read
// returns after that read completes.
func (t *Terminal) Close() {
	t.closeOnce.Do(func() { close(t.done) })
}

func (t *Terminal) scan() {
	defer close(t.stopped)
	defer close(t.lines)
	sc := bufio.NewScanner(t.in)
	for sc.Scan() {
		if !t.send(line{text: sc.Text()}) {
			return
		}
	}
	if err := sc.Err(); err != nil {
		t.send(line{err: fmt.Errorf("read input: %w", err)})
	}
}

func (t *Terminal) send(l line) bool {
	select {
	case t.lines <- l:
		return true
	case <-t.done:
		return false
	}
}

func (t *Terminal) print(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprint(t.out, s)
}

func (t *Terminal) println(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out, s)
}

func (t *Terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}
