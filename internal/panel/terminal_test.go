package panel

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/hifi-console/internal/hifi"
)

func TestSelectParsesIntegers(t *testing.T) {
	var out bytes.Buffer
	term := New(strings.NewReader("4\n  7 \nabc\n"), &out)
	ctx := context.Background()

	v, err := term.Select(ctx, hifi.PromptMode)
	require.NoError(t, err)
	assert.Equal(t, 4, v)

	v, err = term.Select(ctx, hifi.PromptDisc)
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	v, err = term.Select(ctx, hifi.PromptVolume)
	require.NoError(t, err)
	assert.Equal(t, 0, v, "unparsable input reads as zero")

	_, err = term.Select(ctx, hifi.PromptMode)
	assert.ErrorIs(t, err, io.EOF)

	text := out.String()
	assert.Contains(t, text, "Select mode:")
	assert.Contains(t, text, " 4. CD")
	assert.Contains(t, text, " 3. Next Track")
	assert.Contains(t, text, "Enter volume level (0-100): ")
}

func TestSelectHonoursCancellation(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	term := New(r, io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := term.Select(ctx, hifi.PromptMode)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseReleasesBlockedScanner(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	term := New(r, io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := term.Select(ctx, hifi.PromptMode)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The scanner reads this line but nobody is left to take it.
	_, err = w.Write([]byte("1\n"))
	require.NoError(t, err)

	term.Close()
	term.Close()

	assert.Eventually(t, func() bool {
		select {
		case <-term.stopped:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	_, err = term.Select(context.Background(), hifi.PromptMode)
	assert.ErrorIs(t, err, io.EOF)
}

func TestRadioBandChoice(t *testing.T) {
	tests := []struct {
		input string
		want  Band
	}{
		{"1\n", BandAM},
		{"2\n", BandFM},
		{"x\n", BandFM},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		term := New(strings.NewReader(tt.input), &out)
		require.NoError(t, term.Perform(context.Background(), hifi.ModeRadio))
		assert.Equal(t, tt.want, term.Band())
		assert.Contains(t, out.String(), "Radio "+tt.want.String()+" selected")
	}
}

func TestCDFormatChoice(t *testing.T) {
	tests := []struct {
		input string
		want  DiscFormat
	}{
		{"0\n", FormatCDAudio},
		{"1\n", FormatCDMP3},
		{"2\n", FormatDVDAudio},
		{"3\n", FormatDVDMP3},
		{"-1\n", FormatDVDMP3},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		term := New(strings.NewReader(tt.input), &out)
		require.NoError(t, term.Perform(context.Background(), hifi.ModeCD))
		assert.Equal(t, tt.want, term.Format())
		assert.Contains(t, out.String(), tt.want.String()+" selected")
	}
}

func TestCDFormatChoiceEOF(t *testing.T) {
	term := New(strings.NewReader(""), io.Discard)
	err := term.Perform(context.Background(), hifi.ModeCD)
	assert.ErrorIs(t, err, io.EOF)
}

func TestNotices(t *testing.T) {
	var out bytes.Buffer
	term := New(strings.NewReader(""), &out)
	ctx := context.Background()

	require.NoError(t, term.Perform(ctx, hifi.ModeAUX))
	require.NoError(t, term.PerformDisc(ctx, hifi.DiscPlay))
	require.NoError(t, term.PerformDisc(ctx, hifi.DiscPrevious))
	require.NoError(t, term.ShowVolume(ctx, 35))
	term.Reject(hifi.PromptMode, 9)
	term.Reject(hifi.PromptVolume, 120)

	text := out.String()
	for _, want := range []string{
		"AUX mode", "Playing", "Previous Track",
		"Volume set to: 35", "Invalid selection: 9", "Volume out of range: 120",
	} {
		assert.Contains(t, text, want)
	}
}

func TestTerminalDrivesEngine(t *testing.T) {
	// CD, CD Audio, Play, then EOF.
	in := strings.NewReader("4\n0\n1\n")
	var out bytes.Buffer
	term := New(in, &out)

	opts := hifi.DefaultOptions()
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	sys, err := hifi.New(term, opts)
	require.NoError(t, err)

	err = sys.Run(context.Background())
	require.ErrorIs(t, err, io.EOF)

	text := out.String()
	assert.Contains(t, text, "CD mode")
	assert.Contains(t, text, "CD Audio selected")
	assert.Contains(t, text, "Playing")
	assert.Equal(t, 2, strings.Count(text, "Select mode:"), "selector prompts again after the round trip")
}
