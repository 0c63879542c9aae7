package hifi

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/hifi-console/internal/sim"
)

func newTestChannel(capacity int) (*sim.Kernel, *Channel) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	k := sim.New(sim.WithLogger(logger))
	return k, NewChannel(k, capacity, logger)
}

func TestChannelNeverExceedsCapacity(t *testing.T) {
	k, ch := newTestChannel(DefaultChannelCapacity)
	var got []int
	var blockedAt time.Duration

	k.Spawn("producer", func(p *sim.Proc) error {
		for v := 1; v <= 10; v++ {
			if err := ch.Write(p, v); err != nil {
				return err
			}
			if v == DefaultChannelCapacity+1 {
				blockedAt = p.Now()
			}
		}
		return nil
	})
	k.Spawn("consumer", func(p *sim.Proc) error {
		if err := p.Delay(20 * time.Millisecond); err != nil {
			return err
		}
		for i := 0; i < 10; i++ {
			v, err := ch.Read(p)
			if err != nil {
				return err
			}
			got = append(got, v)
		}
		return nil
	})

	require.NoError(t, k.Run(context.Background()))
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, got, "FIFO order")
	assert.Equal(t, 20*time.Millisecond, blockedAt, "eighth write waits for a reader")

	st := ch.Stats()
	assert.Equal(t, DefaultChannelCapacity, st.MaxDepth)
	assert.Equal(t, uint64(10), st.Writes)
	assert.Equal(t, uint64(10), st.Reads)
	assert.Zero(t, st.Depth)
}

func TestChannelReadBlocksUntilWrite(t *testing.T) {
	k, ch := newTestChannel(0)
	var readAt time.Duration

	k.Spawn("reader", func(p *sim.Proc) error {
		v, err := ch.Read(p)
		if err != nil {
			return err
		}
		readAt = p.Now()
		assert.Equal(t, 4, v)
		return nil
	})
	k.Spawn("writer", func(p *sim.Proc) error {
		if err := p.Delay(30 * time.Millisecond); err != nil {
			return err
		}
		return ch.Write(p, 4)
	})

	require.NoError(t, k.Run(context.Background()))
	assert.Equal(t, 30*time.Millisecond, readAt)
}

func TestChannelNonBlockingOps(t *testing.T) {
	_, ch := newTestChannel(2)

	assert.False(t, ch.HasData())
	assert.True(t, ch.TryWrite(1))
	assert.True(t, ch.TryWrite(2))
	assert.False(t, ch.TryWrite(3), "full")
	assert.Equal(t, []int{1, 2}, ch.Snapshot())

	v, ok := ch.TryRead()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	assert.Equal(t, 1, ch.Flush())
	assert.Equal(t, 0, ch.Flush())
	assert.False(t, ch.HasData())
	assert.Equal(t, uint64(1), ch.Stats().Flushed)
}

func TestChannelDropLastKeepsOlderValues(t *testing.T) {
	_, ch := newTestChannel(4)

	assert.False(t, ch.DropLast(9), "empty")
	require.True(t, ch.TryWrite(103))
	require.True(t, ch.TryWrite(9))

	assert.False(t, ch.DropLast(2), "tail does not match")
	assert.True(t, ch.DropLast(9))
	assert.Equal(t, []int{103}, ch.Snapshot())
	assert.Equal(t, uint64(1), ch.Stats().Flushed)
}

func TestValidateAndHandleErrors(t *testing.T) {
	tests := []struct {
		name     string
		buffered []int
		wantErr  bool
		wantLen  int
	}{
		{"empty channel", nil, false, 0},
		{"valid mode code", []int{3, 5}, false, 1},
		{"reserved code", []int{102}, false, 0},
		{"out of range", []int{8, 1, 2}, true, 0},
		{"negative", []int{-4}, true, 0},
		{"just above reserved", []int{103}, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, ch := newTestChannel(0)
			for _, v := range tt.buffered {
				require.True(t, ch.TryWrite(v))
			}

			err := ch.ValidateAndHandleErrors()
			assert.Equal(t, tt.wantLen, ch.Len())
			if !tt.wantErr {
				assert.NoError(t, err)
				assert.False(t, k.Halted())
				return
			}

			var invalid *InvalidCodeError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.buffered[0], invalid.Code)
			assert.Equal(t, len(tt.buffered)-1, invalid.Flushed)
			assert.True(t, k.Halted(), "invalid code requests shutdown")
			assert.Equal(t, err, k.Reason())
			assert.False(t, ch.TryWrite(1), "writes fail after halt")
		})
	}
}

func TestIsValidCode(t *testing.T) {
	for v := -2; v <= 110; v++ {
		want := (v >= 1 && v <= 7) || v == 100 || v == 101 || v == 102
		assert.Equal(t, want, IsValidCode(v), "code %d", v)
	}
}
