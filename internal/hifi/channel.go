package hifi

import (
	"log/slog"
	"sync"

	"github.com/e7canasta/hifi-console/internal/sim"
)

// DefaultChannelCapacity matches the console's command queue depth.
const DefaultChannelCapacity = 7

// ChannelStats is a point-in-time snapshot of channel activity.
type ChannelStats struct {
	Depth    int    `json:"depth"`
	Capacity int    `json:"capacity"`
	Writes   uint64 `json:"writes"`
	Reads    uint64 `json:"reads"`
	Flushed  uint64 `json:"flushed"`
	MaxDepth int    `json:"max_depth"`
	Invalid  uint64 `json:"invalid"`
}

// Channel is the bounded FIFO of command codes shared by all actors.
//
// Blocking operations take the calling task's Proc and suspend it; the
// non-blocking ones may also run from functions posted to the kernel.
type Channel struct {
	k      *sim.Kernel
	log    *slog.Logger
	events *notifier

	written *sim.Signal
	read    *sim.Signal

	mu    sync.Mutex // buffer is also snapshotted by status readers
	buf   []int
	cap   int
	stats ChannelStats
}

// NewChannel creates an empty channel. Capacity below one falls back to the
// default.
func NewChannel(k *sim.Kernel, capacity int, log *slog.Logger) *Channel {
	if capacity < 1 {
		capacity = DefaultChannelCapacity
	}
	if log == nil {
		log = slog.Default()
	}
	return &Channel{
		k:       k,
		log:     log,
		written: k.NewSignal("channel.written"),
		read:    k.NewSignal("channel.read"),
		buf:     make([]int, 0, capacity),
		cap:     capacity,
	}
}

// Write appends v, suspending p while the channel is full.
func (c *Channel) Write(p *sim.Proc, v int) error {
	for !c.TryWrite(v) {
		if c.k.Halted() {
			return sim.ErrHalted
		}
		if err := p.Wait(c.read); err != nil {
			return err
		}
	}
	return nil
}

// TryWrite appends v if there is room.
func (c *Channel) TryWrite(v int) bool {
	if c.k.Halted() {
		return false
	}

	c.mu.Lock()
	if len(c.buf) >= c.cap {
		c.mu.Unlock()
		return false
	}
	c.buf = append(c.buf, v)
	c.stats.Writes++
	if len(c.buf) > c.stats.MaxDepth {
		c.stats.MaxDepth = len(c.buf)
	}
	c.mu.Unlock()

	c.written.RaiseAfter(0)
	return true
}

// Read removes the oldest value, suspending p while the channel is empty.
func (c *Channel) Read(p *sim.Proc) (int, error) {
	for {
		if v, ok := c.TryRead(); ok {
			return v, nil
		}
		if c.k.Halted() {
			return 0, sim.ErrHalted
		}
		if err := p.Wait(c.written); err != nil {
			return 0, err
		}
	}
}

// TryRead removes the oldest value if one is present.
func (c *Channel) TryRead() (int, bool) {
	if c.k.Halted() {
		return 0, false
	}

	c.mu.Lock()
	if len(c.buf) == 0 {
		c.mu.Unlock()
		return 0, false
	}
	v := c.buf[0]
	c.buf = c.buf[1:]
	c.stats.Reads++
	c.mu.Unlock()

	c.read.RaiseAfter(0)
	return v, true
}

// HasData reports whether at least one value is buffered.
func (c *Channel) HasData() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf) > 0
}

// Len returns the number of buffered values.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}

// Flush discards every buffered value and returns how many were dropped.
func (c *Channel) Flush() int {
	c.mu.Lock()
	n := len(c.buf)
	c.buf = c.buf[:0]
	c.stats.Flushed += uint64(n)
	c.mu.Unlock()

	if n > 0 {
		c.log.Debug("channel flushed", "dropped", n)
		c.read.RaiseAfter(0)
	}
	return n
}

// DropLast removes the newest value if it equals v and reports whether it
// did. Older values are left for validation.
func (c *Channel) DropLast(v int) bool {
	c.mu.Lock()
	n := len(c.buf)
	if n == 0 || c.buf[n-1] != v {
		c.mu.Unlock()
		return false
	}
	c.buf = c.buf[:n-1]
	c.stats.Flushed++
	c.mu.Unlock()

	c.read.RaiseAfter(0)
	return true
}

// ValidateAndHandleErrors consumes at most one buffered value. A value
// outside the validity set flushes the channel and halts the kernel; the
// returned *InvalidCodeError is also the kernel's halt reason.
func (c *Channel) ValidateAndHandleErrors() error {
	v, ok := c.TryRead()
	if !ok || IsValidCode(v) {
		return nil
	}

	c.mu.Lock()
	c.stats.Invalid++
	c.mu.Unlock()

	flushed := c.Flush()
	err := &InvalidCodeError{Code: v, Flushed: flushed}

	c.log.Error("invalid input detected, system stopping",
		"code", v,
		"flushed", flushed,
		"at", c.k.Now(),
	)
	c.events.emit(Event{Kind: EventChannelCorrupted, Actor: "channel", Code: v})

	c.k.Stop(err)
	return err
}

// Stats returns a snapshot of channel counters.
func (c *Channel) Stats() ChannelStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Depth = len(c.buf)
	s.Capacity = c.cap
	return s
}

// Snapshot returns a copy of the buffered values, oldest first.
func (c *Channel) Snapshot() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.buf...)
}
