package sim

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietKernel(opts ...Option) *Kernel {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(append([]Option{WithLogger(logger)}, opts...)...)
}

// trace is appended to only by tasks, which never run concurrently.
type trace []string

func (t *trace) add(s string) { *t = append(*t, s) }

func TestTasksRunInSpawnOrderUntilFirstSuspension(t *testing.T) {
	k := quietKernel()
	var tr trace
	for _, name := range []string{"a", "b", "c"} {
		k.Spawn(name, func(p *Proc) error {
			tr.add(p.Name())
			return nil
		})
	}

	require.NoError(t, k.Run(context.Background()))
	assert.Equal(t, trace{"a", "b", "c"}, tr)
}

func TestDelayAdvancesVirtualClock(t *testing.T) {
	k := quietKernel()
	var at []time.Duration
	k.Spawn("sleeper", func(p *Proc) error {
		for _, d := range []time.Duration{50 * time.Millisecond, 10 * time.Millisecond} {
			if err := p.Delay(d); err != nil {
				return err
			}
			at = append(at, p.Now())
		}
		return nil
	})

	start := time.Now()
	require.NoError(t, k.Run(context.Background()))
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 60 * time.Millisecond}, at)
	assert.Less(t, time.Since(start), 50*time.Millisecond, "virtual time must not sleep")
}

func TestTimedWakeupsKeepOrder(t *testing.T) {
	k := quietKernel()
	var tr trace
	spawn := func(name string, d time.Duration) {
		k.Spawn(name, func(p *Proc) error {
			if err := p.Delay(d); err != nil {
				return err
			}
			tr.add(name)
			return nil
		})
	}
	spawn("late", 30*time.Millisecond)
	spawn("early", 10*time.Millisecond)
	spawn("tie-first", 20*time.Millisecond)
	spawn("tie-second", 20*time.Millisecond)

	require.NoError(t, k.Run(context.Background()))
	assert.Equal(t, trace{"early", "tie-first", "tie-second", "late"}, tr)
}

func TestImmediateRaiseWakesWaitersInOrder(t *testing.T) {
	k := quietKernel()
	sig := k.NewSignal("go")
	var tr trace

	for _, name := range []string{"w1", "w2"} {
		k.Spawn(name, func(p *Proc) error {
			if err := p.Wait(sig); err != nil {
				return err
			}
			tr.add(p.Name())
			return nil
		})
	}
	k.Spawn("raiser", func(p *Proc) error {
		tr.add("raise")
		sig.Raise()
		tr.add("after-raise")
		return nil
	})

	require.NoError(t, k.Run(context.Background()))
	assert.Equal(t, trace{"raise", "after-raise", "w1", "w2"}, tr)
}

func TestRaiseWithoutWaitersIsLost(t *testing.T) {
	k := quietKernel()
	sig := k.NewSignal("lost")

	k.Spawn("raiser", func(p *Proc) error {
		sig.Raise()
		return nil
	})
	k.Spawn("late-waiter", func(p *Proc) error {
		if err := p.Delay(time.Millisecond); err != nil {
			return err
		}
		return p.Wait(sig)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- k.Run(ctx) }()

	require.Eventually(t, k.Stalled, time.Second, time.Millisecond)
	cancel()

	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDeltaRaiseRunsAfterRunnableTasks(t *testing.T) {
	k := quietKernel()
	sig := k.NewSignal("delta")
	var tr trace

	k.Spawn("waiter", func(p *Proc) error {
		if err := p.Wait(sig); err != nil {
			return err
		}
		tr.add("woken")
		return nil
	})
	k.Spawn("raiser", func(p *Proc) error {
		sig.RaiseAfter(0)
		tr.add("raised")
		return nil
	})
	k.Spawn("bystander", func(p *Proc) error {
		tr.add("bystander")
		return nil
	})

	require.NoError(t, k.Run(context.Background()))
	assert.Equal(t, trace{"raised", "bystander", "woken"}, tr)
	assert.Equal(t, time.Duration(0), k.Now())
}

func TestEarlierPendingNotificationWins(t *testing.T) {
	k := quietKernel()
	sig := k.NewSignal("timed")
	var woke []time.Duration

	k.Spawn("waiter", func(p *Proc) error {
		for i := 0; i < 2; i++ {
			if err := p.Wait(sig); err != nil {
				return err
			}
			woke = append(woke, p.Now())
		}
		return nil
	})
	k.Spawn("raiser", func(p *Proc) error {
		sig.RaiseAfter(30 * time.Millisecond)
		sig.RaiseAfter(10 * time.Millisecond)
		sig.RaiseAfter(20 * time.Millisecond)
		if err := p.Delay(40 * time.Millisecond); err != nil {
			return err
		}
		sig.RaiseAfter(5 * time.Millisecond)
		return nil
	})

	require.NoError(t, k.Run(context.Background()))
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 45 * time.Millisecond}, woke)
}

func TestStopHaltsEverySuspendedTask(t *testing.T) {
	k := quietKernel()
	never := k.NewSignal("never")
	reason := errors.New("corrupted")
	var errs []error

	for _, name := range []string{"a", "b"} {
		k.Spawn(name, func(p *Proc) error {
			err := p.Wait(never)
			errs = append(errs, err)
			return err
		})
	}
	k.Spawn("stopper", func(p *Proc) error {
		if err := p.Delay(time.Millisecond); err != nil {
			return err
		}
		k.Stop(reason)
		never.Raise()
		return p.Delay(time.Millisecond)
	})

	err := k.Run(context.Background())
	require.ErrorIs(t, err, reason)
	require.Len(t, errs, 2)
	for _, e := range errs {
		assert.ErrorIs(t, e, ErrHalted)
	}
	assert.True(t, k.Halted())
	assert.ErrorIs(t, k.Post(func() {}), ErrHalted)
}

func TestTaskErrorHaltsKernel(t *testing.T) {
	k := quietKernel()
	boom := errors.New("boom")
	k.Spawn("failing", func(p *Proc) error { return boom })
	k.Spawn("idle", func(p *Proc) error { return p.Wait(k.NewSignal("idle")) })

	err := k.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "task failing")
}

func TestPostRunsOnKernelAndWakesStall(t *testing.T) {
	k := quietKernel()
	sig := k.NewSignal("external")
	var woke bool

	k.Spawn("waiter", func(p *Proc) error {
		if err := p.Wait(sig); err != nil {
			return err
		}
		woke = true
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- k.Run(context.Background()) }()

	require.Eventually(t, k.Stalled, time.Second, time.Millisecond)
	require.NoError(t, k.Post(func() { sig.Raise() }))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("kernel did not finish after posted raise")
	}
	assert.True(t, woke)
}

func TestRunTwiceFails(t *testing.T) {
	k := quietKernel()
	require.NoError(t, k.Run(context.Background()))
	assert.ErrorIs(t, k.Run(context.Background()), ErrAlreadyRunning)
}

func TestRealtimePacing(t *testing.T) {
	k := quietKernel(WithRealtime(true))
	k.Spawn("sleeper", func(p *Proc) error { return p.Delay(20 * time.Millisecond) })

	start := time.Now()
	require.NoError(t, k.Run(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}
