package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrHalted is returned by every suspension point once the kernel stopped.
var ErrHalted = errors.New("sim: kernel halted")

// ErrAlreadyRunning is returned when Run is called twice.
var ErrAlreadyRunning = errors.New("sim: kernel already running")

// TaskFunc is the body of a task. Returning ErrHalted (or an error wrapping
// it) is a normal exit; any other error halts the kernel with that error.
type TaskFunc func(p *Proc) error

// Option configures a Kernel.
type Option func(*Kernel)

// WithLogger sets the logger used for kernel lifecycle messages.
func WithLogger(l *slog.Logger) Option {
	return func(k *Kernel) {
		if l != nil {
			k.log = l
		}
	}
}

// WithRealtime makes clock advances sleep the matching wall-clock time.
func WithRealtime(enabled bool) Option {
	return func(k *Kernel) { k.realtime = enabled }
}

// Kernel schedules tasks against a virtual clock.
type Kernel struct {
	log      *slog.Logger
	realtime bool

	ctx    context.Context
	cancel context.CancelFunc

	// Owned by the goroutine holding the baton.
	procs      []*Proc
	runnable   []*Proc
	deltaSigs  []*Signal
	deltaProcs []*Proc
	timed      timedQueue
	seq        uint64
	group      *errgroup.Group

	yield chan struct{}
	wake  chan struct{}

	now     atomic.Int64
	halted  atomic.Bool
	stalled atomic.Bool
	running atomic.Bool

	mu       sync.Mutex
	posted   []func()
	reason   error
	stopOnce sync.Once
}

// New creates an idle kernel at virtual time zero.
func New(opts ...Option) *Kernel {
	ctx, cancel := context.WithCancel(context.Background())
	k := &Kernel{
		log:    slog.Default(),
		ctx:    ctx,
		cancel: cancel,
		yield:  make(chan struct{}),
		wake:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// NewSignal creates a signal bound to this kernel.
func (k *Kernel) NewSignal(name string) *Signal {
	return &Signal{k: k, name: name}
}

// Spawn registers a task. Tasks spawned before Run start in spawn order;
// tasks spawned by a running task become runnable immediately.
func (k *Kernel) Spawn(name string, fn TaskFunc) *Proc {
	p := &Proc{
		k:      k,
		name:   name,
		fn:     fn,
		resume: make(chan bool),
	}
	k.procs = append(k.procs, p)
	k.runnable = append(k.runnable, p)
	if k.running.Load() {
		k.start(p)
	}
	return p
}

// Now returns the current virtual time. Safe from any goroutine.
func (k *Kernel) Now() time.Duration { return time.Duration(k.now.Load()) }

// Context is cancelled when the kernel halts.
func (k *Kernel) Context() context.Context { return k.ctx }

// Halted reports whether Stop was requested.
func (k *Kernel) Halted() bool { return k.halted.Load() }

// Stalled reports whether live tasks exist but nothing can ever wake them.
func (k *Kernel) Stalled() bool { return k.stalled.Load() }

// Reason returns the error passed to the first Stop call.
func (k *Kernel) Reason() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.reason
}

// Stop halts the kernel. Only the first reason is kept.
func (k *Kernel) Stop(reason error) {
	k.stopOnce.Do(func() {
		k.mu.Lock()
		k.reason = reason
		k.mu.Unlock()

		k.halted.Store(true)
		k.cancel()
		k.notify()

		switch {
		case reason == nil:
			k.log.Debug("kernel stop requested", "at", k.Now())
		case errors.Is(reason, context.Canceled):
			k.log.Info("kernel stop requested", "reason", reason, "at", k.Now())
		default:
			k.log.Warn("kernel stop requested", "reason", reason, "at", k.Now())
		}
	})
}

// Post schedules fn to run on the kernel between task steps. Used by
// goroutines outside the kernel to touch task-owned state.
func (k *Kernel) Post(fn func()) error {
	if k.halted.Load() {
		return ErrHalted
	}
	k.mu.Lock()
	k.posted = append(k.posted, fn)
	k.mu.Unlock()
	k.notify()
	return nil
}

func (k *Kernel) notify() {
	select {
	case k.wake <- struct{}{}:
	default:
	}
}

// Run drives the simulation until every task finished or the kernel halts.
// It returns the halt reason: nil for Stop(nil) or natural completion, the
// context error when ctx is cancelled, or the first failing task's error.
func (k *Kernel) Run(ctx context.Context) error {
	if !k.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	stopWatch := context.AfterFunc(ctx, func() { k.Stop(ctx.Err()) })
	defer stopWatch()

	k.group = &errgroup.Group{}
	for _, p := range k.procs {
		k.start(p)
	}

	k.log.Debug("kernel started", "tasks", len(k.procs), "realtime", k.realtime)

	k.loop()
	k.shutdown()

	if err := k.group.Wait(); err != nil {
		k.log.Debug("task group finished with error", "error", err)
	}

	k.log.Debug("kernel finished", "at", k.Now(), "reason", k.Reason())
	return k.Reason()
}

func (k *Kernel) start(p *Proc) {
	k.group.Go(p.main)
}

func (k *Kernel) loop() {
	for {
		k.drainPosted()
		if k.halted.Load() {
			return
		}

		if len(k.runnable) > 0 {
			k.stalled.Store(false)
			p := k.runnable[0]
			k.runnable[0] = nil
			k.runnable = k.runnable[1:]
			k.step(p)
			continue
		}

		if len(k.deltaSigs) > 0 || len(k.deltaProcs) > 0 {
			k.deltaCycle()
			continue
		}

		if at, ok := k.timed.peek(); ok {
			k.advance(at)
			continue
		}

		if k.live() == 0 {
			return
		}

		k.stall()
	}
}

// step hands the baton to p and blocks until it suspends or finishes.
func (k *Kernel) step(p *Proc) {
	if p.done {
		return
	}
	p.resume <- true
	<-k.yield
}

func (k *Kernel) deltaCycle() {
	sigs := k.deltaSigs
	procs := k.deltaProcs
	k.deltaSigs = nil
	k.deltaProcs = nil

	for _, s := range sigs {
		if s.pending == pendingDelta {
			s.fire()
		}
	}
	k.runnable = append(k.runnable, procs...)
}

func (k *Kernel) advance(at time.Duration) {
	if k.realtime {
		wait := at - k.Now()
		if wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-t.C:
			case <-k.ctx.Done():
				t.Stop()
				return
			}
		}
	}

	k.now.Store(int64(at))
	for {
		next, ok := k.timed.peek()
		if !ok || next != at {
			return
		}
		e, _ := k.timed.next()
		if e.proc != nil {
			k.runnable = append(k.runnable, e.proc)
			continue
		}
		if e.sig.entry == e {
			e.sig.fire()
		}
	}
}

// stall parks the kernel until posted work arrives or the run is stopped.
func (k *Kernel) stall() {
	if !k.stalled.Swap(true) {
		k.log.Warn("kernel stalled: no runnable task and no pending notification",
			"at", k.Now(),
			"live_tasks", k.live(),
		)
	}

	select {
	case <-k.ctx.Done():
	case <-k.wake:
	}
}

func (k *Kernel) drainPosted() {
	k.mu.Lock()
	fns := k.posted
	k.posted = nil
	k.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (k *Kernel) live() int {
	n := 0
	for _, p := range k.procs {
		if !p.done {
			n++
		}
	}
	return n
}

// shutdown releases every suspended task with a halted resume and waits
// for each to return. Suspension points return immediately once halted.
func (k *Kernel) shutdown() {
	k.Stop(nil)
	for _, p := range k.procs {
		if p.done {
			continue
		}
		p.resume <- false
		<-k.yield
	}
}

func (k *Kernel) scheduleAt(e *timedEntry) {
	k.seq++
	e.seq = k.seq
	k.timed.schedule(e)
}

// Proc is the handle a task uses to suspend itself.
type Proc struct {
	k      *Kernel
	name   string
	fn     TaskFunc
	resume chan bool
	done   bool
	err    error
}

// Name returns the task name.
func (p *Proc) Name() string { return p.name }

// Context returns the kernel context, cancelled on halt.
func (p *Proc) Context() context.Context { return p.k.ctx }

// Now returns the current virtual time.
func (p *Proc) Now() time.Duration { return p.k.Now() }

// Wait suspends until s is raised.
func (p *Proc) Wait(s *Signal) error {
	if p.k.halted.Load() {
		return ErrHalted
	}
	s.waiters = append(s.waiters, p)
	return p.suspend()
}

// Delay suspends for d of virtual time. Zero (or negative) waits one delta
// cycle.
func (p *Proc) Delay(d time.Duration) error {
	if p.k.halted.Load() {
		return ErrHalted
	}
	if d <= 0 {
		p.k.deltaProcs = append(p.k.deltaProcs, p)
	} else {
		p.k.scheduleAt(&timedEntry{at: p.k.Now() + d, proc: p})
	}
	return p.suspend()
}

func (p *Proc) suspend() error {
	p.k.yield <- struct{}{}
	if ok := <-p.resume; !ok || p.k.halted.Load() {
		return ErrHalted
	}
	return nil
}

func (p *Proc) main() error {
	if ok := <-p.resume; ok && !p.k.halted.Load() {
		p.k.log.Debug("task started", "task", p.name, "at", p.k.Now())
		p.err = p.fn(p)
	}

	err := p.err
	if err != nil && !errors.Is(err, ErrHalted) {
		err = fmt.Errorf("task %s: %w", p.name, err)
		p.k.Stop(err)
	} else {
		err = nil
	}

	p.k.log.Debug("task finished", "task", p.name, "at", p.k.Now())
	p.done = true
	p.k.yield <- struct{}{}
	return err
}
