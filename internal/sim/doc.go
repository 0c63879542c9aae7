// Package sim implements a cooperative discrete-event kernel with a single
// virtual clock.
//
// # Model
//
// Every task is a goroutine, but only one task runs at a time. The kernel
// hands a baton to the next runnable task and waits until that task reaches
// a suspension point (Proc.Wait, Proc.Delay) before handing it to another.
// Tasks therefore never race with each other and need no locks between
// themselves.
//
// Evaluation order for one instant of virtual time:
//
//	runnable tasks (FIFO)  →  delta notifications  →  advance clock to next timed entry
//
// A Signal carries no value. Raise wakes current waiters immediately,
// RaiseAfter(0) wakes them in the next delta cycle and RaiseAfter(d) at
// now+d. A signal holds at most one pending notification, the earliest one
// wins. A raise with nobody waiting is lost.
//
// # Shutdown
//
// Kernel.Stop is the only way to halt a run and it is irreversible. It may
// be called from a task or from any goroutine. After Stop every suspension
// point returns ErrHalted and raises become no-ops.
//
//	k := sim.New(sim.WithLogger(logger))
//	tick := k.NewSignal("tick")
//	k.Spawn("producer", func(p *sim.Proc) error {
//	    if err := p.Delay(50 * time.Millisecond); err != nil {
//	        return err
//	    }
//	    tick.Raise()
//	    return nil
//	})
//	err := k.Run(ctx)
package sim
