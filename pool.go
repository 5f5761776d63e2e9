package bgzf2

import "golang.org/x/sync/errgroup"

// Pool is the generic worker-thread-pool external collaborator (§1): BGZF2
// only needs it to run submitted work on some goroutine and to let the
// caller wait for everything submitted so far to finish. Ordering of
// results is built on top, by the parallel writer/reader's own channel-of-
// channel promise queue (job.done) — Pool itself is unordered.
type Pool interface {
	// Submit schedules fn for execution, returning an error only if the
	// pool can no longer accept work.
	Submit(fn func()) error
	// Wait blocks until every fn Submitted so far has returned.
	Wait() error
	// Close stops the pool; safe to call once, after Wait.
	Close()
}

// errgroupPool is the default Pool, a thin wrapper over
// golang.org/x/sync/errgroup's bounded concurrency (the same mechanism the
// teacher's pkg/writer.go WriteMany uses via errgroup.Group.SetLimit).
type errgroupPool struct {
	g *errgroup.Group
}

// NewFixedPool returns a Pool that runs at most size goroutines
// concurrently. size <= 0 means unbounded.
func NewFixedPool(size int) Pool {
	g := &errgroup.Group{}
	if size > 0 {
		g.SetLimit(size)
	}
	return &errgroupPool{g: g}
}

func (p *errgroupPool) Submit(fn func()) error {
	p.g.Go(func() error {
		fn()
		return nil
	})
	return nil
}

func (p *errgroupPool) Wait() error { return p.g.Wait() }

func (p *errgroupPool) Close() {}
