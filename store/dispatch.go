package store

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
)

// Dispatcher runs fire-and-forget persistence tasks on a bounded
// worker pool instead of spawning one goroutine per call, per the
// redesign flag in §9: an unbounded per-request goroutine spawn is a
// latent DoS vector under burst load.
type Dispatcher struct {
	pool *pool.Pool
	log  *logrus.Entry
}

// NewDispatcher starts a dispatcher backed by at most maxWorkers
// concurrent goroutines. Tasks are not queued: while all maxWorkers
// goroutines are busy, Go blocks its caller until one is free.
func NewDispatcher(maxWorkers int, log *logrus.Entry) *Dispatcher {
	return &Dispatcher{
		pool: pool.New().WithMaxGoroutines(maxWorkers),
		log:  log.WithField("component", "persistence-dispatcher"),
	}
}

// Go submits a detached persistence task. Errors are logged at
// warn-level and never surfaced to the caller, matching the
// persistence-transient error kind in §7.
func (d *Dispatcher) Go(op string, fn func(ctx context.Context) error) {
	d.pool.Go(func() {
		if err := fn(context.Background()); err != nil {
			d.log.WithError(err).Warnf("fire-and-forget persistence task failed: %s", op)
		}
	})
}

// Wait blocks until every submitted task has completed. Intended for
// graceful shutdown, not the hot path.
func (d *Dispatcher) Wait() {
	d.pool.Wait()
}
