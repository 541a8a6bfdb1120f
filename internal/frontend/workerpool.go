package frontend

import (
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const taskChanSize = 100

// WorkerFunction is the unit of work a pool worker runs against one task.
type WorkerFunction = func(t *tomb.Tomb, task any) error

// WorkerPool is a fixed-size pool of goroutines draining a shared task
// queue, supervised by a tomb.Tomb so a worker panic/error brings the
// whole pool down cleanly rather than leaking goroutines.
type WorkerPool struct {
	n     int
	tasks chan any
	work  WorkerFunction
}

// NewWorkerPool constructs a pool of size workers.
func NewWorkerPool(size int) WorkerPool {
	return WorkerPool{
		tasks: make(chan any, taskChanSize),
		n:     size,
	}
}

// AddTask enqueues one unit of work.
func (pool *WorkerPool) AddTask(task any) {
	pool.tasks <- task
}

// Setup starts exactly n long-lived workers, each blocking on the shared
// task channel until t dies. A worker that returns a non-nil error (via
// work) kills the whole tomb, the same fail-fast contract a respawning
// pool would give on error, without a goroutine-per-task churn or a
// CPU-spinning poll loop to keep the pool topped up.
func (pool *WorkerPool) Setup(t *tomb.Tomb, work WorkerFunction) {
	log.Info().Int("workers", pool.n).Msg("starting worker pool")
	for i := 0; i < pool.n; i++ {
		t.Go(func() error {
			return pool.worker(t, work)
		})
	}
}

// worker drains tasks until t dies or work returns an error.
func (pool *WorkerPool) worker(t *tomb.Tomb, work WorkerFunction) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case task := <-pool.tasks:
			if err := work(t, task); err != nil {
				log.Error().Err(err).Msg("worker exiting")
				return err
			}
		}
	}
}
