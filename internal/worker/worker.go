// Package worker drains the validation job queue: a claimer leases ready
// jobs, a bounded pool runs them through the rule engine and the executor
// applies the retry policy to the outcome.
package worker

import (
	"context"
	"time"

	"github.com/fedspend/broker/internal/models"
	"github.com/fedspend/broker/pkg/log"
)

type JobClaimer interface {
	ClaimNext(ctx context.Context) (*models.Job, error)
}

type JobExecutor func(ctx context.Context, job *models.Job)

type ExpiredReclaimer interface {
	ReclaimExpired(ctx context.Context) error
}

type Worker struct {
	claimer      JobClaimer
	pool         *Pool
	pollInterval time.Duration
	executor     JobExecutor
}

func NewWorker(claimer JobClaimer, pool *Pool, pollInterval time.Duration, executor JobExecutor) *Worker {
	if claimer == nil {
		panic("worker requires job claimer")
	}
	if pool == nil {
		pool = NewPool(1)
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if executor == nil {
		executor = func(context.Context, *models.Job) {}
	}

	return &Worker{
		claimer:      claimer,
		pool:         pool,
		pollInterval: pollInterval,
		executor:     executor,
	}
}

// Run claims and executes jobs until ctx is done, then waits for the jobs
// in flight.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.pool.Wait()
			return nil
		default:
		}

		if reclaimer, ok := w.claimer.(ExpiredReclaimer); ok {
			if err := reclaimer.ReclaimExpired(ctx); err != nil && ctx.Err() == nil {
				log.Error("failed to reclaim expired jobs", "error", err)
			}
		}

		// Hold a pool slot before claiming so a lease is never taken for a
		// job that would have to wait.
		release, err := w.pool.Acquire(ctx)
		if err != nil {
			w.pool.Wait()
			return nil
		}

		job, err := w.claimer.ClaimNext(ctx)
		if err != nil || job == nil {
			release()
			if err != nil {
				if ctx.Err() != nil {
					w.pool.Wait()
					return nil
				}
				log.Error("failed to claim next job", "error", err)
			}
			if sleepErr := sleepWithContext(ctx, w.pollInterval); sleepErr != nil {
				w.pool.Wait()
				return nil
			}
			continue
		}

		w.pool.Go(release, func() {
			w.executor(ctx, job)
		})
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
