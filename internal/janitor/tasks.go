package janitor

import (
	"context"

	"github.com/fedspend/broker/pkg/log"
)

type Reclaimer interface {
	ReclaimExpired(ctx context.Context) error
}

type Purger interface {
	Purge(ctx context.Context) (int, error)
}

// ReapTask returns jobs whose worker lease expired to the queue.
func ReapTask(expr string, r Reclaimer) (*Task, error) {
	return NewTask("reap", expr, r.ReclaimExpired)
}

// PurgeTask deletes stale test submissions.
func PurgeTask(expr string, p Purger) (*Task, error) {
	return NewTask("purge", expr, func(ctx context.Context) error {
		n, err := p.Purge(ctx)
		if n > 0 {
			log.Info("purged stale test submissions", "count", n)
		}
		return err
	})
}
