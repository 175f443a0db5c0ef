// Package janitor runs the broker's periodic maintenance: returning jobs
// with expired leases to the queue and purging stale test submissions.
package janitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fedspend/broker/pkg/log"
	"github.com/robfig/cron"
)

// Schedule yields the next activation after a given time.
type Schedule interface {
	Next(time.Time) time.Time
}

// Task is a named unit of maintenance fired on a schedule.
type Task struct {
	Name     string
	Schedule Schedule
	Run      func(ctx context.Context) error
}

// NewTask parses a five field cron expression into a task.
func NewTask(name, expr string, fn func(ctx context.Context) error) (*Task, error) {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, fmt.Errorf("%s schedule: %w", name, err)
	}
	return &Task{Name: name, Schedule: sched, Run: fn}, nil
}

// ParseSchedule parses minute, hour, day of month, month and day of week.
func ParseSchedule(expr string) (Schedule, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("cron expression is empty")
	}

	parser := cron.NewParser(
		cron.Minute |
			cron.Hour |
			cron.Dom |
			cron.Month |
			cron.Dow,
	)
	return parser.Parse(expr)
}

type Janitor struct {
	tasks    []*Task
	location *time.Location
	now      func() time.Time
}

type Option func(*Janitor)

// WithLocation evaluates schedules in loc instead of the local zone.
func WithLocation(loc *time.Location) Option {
	return func(j *Janitor) {
		if loc != nil {
			j.location = loc
		}
	}
}

func New(tasks []*Task, opts ...Option) *Janitor {
	j := &Janitor{tasks: tasks, location: time.Local, now: time.Now}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run fires every task on its schedule until ctx is done. A task that fails
// is logged and fired again at its next tick.
func (j *Janitor) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, t := range j.tasks {
		if t == nil || t.Schedule == nil || t.Run == nil {
			continue
		}

		wg.Add(1)
		go func(t *Task) {
			defer wg.Done()
			j.loop(ctx, t)
		}(t)
	}

	wg.Wait()
	return nil
}

func (j *Janitor) loop(ctx context.Context, t *Task) {
	log.Info("janitor task scheduled", "task", t.Name)

	for {
		next := t.Schedule.Next(j.now().In(j.location))
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		j.fire(ctx, t)
	}
}

func (j *Janitor) fire(ctx context.Context, t *Task) {
	start := time.Now()
	if err := t.Run(ctx); err != nil {
		if ctx.Err() == nil {
			log.Error("janitor task failure", "task", t.Name, "error", err)
		}
		return
	}
	log.Debug("janitor task done", "task", t.Name, "duration", time.Since(start))
}

// ParseLocation loads an IANA zone name. An empty name yields nil.
func ParseLocation(tz string) (*time.Location, error) {
	if strings.TrimSpace(tz) == "" {
		return nil, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return loc, nil
}
