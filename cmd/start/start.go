package start

import (
	"context"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"

	"github.com/fedspend/broker/api"
	"github.com/fedspend/broker/internal/app"
	"github.com/fedspend/broker/internal/event"
	"github.com/fedspend/broker/internal/janitor"
	"github.com/fedspend/broker/internal/metrics"
	"github.com/fedspend/broker/internal/worker"
	"github.com/fedspend/broker/pkg/db"
	"github.com/fedspend/broker/pkg/env"
	"github.com/fedspend/broker/pkg/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	usage   = "start"
	short   = "Start a broker instance"
	long    = "This command starts a broker instance: the validation worker fleet, the janitor schedules and the ops server"
	example = "broker start"
)

var (
	// Cmd is the start command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		Aliases:    []string{"s"},
		SuggestFor: []string{"launch", "boot", "up", "run", "begin"},
		Example:    example,
		RunE:       start,
	}
)

func start(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGUSR1, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalChan)

	go func() {
		for s := range signalChan {
			switch s {
			case syscall.SIGUSR1:
				log.Info("dumping stack traces due to SIGUSR1 signal")
				if profile := pprof.Lookup("goroutine"); profile != nil {
					if err := profile.WriteTo(os.Stdout, 1); err != nil {
						log.Error("write goroutine profile", "error", err)
					}
				}
			default:
				log.Info("gracefully shutting down", "signal", s.String())
				cancel()
			}
		}
	}()

	vars := env.Variables()
	a, err := app.Open(ctx, vars)
	if err != nil {
		return err
	}
	defer a.Close()

	claimer := worker.NewClaimer(a.NodeID, a.DB, vars.WorkerLeaseTTL,
		worker.WithFileTypes(worker.ParseFileTypes(vars.WorkerFileTypes)...))
	executor := worker.NewValidationExecutor(a.DB, a.Engine, a.Manager, a.NodeID, vars.WorkerLeaseTTL, vars.JobMaxAttempts)
	fleet := worker.NewWorker(claimer, worker.NewPool(vars.WorkerConcurrency), vars.WorkerPollInterval, executor)

	sweeper, err := buildJanitor(vars, claimer, a)
	if err != nil {
		return err
	}

	ops := api.New(api.Registry(append(metrics.All(), db.Collectors()...)...), a.Ping)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("spinning up ops server")
		return api.Start(gctx, ops, vars.Port)
	})
	g.Go(func() error {
		log.Info("launching worker fleet", "node_id", a.NodeID, "concurrency", vars.WorkerConcurrency)
		return fleet.Run(gctx)
	})
	g.Go(func() error {
		log.Info("launching janitor", "reap", vars.ReapSchedule, "purge", vars.PurgeSchedule)
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		return logEvents(gctx, a.Bus)
	})

	return g.Wait()
}

func buildJanitor(vars env.Environment, claimer *worker.Claimer, a *app.App) (*janitor.Janitor, error) {
	reap, err := janitor.ReapTask(vars.ReapSchedule, claimer)
	if err != nil {
		return nil, err
	}
	purge, err := janitor.PurgeTask(vars.PurgeSchedule, a.Manager)
	if err != nil {
		return nil, err
	}
	loc, err := janitor.ParseLocation(vars.JanitorTimezone)
	if err != nil {
		return nil, err
	}
	return janitor.New([]*janitor.Task{reap, purge}, janitor.WithLocation(loc)), nil
}

func logEvents(ctx context.Context, bus event.Bus) error {
	events, err := bus.Subscribe(ctx, event.Filter{})
	if err != nil {
		return err
	}
	for e := range events {
		log.Info(
			"event",
			"type", e.Type,
			"submission_id", e.SubmissionID,
			"job_id", e.JobID,
		)
	}
	return nil
}
