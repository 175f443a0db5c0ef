// Package app assembles the broker's components from the environment.
package app

import (
	"context"
	"os"

	"github.com/fedspend/broker/internal/derive"
	"github.com/fedspend/broker/internal/engine"
	"github.com/fedspend/broker/internal/event"
	"github.com/fedspend/broker/internal/models"
	"github.com/fedspend/broker/internal/reference"
	"github.com/fedspend/broker/internal/rule"
	"github.com/fedspend/broker/internal/storage"
	"github.com/fedspend/broker/internal/submission"
	"github.com/fedspend/broker/pkg/db"
	"github.com/fedspend/broker/pkg/env"
	"github.com/fedspend/broker/pkg/log"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

type App struct {
	DB        *gorm.DB
	Files     storage.FileStore
	Bus       event.Bus
	Reference *reference.Snapshot
	Rules     *rule.Catalogue
	Engine    *engine.Engine
	Manager   *submission.Manager
	NodeID    string
}

// Open connects to the database and file store, migrates, loads the
// reference snapshot and rule catalogue and wires the engine and manager.
func Open(ctx context.Context, vars env.Environment) (*App, error) {
	gdb, err := db.Open(vars.DatabaseType, vars.DatabaseDSN, vars.DatabaseSlowThreshold)
	if err != nil {
		return nil, err
	}

	a := &App{DB: gdb, Bus: event.New(), NodeID: NodeID(vars)}
	if err := a.open(ctx, vars); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) open(ctx context.Context, vars env.Environment) error {
	log.Info("migrating database", "type", vars.DatabaseType)
	if err := db.Migrate(a.DB, models.All...); err != nil {
		return err
	}

	files, err := storage.New(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to open file store")
	}
	a.Files = files

	if a.Reference, err = reference.Load(ctx, a.DB); err != nil {
		return errors.Wrap(err, "failed to load reference data")
	}

	if a.Rules, err = rule.Load([]string(vars.RulePaths)); err != nil {
		return errors.Wrap(err, "failed to load rule catalogue")
	}

	pipeline, err := derive.Default()
	if err != nil {
		return errors.Wrap(err, "failed to build derivation pipeline")
	}

	a.Engine = engine.New(a.DB, a.Files, a.Rules, a.Reference, engine.WithConfig(engine.Config{
		ChunkSize:   vars.ValidationChunkSize,
		Parallelism: vars.ValidationParallelism,
	}))
	a.Manager = submission.New(a.DB, a.Files,
		submission.WithBus(a.Bus),
		submission.WithDerivation(pipeline, a.Reference),
		submission.WithPurgeAfter(vars.PurgeAfter),
	)

	log.Info(
		"broker assembled",
		"node_id", a.NodeID,
		"storage", a.Files.Type(),
		"rules", len(a.Rules.Rules()),
	)
	return nil
}

// Ping reports whether the database answers.
func (a *App) Ping(ctx context.Context) error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (a *App) Close() {
	if a == nil || a.DB == nil {
		return
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			log.Error("database close failure", "error", err)
		}
	}
}

// NodeID is the configured node identity, falling back to the hostname.
func NodeID(vars env.Environment) string {
	if vars.NodeID != "" {
		return vars.NodeID
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "broker"
	}
	return host
}
