package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/tollgate/internal/broker/amqp"
	"github.com/phrazzld/tollgate/internal/broker/memory"
	"github.com/phrazzld/tollgate/internal/config"
	"github.com/phrazzld/tollgate/internal/correlator"
	"github.com/phrazzld/tollgate/internal/dispatch"
	"github.com/phrazzld/tollgate/internal/ledger"
	"github.com/phrazzld/tollgate/internal/orchestrator"
	"github.com/phrazzld/tollgate/internal/platform/memstore"
	"github.com/phrazzld/tollgate/internal/platform/postgres"
	"github.com/phrazzld/tollgate/internal/store"
	"github.com/phrazzld/tollgate/internal/task"
)

// application holds the wired components so they can be started and shut
// down in order.
type application struct {
	config *config.Config
	logger *slog.Logger

	// db is nil with the memory store driver.
	db *sql.DB

	ledger       *ledger.Service
	tasks        *task.Registry
	calls        *correlator.Correlator
	orchestrator *orchestrator.Service
	reaper       *orchestrator.Reaper

	// Exactly one broker is set, depending on the configured driver.
	memBroker  *memory.Broker
	amqpBroker *amqp.Broker
}

type stores struct {
	ledger         store.LedgerStore
	tasks          store.TaskStore
	reconciliation store.ReconciliationStore
}

// newApplication builds every component from cfg. Nothing runs until start.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{config: cfg, logger: logger}

	s, err := app.setupStores(ctx)
	if err != nil {
		return nil, err
	}

	app.ledger, err = ledger.NewService(s.ledger, logger)
	if err != nil {
		return nil, app.fail(fmt.Errorf("failed to create ledger: %w", err))
	}
	app.tasks, err = task.NewRegistry(s.tasks, logger)
	if err != nil {
		return nil, app.fail(fmt.Errorf("failed to create task registry: %w", err))
	}
	app.calls = correlator.New(cfg.Task.SweepInterval, logger)

	broker, err := app.setupBroker()
	if err != nil {
		return nil, app.fail(err)
	}
	dispatcher, err := dispatch.NewDispatcher(broker, app.tasks, app.calls, logger)
	if err != nil {
		return nil, app.fail(fmt.Errorf("failed to create dispatcher: %w", err))
	}

	cost, err := cfg.Task.CostAmount()
	if err != nil {
		return nil, app.fail(fmt.Errorf("invalid task cost: %w", err))
	}
	app.orchestrator, err = orchestrator.NewService(app.ledger, app.tasks, dispatcher, s.reconciliation,
		orchestrator.Config{
			Cost:            cost,
			DefaultTimeout:  cfg.Task.RPCTimeout,
			MaxTimeout:      cfg.Task.MaxRPCTimeout,
			MaxPayloadBytes: cfg.Task.MaxPayloadBytes,
			RefundAttempts:  cfg.Task.RefundAttempts,
			RefundBackoff:   cfg.Task.RefundBackoff,
		}, logger)
	if err != nil {
		return nil, app.fail(fmt.Errorf("failed to create task pipeline: %w", err))
	}
	if app.memBroker != nil {
		app.memBroker.SetResultSink(app.orchestrator.ResultSink())
	}

	app.reaper = orchestrator.NewReaper(app.orchestrator, orchestrator.ReaperConfig{
		Interval: cfg.Task.ReaperInterval,
		StaleAge: cfg.Task.StaleTaskAge,
	}, logger)

	logger.Info("application initialized",
		slog.String("store", cfg.Database.Driver),
		slog.String("broker", cfg.Broker.Driver),
		slog.String("task_cost", cost.String()))
	return app, nil
}

func (app *application) setupStores(ctx context.Context) (stores, error) {
	switch app.config.Database.Driver {
	case "memory":
		app.logger.Warn("using in-memory stores, state is lost on restart")
		return stores{
			ledger:         memstore.NewLedgerStore(),
			tasks:          memstore.NewTaskStore(),
			reconciliation: memstore.NewReconciliationStore(),
		}, nil
	case "postgres":
		db, err := postgres.Open(ctx, app.config.Database, app.logger)
		if err != nil {
			return stores{}, err
		}
		if err := postgres.Migrate(ctx, db, postgres.MigrateUp, app.logger); err != nil {
			_ = db.Close()
			return stores{}, fmt.Errorf("failed to apply migrations: %w", err)
		}
		app.db = db
		return stores{
			ledger:         postgres.NewPostgresLedgerStore(db, app.logger),
			tasks:          postgres.NewPostgresTaskStore(db, app.logger),
			reconciliation: postgres.NewPostgresReconciliationStore(db, app.logger),
		}, nil
	default:
		return stores{}, fmt.Errorf("unknown database driver %q", app.config.Database.Driver)
	}
}

func (app *application) setupBroker() (dispatch.Broker, error) {
	cfg := app.config.Broker
	switch cfg.Driver {
	case "memory":
		b, err := memory.New(memory.Config{
			Workers:        cfg.Workers,
			QueueSize:      cfg.QueueSize,
			ProcessTimeout: app.config.Task.MaxRPCTimeout,
		}, memory.Uppercase, app.calls, app.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create memory broker: %w", err)
		}
		app.memBroker = b
		return b, nil
	case "amqp":
		b, err := amqp.New(amqp.Config{
			URL:              cfg.URL,
			TaskQueue:        cfg.TaskQueue,
			RPCQueue:         cfg.RPCQueue,
			PublishTimeout:   cfg.PublishTimeout,
			DialTimeout:      cfg.DialTimeout,
			ReconnectInitial: cfg.ReconnectInitial,
			ReconnectMax:     cfg.ReconnectMax,
		}, app.calls, app.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create amqp broker: %w", err)
		}
		app.amqpBroker = b
		return b, nil
	default:
		return nil, fmt.Errorf("unknown broker driver %q", cfg.Driver)
	}
}

// start launches the background components. ctx bounds the initial broker
// connection and the lifetime of the sweepers.
func (app *application) start(ctx context.Context) error {
	app.calls.Start(ctx)
	switch {
	case app.memBroker != nil:
		app.memBroker.Start()
	case app.amqpBroker != nil:
		if err := app.amqpBroker.Start(ctx); err != nil {
			return fmt.Errorf("failed to connect to broker: %w", err)
		}
	}
	app.reaper.Start(ctx)
	return nil
}

// cleanup stops components in reverse start order. The memory broker gets
// ctx to drain its queue.
func (app *application) cleanup(ctx context.Context) {
	app.logger.Info("cleaning up application resources")
	if app.reaper != nil {
		app.reaper.Stop()
	}
	if app.memBroker != nil {
		app.memBroker.Stop(ctx)
	}
	if app.amqpBroker != nil {
		if err := app.amqpBroker.Close(); err != nil {
			app.logger.Error("failed to close broker", slog.String("error", err.Error()))
		}
	}
	if app.calls != nil {
		app.calls.Stop()
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("failed to close database connection", slog.String("error", err.Error()))
		}
	}
}

// fail releases what setup already acquired and returns err.
func (app *application) fail(err error) error {
	if app.db != nil {
		err = errors.Join(err, app.db.Close())
		app.db = nil
	}
	return err
}
