package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dcastano/ensemble/internal/actions"
	"github.com/dcastano/ensemble/internal/engine"
	"github.com/dcastano/ensemble/internal/logging"
	"github.com/dcastano/ensemble/internal/queue"
	"github.com/dcastano/ensemble/internal/registry"
	"github.com/dcastano/ensemble/internal/scheduler"
	"github.com/dcastano/ensemble/internal/store"
	"github.com/dcastano/ensemble/pkg/mcp"
	"github.com/dcastano/ensemble/pkg/schema"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		printVersion()
		return
	}

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "ensemble:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	reg, err := seedRegistry(ctx, st, cfg.Executors)
	if err != nil {
		return err
	}

	timeline := store.NewTimeline(st)
	actionReg := actions.NewRegistry()
	if err := actions.RegisterBuiltins(actionReg, globalNotes{timeline}); err != nil {
		return err
	}

	taskQueue := queue.NewMemoryQueue(cfg.PoolSize)
	defer taskQueue.Shutdown()

	invoker := newHTTPInvoker(cfg.ExecutorURL, cfg.Executors)

	qaGate, err := engine.NewQAGate(invoker, reg, cfg.QAPassRule, logger)
	if err != nil {
		return err
	}

	orchestrator, err := engine.New(engine.Deps{
		Registry: reg,
		Actions:  actionReg,
		Queue:    taskQueue,
		Store:    st,
		Invoker:  invoker,
		QA:       qaGate,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	if cfg.Scheduler {
		sched := scheduler.NewScheduler(st, orchestrator, logger)
		if err := sched.RecoverMissed(ctx); err != nil {
			logger.Warn("recover missed jobs", "error", err)
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = sched.Stop() }()
	}

	srv := mcp.NewEnsembleServer(mcp.EnsembleServerDeps{
		Orchestrator: orchestrator,
		Registry:     reg,
		Store:        st,
		Logger:       logger,
	})

	logger.Info("ensemble started",
		"db", cfg.DBPath,
		"executors", reg.Count(),
		"pool_size", cfg.PoolSize,
	)

	return srv.Serve(ctx)
}

// seedRegistry loads configured executors into the in-memory registry and
// persists the catalog for audit queries.
func seedRegistry(ctx context.Context, st store.Store, configured []ExecutorConfig) (*registry.InMemoryRegistry, error) {
	reg := registry.NewInMemoryRegistry()

	for _, e := range configured {
		exec := &registry.Executor{
			ID:          e.ID,
			Name:        e.Name,
			Role:        schema.ExecutorRole(e.Role),
			Description: e.Description,
		}
		if err := reg.Register(exec); err != nil {
			return nil, fmt.Errorf("register executor %d: %w", e.ID, err)
		}
		if err := st.SaveExecutor(ctx, &store.ExecutorRecord{
			ID:          e.ID,
			Name:        e.Name,
			Role:        schema.ExecutorRole(e.Role),
			Description: e.Description,
			CreatedAt:   time.Now().UTC(),
		}); err != nil {
			return nil, fmt.Errorf("persist executor %d: %w", e.ID, err)
		}
	}

	return reg, nil
}

// globalNotes routes audit notes from workflow-scoped actions to the run on
// the current context.
type globalNotes struct {
	timeline *store.Timeline
}

func (g globalNotes) Note(ctx context.Context, note string) error {
	runID := logging.RunID(ctx)
	if runID == "" {
		return nil
	}
	return g.timeline.NotesFor(runID).Note(ctx, note)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}
