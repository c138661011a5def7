package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ricesearch/clickrank/internal/config"
	"github.com/ricesearch/clickrank/internal/metrics"
	"github.com/ricesearch/clickrank/internal/pipeline"
	"github.com/ricesearch/clickrank/internal/pkg/logger"
	"github.com/ricesearch/clickrank/internal/store"
)

// app holds what every command needs: configuration, logging, metrics and
// evaluation history.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	format  string
	metrics *metrics.Registry
	history metrics.History
	closers []io.Closer
}

func newApp(cmd *cobra.Command) (*app, error) {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")
	format, _ := cmd.Flags().GetString("format")

	cfg, err := config.Load(configPath, flagOverrides(cmd, verbose))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	a := &app{cfg: cfg, format: format}

	// Logs go to stderr so reports on stdout stay machine-readable.
	var logOut io.Writer = os.Stderr
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		a.closers = append(a.closers, f)
		logOut = f
	}
	a.log = logger.NewWithWriter(cfg.Log.Level, cfg.Log.Format, logOut)

	a.metrics, err = metrics.NewRegistry()
	if err != nil {
		return nil, err
	}

	switch cfg.Metrics.Persistence {
	case "redis":
		rh, err := metrics.NewRedisHistory(cfg.Metrics.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect evaluation history: %w", err)
		}
		a.history = rh
	default:
		a.history = metrics.NewMemoryHistory()
	}
	a.closers = append(a.closers, a.history)

	return a, nil
}

// flagOverrides applies the global flags on top of file and env settings.
func flagOverrides(cmd *cobra.Command, verbose bool) config.Override {
	return func(cfg *config.Config) {
		if cmd.Flags().Changed("store") {
			cfg.Store.Type, _ = cmd.Flags().GetString("store")
		}
		if cmd.Flags().Changed("database-url") {
			cfg.Database.URL, _ = cmd.Flags().GetString("database-url")
		}
		if verbose {
			cfg.Log.Level = "debug"
		}
	}
}

// openStore opens the configured store, migrating first if asked to.
func (a *app) openStore(ctx context.Context) (store.Store, error) {
	if a.cfg.Database.MigrateOnStart && a.cfg.Store.Type == store.TypePostgres {
		if err := store.Migrate(a.cfg.Database.URL, "up", 0); err != nil {
			return nil, err
		}
		a.log.Info("Applied migrations")
	}

	st, err := store.Open(ctx, a.cfg.Store.Type, a.cfg.Database.URL, a.log)
	if err != nil {
		return nil, err
	}
	if a.cfg.Store.Type != store.TypePostgres {
		a.log.Debug("Using in-memory store; data is discarded on exit")
	}
	a.closers = append(a.closers, st)
	return st, nil
}

func (a *app) pipeline(st store.Store) *pipeline.Pipeline {
	settings := pipeline.Settings{
		Normalise:           a.cfg.Load.Normalise,
		MinSessionsPerQuery: a.cfg.Load.MinSessionsPerQuery,
		InsertRate:          a.cfg.Load.InsertRate,
		TestFraction:        a.cfg.Split.TestFraction,
		Seed:                a.cfg.Split.Seed,
		CacheSize:           a.cfg.Ranking.CacheSize,
	}
	return pipeline.New(st, settings,
		pipeline.WithLogger(a.log),
		pipeline.WithMetrics(a.metrics.Metrics),
		pipeline.WithHistory(a.history),
	)
}

// close exports metrics and releases resources in reverse order.
func (a *app) close() {
	if a.cfg.Metrics.Textfile != "" {
		if err := a.metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
			a.log.Error("Failed to export metrics", "error", err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
}
