package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"veridian-hq/arbiter/pkg/config"
	"veridian-hq/arbiter/pkg/enforce"
	"veridian-hq/arbiter/pkg/engine"
	"veridian-hq/arbiter/pkg/logging"
	"veridian-hq/arbiter/pkg/metrics"
	"veridian-hq/arbiter/pkg/rule"
	"veridian-hq/arbiter/pkg/source"
	"veridian-hq/arbiter/pkg/stats/flush"
	"veridian-hq/arbiter/pkg/stats/storage"
)

var runFlags struct {
	rulesPath string
	logLevel  string
	dryRun    bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Arbiter engine",
	Long: `Start the Arbiter engine with the specified configuration.

The engine loads rule definitions, optionally watches them for changes,
serves Prometheus metrics, and archives statistics on a schedule.

Examples:
  # Start with default config
  arbiter run

  # Start with custom config
  arbiter run --config /etc/arbiter/config.yaml

  # Override the rule definition path
  arbiter run --rules rules/

  # Validate config without starting
  arbiter run --dry-run`,
	RunE: runEngine,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.rulesPath, "rules", "r", "", "override rule definition path")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting the engine")
}

func runEngine(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return err
	}

	// Apply flag overrides
	if runFlags.rulesPath != "" {
		cfg.Rules.Path = runFlags.rulesPath
	}
	if runFlags.logLevel != "" {
		cfg.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.New(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
	})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if runFlags.dryRun {
		fmt.Println("configuration valid")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	strategy, err := engine.StrategyByName(cfg.Engine.DefaultStrategy)
	if err != nil {
		return err
	}
	policy, ok := enforce.PolicyByName(cfg.Engine.EnforcementPolicy)
	if !ok {
		return fmt.Errorf("unknown enforcement policy %q", cfg.Engine.EnforcementPolicy)
	}

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithDefaultStrategy(strategy),
		engine.WithEnforcementPolicy(policy),
	}

	// Metrics
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		promReg := prometheus.NewRegistry()
		m := metrics.New(metrics.Config{
			Namespace: cfg.Metrics.Namespace,
			Subsystem: cfg.Metrics.Subsystem,
		}, promReg)
		opts = append(opts, engine.WithMetrics(m))

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{
			Addr:    cfg.Metrics.ListenAddress,
			Handler: mux,
		}
		go func() {
			logger.Info("metrics server listening", "address", cfg.Metrics.ListenAddress)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	eng, err := engine.New(opts...)
	if err != nil {
		return err
	}

	// Rule definitions
	if cfg.Rules.Path != "" {
		loader := source.NewLoader(eng.ExpressionEnv(), logger)
		installed, diags, err := loader.Sync(cfg.Rules.Path, eng.Registry())
		if err != nil {
			return fmt.Errorf("failed to load rules: %w", err)
		}
		for _, d := range diags {
			logger.Warn("rule definition skipped", "error", d.Error())
		}
		logger.Info("rules installed", "count", installed)

		if cfg.Rules.Watch {
			watcher, err := source.NewWatcher(source.WatcherConfig{
				Path:             cfg.Rules.Path,
				DebounceInterval: cfg.Rules.WatchDebounce,
			}, logger)
			if err != nil {
				return err
			}
			go func() {
				err := watcher.Watch(ctx, func() error {
					_, diags, err := loader.Sync(cfg.Rules.Path, eng.Registry())
					for _, d := range diags {
						logger.Warn("rule definition skipped", "error", d.Error())
					}
					return err
				})
				if err != nil {
					logger.Error("rule watcher exited", "error", err)
				}
			}()
		}
	}

	// Statistics archive
	var flusher *flush.Flusher
	if cfg.Stats.ArchiveEnabled {
		archive, err := storage.Open(storage.Config{Path: cfg.Stats.ArchivePath}, logger)
		if err != nil {
			return err
		}
		defer archive.Close()

		flusher = flush.New(eng.Aggregator(), archive, cfg.Stats.FlushSchedule, logger)
		if err := flusher.Start(ctx); err != nil {
			return err
		}
	}

	// Continuous heartbeat probe
	if cfg.Engine.ContinuousInterval > 0 {
		provider := func(ctx context.Context) (rule.Operation, rule.ValidationContext, error) {
			op := rule.NewOperation(rule.OpAccessRequest, "system", map[string]any{"probe": true})
			return op, rule.NewValidationContext(op, rule.Actor{ID: "system"}, nil), nil
		}
		if _, err := eng.StartContinuousValidation(provider, cfg.Engine.ContinuousInterval); err != nil {
			return err
		}
		logger.Info("continuous validation started", "interval", cfg.Engine.ContinuousInterval)
	}

	logger.Info("arbiter engine running",
		"strategy", cfg.Engine.DefaultStrategy,
		"policy", cfg.Engine.EnforcementPolicy,
		"rules", eng.Registry().Count(),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	if flusher != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := flusher.Flush(flushCtx); err != nil {
			logger.Error("final stats flush failed", "error", err)
		}
		cancel()
		flusher.Stop()
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown failed", "error", err)
		}
		cancel()
	}

	eng.Shutdown()
	return nil
}
