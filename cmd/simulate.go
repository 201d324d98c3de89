// Package cmd provides CLI commands for the aser replay selection tool.
// This file implements the simulate command, which runs replay selection over
// a synthetic class-incremental stream.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/adalundhe/aser/core/config"
	"github.com/adalundhe/aser/core/replay/simulate"
	"github.com/adalundhe/aser/core/telemetry"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// =============================================================================
// Simulate Command Flags
// =============================================================================

var (
	simSteps   int
	simPolicy  string
	simHistory string
	simSeed    int64
	simWatch   bool
	simJSON    bool

	simMetricsAddr string
)

// =============================================================================
// Simulate Command
// =============================================================================

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run replay selection over a synthetic stream",
	Long: `Run replay selection over a synthetic class-incremental stream and report
how often each selection path ran.

Examples:
  aser simulate                          # Defaults
  aser simulate --policy asv --steps 200 # Extremal policy, 200 steps
  aser simulate -c aser.yaml --watch     # Reload replay settings on file change
  aser simulate --history runs.db        # Record every step in SQLite
  aser simulate --metrics-addr :9464     # Serve /metrics during the run`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().IntVar(&simSteps, "steps", 0, "Maximum steps (0 = config value)")
	simulateCmd.Flags().StringVar(&simPolicy, "policy", "", "Score policy: asv or asvm")
	simulateCmd.Flags().StringVar(&simHistory, "history", "", "SQLite path for per-step history")
	simulateCmd.Flags().Int64Var(&simSeed, "seed", -1, "Random seed (-1 = config value)")
	simulateCmd.Flags().BoolVar(&simWatch, "watch", false, "Reload replay settings when the config file changes")
	simulateCmd.Flags().BoolVar(&simJSON, "json", false, "Output summary as JSON")
	simulateCmd.Flags().StringVar(&simMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address for the run")
}

// =============================================================================
// Simulate Execution
// =============================================================================

func runSimulate(cmd *cobra.Command, _ []string) error {
	mgr, err := loadConfig()
	if err != nil {
		return err
	}
	defer mgr.Close()

	cfg := *mgr.Get()
	applySimulateFlags(&cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	runID := uuid.New().String()
	logger := newLogger(cmd.ErrOrStderr(), &cfg).With("run_id", runID)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := simulate.Options{Logger: logger, RunID: runID}

	var statsSinks []telemetry.StatsSink
	var registry *prometheus.Registry
	if cfg.Telemetry.Metrics || cfg.Telemetry.MetricsAddr != "" {
		registry = prometheus.NewRegistry()
		prom := telemetry.NewPrometheusSink(registry)
		opts.Cost = prom
		statsSinks = append(statsSinks, prom)
	}
	if cfg.Telemetry.MetricsAddr != "" {
		srv, err := telemetry.ServeMetrics(cfg.Telemetry.MetricsAddr, registry, logger)
		if err != nil {
			return err
		}
		defer shutdownMetrics(srv, logger)
	}
	if cfg.Telemetry.HistoryPath != "" {
		history, err := telemetry.OpenHistory(cfg.Telemetry.HistoryPath, logger)
		if err != nil {
			return err
		}
		defer history.Close()
		statsSinks = append(statsSinks, history)
	}
	if len(statsSinks) > 0 {
		opts.Stats = telemetry.MultiStats(statsSinks...)
	}

	runner, err := simulate.NewRunner(&cfg, opts)
	if err != nil {
		return err
	}

	if simWatch {
		if err := watchReplayConfig(ctx, mgr, runner, logger); err != nil {
			return err
		}
	}

	summary, err := runner.Run(ctx, cfg.Simulate.Steps)
	if err != nil {
		return err
	}
	if registry != nil {
		if summary.Metrics, err = telemetry.Snapshot(registry); err != nil {
			return err
		}
	}
	return writeSummary(cmd.OutOrStdout(), summary, simJSON)
}

func applySimulateFlags(cfg *config.Config) {
	if simSteps > 0 {
		cfg.Simulate.Steps = simSteps
	}
	if simPolicy != "" {
		cfg.Replay.Policy = simPolicy
	}
	if simHistory != "" {
		cfg.Telemetry.HistoryPath = simHistory
	}
	if simSeed >= 0 {
		cfg.Replay.Seed = uint64(simSeed)
	}
	if simMetricsAddr != "" {
		cfg.Telemetry.MetricsAddr = simMetricsAddr
	}
}

func shutdownMetrics(srv *telemetry.MetricsServer, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("metrics server shutdown", "error", err)
	}
}

func watchReplayConfig(ctx context.Context, mgr *config.Manager, runner *simulate.Runner, logger *slog.Logger) error {
	mgr.OnChange(reloadHandler(runner, logger))
	return mgr.Watch(ctx, logger)
}

// reloadHandler reapplies command-line overrides on top of each reloaded
// file config before swapping the runner's selector.
func reloadHandler(runner *simulate.Runner, logger *slog.Logger) func(*config.Config) {
	return func(next *config.Config) {
		cfg := *next
		applySimulateFlags(&cfg)
		if err := runner.ApplyConfig(&cfg); err != nil {
			logger.Warn("ignoring reloaded config", "error", err)
		}
	}
}

func writeSummary(w io.Writer, s simulate.Summary, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	fmt.Fprintf(w, "run:        %s\n", s.RunID)
	fmt.Fprintf(w, "policy:     %s\n", s.Policy)
	fmt.Fprintf(w, "steps:      %d\n", s.Steps)

	paths := make([]string, 0, len(s.Paths))
	for p := range s.Paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		fmt.Fprintf(w, "  %-8s  %d\n", p, s.Paths[p])
	}

	fmt.Fprintf(w, "cost:       %.0f\n", s.Cost)
	fmt.Fprintf(w, "population: %d (%d classes)\n", s.Final.Population, s.Final.Classes)
	fmt.Fprintf(w, "class std:  %.3f\n", s.Final.ClassStd)
	fmt.Fprintf(w, "sample std: %.3f\n", s.Final.SampleStd)

	if len(s.Metrics) > 0 {
		names := make([]string, 0, len(s.Metrics))
		for name := range s.Metrics {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintln(w, "metrics:")
		for _, name := range names {
			fmt.Fprintf(w, "  %s %g\n", name, s.Metrics[name])
		}
	}
	return nil
}
