// Package cmd provides CLI commands for the aser replay selection tool.
package cmd

import (
	"io"
	"log/slog"
	"strings"

	"github.com/adalundhe/aser/core/config"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "aser",
	Short: "aser - Shapley-scored replay selection for online continual learning",
	Long: `aser selects which buffered samples to replay at each step of an online
continual-learning loop, ranking candidates by cooperative minus adversarial
KNN Shapley contributions.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
}

func Execute() error {
	return rootCmd.Execute()
}

// loadConfig builds a manager over --config and loads it.
func loadConfig() (*config.Manager, error) {
	m := config.NewManager(configPath)
	if err := m.Load(); err != nil {
		return nil, err
	}
	return m, nil
}

// newLogger returns a text logger at the flag level, falling back to the
// configured one.
func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level := logLevel
	if level == "" {
		level = cfg.Log.Level
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLevel(level)}))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
