// Command hivecore is the core CLI entrypoint (spec.md §6 CLI surface):
// init, spawn, status, consensus, memory, metrics, serve.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hive-mind/hivecore/internal/config"
	"github.com/hive-mind/hivecore/pkg/logger"
)

func main() {
	root := &cobra.Command{
		Use:   "hivecore",
		Short: "Collective-intelligence swarm orchestrator core",
	}

	root.AddCommand(
		newInitCmd(),
		newSpawnCmd(),
		newStatusCmd(),
		newConsensusCmd(),
		newMemoryCmd(),
		newMetricsCmd(),
		newServeCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfigAndLogger is the shared boot sequence for every subcommand
// (spec.md §6: "a failure always writes a human-readable error to stderr
// before exiting non-zero" — every subcommand funnels through cobra's
// RunE so that contract holds uniformly).
func loadConfigAndLogger() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	return cfg, log, nil
}
