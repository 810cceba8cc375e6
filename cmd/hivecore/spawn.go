package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hive-mind/hivecore/internal/app"
	"github.com/hive-mind/hivecore/internal/domain"
	"github.com/hive-mind/hivecore/internal/queen"
	"github.com/hive-mind/hivecore/internal/swarm"
)

func newSpawnCmd() *cobra.Command {
	var (
		name               string
		queenType          string
		consensusAlgorithm string
		maxWorkers         int
		autoScale          bool
		encryption         bool
		workerTypes        []string
	)

	cmd := &cobra.Command{
		Use:   "spawn <objective>",
		Short: "Initialize a swarm around an objective and spawn its workers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			objective := args[0]

			cfg, log, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			a, err := app.Open(cfg, log)
			if err != nil {
				return fmt.Errorf("spawn: %w", err)
			}
			defer a.Close()

			if name == "" {
				name = fmt.Sprintf("swarm-%d", time.Now().UTC().Unix())
			}
			if maxWorkers <= 0 {
				maxWorkers = cfg.Swarm.MaxWorkers
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			swarmID, err := a.Swarm.InitSwarm(ctx, swarm.InitSwarmParams{
				Name:               name,
				Objective:          objective,
				QueenType:          domain.QueenType(queenType),
				MaxWorkers:         maxWorkers,
				ConsensusAlgorithm: domain.ConsensusAlgorithm(consensusAlgorithm),
				AutoScale:          autoScale,
				Encryption:         encryption,
			})
			if err != nil {
				return fmt.Errorf("spawn: init swarm: %w", err)
			}

			explicit := make([]domain.WorkerType, 0, len(workerTypes))
			for _, t := range workerTypes {
				explicit = append(explicit, domain.WorkerType(t))
			}
			analysis := queen.AnalyzeObjective(objective)
			selected := queen.SelectWorkerTypes(explicit, objective, analysis, false)
			if len(explicit) == 0 {
				selected = queen.ExpandToCount(selected, maxWorkers)
			}

			fmt.Printf("hivecore: spawned swarm %s (%s)\n", swarmID, name)
			fmt.Printf("hivecore: complexity=%s strategy=%s\n", analysis.Complexity, analysis.RecommendedStrategy)
			for _, t := range selected {
				worker, err := a.Swarm.SpawnWorker(ctx, swarmID, t)
				if err != nil {
					return fmt.Errorf("spawn: spawn worker %q: %w", t, err)
				}
				fmt.Printf("hivecore: worker %s (%s) ready\n", worker.ID, worker.Type)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "swarm name (default: generated)")
	cmd.Flags().StringVar(&queenType, "queen-type", "strategic", "queen type: strategic|tactical|adaptive")
	cmd.Flags().StringVar(&consensusAlgorithm, "consensus", "majority", "consensus algorithm: majority|weighted|quorum|unanimous")
	cmd.Flags().IntVar(&maxWorkers, "max-workers", 0, "maximum workers (default: config swarm.max_workers)")
	cmd.Flags().BoolVar(&autoScale, "auto-scale", false, "enable auto-scaling")
	cmd.Flags().BoolVar(&encryption, "encryption", false, "seal this swarm's persisted objective (only when memory.encryption_enabled is set)")
	cmd.Flags().StringSliceVar(&workerTypes, "worker-type", nil, "explicit worker types (repeatable); overrides automatic selection")

	return cmd
}
