package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hive-mind/hivecore/internal/app"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List active swarms with agent counts, task histograms, and consensus counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			a, err := app.Open(cfg, log)
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			swarms, err := a.HiveStore.ListActiveSwarms(ctx)
			if err != nil {
				return fmt.Errorf("status: list active swarms: %w", err)
			}
			if len(swarms) == 0 {
				fmt.Println("hivecore: no active swarms")
				return nil
			}

			for _, sw := range swarms {
				agents, err := a.HiveStore.ListAgentsBySwarm(ctx, sw.ID)
				if err != nil {
					return fmt.Errorf("status: list agents for %s: %w", sw.ID, err)
				}
				histogram, err := a.HiveStore.TaskStatusHistogram(ctx, sw.ID)
				if err != nil {
					return fmt.Errorf("status: task histogram for %s: %w", sw.ID, err)
				}
				consensusCount, err := a.Consensus.Count(ctx, sw.ID)
				if err != nil {
					return fmt.Errorf("status: consensus count for %s: %w", sw.ID, err)
				}

				fmt.Printf("swarm %s  %q  status=%s  queen=%s  agents=%d\n", sw.ID, sw.Name, sw.Status, sw.QueenType, len(agents))
				for status, count := range histogram {
					fmt.Printf("  tasks[%s]=%d\n", status, count)
				}
				fmt.Printf("  consensus_decisions=%d\n", consensusCount)
			}
			return nil
		},
	}
}
