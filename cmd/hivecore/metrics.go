package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hive-mind/hivecore/internal/app"
	"github.com/hive-mind/hivecore/internal/domain"
)

func newMetricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Print aggregate metrics across every active swarm",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			a, err := app.Open(cfg, log)
			if err != nil {
				return fmt.Errorf("metrics: %w", err)
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			swarms, err := a.HiveStore.ListActiveSwarms(ctx)
			if err != nil {
				return fmt.Errorf("metrics: list active swarms: %w", err)
			}

			totalAgents, totalTasks := 0, 0
			histogram := map[domain.TaskStatus]int{}
			for _, sw := range swarms {
				agents, err := a.HiveStore.ListAgentsBySwarm(ctx, sw.ID)
				if err != nil {
					return fmt.Errorf("metrics: list agents for %s: %w", sw.ID, err)
				}
				totalAgents += len(agents)

				h, err := a.HiveStore.TaskStatusHistogram(ctx, sw.ID)
				if err != nil {
					return fmt.Errorf("metrics: task histogram for %s: %w", sw.ID, err)
				}
				for status, count := range h {
					histogram[status] += count
					totalTasks += count
				}
			}

			fmt.Printf("active_swarms=%d total_agents=%d total_tasks=%d\n", len(swarms), totalAgents, totalTasks)
			for status, count := range histogram {
				fmt.Printf("tasks[%s]=%d\n", status, count)
			}

			hookTypes := []domain.HookType{
				domain.HookPreTask, domain.HookPreEdit, domain.HookPreRead, domain.HookPreBash,
				domain.HookPostEdit, domain.HookPostTask, domain.HookNotify,
				domain.HookSessionRestore, domain.HookSessionEnd,
			}
			for _, ht := range hookTypes {
				snap := a.Queue.Stats(ht)
				if snap.Count == 0 {
					continue
				}
				fmt.Printf("hook[%s]  count=%d  success_rate=%.2f  min=%s  avg=%s  max=%s\n",
					ht, snap.Count, snap.SuccessRate, snap.MinDuration, snap.AvgDuration, snap.MaxDuration)
			}
			return nil
		},
	}
}
