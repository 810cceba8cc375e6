package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hive-mind/hivecore/internal/app"
	"github.com/hive-mind/hivecore/internal/consensus"
	"github.com/hive-mind/hivecore/internal/domain"
)

func newConsensusCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "consensus",
		Short: "Inspect and decide on consensus proposals",
	}
	root.AddCommand(newConsensusListCmd(), newConsensusProposeCmd(), newConsensusVoteCmd())
	return root
}

func newConsensusListCmd() *cobra.Command {
	var swarmID string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent consensus decisions for a swarm",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			a, err := app.Open(cfg, log)
			if err != nil {
				return fmt.Errorf("consensus list: %w", err)
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			decisions, err := a.Consensus.List(ctx, swarmID, limit)
			if err != nil {
				return fmt.Errorf("consensus list: %w", err)
			}
			if len(decisions) == 0 {
				fmt.Println("hivecore: no consensus decisions")
				return nil
			}
			for _, d := range decisions {
				fmt.Printf("%s  %q  type=%s  algorithm=%s  result=%s  confidence=%.3f  votes=%d\n",
					d.ID, d.Topic, d.Type, d.Algorithm, d.Result, d.Confidence, len(d.Votes))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&swarmID, "swarm", "", "swarm id (required)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum decisions to list")
	_ = cmd.MarkFlagRequired("swarm")
	return cmd
}

func newConsensusProposeCmd() *cobra.Command {
	var (
		swarmID        string
		topic          string
		options        []string
		typ            string
		algorithm      string
		eligibleVoters int
	)

	cmd := &cobra.Command{
		Use:   "propose",
		Short: "Propose a new decision for a swarm to vote on",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			a, err := app.Open(cfg, log)
			if err != nil {
				return fmt.Errorf("consensus propose: %w", err)
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			id, err := a.Consensus.Propose(ctx, consensus.ProposeParams{
				SwarmID:        swarmID,
				Topic:          topic,
				Options:        options,
				Type:           domain.ConsensusType(typ),
				Algorithm:      domain.ConsensusAlgorithm(algorithm),
				EligibleVoters: eligibleVoters,
			})
			if err != nil {
				return fmt.Errorf("consensus propose: %w", err)
			}
			fmt.Printf("hivecore: proposed decision %s\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&swarmID, "swarm", "", "swarm id (required)")
	cmd.Flags().StringVar(&topic, "topic", "", "proposal topic (required)")
	cmd.Flags().StringSliceVar(&options, "option", nil, "decision options, e.g. --option approve --option reject")
	cmd.Flags().StringVar(&typ, "type", "operational", "strategic|tactical|operational")
	cmd.Flags().StringVar(&algorithm, "algorithm", "majority", "majority|weighted|quorum|unanimous")
	cmd.Flags().IntVar(&eligibleVoters, "eligible-voters", 0, "not recorded on the decision; only vote's --eligible-voters affects resolution")
	_ = cmd.MarkFlagRequired("swarm")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}

func newConsensusVoteCmd() *cobra.Command {
	var (
		decisionID     string
		voterID        string
		choice         string
		weight         float64
		rationale      string
		eligibleVoters int
	)

	cmd := &cobra.Command{
		Use:   "decide",
		Short: "Cast a vote on a pending decision",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			a, err := app.Open(cfg, log)
			if err != nil {
				return fmt.Errorf("consensus decide: %w", err)
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			d, err := a.Consensus.Vote(ctx, decisionID, consensus.VoteParams{
				VoterID: voterID, Choice: choice, Weight: weight, Rationale: rationale, EligibleVoters: eligibleVoters,
			})
			if err != nil {
				return fmt.Errorf("consensus decide: %w", err)
			}
			fmt.Printf("hivecore: decision %s now result=%s confidence=%.3f\n", d.ID, d.Result, d.Confidence)
			return nil
		},
	}
	cmd.Flags().StringVar(&decisionID, "decision", "", "decision id (required)")
	cmd.Flags().StringVar(&voterID, "voter", "", "voting agent id (required)")
	cmd.Flags().StringVar(&choice, "choice", "", "vote choice: an option, or alternate text for a modify vote (required)")
	cmd.Flags().Float64Var(&weight, "weight", 1, "vote weight (only used by the weighted algorithm)")
	cmd.Flags().StringVar(&rationale, "rationale", "", "free-text rationale")
	cmd.Flags().IntVar(&eligibleVoters, "eligible-voters", 0, "total population eligible to vote (for all-voted rejection)")
	_ = cmd.MarkFlagRequired("decision")
	_ = cmd.MarkFlagRequired("voter")
	_ = cmd.MarkFlagRequired("choice")
	return cmd
}
