package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hive-mind/hivecore/internal/app"
	"github.com/hive-mind/hivecore/internal/memory"
)

func newMemoryCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and manage collective memory",
	}
	root.AddCommand(
		newMemoryListCmd(), newMemorySearchCmd(), newMemoryStoreCmd(),
		newMemoryStatsCmd(), newMemoryCleanCmd(), newMemoryExportCmd(),
	)
	return root
}

func newMemoryListCmd() *cobra.Command {
	var namespace string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List entries in a namespace",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			a, err := app.Open(cfg, log)
			if err != nil {
				return fmt.Errorf("memory list: %w", err)
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			entries, err := a.Memory.List(ctx, namespace, limit, offset)
			if err != nil {
				return fmt.Errorf("memory list: %w", err)
			}
			for _, e := range entries {
				fmt.Printf("%s/%s  type=%s  size=%d  compressed=%v  accessed=%s\n",
					e.Namespace, e.Key, e.Type, e.Size, e.Compressed, e.AccessedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&namespace, "namespace", "default", "namespace to list")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum entries")
	cmd.Flags().IntVar(&offset, "offset", 0, "pagination offset")
	return cmd
}

func newMemorySearchCmd() *cobra.Command {
	var namespace, pattern string
	var tags []string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search entries by key pattern, namespace, and tags",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			a, err := app.Open(cfg, log)
			if err != nil {
				return fmt.Errorf("memory search: %w", err)
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			entries, err := a.Memory.Search(ctx, memory.SearchParams{
				Pattern: pattern, Namespace: namespace, Tags: tags, Limit: limit, Offset: offset,
			})
			if err != nil {
				return fmt.Errorf("memory search: %w", err)
			}
			for _, e := range entries {
				fmt.Printf("%s/%s  tags=%v  size=%d\n", e.Namespace, e.Key, e.Tags, e.Size)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&namespace, "namespace", "", "namespace filter (empty means all)")
	cmd.Flags().StringVar(&pattern, "pattern", "", "substring matched against key")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "required tags (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum entries")
	cmd.Flags().IntVar(&offset, "offset", 0, "pagination offset")
	return cmd
}

func newMemoryStoreCmd() *cobra.Command {
	var namespace, value string
	var ttlSeconds int64
	var tags []string

	cmd := &cobra.Command{
		Use:   "store <key>",
		Short: "Store a value under a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]

			cfg, log, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			a, err := app.Open(cfg, log)
			if err != nil {
				return fmt.Errorf("memory store: %w", err)
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			p := memory.StoreParams{Namespace: namespace, Tags: tags}
			if ttlSeconds > 0 {
				p.TTLSeconds = &ttlSeconds
			}
			if err := a.Memory.Store(ctx, key, value, p); err != nil {
				return fmt.Errorf("memory store: %w", err)
			}
			fmt.Printf("hivecore: stored %s/%s\n", namespace, key)
			return nil
		},
	}
	cmd.Flags().StringVar(&namespace, "namespace", "default", "namespace")
	cmd.Flags().StringVar(&value, "value", "", "value to store (required)")
	cmd.Flags().Int64Var(&ttlSeconds, "ttl", 0, "time-to-live in seconds (0 means no expiry)")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tags (repeatable)")
	_ = cmd.MarkFlagRequired("value")
	return cmd
}

func newMemoryStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-namespace storage stats and cache effectiveness",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			a, err := app.Open(cfg, log)
			if err != nil {
				return fmt.Errorf("memory stats: %w", err)
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			snap, err := a.Memory.StatsSnapshot(ctx)
			if err != nil {
				return fmt.Errorf("memory stats: %w", err)
			}
			for _, ns := range snap.Namespaces {
				fmt.Printf("%s  entries=%d  bytes=%d\n", ns.Namespace, ns.EntryCount, ns.TotalBytes)
			}
			fmt.Printf("cache  hits=%d  misses=%d  evictions=%d\n", snap.Cache.Hits, snap.Cache.Misses, snap.Cache.Evictions)
			return nil
		},
	}
}

func newMemoryCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Run garbage collection over expired entries now",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			a, err := app.Open(cfg, log)
			if err != nil {
				return fmt.Errorf("memory clean: %w", err)
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			n, err := a.Memory.GC(ctx)
			if err != nil {
				return fmt.Errorf("memory clean: %w", err)
			}
			fmt.Printf("hivecore: removed %d expired entries\n", n)
			return nil
		},
	}
}

func newMemoryExportCmd() *cobra.Command {
	var namespace, out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a namespace's entries to a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			a, err := app.Open(cfg, log)
			if err != nil {
				return fmt.Errorf("memory export: %w", err)
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			entries, err := a.Memory.List(ctx, namespace, 0, 0)
			if err != nil {
				return fmt.Errorf("memory export: %w", err)
			}
			data, err := json.MarshalIndent(entries, "", "  ")
			if err != nil {
				return fmt.Errorf("memory export: marshal: %w", err)
			}
			if out == "" {
				fmt.Println(string(data))
				return nil
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("memory export: write %s: %w", out, err)
			}
			fmt.Printf("hivecore: exported %d entries to %s\n", len(entries), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&namespace, "namespace", "default", "namespace to export")
	cmd.Flags().StringVar(&out, "out", "", "output file path (default: stdout)")
	return cmd
}
