package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/hive-mind/hivecore/internal/app"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the two databases if absent, apply migrations, write config.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfigAndLogger()
			if err != nil {
				return err
			}

			a, err := app.Open(cfg, log)
			if err != nil {
				return fmt.Errorf("init: %w", err)
			}
			defer a.Close()

			manifest := struct {
				SchemaVersion int       `json:"schema_version"`
				CreatedAt     time.Time `json:"created_at"`
				MaxWorkers    int       `json:"max_workers"`
				FeatureFlags  map[string]bool `json:"feature_flags"`
			}{
				SchemaVersion: 1,
				CreatedAt:     time.Now().UTC(),
				MaxWorkers:    cfg.Swarm.MaxWorkers,
				FeatureFlags:  map[string]bool{"api": cfg.API.Enabled},
			}
			data, err := json.MarshalIndent(manifest, "", "  ")
			if err != nil {
				return fmt.Errorf("init: marshal config.json: %w", err)
			}
			configPath := filepath.Join(filepath.Dir(cfg.Store.HiveMindPath), "config.json")
			if err := os.WriteFile(configPath, data, 0o644); err != nil {
				return fmt.Errorf("init: write config.json: %w", err)
			}

			fmt.Println("hivecore: initialized", configPath)
			return nil
		},
	}
}
