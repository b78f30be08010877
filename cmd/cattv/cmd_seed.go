/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/friendsincode/cattv/internal/db"
	"github.com/friendsincode/cattv/internal/store"
)

var seedFile string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE:  runMigrate,
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load schedules and channels into the database",
	Long: `Load schedules and channels from a YAML document.

Without --file the built-in defaults are installed, but only into an empty
catalog. With --file every schedule and channel in the document is added.

Examples:
  # Install the default morning/evening schedules and cat channels
  cattv seed

  # Import a custom catalog
  cattv seed --file catalog.yaml
`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "YAML file with schedules and channels")
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	database, err := initDatabase()
	if err != nil {
		return err
	}
	defer db.Close(database)

	logger.Info().Str("backend", string(cfg.DBBackend)).Msg("database schema is up to date")
	return nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	database, err := initDatabase()
	if err != nil {
		return err
	}
	defer db.Close(database)

	st := store.New(database, logger)
	ctx := context.Background()

	if seedFile == "" {
		seeded, err := st.SeedDefaults(ctx)
		if err != nil {
			return err
		}
		if !seeded {
			fmt.Println("Catalog is not empty; defaults not installed.")
			return nil
		}
		fmt.Println("Installed default schedules and channels.")
		return nil
	}

	data, err := os.ReadFile(seedFile)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	result, err := st.Seed(ctx, data)
	if err != nil {
		return err
	}
	fmt.Printf("Imported %d schedule(s) and %d channel(s) from %s\n", result.Schedules, result.Channels, seedFile)
	return nil
}
