/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/friendsincode/cattv/internal/db"
	"github.com/friendsincode/cattv/internal/player"
	"github.com/friendsincode/cattv/internal/provider"
	"github.com/friendsincode/cattv/internal/store"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify configuration, player binaries and the video provider",
	Long: `Run a one-shot diagnosis of the host without starting playback.

The database is opened, the configured player and yt-dlp are looked up in
PATH, and the first enabled channel is searched once.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	fmt.Printf("config        ok (env=%s, player=%s, db=%s)\n", cfg.Environment, cfg.PlayerBackend, cfg.DBBackend)

	failed := 0
	report := func(name string, err error) {
		if err != nil {
			failed++
			fmt.Printf("%-13s FAIL %v\n", name, err)
			return
		}
		fmt.Printf("%-13s ok\n", name)
	}

	backend, err := player.NewBackend(cfg.PlayerBackend, cfg.PlayerBin, cfg.AudioOutput)
	if err == nil && !player.Available(backend) {
		bin, _ := backend.Command("")
		err = fmt.Errorf("%s not found in PATH", bin)
	}
	report("player", err)

	_, err = exec.LookPath(cfg.YTDLPBin)
	report("yt-dlp", err)

	database, err := initDatabase()
	report("database", err)
	if err != nil {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	defer db.Close(database)

	ctx := context.Background()
	channels, err := store.New(database, logger).EnabledChannels(ctx)
	if err == nil && len(channels) == 0 {
		err = fmt.Errorf("no enabled channels")
	}
	if err == nil {
		client, closeProvider := provider.NewFromConfig(ctx, cfg, logger)
		defer closeProvider()

		searchCtx, cancel := context.WithTimeout(ctx, cfg.ProviderTimeout)
		defer cancel()
		var videos []provider.Video
		videos, err = client.Search(searchCtx, channels[0].Source)
		if err == nil && len(videos) == 0 {
			err = fmt.Errorf("no videos for %q", channels[0].Name)
		}
		if err == nil {
			fmt.Printf("%-13s %d video(s) for %q via %s\n", "search", len(videos), channels[0].Name, client.Name())
		}
	}
	report("provider", err)

	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}
