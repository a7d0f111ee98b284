package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/waybill/internal/archive"
	discordadapter "github.com/zulandar/waybill/internal/bot/discord"
)

func newSweepCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run the retention sweep once",
		Long: `Archives closed tickets that fall outside the retention window (count cap
or age cap) and deletes their channels. The bot daemon runs this on a schedule;
the command exists for manual runs and catch-up after downtime.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Waybill config file")
	return cmd
}

func runSweep(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	botToken := os.Getenv("DISCORD_BOT_TOKEN")
	if botToken == "" {
		return fmt.Errorf("DISCORD_BOT_TOKEN is not set")
	}

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	adapter, err := discordadapter.New(discordadapter.AdapterOpts{
		BotToken: botToken,
		GuildID:  cfg.GuildID,
	})
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := adapter.Connect(ctx); err != nil {
		return err
	}
	defer adapter.Close()

	var uploader archive.Uploader
	if cfg.Archive.S3Bucket != "" {
		s3up, err := archive.NewS3Uploader(archive.S3UploaderOpts{
			Bucket: cfg.Archive.S3Bucket,
			Prefix: cfg.Archive.S3Prefix,
			Region: cfg.Archive.S3Region,
		})
		if err != nil {
			return err
		}
		uploader = s3up
	}

	archiver, err := archive.NewArchiver(archive.ArchiverOpts{
		Root:         cfg.Archive.Root,
		Transcripter: adapter,
		Uploader:     uploader,
	})
	if err != nil {
		return err
	}

	sweeper, err := archive.NewSweeper(archive.SweeperOpts{
		DB:        gormDB,
		Archiver:  archiver,
		Deleter:   adapter,
		KeepCount: cfg.Archive.KeepCount,
		MaxAge:    time.Duration(cfg.Archive.MaxAgeDays) * 24 * time.Hour,
	})
	if err != nil {
		return err
	}

	n, err := sweeper.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Archived %d tickets (keep %d, max age %dd)\n", n, cfg.Archive.KeepCount, cfg.Archive.MaxAgeDays)
	return nil
}
