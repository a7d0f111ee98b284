package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/zulandar/waybill/internal/archive"
	discordadapter "github.com/zulandar/waybill/internal/bot/discord"
)

func newRestoreCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "restore <ticket id>",
		Short: "Restore an archived ticket into a fresh channel",
		Long: `Creates a new channel, replays the archived transcript into it, and
re-opens the ticket. Requires DISCORD_BOT_TOKEN in the environment.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRestore(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Waybill config file")
	return cmd
}

func runRestore(cmd *cobra.Command, configPath, rawID string) error {
	out := cmd.OutOrStdout()

	id, err := strconv.ParseUint(rawID, 10, 32)
	if err != nil {
		return fmt.Errorf("%q is not a ticket ID", rawID)
	}

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

	restorer, err := archive.NewRestorer(archive.RestorerOpts{
		DB:       gormDB,
		Root:     cfg.Archive.Root,
		Replayer: adapter,
		Category: cfg.Discord.Categories.Active,
	})
	if err != nil {
		return err
	}

	t, err := restorer.Restore(ctx, uint(id))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Ticket #%d restored into channel %s\n", t.ID, t.ChannelID)
	return nil
}
