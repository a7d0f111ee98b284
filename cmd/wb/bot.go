package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/waybill/internal/archive"
	"github.com/zulandar/waybill/internal/bot"
	discordadapter "github.com/zulandar/waybill/internal/bot/discord"
	"github.com/zulandar/waybill/internal/brain"
	"github.com/zulandar/waybill/internal/config"
	"github.com/zulandar/waybill/internal/db"
	"github.com/zulandar/waybill/internal/issues"
	"github.com/zulandar/waybill/internal/notify"
	"github.com/zulandar/waybill/internal/workflow"
	"gorm.io/gorm"
)

func newBotCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Run the ticket desk bot",
		Long: `Connects to Discord, listens for ticket commands and draft interviews,
and runs the retention sweep on its schedule. Requires DISCORD_BOT_TOKEN in
the environment. Without GEMINI_API_KEY the desk still runs, but draft
interviews answer with a canned fallback instead of the model.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Waybill config file")
	return cmd
}

func runBot(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	botToken := os.Getenv("DISCORD_BOT_TOKEN")
	if botToken == "" {
		return fmt.Errorf("DISCORD_BOT_TOKEN is not set")
	}
	geminiKey := os.Getenv("GEMINI_API_KEY")
	if geminiKey == "" {
		fmt.Fprintln(out, "GEMINI_API_KEY is not set; draft interviews will use a canned fallback")
	}

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}

	lock, err := bot.AcquireLock(cfg.LockFile)
	if err != nil {
		return err
	}
	defer lock.Release()

	adapter, err := discordadapter.New(discordadapter.AdapterOpts{
		BotToken:     botToken,
		GuildID:      cfg.GuildID,
		StaffRoleIDs: cfg.Discord.StaffRoleIDs,
	})
	if err != nil {
		return err
	}

	daemon, err := buildDaemon(cfg, gormDB, adapter, geminiKey)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	fmt.Fprintf(out, "Waybill ticket desk starting (guild %s)\n", cfg.GuildID)
	return daemon.Run(ctx)
}

// buildDaemon wires the full bot stack from config and environment.
func buildDaemon(cfg *config.Config, gormDB *gorm.DB, adapter *discordadapter.Adapter, geminiKey string) (*bot.Daemon, error) {
	// A missing key degrades the interview to a canned fallback rather than
	// keeping the whole desk down.
	var brainEngine *brain.Engine
	if geminiKey != "" {
		completer, err := brain.NewGeminiClient(brain.GeminiOpts{
			APIKey: geminiKey,
			Model:  cfg.Brain.Model,
		})
		if err != nil {
			return nil, err
		}
		brainEngine, err = brain.NewEngine(brain.EngineOpts{
			Completer:   completer,
			MaxRetries:  cfg.Brain.MaxRetries,
			BaseBackoff: time.Duration(cfg.Brain.BaseBackoffSec) * time.Second,
		})
		if err != nil {
			return nil, err
		}
	}

	var notifier workflow.Notifier
	if token := os.Getenv("SLACK_BOT_TOKEN"); token != "" && cfg.Notify.SlackChannel != "" {
		slack, err := notify.NewSlack(notify.SlackOpts{
			BotToken: token,
			Channel:  cfg.Notify.SlackChannel,
		})
		if err != nil {
			return nil, err
		}
		notifier = slack
	}

	var uploader archive.Uploader
	if cfg.Archive.S3Bucket != "" {
		s3up, err := archive.NewS3Uploader(archive.S3UploaderOpts{
			Bucket: cfg.Archive.S3Bucket,
			Prefix: cfg.Archive.S3Prefix,
			Region: cfg.Archive.S3Region,
		})
		if err != nil {
			return nil, err
		}
		uploader = s3up
	}

	archiver, err := archive.NewArchiver(archive.ArchiverOpts{
		Root:         cfg.Archive.Root,
		Transcripter: adapter,
		Uploader:     uploader,
	})
	if err != nil {
		return nil, err
	}

	workflowEngine, err := workflow.NewEngine(workflow.EngineOpts{
		DB:         gormDB,
		Containers: adapter,
		Categories: cfg.Discord.Categories,
		Notifier:   notifier,
		Bundler:    archiver,
	})
	if err != nil {
		return nil, err
	}

	sweeper, err := archive.NewSweeper(archive.SweeperOpts{
		DB:        gormDB,
		Archiver:  archiver,
		Deleter:   adapter,
		KeepCount: cfg.Archive.KeepCount,
		MaxAge:    time.Duration(cfg.Archive.MaxAgeDays) * 24 * time.Hour,
	})
	if err != nil {
		return nil, err
	}

	restorer, err := archive.NewRestorer(archive.RestorerOpts{
		DB:       gormDB,
		Root:     cfg.Archive.Root,
		Replayer: adapter,
		Category: cfg.Discord.Categories.Active,
	})
	if err != nil {
		return nil, err
	}

	var issueClient *issues.Client
	if token := os.Getenv("GITHUB_TOKEN"); token != "" && cfg.Issues.Owner != "" && cfg.Issues.Repo != "" {
		issueClient, err = issues.New(issues.ClientOpts{
			Token: token,
			Owner: cfg.Issues.Owner,
			Repo:  cfg.Issues.Repo,
		})
		if err != nil {
			return nil, err
		}
	}

	router, err := bot.NewRouter(bot.RouterOpts{
		DB:              gormDB,
		Platform:        adapter,
		Workflow:        workflowEngine,
		Brain:           brainEngine,
		Restorer:        restorer,
		Issues:          issueClient,
		StaffRoleIDs:    cfg.Discord.StaffRoleIDs,
		IntakeChannelID: cfg.Discord.IntakeChannelID,
		Categories:      cfg.Discord.Categories,
		HistoryLimit:    cfg.Brain.HistoryLimit,
	})
	if err != nil {
		return nil, err
	}

	return bot.NewDaemon(bot.DaemonOpts{
		Config:   cfg,
		DB:       gormDB,
		Platform: adapter,
		Router:   router,
		Sweeper:  sweeper,
	})
}
