package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AudricY/mercari-jp-bot/bot"
	"github.com/AudricY/mercari-jp-bot/config"
	"github.com/AudricY/mercari-jp-bot/notify"
	"github.com/AudricY/mercari-jp-bot/scraper/mercari"
	"github.com/AudricY/mercari-jp-bot/services"
	"github.com/AudricY/mercari-jp-bot/storage"
	"github.com/AudricY/mercari-jp-bot/utils"
)

var flagConfig string

var rootCmd = &cobra.Command{
	Use:           "mercari-bot",
	Short:         "Mercari listing watcher with Telegram notifications",
	Long:          "mercari-bot periodically searches Mercari for configured keywords, detects new or repriced listings, and pushes them to a Telegram chat.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVar(&flagConfig, "config", "config.yaml", "path to config file")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		utils.NewLogger(false).Error("Configuration error: %v", err)
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Verbose)
	logger.Info("=== Mercari bot starting ===")
	logger.Info("Config — keywords: %d | seen file: %s | max seen: %d | summary at: %s",
		len(cfg.Keywords), cfg.SeenFile, cfg.MaxSeenItems, cfg.DailySummaryTime)

	var converter services.Converter = services.NoopConverter{}
	if cfg.ConvertToYen {
		converter = services.YenConverter{Rate: services.FetchUSDJPYRate(logger)}
	}

	store := storage.LoadSeenStore(cfg.SeenFile, logger)
	engine := services.NewEngine(logger, converter)
	notifier := notify.NewClient(cfg.BotToken, cfg.ChatID, cfg.Notifier, logger)

	archiver := openArchiver(cfg, logger)
	if archiver != nil {
		defer archiver.Close()
	}

	scraper := mercari.New(logger)
	if err := scraper.Start(); err != nil {
		logger.Error("Browser could not initialize: %v", err)
		os.Exit(1)
	}
	defer scraper.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := bot.New(cfg, logger, store, engine, notifier, scraper, archiver)
	return b.Run(ctx)
}

// openArchiver wires the optional notified-listing archive. A backend that
// fails to open degrades to no archiving; it never blocks the bot.
func openArchiver(cfg *config.Config, logger *utils.Logger) storage.ListingArchiver {
	switch {
	case cfg.Archive.PostgresDSN != "":
		pg, err := storage.NewPostgresWriter(cfg.Archive.PostgresDSN)
		if err != nil {
			logger.Warn("Postgres archive unavailable, continuing without: %v", err)
			return nil
		}
		logger.Info("Archiving notified listings to PostgreSQL")
		return pg
	case cfg.Archive.CSVPath != "":
		w, err := storage.NewCSVWriter(cfg.Archive.CSVPath)
		if err != nil {
			logger.Warn("CSV archive unavailable, continuing without: %v", err)
			return nil
		}
		logger.Info("Archiving notified listings to %s", cfg.Archive.CSVPath)
		return w
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		utils.NewLogger(false).Error("%v", err)
		os.Exit(1)
	}
}
