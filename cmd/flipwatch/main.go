package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rewired-gh/flipwatch/internal/config"
	"github.com/rewired-gh/flipwatch/internal/discord"
	"github.com/rewired-gh/flipwatch/internal/feed"
	"github.com/rewired-gh/flipwatch/internal/logger"
	"github.com/rewired-gh/flipwatch/internal/models"
	"github.com/rewired-gh/flipwatch/internal/monitor"
	"github.com/rewired-gh/flipwatch/internal/pricing"
	"github.com/rewired-gh/flipwatch/internal/reliability"
	"github.com/rewired-gh/flipwatch/internal/storage"
	"github.com/rewired-gh/flipwatch/internal/telegram"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile    = flag.String("env", ".env", "Path to an optional .env file")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	store, err := storage.New(cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	scorer := reliability.New(store, cfg.ReliabilitySettings())

	feedClient := feed.NewClient(
		cfg.Feed.BaseURL,
		cfg.Feed.Timeout,
		feed.ClientConfig{
			MaxRetries:     cfg.Feed.MaxRetries,
			RetryDelayBase: cfg.Feed.RetryDelayBase,
		},
	)

	mon := monitor.New(store, scorer, feedClient, cfg.MonitorSettings())

	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(
			cfg.Telegram.BotToken,
			cfg.Telegram.ChatID,
			cfg.Telegram.MaxRetries,
			cfg.Telegram.RetryDelayBase,
			cfg.Telegram.SendsPerSecond,
		)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		telegramClient.SetFeedback(scorer)
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	var discordClient *discord.Client
	if cfg.Discord.WebhookURL != "" {
		discordClient = discord.NewClient(
			cfg.Discord.WebhookURL,
			cfg.Discord.Timeout,
			discord.ClientConfig{
				MaxRetries:     cfg.Discord.MaxRetries,
				RetryDelayBase: cfg.Discord.RetryDelayBase,
			},
		)
		logger.Info("Discord webhook configured")
	} else {
		logger.Debug("Discord notifications disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	ossignal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	if telegramClient != nil {
		telegramClient.ListenForCommands(ctx)
	}

	scheduler := cron.New()
	if cfg.Storage.PruneSchedule != "" {
		if _, err := scheduler.AddFunc(cfg.Storage.PruneSchedule, func() {
			pruneHistory(store, cfg.Storage.Retention)
		}); err != nil {
			logger.Fatal("Failed to schedule history pruning: %v", err)
		}
		scheduler.Start()
		defer scheduler.Stop()
		logger.Debug("History pruning scheduled (%s, retention %v)", cfg.Storage.PruneSchedule, cfg.Storage.Retention)
	}

	logger.Info("Starting monitoring service (interval: %v, min_rating: %d, limit: %d, min_gap: %d coins / %.1f%%)",
		cfg.Feed.PollInterval,
		cfg.Feed.MinRating,
		cfg.Feed.Limit,
		cfg.Signal.MinimumGapCoins,
		cfg.Signal.MinimumGapPercentage,
	)

	announceStartup(ctx, store, telegramClient, discordClient, cfg)

	ticker := time.NewTicker(cfg.Feed.PollInterval)
	defer ticker.Stop()

	consecutiveFailures := 0

	handleCycleResult := func(err error) {
		if err != nil {
			consecutiveFailures++
			logger.Error("Monitoring cycle failed: %v", err)
			if consecutiveFailures == 1 {
				if telegramClient != nil {
					if sendErr := telegramClient.SendError(err); sendErr != nil {
						logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
					}
				}
				if discordClient != nil {
					if sendErr := discordClient.SendNotice(ctx, "⚠️ Monitoring cycle failed", err.Error()); sendErr != nil {
						logger.Warn("Failed to send error notification to Discord: %v", sendErr)
					}
				}
			}
		} else {
			if consecutiveFailures > 0 {
				if telegramClient != nil {
					if sendErr := telegramClient.SendRecovery(consecutiveFailures); sendErr != nil {
						logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
					}
				}
				if discordClient != nil {
					text := fmt.Sprintf("Monitoring resumed after %d failed cycles", consecutiveFailures)
					if sendErr := discordClient.SendNotice(ctx, "✅ Recovered", text); sendErr != nil {
						logger.Warn("Failed to send recovery notification to Discord: %v", sendErr)
					}
				}
			}
			consecutiveFailures = 0
		}
	}

	logger.Debug("Running initial monitoring cycle")
	handleCycleResult(runMonitoringCycle(ctx, feedClient, mon, store, telegramClient, discordClient, cfg))

	for {
		select {
		case <-ctx.Done():
			logger.Info("Service stopped")
			return

		case <-ticker.C:
			logger.Debug("Starting scheduled monitoring cycle")
			handleCycleResult(runMonitoringCycle(ctx, feedClient, mon, store, telegramClient, discordClient, cfg))
		}
	}
}

func runMonitoringCycle(
	ctx context.Context,
	feedClient *feed.Client,
	mon *monitor.Monitor,
	store *storage.Storage,
	telegramClient *telegram.Client,
	discordClient *discord.Client,
	cfg *config.Config,
) error {
	logger.Info("Starting monitoring cycle")

	logger.Debug("Fetching catalog from feed (min_rating: %d, limit: %d)", cfg.Feed.MinRating, cfg.Feed.Limit)
	fetched, err := feedClient.FetchItems(ctx, cfg.Feed.MinRating, cfg.Feed.Limit)
	if err != nil {
		return fmt.Errorf("failed to fetch items: %w", err)
	}
	for i := range fetched {
		if err := store.UpsertItem(&fetched[i]); err != nil {
			logger.Warn("Failed to store item %s: %v", fetched[i].ID, err)
		}
	}
	logger.Debug("Catalog refreshed with %d items", len(fetched))

	selected, err := store.ListMonitorable(cfg.Feed.MinRating, cfg.Feed.Limit)
	if err != nil {
		return fmt.Errorf("failed to select items: %w", err)
	}
	items := make([]models.Item, len(selected))
	for i, it := range selected {
		items[i] = *it
	}
	logger.Info("Monitoring %d items", len(items))

	decisions, stats := mon.RunCycle(ctx, items)
	if stats.Items > 0 && stats.Errors == stats.Items {
		return fmt.Errorf("every item failed to evaluate (%d errors)", stats.Errors)
	}

	notify := mon.FilterCooldown(decisions)
	if len(notify) > 0 {
		logger.Info("%d decisions ready to notify", len(notify))
		// Cooldowns start once any channel delivered; with none configured the log is the channel.
		delivered := telegramClient == nil && discordClient == nil
		if telegramClient != nil {
			if err := telegramClient.Send(notify); err != nil {
				logger.Error("Failed to send Telegram notification: %v", err)
			} else {
				logger.Info("Sent Telegram notification with %d decisions", len(notify))
				delivered = true
			}
		}
		if discordClient != nil {
			if err := discordClient.Send(ctx, notify); err != nil {
				logger.Error("Failed to send Discord notification: %v", err)
			} else {
				logger.Info("Sent Discord notification with %d decisions", len(notify))
				delivered = true
			}
		}
		if telegramClient == nil && discordClient == nil {
			for _, d := range notify {
				logger.Info("%s: %s (%d) %s", d.Kind, d.Item.Name, d.Item.Rating, describeGap(d.Gap))
			}
		}
		if delivered {
			mon.RecordNotified(notify)
		}
	} else {
		logger.Info("No alerts this cycle")
	}

	summary := stats.String()
	if telegramClient != nil {
		telegramClient.SetStatus(summary)
		if cfg.Monitor.SendCycleSummaries {
			if err := telegramClient.SendSummary(summary); err != nil {
				logger.Warn("Failed to send cycle summary: %v", err)
			}
		}
	}
	logger.Info("Monitoring cycle completed: %s", summary)

	return nil
}

// announceStartup sends the startup notice unless another start already did
// within the configured window.
func announceStartup(ctx context.Context, store *storage.Storage, telegramClient *telegram.Client, discordClient *discord.Client, cfg *config.Config) {
	if telegramClient == nil && discordClient == nil {
		return
	}
	claimed, err := store.ClaimNotice("startup", cfg.Monitor.StartupNoticeWindow, time.Now())
	if err != nil {
		logger.Warn("Failed to record startup notice: %v", err)
		return
	}
	if !claimed {
		logger.Debug("Startup notice already sent within %v", cfg.Monitor.StartupNoticeWindow)
		return
	}

	const title = "🚀 Bot Started"
	text := startupText(cfg)
	if telegramClient != nil {
		if err := telegramClient.SendNotice(title, text); err != nil {
			logger.Warn("Failed to send startup notice to Telegram: %v", err)
		}
	}
	if discordClient != nil {
		if err := discordClient.SendNotice(ctx, title, text); err != nil {
			logger.Warn("Failed to send startup notice to Discord: %v", err)
		}
	}
}

func startupText(cfg *config.Config) string {
	return fmt.Sprintf("Watching %d cards rated %d+ every %v\nMin gap: %s coins / %.1f%%\nAlert cooldown: %v",
		cfg.Feed.Limit,
		cfg.Feed.MinRating,
		cfg.Feed.PollInterval,
		pricing.FormatCoins(cfg.Signal.MinimumGapCoins),
		cfg.Signal.MinimumGapPercentage,
		cfg.Monitor.AlertCooldown,
	)
}

func describeGap(g *models.GapResult) string {
	if g == nil {
		return ""
	}
	return fmt.Sprintf("buy %s sell %s profit %s (%.1f%%)",
		pricing.FormatCoins(g.BuyPrice), pricing.FormatCoins(g.SellPrice),
		pricing.FormatCoins(g.ProfitAfterTax), g.Percentage)
}

func pruneHistory(store *storage.Storage, retention time.Duration) {
	removed, err := store.PruneHistory(time.Now().Add(-retention))
	if err != nil {
		logger.Error("Failed to prune history: %v", err)
		return
	}
	logger.Info("Pruned %d history rows older than %v", removed, retention)
}
