package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/aurora-bot/internal/backend"
	"github.com/xaenox/aurora-bot/internal/bot"
	"github.com/xaenox/aurora-bot/internal/classifier"
	"github.com/xaenox/aurora-bot/internal/logging"
	"github.com/xaenox/aurora-bot/internal/storage"
	"github.com/xaenox/aurora-bot/pkg/config"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		bootstrap, _ := zap.NewProduction()
		bootstrap.Fatal("Failed to load config", zap.Error(err), zap.String("path", *configPath))
	}

	// Initialize logger
	logger, err := logging.New(cfg.Log.Mode)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	dbConfig := cfg.StorageConfig()
	logger.Info("Initializing storage",
		zap.String("driver", dbConfig.Driver),
		zap.Bool("in_memory", dbConfig.UseInMemory))
	store, err := storage.New(ctx, dbConfig)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer store.Close()

	client, err := backend.New(backend.Options{
		BaseURL:       cfg.Backend.BaseURL,
		Timeout:       cfg.Backend.Timeout,
		StreamTimeout: cfg.Backend.StreamTimeout,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal("Failed to create backend client", zap.Error(err))
	}

	// Query classifier
	var clf classifier.Classifier = classifier.NewSimpleClassifier()
	if cfg.OpenAI.Enabled() {
		logger.Info("Using GPT query classifier", zap.String("model", cfg.OpenAI.Model))
		clf = classifier.NewGPTClassifier(
			cfg.OpenAI.APIKey,
			cfg.OpenAI.Model,
			cfg.OpenAI.MaxTokens,
			cfg.OpenAI.Temperature,
			logger,
		)
	}

	api, err := bot.NewTelegram(cfg.Telegram.Token, cfg.Telegram.Debug)
	if err != nil {
		logger.Fatal("Failed to create bot", zap.Error(err))
	}
	logger.Info("Bot started", zap.String("username", api.Self.UserName))

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := api.GetUpdatesChan(u)
	go func() {
		<-ctx.Done()
		api.StopReceivingUpdates()
	}()

	b := bot.New(api, client, store, clf, bot.Options{
		Greeting:       cfg.Assistant.Greeting,
		RevealInterval: cfg.Assistant.RevealInterval,
		HealthInterval: cfg.Assistant.HealthInterval,
		SearchLimit:    cfg.Backend.SearchLimit,
		HistoryLimit:   cfg.Backend.HistoryLimit,
		MinSimilarity:  cfg.Backend.MinSimilarity,
	}, logger)

	if err := b.Run(ctx, updates); err != nil && ctx.Err() == nil {
		logger.Error("Bot error", zap.Error(err))
	}
	logger.Info("Bot stopped")
}
