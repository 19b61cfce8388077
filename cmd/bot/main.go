package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/bot"
	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/classifier"
	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/enforce"
	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/metrics"
	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/moderation"
	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/review"
	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/storage"
	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/telegram"
	"github.com/ivanslavinskyi/ai-antiscam-bot/pkg/config"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", *configPath))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	var store storage.Storage
	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory storage")
		store = storage.NewMemoryStorage()
	} else {
		logger.Info("Using PostgreSQL storage")
		pg, err := storage.NewPostgresStorage(cfg.Database.DSN())
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
		store = pg
	}
	defer store.Close()

	// Telegram client doubles as the enforcement transport and the
	// membership oracle for the exemption gate.
	client, err := telegram.NewClient(cfg.Telegram.Token, logger)
	if err != nil {
		logger.Fatal("Failed to create telegram client", zap.Error(err))
	}

	oracle := moderation.NewCachedOracle(client, cfg.Moderation.ExemptCacheTTL)
	gate := moderation.NewGate(oracle, store, logger)

	clf := classifier.NewRateLimited(
		classifier.NewOpenAIClassifier(classifier.Options{
			APIKey:      cfg.OpenAI.APIKey,
			BaseURL:     cfg.OpenAI.BaseURL,
			Model:       cfg.OpenAI.Model,
			MaxTokens:   cfg.OpenAI.MaxTokens,
			Temperature: cfg.OpenAI.Temperature,
			Timeout:     cfg.OpenAI.Timeout,
		}, logger),
		cfg.OpenAI.RequestsPerSecond, cfg.OpenAI.Burst)

	tiers, err := moderation.NewTierTable(
		cfg.Moderation.WarnAfter, cfg.Moderation.MuteAfter, cfg.Moderation.BanAfter)
	if err != nil {
		logger.Fatal("Invalid tier configuration", zap.Error(err))
	}
	ledger := moderation.NewLedger(store, tiers, logger)
	engine := moderation.NewEngine(ledger, cfg.Moderation.ScamThreshold, cfg.Moderation.MuteDuration, logger)
	executor := enforce.NewExecutor(client, store, logger)

	reviews := review.NewRouter(store, ledger, executor, client, review.Config{
		GlobalAdminChats: cfg.Admin.ChatIDs,
		Window:           cfg.Review.Window,
		SweepInterval:    cfg.Review.SweepInterval,
	}, logger)
	go reviews.RunSweeper(ctx)

	// The scam threshold can be tuned without a restart.
	if err := config.Watch(*configPath, func(updated *config.Config, err error) {
		if err != nil {
			logger.Warn("Config reload failed", zap.Error(err))
			return
		}
		engine.SetThreshold(updated.Moderation.ScamThreshold)
		logger.Info("Scam threshold reloaded",
			zap.Float64("threshold", updated.Moderation.ScamThreshold))
	}); err != nil {
		logger.Warn("Config watch unavailable", zap.Error(err))
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			logger.Info("Metrics server listening", zap.String("addr", cfg.Metrics.Addr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	b := bot.New(bot.Deps{
		Messenger:  client,
		Store:      store,
		Gate:       gate,
		Classifier: clf,
		Engine:     engine,
		Ledger:     ledger,
		Executor:   executor,
		Reviews:    reviews,
	}, bot.Options{
		GlobalAdminChats: cfg.Admin.ChatIDs,
		UpdateTimeout:    cfg.Telegram.UpdateTimeout,
	}, logger)

	if err := b.Start(ctx); err != nil {
		logger.Error("Bot stopped with error", zap.Error(err))
	}

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown failed", zap.Error(err))
		}
	}

	logger.Info("Bot stopped")
}
