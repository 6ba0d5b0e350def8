package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/chatflow/internal/aggregator"
	"github.com/xaenox/chatflow/internal/buffer"
	"github.com/xaenox/chatflow/internal/conversation"
	"github.com/xaenox/chatflow/internal/followup"
	"github.com/xaenox/chatflow/internal/generator"
	"github.com/xaenox/chatflow/internal/pipeline"
	"github.com/xaenox/chatflow/internal/registry"
	"github.com/xaenox/chatflow/internal/sender"
	"github.com/xaenox/chatflow/internal/storage"
	"github.com/xaenox/chatflow/pkg/config"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Initialize storage
	var store storage.Store
	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory storage")
		store = storage.NewMemoryStore()
	} else {
		pgStore, err := storage.NewPostgresStore(storage.DatabaseConfig{
			Host:           cfg.Database.Host,
			Port:           cfg.Database.Port,
			User:           cfg.Database.User,
			Password:       cfg.Database.Password,
			DBName:         cfg.Database.DBName,
			SSLMode:        cfg.Database.SSLMode,
			MaxOpenConns:   cfg.Database.MaxOpenConns,
			MaxIdleConns:   cfg.Database.MaxIdleConns,
			AcquireTimeout: time.Duration(cfg.Database.AcquireTimeout) * time.Second,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to initialize PostgreSQL storage", zap.Error(err))
		}
		logger.Info("Using PostgreSQL storage",
			zap.String("host", cfg.Database.Host),
			zap.String("dbname", cfg.Database.DBName))
		store = pgStore
	}
	defer store.Close()

	// Fragment buffer backend
	var fragments buffer.FragmentStore
	if cfg.Buffer.UseRedis {
		redisStore, err := buffer.NewRedisFragmentStore(cfg.Buffer.RedisURL,
			time.Duration(cfg.Buffer.TTLSeconds)*time.Second)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		logger.Info("Using Redis fragment buffer")
		fragments = redisStore
	} else {
		fragments = buffer.NewMemoryFragmentStore()
	}

	// Reply generation falls back to canned responses without an API key
	var gen generator.Generator
	if cfg.OpenAI.APIKey != "" {
		gen = generator.NewOpenAIGenerator(cfg.OpenAI.APIKey, cfg.OpenAI.Model,
			cfg.OpenAI.MaxTokens, cfg.OpenAI.Temperature, logger)
	} else {
		logger.Warn("OPENAI_API_KEY not set, using static reply generator")
		gen = generator.NewStaticGenerator()
	}

	reg := registry.New(store, logger)
	resolver := registry.NewResolver(store, logger)
	snd := sender.New(resolver, logger)
	machine := conversation.NewMachine(store, logger)

	pipe := pipeline.New(store, machine, reg, gen, snd, fragments,
		time.Duration(cfg.Buffer.QuietPeriodSeconds)*time.Second, logger)

	worker := aggregator.NewWorker(store,
		time.Duration(cfg.Aggregation.IntervalMinutes)*time.Minute,
		time.Duration(cfg.Aggregation.RetentionDays)*24*time.Hour,
		logger)

	scheduler := followup.NewScheduler(store, reg, machine, gen, snd, followup.Config{
		Interval:    time.Duration(cfg.Followup.IntervalSeconds) * time.Second,
		Staleness:   time.Duration(cfg.Followup.StalenessMinutes) * time.Minute,
		GuardWindow: time.Duration(cfg.Followup.GuardWindowHours) * time.Hour,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go worker.Run(ctx)
	go scheduler.Run(ctx)

	logger.Info("Chat pipeline started")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := pipe.Close(shutdownCtx); err != nil {
		logger.Error("Failed to flush pending turns", zap.Error(err))
	}

	logger.Info("Shutdown complete")
}
