package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"

	"github.com/AlsinafiAziz/metricpal-kiro/internal/config"
	"github.com/AlsinafiAziz/metricpal-kiro/internal/relay"
	"github.com/AlsinafiAziz/metricpal-kiro/internal/storage"
)

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("Failed to read .env file")
	}

	defaultPath := os.Getenv("CONFIG_PATH")
	if defaultPath == "" {
		defaultPath = "config/relay.yaml"
	}
	configPath := flag.String("config", defaultPath, "path to the relay config file")
	migrate := flag.Bool("migrate", false, "create the ClickHouse tables before consuming")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("Failed to load config")
	}

	log.Info().
		Strs("kafka_brokers", cfg.Kafka.Brokers).
		Str("clickhouse_addr", cfg.ClickHouse.Addr).
		Str("redis_addr", cfg.Redis.Addr).
		Int("batch_size", cfg.Batch.Size).
		Dur("flush_interval", cfg.Batch.FlushInterval).
		Msg("Configuration loaded")

	// Initialize ClickHouse
	ch, err := storage.NewClickHouse(cfg.ClickHouse)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to ClickHouse")
	}
	defer ch.Close()
	log.Info().Msg("Connected to ClickHouse")

	if *migrate {
		if err := ch.Migrate(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("Failed to migrate ClickHouse schema")
		}
		log.Info().Int("statements", len(storage.Statements())).Msg("ClickHouse schema applied")
	}

	// Initialize session aggregator
	var (
		sessionAgg *relay.Aggregator
		updater    relay.SessionUpdater
	)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		sessionAgg = relay.NewAggregator(ch, relay.NewRedisHashes(rdb), cfg.Sessions.TTL)
		updater = sessionAgg
		defer sessionAgg.Close()
		log.Info().Dur("ttl", cfg.Sessions.TTL).Msg("Session aggregator initialized")
	}

	eventProcessor := relay.NewEventProcessor(ch, updater, cfg.Batch)

	eventConsumer, err := relay.NewKafkaConsumer(cfg.Kafka, "events", eventProcessor)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create events consumer")
	}
	identityConsumer, err := relay.NewKafkaConsumer(cfg.Kafka, "identities", eventProcessor.Identities())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create identities consumer")
	}

	// Start consuming
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, c := range []*relay.KafkaConsumer{eventConsumer, identityConsumer} {
		wg.Add(1)
		go func(c *relay.KafkaConsumer) {
			defer wg.Done()
			c.Start(ctx)
		}(c)
	}

	log.Info().Msg("Relay started")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	cancel()
	wg.Wait()
	eventConsumer.Close()
	identityConsumer.Close()
	eventProcessor.Stop()

	// Flush remaining sessions
	if sessionAgg != nil {
		if err := sessionAgg.FlushAllSessions(context.Background()); err != nil {
			log.Error().Err(err).Msg("Failed to flush sessions")
		}
	}

	log.Info().Msg("Shutdown complete")
}
