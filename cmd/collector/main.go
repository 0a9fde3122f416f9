package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"

	"github.com/AlsinafiAziz/metricpal-kiro/internal/config"
	"github.com/AlsinafiAziz/metricpal-kiro/internal/enricher"
	"github.com/AlsinafiAziz/metricpal-kiro/internal/handler"
	"github.com/AlsinafiAziz/metricpal-kiro/internal/sink"
	"github.com/AlsinafiAziz/metricpal-kiro/internal/validation"
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
		defaultPath = "config/collector.yaml"
	}
	configPath := flag.String("config", defaultPath, "path to the collector config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("Failed to load config")
	}

	log.Info().
		Int("http_port", cfg.Server.HTTPPort).
		Strs("sinks", cfg.Sink.Targets).
		Strs("allowed_origins", cfg.Server.AllowedOrigins).
		Msg("Starting MetricPal collector...")

	// Initialize dependencies
	forwarder, err := sink.FromConfig(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create event sinks")
	}
	defer forwarder.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := forwarder.Ping(pingCtx); err != nil {
		log.Warn().Err(err).Msg("Event sink health check failed, continuing")
	}
	cancelPing()
	log.Info().Strs("sinks", forwarder.Names()).Msg("Event sinks initialized")

	validator, err := validation.NewValidator(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create validator")
	}
	defer validator.Close()
	log.Info().Msg("Validator initialized")

	eventEnricher := enricher.NewEnricher(cfg.GeoIP.DatabasePath)
	defer eventEnricher.Close()
	log.Info().Msg("Enricher initialized")

	httpHandler := handler.NewHTTPHandler(validator, eventEnricher, forwarder, cfg.Server.BodyLimitBytes)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           httpHandler.Router(cfg.Server.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.Server.HTTPPort).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to serve HTTP")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	log.Info().Msg("Server stopped")
}
