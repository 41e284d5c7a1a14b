package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/form-relay-service/internal/config"
	"github.com/skypro1111/form-relay-service/internal/metrics"
	"github.com/skypro1111/form-relay-service/internal/relay"
	"github.com/skypro1111/form-relay-service/internal/server"
	"github.com/skypro1111/form-relay-service/internal/storage"
)

const (
	defaultEnvFile = ".env"
	serviceName    = "form-relay-service"
	serviceVersion = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to YAML configuration file (optional)")
	envFile := flag.String("env-file", defaultEnvFile, "Path to dotenv file, ignored when missing")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without credentials)
	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.HTTP.ListenAddress()),
		slog.String("static_dir", cfg.HTTP.StaticDir),
		slog.String("relay_endpoint", cfg.Relay.Endpoint()),
		slog.Bool("relay_ack", cfg.Relay.Ack),
		slog.Int("ingest_workers", cfg.Ingest.Workers),
		slog.String("storage_driver", cfg.Storage.Driver),
		slog.Bool("metrics_enabled", cfg.Metrics.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)

	// Connect the record sink
	openCtx, openCancel := context.WithTimeout(context.Background(), 10*time.Second)
	sink, err := storage.Open(openCtx, &cfg.Storage, logger)
	openCancel()
	if err != nil {
		logger.Error("Failed to open storage", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start the ingest side first so the relay endpoint is bound before any POST
	udpServer := server.NewUDPServer(cfg, logger, sink, appMetrics)
	if err := udpServer.Start(); err != nil {
		logger.Error("Failed to start UDP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	relayClient, err := relay.NewClient(&cfg.Relay, logger)
	if err != nil {
		logger.Error("Failed to create relay client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	httpServer, err := server.NewHTTPServer(cfg, logger, relayClient, appMetrics, prometheus.DefaultGatherer)
	if err != nil {
		logger.Error("Failed to create HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new submissions)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	if err := relayClient.Close(); err != nil {
		logger.Error("Error closing relay client", slog.String("error", err.Error()))
	}

	// Stop UDP server (stop accepting new datagrams)
	if err := udpServer.Stop(); err != nil {
		logger.Error("Error stopping UDP server", slog.String("error", err.Error()))
	}

	if err := sink.Close(shutdownCtx); err != nil {
		logger.Error("Error closing storage", slog.String("error", err.Error()))
	}

	// Get final statistics
	stats := udpServer.GetStatistics()
	logger.Info("Final server statistics",
		slog.Uint64("datagrams_received", stats.DatagramsReceived),
		slog.Uint64("records_stored", stats.RecordsStored),
		slog.Uint64("decode_errors", stats.DecodeErrors),
		slog.Uint64("store_errors", stats.StoreErrors),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Anything else is a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
