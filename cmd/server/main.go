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

	"github.com/audiopipe/audio-prep-service/internal/config"
	"github.com/audiopipe/audio-prep-service/internal/manager"
	"github.com/audiopipe/audio-prep-service/internal/metrics"
	"github.com/audiopipe/audio-prep-service/internal/server"
	"github.com/audiopipe/audio-prep-service/internal/transcription"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "audio-prep-service"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Configuration summary without sensitive data
	logger.Info("Configuration loaded",
		slog.Bool("ingest_enabled", cfg.Ingest.Enabled),
		slog.Int("udp_port", cfg.Ingest.UDPPort),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Float64("vad_sensitivity", cfg.VAD.Sensitivity),
		slog.Float64("chunk_duration", cfg.Chunking.ChunkDuration),
		slog.String("preprocessing_preset", cfg.Preprocessing.Preset),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.String("log_level", cfg.Logging.Level),
	)

	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Without an endpoint the service still segments and classifies,
	// it just produces empty transcripts.
	var transcriber transcription.Transcriber
	if cfg.Transcription.Endpoint != "" {
		client, err := transcription.NewClient(transcription.Config{
			Endpoint:      cfg.Transcription.Endpoint,
			APIKey:        cfg.Transcription.APIKey,
			Timeout:       cfg.Transcription.GetTimeout(),
			MaxRetries:    cfg.Transcription.MaxRetries,
			MaxConcurrent: cfg.Transcription.MaxConcurrent,
			Language:      cfg.Transcription.Language,
			Model:         cfg.Transcription.Model,
		})
		if err != nil {
			logger.Error("Failed to create transcription client", slog.String("error", err.Error()))
			os.Exit(1)
		}
		transcriber = client
		logger.Info("Transcription client initialized",
			slog.String("endpoint", cfg.Transcription.Endpoint),
			slog.Int("max_concurrent", cfg.Transcription.MaxConcurrent),
		)
	} else {
		logger.Warn("No transcription endpoint configured, chunks will not be transcribed")
	}

	mgr, err := manager.New(cfg, logger, transcriber, appMetrics)
	if err != nil {
		logger.Error("Failed to create pipeline manager", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Pipeline manager initialized")

	var udpServer *server.UDPServer
	if cfg.Ingest.Enabled {
		udpServer = server.NewUDPServer(&cfg.Ingest, cfg.Audio.SampleRate, logger, mgr, appMetrics)
		if err := udpServer.Start(); err != nil {
			logger.Error("Failed to start UDP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("UDP ingest server started",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.Ingest.BindAddress, cfg.Ingest.UDPPort)),
		)
	}

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, mgr, udpServer, appMetrics)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("HTTP API server started",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	// Stop the HTTP server first so no new operations arrive
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
		shutdownCancel()
	}

	// Stop ingest next, it flushes the active session into the manager
	if udpServer != nil {
		if err := udpServer.Stop(); err != nil {
			logger.Error("Error stopping UDP server", slog.String("error", err.Error()))
		}
	}

	if err := mgr.Close(); err != nil {
		logger.Error("Error closing pipeline manager", slog.String("error", err.Error()))
	}

	stats := mgr.GetStatistics()
	logger.Info("Final pipeline statistics",
		slog.Uint64("files_processed", stats.FilesProcessed),
		slog.Uint64("file_failures", stats.FileFailures),
		slog.Uint64("chunks_generated", stats.Streaming.ChunksGenerated),
		slog.Uint64("chunks_dispatched", stats.Streaming.ChunksDispatched),
	)

	logger.Info("Service stopped")
}

// initLogger creates the structured logger from the logging section.
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
