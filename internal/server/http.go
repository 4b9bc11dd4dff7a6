package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/audiopipe/audio-prep-service/internal/audio"
	"github.com/audiopipe/audio-prep-service/internal/config"
	"github.com/audiopipe/audio-prep-service/internal/manager"
	"github.com/audiopipe/audio-prep-service/internal/metrics"
)

// HTTPServer exposes the pipeline operations as a JSON API.
type HTTPServer struct {
	server    *http.Server
	logger    *slog.Logger
	config    *config.Config
	manager   *manager.Manager
	udpServer *UDPServer
	metrics   *metrics.Metrics

	startTime time.Time
	mu        sync.RWMutex
}

// NewHTTPServer creates the API server. udpServer may be nil when
// ingest is disabled.
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger,
	appConfig *config.Config, mgr *manager.Manager, udpServer *UDPServer, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		manager:   mgr,
		udpServer: udpServer,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Minute, // file processing can be slow
		IdleTimeout:  60 * time.Second,
	}

	return h
}

func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/processing/start", h.withMetrics("/processing/start", h.handleProcessingStart))
	mux.HandleFunc("/processing/stop", h.withMetrics("/processing/stop", h.handleProcessingStop))
	mux.HandleFunc("/files", h.withMetrics("/files", h.handleProcessFile))
	mux.HandleFunc("/convert", h.withMetrics("/convert", h.handleConvert))
	mux.HandleFunc("/quality", h.withMetrics("/quality", h.handleQuality))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps a handler with request metrics collection.
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server.
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server.
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")
	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// writeError maps pipeline error kinds onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case audio.IsKind(err, audio.KindInvalidInput), audio.IsKind(err, audio.KindConfiguration):
		status = http.StatusBadRequest
	case audio.IsKind(err, audio.KindUnsupportedFormat):
		status = http.StatusUnsupportedMediaType
	case audio.IsKind(err, audio.KindComponentNotReady):
		status = http.StatusConflict
	case audio.IsKind(err, audio.KindInsufficientResources):
		status = http.StatusInsufficientStorage
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *HTTPServer) handleProcessingStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.manager.StartProcessing(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "processing",
		"timestamp": time.Now().UTC(),
	})
}

func (h *HTTPServer) handleProcessingStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	result, stats, err := h.manager.StopProcessing(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result":     result,
		"statistics": stats,
		"timestamp":  time.Now().UTC(),
	})
}

func (h *HTTPServer) handleProcessFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var request struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil || request.Path == "" {
		http.Error(w, "Request body must carry a file path", http.StatusBadRequest)
		return
	}

	result, err := h.manager.ProcessFile(r.Context(), request.Path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *HTTPServer) handleConvert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var request struct {
		Source      string `json:"source"`
		Destination string `json:"destination"`
		SampleRate  int    `json:"sample_rate"`
		Channels    int    `json:"channels"`
		BitDepth    int    `json:"bit_depth"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil || request.Source == "" || request.Destination == "" {
		http.Error(w, "Request body must carry source and destination paths", http.StatusBadRequest)
		return
	}

	settings := audio.DefaultConversionSettings()
	if request.SampleRate > 0 {
		settings.SampleRate = request.SampleRate
	}
	if request.Channels > 0 {
		settings.Channels = request.Channels
	}
	if request.BitDepth > 0 {
		settings.BitDepth = request.BitDepth
	}

	var lastProgress float64
	err := h.manager.ConvertFile(r.Context(), request.Source, request.Destination, settings, func(p float64) {
		lastProgress = p
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "converted",
		"destination": request.Destination,
		"progress":    lastProgress,
	})
}

func (h *HTTPServer) handleQuality(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var request struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil || request.Path == "" {
		http.Error(w, "Request body must carry a file path", http.StatusBadRequest)
		return
	}

	analysis, err := h.manager.AnalyzeFile(request.Path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	components := map[string]any{}
	if h.udpServer != nil {
		udpStats := h.udpServer.GetStatistics()
		components["udp_ingest"] = map[string]any{
			"status":            "running",
			"packets_received":  udpStats.PacketsReceived,
			"packets_processed": udpStats.PacketsProcessed,
			"parse_errors":      udpStats.ParseErrors,
			"session_active":    udpStats.SessionActive,
			"queue_size":        udpStats.QueueSize,
		}
	}

	stats := h.manager.GetStatistics()
	components["pipeline"] = map[string]any{
		"status":          "running",
		"live_session":    stats.Streaming.Running,
		"files_processed": stats.FilesProcessed,
		"file_failures":   stats.FileFailures,
	}
	if stats.Transcription != nil {
		components["transcription"] = map[string]any{
			"status":          "running",
			"total_requests":  stats.Transcription.TotalRequests,
			"success_rate":    stats.Transcription.SuccessRate,
			"active_requests": stats.Transcription.ActiveRequests,
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "healthy",
		"timestamp":  time.Now().UTC(),
		"uptime":     time.Since(h.startTime).String(),
		"service":    map[string]any{"name": "audio-prep-service", "version": "1.0.0"},
		"components": components,
	})
}

func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cfg := h.manager.Config()

	// The API key is intentionally omitted.
	sanitized := map[string]any{
		"ingest": map[string]any{
			"enabled":      cfg.Ingest.Enabled,
			"udp_port":     cfg.Ingest.UDPPort,
			"bind_address": cfg.Ingest.BindAddress,
			"buffer_size":  cfg.Ingest.BufferSize,
		},
		"audio": map[string]any{
			"sample_rate": cfg.Audio.SampleRate,
			"channels":    cfg.Audio.Channels,
			"bit_depth":   cfg.Audio.BitDepth,
		},
		"vad":           cfg.VAD,
		"preprocessing": cfg.Preprocessing,
		"chunking":      cfg.Chunking,
		"streaming":     cfg.Streaming,
		"transcription": map[string]any{
			"endpoint":       cfg.Transcription.Endpoint,
			"timeout":        cfg.Transcription.Timeout,
			"max_retries":    cfg.Transcription.MaxRetries,
			"max_concurrent": cfg.Transcription.MaxConcurrent,
		},
		"logging": map[string]any{
			"level":  cfg.Logging.Level,
			"format": cfg.Logging.Format,
			"output": cfg.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, sanitized)
}

func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]any{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"pipeline":  h.manager.GetStatistics(),
	}
	if h.udpServer != nil {
		response["ingest"] = h.udpServer.GetStatistics()
	}

	writeJSON(w, http.StatusOK, response)
}

func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"service": "Audio Prep Service",
		"version": "1.0.0",
		"endpoints": map[string]any{
			"GET /":                  "API documentation",
			"GET /health":            "Service health check",
			"POST /processing/start": "Start a live processing session",
			"POST /processing/stop":  "Stop the live session, returns the consolidated result",
			"POST /files":            "Process an audio file end to end",
			"POST /convert":          "Convert an audio file, body: source/destination/sample_rate/channels/bit_depth",
			"POST /quality":          "Analyze the quality of an audio file",
			"GET /config":            "Get service configuration",
			"GET /stats":             "Get service statistics",
			"GET /metrics":           "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
