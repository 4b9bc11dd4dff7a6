// Package metrics registers and exposes the service's Prometheus
// metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the audio prep service.
type Metrics struct {
	// Ingest metrics
	FramesReceived prometheus.Counter
	FramesDropped  prometheus.Counter
	ParseErrors    prometheus.Counter
	IngestQueue    prometheus.Gauge

	// VAD metrics
	VADFramesProcessed prometheus.Counter
	VADSpeechFrames    prometheus.Counter
	VADProcessingTime  prometheus.Histogram
	SpeechSegments     prometheus.Counter

	// Preprocessing metrics
	PreprocessedBuffers prometheus.Counter
	PreprocessingTime   prometheus.Histogram
	QualityAnalyses     *prometheus.CounterVec

	// Chunking metrics
	ChunksGenerated prometheus.Counter
	ChunkDuration   prometheus.Histogram
	ChunkSize       prometheus.Histogram
	ChunkConfidence prometheus.Histogram

	// File pipeline metrics
	FilesProcessed prometheus.Counter
	FileFailures   prometheus.Counter
	FileDuration   prometheus.Histogram

	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionDuration  prometheus.Histogram
	TranscriptionRetries   prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		FramesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audioprep_ingest_frames_received_total",
			Help: "Total number of ingest frames received",
		}),
		FramesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audioprep_ingest_frames_dropped_total",
			Help: "Total number of ingest frames dropped due to backpressure",
		}),
		ParseErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audioprep_ingest_parse_errors_total",
			Help: "Total number of ingest packet parsing errors",
		}),
		IngestQueue: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "audioprep_ingest_queue_size",
			Help: "Current number of packets in the ingest queue",
		}),

		VADFramesProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audioprep_vad_frames_processed_total",
			Help: "Total number of VAD frames processed",
		}),
		VADSpeechFrames: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audioprep_vad_speech_frames_total",
			Help: "Total number of VAD frames classified as speech",
		}),
		VADProcessingTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "audioprep_vad_processing_duration_seconds",
			Help:    "Time spent scoring VAD frames",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 10), // 0.1ms to ~100ms
		}),
		SpeechSegments: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audioprep_speech_segments_total",
			Help: "Total number of confirmed speech segments",
		}),

		PreprocessedBuffers: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audioprep_preprocessed_buffers_total",
			Help: "Total number of buffers run through the conditioning chain",
		}),
		PreprocessingTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "audioprep_preprocessing_duration_seconds",
			Help:    "Time spent in the conditioning chain per buffer",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~1s
		}),
		QualityAnalyses: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "audioprep_quality_analyses_total",
			Help: "Total number of quality analyses by resulting tier",
		}, []string{"tier"}),

		ChunksGenerated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audioprep_chunks_generated_total",
			Help: "Total number of audio chunks generated",
		}),
		ChunkDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "audioprep_chunk_duration_seconds",
			Help:    "Duration of generated audio chunks",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s to ~2 minutes
		}),
		ChunkSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "audioprep_chunk_size_bytes",
			Help:    "Size of generated audio chunks in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1KB to ~256MB
		}),
		ChunkConfidence: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "audioprep_chunk_confidence",
			Help:    "Speech confidence of generated audio chunks",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11), // 0.0 to 1.0
		}),

		FilesProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audioprep_files_processed_total",
			Help: "Total number of files processed through the pipeline",
		}),
		FileFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audioprep_file_failures_total",
			Help: "Total number of file pipeline failures",
		}),
		FileDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "audioprep_file_processing_duration_seconds",
			Help:    "Wall-clock time spent processing a file",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7 minutes
		}),

		TranscriptionRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audioprep_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audioprep_transcription_successes_total",
			Help: "Total number of successful transcription requests",
		}),
		TranscriptionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audioprep_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}),
		TranscriptionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "audioprep_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		TranscriptionRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audioprep_transcription_retries_total",
			Help: "Total number of transcription request retries",
		}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "audioprep_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "audioprep_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "audioprep_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordFrameReceived increments the ingest frames counter.
func (m *Metrics) RecordFrameReceived() {
	m.FramesReceived.Inc()
}

// RecordFrameDropped increments the dropped frames counter.
func (m *Metrics) RecordFrameDropped() {
	m.FramesDropped.Inc()
}

// RecordParseError increments the parse errors counter.
func (m *Metrics) RecordParseError() {
	m.ParseErrors.Inc()
}

// SetIngestQueueSize sets the current ingest queue size.
func (m *Metrics) SetIngestQueueSize(size int) {
	m.IngestQueue.Set(float64(size))
}

// RecordVADFrame records one scored frame and its processing time.
func (m *Metrics) RecordVADFrame(isSpeech bool, processingSeconds float64) {
	m.VADFramesProcessed.Inc()
	if isSpeech {
		m.VADSpeechFrames.Inc()
	}
	m.VADProcessingTime.Observe(processingSeconds)
}

// RecordSpeechSegment increments the confirmed speech segment counter.
func (m *Metrics) RecordSpeechSegment() {
	m.SpeechSegments.Inc()
}

// RecordPreprocessing records one conditioned buffer.
func (m *Metrics) RecordPreprocessing(durationSeconds float64) {
	m.PreprocessedBuffers.Inc()
	m.PreprocessingTime.Observe(durationSeconds)
}

// RecordQualityAnalysis counts one analysis under its tier.
func (m *Metrics) RecordQualityAnalysis(tier string) {
	m.QualityAnalyses.WithLabelValues(tier).Inc()
}

// RecordChunkGenerated records a generated audio chunk.
func (m *Metrics) RecordChunkGenerated(durationSeconds float64, sizeBytes int, confidence float64) {
	m.ChunksGenerated.Inc()
	m.ChunkDuration.Observe(durationSeconds)
	m.ChunkSize.Observe(float64(sizeBytes))
	m.ChunkConfidence.Observe(confidence)
}

// RecordFileProcessed records a completed file pipeline run.
func (m *Metrics) RecordFileProcessed(durationSeconds float64) {
	m.FilesProcessed.Inc()
	m.FileDuration.Observe(durationSeconds)
}

// RecordFileFailure increments the file failure counter.
func (m *Metrics) RecordFileFailure() {
	m.FileFailures.Inc()
}

// RecordTranscriptionRequest increments the transcription requests counter.
func (m *Metrics) RecordTranscriptionRequest() {
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionSuccess records a successful transcription.
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription.
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionRetry increments the retry counter.
func (m *Metrics) RecordTranscriptionRetry() {
	m.TranscriptionRetries.Inc()
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error.
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
