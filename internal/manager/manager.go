package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/audiopipe/audio-prep-service/internal/audio"
	"github.com/audiopipe/audio-prep-service/internal/config"
	"github.com/audiopipe/audio-prep-service/internal/metrics"
	"github.com/audiopipe/audio-prep-service/internal/stream"
	"github.com/audiopipe/audio-prep-service/internal/transcription"
	"github.com/audiopipe/audio-prep-service/internal/vad"
)

// qualityPollInterval is how often the live quality tier is recomputed
// from the latest detector result.
const qualityPollInterval = 100 * time.Millisecond

// qualityQueueSize bounds the quality change channel.
const qualityQueueSize = 16

// QualityChange reports a live quality tier transition. It is emitted
// only when the tier actually changes.
type QualityChange struct {
	Previous  audio.QualityTier `json:"-"`
	Current   audio.QualityTier `json:"-"`
	Tier      string            `json:"tier"`
	From      string            `json:"from"`
	Timestamp time.Time         `json:"timestamp"`
}

// FileSegment carries one chunk's outcome within a file result.
type FileSegment struct {
	ChunkID    string        `json:"chunk_id"`
	Index      int           `json:"index"`
	StartTime  time.Duration `json:"start_time"`
	Duration   time.Duration `json:"duration"`
	Type       string        `json:"type"`
	HasSpeech  bool          `json:"has_speech"`
	ChunkScore float64       `json:"chunk_score"`

	Text       string  `json:"text,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Error      string  `json:"error,omitempty"`
	Skipped    bool    `json:"skipped,omitempty"`
}

// FileResult is the aggregate outcome of processing one file.
type FileResult struct {
	Path       string        `json:"path"`
	Format     string        `json:"format"`
	Duration   time.Duration `json:"duration"`
	SampleRate int           `json:"sample_rate"`

	Quality              audio.QualityAnalysis `json:"quality"`
	PreprocessingApplied bool                  `json:"preprocessing_applied"`
	Preset               string                `json:"preset,omitempty"`

	Text       string        `json:"text"`
	Confidence float64       `json:"confidence"`
	Segments   []FileSegment `json:"segments"`

	ChunksTotal       int `json:"chunks_total"`
	ChunksTranscribed int `json:"chunks_transcribed"`
	ChunksSkipped     int `json:"chunks_skipped"`
	ChunksFailed      int `json:"chunks_failed"`

	ProcessedIn time.Duration `json:"processed_in"`
}

// Statistics aggregates per-component counters into one report.
type Statistics struct {
	Streaming      stream.Stats               `json:"streaming"`
	FilesProcessed uint64                     `json:"files_processed"`
	FileFailures   uint64                     `json:"file_failures"`
	QualityTier    string                     `json:"quality_tier,omitempty"`
	Transcription  *transcription.ClientStats `json:"transcription,omitempty"`
}

// Manager coordinates the pipeline components: the streaming
// processor for live audio, the file pipeline, and configuration. It
// owns no audio logic of its own.
type Manager struct {
	logger      *slog.Logger
	metrics     *metrics.Metrics
	transcriber transcription.Transcriber

	mu        sync.RWMutex
	config    *config.Config
	converter *audio.Converter
	processor *stream.Processor

	watchCancel context.CancelFunc

	qualityTier  audio.QualityTier
	qualityKnown bool
	qualityCh    chan QualityChange

	filesProcessed uint64
	fileFailures   uint64
}

// New creates a manager from a validated configuration. The
// transcriber may be nil; chunks are then segmented and classified but
// never transcribed.
func New(cfg *config.Config, logger *slog.Logger, transcriber transcription.Transcriber, m *metrics.Metrics) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, audio.WrapError(audio.KindConfiguration, "manager.new", err)
	}

	mgr := &Manager{
		logger:      logger,
		metrics:     m,
		transcriber: transcriber,
		config:      cfg,
		converter:   audio.NewConverter(cfg.Audio.SampleRate, logger),
		qualityCh:   make(chan QualityChange, qualityQueueSize),
	}

	processor, err := mgr.buildProcessor(cfg)
	if err != nil {
		return nil, err
	}
	mgr.processor = processor
	return mgr, nil
}

func (m *Manager) buildProcessor(cfg *config.Config) (*stream.Processor, error) {
	streamConfig := stream.Config{
		SampleRate:         cfg.Audio.SampleRate,
		ChunkDuration:      cfg.Streaming.GetChunkDuration(),
		OverlapDuration:    cfg.Streaming.GetOverlapDuration(),
		SilenceThreshold:   cfg.Streaming.SilenceThreshold,
		MaxSilenceDuration: cfg.Streaming.GetMaxSilenceDuration(),
		VADEnabled:         cfg.Streaming.VADEnabled,
		VADThreshold:       cfg.Streaming.VADThreshold,
		MaxConcurrent:      cfg.Streaming.MaxConcurrentOperations,
	}
	return stream.NewProcessor(streamConfig, cfg.VAD, m.transcriber, m.logger, m.metrics)
}

// StartProcessing opens a live session on the streaming processor and
// begins quality tier tracking.
func (m *Manager) StartProcessing() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.processor.Start(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.watchCancel = cancel
	m.qualityKnown = false
	go m.watchQuality(ctx, m.processor)

	m.logger.Info("Live processing started")
	return nil
}

// StopProcessing closes the live session and returns the consolidated
// result together with the session statistics.
func (m *Manager) StopProcessing(ctx context.Context) (*stream.FinalResult, stream.Stats, error) {
	m.mu.Lock()
	if m.watchCancel != nil {
		m.watchCancel()
		m.watchCancel = nil
	}
	processor := m.processor
	m.mu.Unlock()

	result, err := processor.Stop(ctx)
	if err != nil {
		return nil, stream.Stats{}, err
	}
	return result, processor.GetStats(), nil
}

// ProcessAudio forwards live samples to the streaming processor.
func (m *Manager) ProcessAudio(samples []float32) error {
	m.mu.RLock()
	processor := m.processor
	m.mu.RUnlock()
	return processor.ProcessAudio(samples)
}

// Events returns the streaming processor notification channel.
func (m *Manager) Events() <-chan stream.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.processor.Events()
}

// QualityEvents returns the quality tier change channel.
func (m *Manager) QualityEvents() <-chan QualityChange {
	return m.qualityCh
}

// watchQuality recomputes the live quality tier from the latest
// detector result and notifies only on transitions.
func (m *Manager) watchQuality(ctx context.Context, processor *stream.Processor) {
	ticker := time.NewTicker(qualityPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, ok := processor.LastVADResult()
			if !ok {
				continue
			}
			m.updateQualityTier(tierFromVAD(result))
		}
	}
}

// tierFromVAD maps a detector decision onto a quality tier. Confident
// speech grades high, low-confidence or non-speech audio grades low.
func tierFromVAD(result vad.Result) audio.QualityTier {
	if !result.IsSpeech {
		return audio.TierPoor
	}
	switch {
	case result.Confidence >= 0.9:
		return audio.TierExcellent
	case result.Confidence >= 0.75:
		return audio.TierGood
	case result.Confidence >= 0.6:
		return audio.TierFair
	default:
		return audio.TierPoor
	}
}

func (m *Manager) updateQualityTier(tier audio.QualityTier) {
	m.mu.Lock()
	if m.qualityKnown && tier == m.qualityTier {
		m.mu.Unlock()
		return
	}
	previous := m.qualityTier
	known := m.qualityKnown
	m.qualityTier = tier
	m.qualityKnown = true
	m.mu.Unlock()

	if !known {
		return
	}

	change := QualityChange{
		Previous:  previous,
		Current:   tier,
		Tier:      tier.String(),
		From:      previous.String(),
		Timestamp: time.Now(),
	}
	select {
	case m.qualityCh <- change:
	default:
	}

	m.logger.Info("Quality tier changed",
		slog.String("from", change.From),
		slog.String("to", change.Tier),
	)
}

// ProcessFile runs the whole file pipeline: decode to canonical form,
// analyze quality, condition, segment, and transcribe chunk by chunk
// with bounded parallelism. Per-chunk transcription failures degrade
// the affected segment instead of failing the file.
func (m *Manager) ProcessFile(ctx context.Context, path string) (*FileResult, error) {
	started := time.Now()

	m.mu.RLock()
	cfg := m.config
	converter := m.converter
	m.mu.RUnlock()

	samples, meta, err := converter.ReadFile(path)
	if err != nil {
		m.recordFileFailure()
		return nil, err
	}

	quality, err := audio.AnalyzeQuality(samples)
	if err != nil {
		m.recordFileFailure()
		return nil, err
	}
	if m.metrics != nil {
		m.metrics.RecordQualityAnalysis(quality.TierName)
	}

	result := &FileResult{
		Path:       path,
		Format:     meta.FormatName,
		Duration:   meta.Duration,
		SampleRate: cfg.Audio.SampleRate,
		Quality:    quality,
	}

	if cfg.Preprocessing.Enabled {
		preset := cfg.Preprocessing.Preset
		if preset == "auto" {
			preset = quality.RecommendedPreset
		}
		samples, err = m.preprocess(samples, preset, cfg.Audio.SampleRate)
		if err != nil {
			m.recordFileFailure()
			return nil, err
		}
		result.PreprocessingApplied = true
		result.Preset = preset
	}

	chunks, err := m.segment(samples, cfg)
	if err != nil {
		m.recordFileFailure()
		return nil, err
	}
	result.ChunksTotal = len(chunks)

	if err := m.transcribeFileChunks(ctx, cfg, chunks, result); err != nil {
		m.recordFileFailure()
		return nil, err
	}

	result.ProcessedIn = time.Since(started)

	m.mu.Lock()
	m.filesProcessed++
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.RecordFileProcessed(result.ProcessedIn.Seconds())
	}

	m.logger.Info("File processed",
		slog.String("path", path),
		slog.String("format", result.Format),
		slog.Float64("duration", result.Duration.Seconds()),
		slog.String("quality_tier", quality.TierName),
		slog.String("preset", result.Preset),
		slog.Int("chunks", result.ChunksTotal),
		slog.Int("transcribed", result.ChunksTranscribed),
		slog.Int("failed", result.ChunksFailed),
		slog.Float64("elapsed", result.ProcessedIn.Seconds()),
	)
	return result, nil
}

func (m *Manager) preprocess(samples []float32, preset string, sampleRate int) ([]float32, error) {
	settings, err := audio.SettingsForPreset(preset)
	if err != nil {
		return nil, err
	}
	preprocessor, err := audio.NewPreprocessor(sampleRate, settings)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	processed, err := preprocessor.Process(samples)
	if err != nil {
		return nil, err
	}
	if m.metrics != nil {
		m.metrics.RecordPreprocessing(time.Since(started).Seconds())
	}
	return processed, nil
}

func (m *Manager) segment(samples []float32, cfg *config.Config) ([]audio.Chunk, error) {
	overlap := cfg.Chunking.GetOverlapDuration()
	if !cfg.Chunking.PreserveContext {
		overlap = 0
	}

	chunker, err := audio.NewChunker(audio.ChunkerConfig{
		SampleRate:           cfg.Audio.SampleRate,
		ChunkDuration:        cfg.Chunking.GetChunkDuration(),
		OverlapDuration:      overlap,
		MinChunkDuration:     cfg.Chunking.GetMinChunkDuration(),
		MaxChunkBytes:        cfg.Chunking.MaxChunkSize,
		SilenceThreshold:     cfg.Streaming.SilenceThreshold,
		EnableSmartSplitting: cfg.Chunking.EnableSmartSplit,
		BoundaryTolerance:    cfg.Chunking.GetBoundaryTolerance(),
	})
	if err != nil {
		return nil, err
	}

	var chunks []audio.Chunk
	if cfg.Chunking.EnableVADChunking && cfg.Chunking.EnableSmartSplit {
		chunks, err = m.segmentWithBoundaries(chunker, samples, cfg)
	} else {
		chunks, err = chunker.AddAudioData(samples)
	}
	if err != nil {
		return nil, err
	}
	if final := chunker.Finalize(); final != nil {
		chunks = append(chunks, *final)
	}
	if m.metrics != nil {
		for i := range chunks {
			m.metrics.RecordChunkGenerated(chunks[i].Info.Duration.Seconds(), chunks[i].Info.SizeBytes, chunks[i].Info.Confidence)
		}
	}
	return chunks, nil
}

// segmentWithBoundaries runs a detector over the file frame by frame,
// ahead of the chunker, so speech-to-silence transitions can steer the
// cuts. Boundary positions come from the frame offset because detector
// events carry wall-clock timestamps, not stream positions.
func (m *Manager) segmentWithBoundaries(chunker *audio.Chunker, samples []float32, cfg *config.Config) ([]audio.Chunk, error) {
	vadConfig := cfg.VAD
	vadConfig.SampleRate = cfg.Audio.SampleRate
	detector, err := vad.NewDetector(vadConfig)
	if err != nil {
		return nil, err
	}

	frameSize := vadConfig.FrameSize()
	rate := float64(cfg.Audio.SampleRate)
	base := time.Now()

	var chunks []audio.Chunk
	for offset := 0; offset < len(samples); offset += frameSize {
		end := offset + frameSize
		if end > len(samples) {
			end = len(samples)
		}
		streamPos := time.Duration(float64(end) / rate * float64(time.Second))
		detector.ProcessFrame(samples[offset:end], base.Add(streamPos))

	drain:
		for {
			select {
			case event := <-detector.Events():
				if event.Type == vad.EventSpeechEnd {
					chunker.NoteSpeechEnd(streamPos)
				}
			default:
				break drain
			}
		}

		out, err := chunker.AddAudioData(samples[offset:end])
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, out...)
	}
	return chunks, nil
}

// transcribeFileChunks fans chunk transcription out over an errgroup
// with bounded parallelism, skipping silence chunks, and assembles the
// ordered segment list.
func (m *Manager) transcribeFileChunks(ctx context.Context, cfg *config.Config, chunks []audio.Chunk, result *FileResult) error {
	segments := make([]FileSegment, len(chunks))
	results := make([]*transcription.Result, len(chunks))
	failures := make([]error, len(chunks))

	group, groupCtx := errgroup.WithContext(ctx)
	limit := cfg.Transcription.MaxConcurrent
	if limit < 1 {
		limit = 1
	}
	group.SetLimit(limit)

	for i := range chunks {
		chunk := &chunks[i]
		segments[i] = FileSegment{
			ChunkID:    chunk.Info.ID,
			Index:      chunk.Info.Index,
			StartTime:  chunk.Info.StartTime,
			Duration:   chunk.Info.Duration,
			Type:       chunk.Info.TypeName,
			HasSpeech:  chunk.Info.HasSpeech,
			ChunkScore: chunk.Info.Confidence,
		}

		if m.transcriber == nil || chunk.Info.Type == audio.ChunkSilence {
			segments[i].Skipped = true
			continue
		}

		index := i
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			res, err := m.transcribeChunk(groupCtx, cfg, chunks[index])
			if err != nil {
				failures[index] = err
				return nil
			}
			results[index] = res
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return err
	}

	var confidenceSum float64
	for i := range segments {
		switch {
		case segments[i].Skipped:
			result.ChunksSkipped++
		case failures[i] != nil:
			segments[i].Error = failures[i].Error()
			result.ChunksFailed++
		case results[i] != nil:
			segments[i].Text = results[i].Text
			segments[i].Confidence = results[i].Confidence
			result.ChunksTranscribed++
			confidenceSum += results[i].Confidence

			if result.Text != "" && results[i].Text != "" {
				result.Text += " "
			}
			result.Text += results[i].Text
		}
	}
	if result.ChunksTranscribed > 0 {
		result.Confidence = confidenceSum / float64(result.ChunksTranscribed)
	}
	result.Segments = segments
	return nil
}

func (m *Manager) transcribeChunk(ctx context.Context, cfg *config.Config, chunk audio.Chunk) (*transcription.Result, error) {
	data, err := audio.EncodeWAV(chunk.Samples, cfg.Audio.SampleRate)
	if err != nil {
		return nil, err
	}

	request := &transcription.Request{
		ChunkID:    chunk.Info.ID,
		ChunkIndex: chunk.Info.Index,
		AudioData:  data,
		Format:     "wav",
		SampleRate: cfg.Audio.SampleRate,
		Duration:   chunk.Info.Duration,
		StartTime:  chunk.Info.StartTime,
		Confidence: chunk.Info.Confidence,
		Timestamp:  time.Now(),
	}

	if m.metrics != nil {
		m.metrics.RecordTranscriptionRequest()
	}
	started := time.Now()
	result, err := m.transcriber.Transcribe(ctx, request)
	elapsed := time.Since(started)
	if err != nil {
		if m.metrics != nil {
			m.metrics.RecordTranscriptionFailure(elapsed.Seconds())
		}
		m.logger.Error("Chunk transcription failed",
			slog.String("chunk_id", chunk.Info.ID),
			slog.Int("chunk_index", chunk.Info.Index),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	if m.metrics != nil {
		m.metrics.RecordTranscriptionSuccess(elapsed.Seconds())
	}
	return result, nil
}

func (m *Manager) recordFileFailure() {
	m.mu.Lock()
	m.fileFailures++
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.RecordFileFailure()
	}
}

// ConvertFile converts a file between formats, reporting progress
// through the callback.
func (m *Manager) ConvertFile(ctx context.Context, srcPath, dstPath string, settings audio.ConversionSettings, progress func(float64)) error {
	m.mu.RLock()
	converter := m.converter
	m.mu.RUnlock()
	return converter.Convert(ctx, srcPath, dstPath, settings, progress)
}

// AnalyzeFile reads a file and reports its quality analysis.
func (m *Manager) AnalyzeFile(path string) (audio.QualityAnalysis, error) {
	m.mu.RLock()
	converter := m.converter
	m.mu.RUnlock()

	samples, _, err := converter.ReadFile(path)
	if err != nil {
		return audio.QualityAnalysis{}, err
	}
	return audio.AnalyzeQuality(samples)
}

// Config returns the current configuration snapshot.
func (m *Manager) Config() *config.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// UpdateConfig swaps in a new configuration. The streaming processor
// is rebuilt, so the live session must be stopped first.
func (m *Manager) UpdateConfig(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return audio.WrapError(audio.KindConfiguration, "manager.update_config", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.processor.GetStats().Running {
		return audio.NewError(audio.KindInvalidInput, "manager.update_config", "stop live processing before updating configuration")
	}

	processor, err := m.buildProcessor(cfg)
	if err != nil {
		return err
	}
	m.config = cfg
	m.converter = audio.NewConverter(cfg.Audio.SampleRate, m.logger)
	m.processor = processor

	m.logger.Info("Configuration updated")
	return nil
}

// GetStatistics aggregates component statistics into one report.
func (m *Manager) GetStatistics() Statistics {
	m.mu.RLock()
	processor := m.processor
	stats := Statistics{
		FilesProcessed: m.filesProcessed,
		FileFailures:   m.fileFailures,
	}
	if m.qualityKnown {
		stats.QualityTier = m.qualityTier.String()
	}
	m.mu.RUnlock()

	stats.Streaming = processor.GetStats()

	if client, ok := m.transcriber.(interface{ GetStats() transcription.ClientStats }); ok {
		clientStats := client.GetStats()
		stats.Transcription = &clientStats
	}
	return stats
}

// Close releases the transcription backend.
func (m *Manager) Close() error {
	if m.transcriber == nil {
		return nil
	}
	if err := m.transcriber.Close(); err != nil {
		return fmt.Errorf("closing transcriber: %w", err)
	}
	return nil
}
