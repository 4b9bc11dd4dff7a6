package stream

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/audiopipe/audio-prep-service/internal/audio"
	"github.com/audiopipe/audio-prep-service/internal/metrics"
	"github.com/audiopipe/audio-prep-service/internal/transcription"
	"github.com/audiopipe/audio-prep-service/internal/vad"
)

// watchdogInterval is how often the silence watchdog checks the time
// since the last detected voice activity.
const watchdogInterval = 100 * time.Millisecond

// eventQueueSize bounds the processor event channel. Events beyond the
// bound are dropped and counted rather than blocking the audio path.
const eventQueueSize = 64

// Config controls the real-time processing path.
type Config struct {
	SampleRate         int
	ChunkDuration      time.Duration
	OverlapDuration    time.Duration
	SilenceThreshold   float64
	MaxSilenceDuration time.Duration
	VADEnabled         bool
	// VADThreshold is a frame-energy floor applied on top of the
	// detector verdict. Frames the detector accepts but whose energy
	// stays below it do not reset the silence watchdog.
	VADThreshold  float64
	MaxConcurrent int
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.ChunkDuration <= 0 {
		return fmt.Errorf("chunk_duration must be positive, got %v", c.ChunkDuration)
	}
	if c.OverlapDuration < 0 || c.OverlapDuration >= c.ChunkDuration {
		return fmt.Errorf("overlap_duration %v must be in [0, chunk_duration)", c.OverlapDuration)
	}
	if c.SilenceThreshold < 0 {
		return fmt.Errorf("silence_threshold must be non-negative, got %v", c.SilenceThreshold)
	}
	if c.MaxSilenceDuration <= 0 {
		return fmt.Errorf("max_silence_duration must be positive, got %v", c.MaxSilenceDuration)
	}
	if c.VADThreshold < 0 {
		return fmt.Errorf("vad_threshold must be non-negative, got %v", c.VADThreshold)
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", c.MaxConcurrent)
	}
	return nil
}

// EventType identifies processor events.
type EventType int

const (
	EventSpeechStart EventType = iota
	EventSpeechEnd
	EventVoiceActivityEnded
	EventChunkDispatched
)

func (t EventType) String() string {
	switch t {
	case EventSpeechStart:
		return "speech_start"
	case EventSpeechEnd:
		return "speech_end"
	case EventVoiceActivityEnded:
		return "voice_activity_ended"
	case EventChunkDispatched:
		return "chunk_dispatched"
	default:
		return "unknown"
	}
}

// Event is a processor notification delivered over the Events channel.
// Chunk is set for chunk events only.
type Event struct {
	Type      EventType
	Chunk     *audio.ChunkInfo
	Timestamp time.Time
}

// FinalResult is the consolidated outcome of one streaming session,
// synthesized from the per-chunk transcription results received before
// the session stopped.
type FinalResult struct {
	Text              string                  `json:"text"`
	Confidence        float64                 `json:"confidence"`
	Segments          []transcription.Segment `json:"segments,omitempty"`
	Duration          time.Duration           `json:"duration"`
	ChunksTotal       int                     `json:"chunks_total"`
	ChunksTranscribed int                     `json:"chunks_transcribed"`
	ChunksFailed      int                     `json:"chunks_failed"`
	ChunkResults      []*transcription.Result `json:"chunk_results,omitempty"`
}

// Stats is a snapshot of processor counters.
type Stats struct {
	Running              bool      `json:"running"`
	SamplesProcessed     uint64    `json:"samples_processed"`
	ProcessedSeconds     float64   `json:"processed_seconds"`
	ChunksGenerated      uint64    `json:"chunks_generated"`
	ChunksDispatched     uint64    `json:"chunks_dispatched"`
	SilenceChunksSkipped uint64    `json:"silence_chunks_skipped"`
	TranscriptionsOK     uint64    `json:"transcriptions_ok"`
	TranscriptionsFailed uint64    `json:"transcriptions_failed"`
	ResultsDiscarded     uint64    `json:"results_discarded"`
	DroppedEvents        uint64    `json:"dropped_events"`
	LastVoiceActivity    time.Time `json:"last_voice_activity"`
}

// chunkResult pairs a transcription result with the stream position of
// its chunk so segments can be offset into stream time.
type chunkResult struct {
	start  time.Duration
	result *transcription.Result
}

// Processor drives the real-time path: frames in, voice activity
// tracking, overlapping chunk formation, and bounded-concurrency
// transcription dispatch. One Processor handles one session; frames
// must arrive in order.
type Processor struct {
	config      Config
	vadConfig   vad.Config
	transcriber transcription.Transcriber
	logger      *slog.Logger
	metrics     *metrics.Metrics

	mu      sync.Mutex
	running bool
	epoch   uint64

	detector *vad.Detector
	chunker  *audio.Chunker

	framePending []float32
	streamPos    int64 // total samples accepted this session

	lastVoice       time.Time
	silenceNotified bool

	sem        chan struct{}
	dispatchWG sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc

	collected []chunkResult

	events        chan Event
	droppedEvents uint64

	samplesProcessed     uint64
	chunksGenerated      uint64
	chunksDispatched     uint64
	silenceChunksSkipped uint64
	transcriptionsOK     uint64
	transcriptionsFailed uint64
	resultsDiscarded     uint64
}

// NewProcessor creates a streaming processor. The transcriber may be
// nil, in which case chunks are formed and classified but never
// dispatched. The metrics registry may also be nil.
func NewProcessor(config Config, vadConfig vad.Config, transcriber transcription.Transcriber, logger *slog.Logger, m *metrics.Metrics) (*Processor, error) {
	if err := config.Validate(); err != nil {
		return nil, audio.WrapError(audio.KindConfiguration, "stream.new", err)
	}

	var detector *vad.Detector
	if config.VADEnabled {
		vadConfig.SampleRate = config.SampleRate
		d, err := vad.NewDetector(vadConfig)
		if err != nil {
			return nil, audio.WrapError(audio.KindConfiguration, "stream.new", err)
		}
		detector = d
	}

	chunker, err := audio.NewChunker(audio.ChunkerConfig{
		SampleRate:       config.SampleRate,
		ChunkDuration:    config.ChunkDuration,
		OverlapDuration:  config.OverlapDuration,
		SilenceThreshold: config.SilenceThreshold,
	})
	if err != nil {
		return nil, audio.WrapError(audio.KindConfiguration, "stream.new", err)
	}

	return &Processor{
		config:      config,
		vadConfig:   vadConfig,
		transcriber: transcriber,
		logger:      logger,
		metrics:     m,
		detector:    detector,
		chunker:     chunker,
		sem:         make(chan struct{}, config.MaxConcurrent),
		events:      make(chan Event, eventQueueSize),
	}, nil
}

// Events returns the processor notification channel.
func (p *Processor) Events() <-chan Event {
	return p.events
}

// Start begins a streaming session. The processor must be stopped (or
// freshly created) before it can be started.
func (p *Processor) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("stream processor already running")
	}

	p.resetSessionLocked()
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.running = true

	go p.silenceWatchdog(p.ctx)

	p.logger.Info("Streaming session started",
		slog.Float64("chunk_duration", p.config.ChunkDuration.Seconds()),
		slog.Float64("overlap_duration", p.config.OverlapDuration.Seconds()),
		slog.Bool("vad_enabled", p.config.VADEnabled),
		slog.Int("max_concurrent", p.config.MaxConcurrent),
	)
	return nil
}

// ProcessAudio ingests one buffer of canonical-format samples. Frames
// are scored for voice activity and accumulated; completed chunks are
// dispatched for transcription without blocking the caller beyond the
// synchronous per-frame work.
func (p *Processor) ProcessAudio(samples []float32) error {
	if len(samples) == 0 {
		return audio.NewError(audio.KindInvalidInput, "stream.process", "empty sample buffer")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return audio.NewError(audio.KindComponentNotReady, "stream.process", "processor is not running")
	}

	now := time.Now()
	p.samplesProcessed += uint64(len(samples))
	p.streamPos += int64(len(samples))

	if p.detector != nil {
		p.runVADLocked(samples, now)
	} else if bufferLevel(samples) > p.config.SilenceThreshold {
		p.noteVoiceLocked(now)
	}

	chunks, err := p.chunker.AddAudioData(samples)
	if err != nil {
		return err
	}
	for i := range chunks {
		p.dispatchLocked(chunks[i])
	}
	return nil
}

// runVADLocked slices pending audio into detector-sized frames and
// feeds them through the detector, forwarding its events.
func (p *Processor) runVADLocked(samples []float32, now time.Time) {
	frameSize := p.vadConfig.FrameSize()
	p.framePending = append(p.framePending, samples...)

	for len(p.framePending) >= frameSize {
		frame := p.framePending[:frameSize]
		start := time.Now()
		result := p.detector.ProcessFrame(frame, now)
		if p.metrics != nil {
			p.metrics.RecordVADFrame(result.IsSpeech, time.Since(start).Seconds())
		}
		if result.IsSpeech && result.Energy >= p.config.VADThreshold {
			p.noteVoiceLocked(now)
		}
		p.framePending = p.framePending[frameSize:]
		p.forwardDetectorEventsLocked()
	}

	// Keep the remainder in a fresh slice so the retained tail does not
	// pin the caller's buffer.
	if len(p.framePending) > 0 {
		tail := make([]float32, len(p.framePending))
		copy(tail, p.framePending)
		p.framePending = tail
	} else {
		p.framePending = nil
	}
}

// forwardDetectorEventsLocked drains the detector event queue and
// re-emits speech boundaries as processor events.
func (p *Processor) forwardDetectorEventsLocked() {
	for {
		select {
		case ev := <-p.detector.Events():
			switch ev.Type {
			case vad.EventSpeechStart:
				p.emitLocked(Event{Type: EventSpeechStart, Timestamp: ev.Timestamp})
			case vad.EventSpeechEnd:
				if p.metrics != nil {
					p.metrics.RecordSpeechSegment()
				}
				p.emitLocked(Event{Type: EventSpeechEnd, Timestamp: ev.Timestamp})
			}
		default:
			return
		}
	}
}

// noteVoiceLocked records voice activity and re-arms the silence
// watchdog.
func (p *Processor) noteVoiceLocked(now time.Time) {
	p.lastVoice = now
	p.silenceNotified = false
}

// dispatchLocked records a formed chunk and hands it to the bounded
// transcription pool. Silence chunks are counted but not dispatched.
func (p *Processor) dispatchLocked(chunk audio.Chunk) {
	p.chunksGenerated++
	if p.metrics != nil {
		p.metrics.RecordChunkGenerated(chunk.Info.Duration.Seconds(), chunk.Info.SizeBytes, chunk.Info.Confidence)
	}

	if chunk.Info.Type == audio.ChunkSilence {
		p.silenceChunksSkipped++
		return
	}
	if p.transcriber == nil {
		return
	}

	p.chunksDispatched++
	info := chunk.Info
	p.emitLocked(Event{Type: EventChunkDispatched, Chunk: &info, Timestamp: time.Now()})

	epoch := p.epoch
	p.dispatchWG.Add(1)
	go p.transcribeChunk(p.ctx, chunk, epoch)

	p.logger.Debug("Chunk dispatched for transcription",
		slog.String("chunk_id", info.ID),
		slog.Int("chunk_index", info.Index),
		slog.String("type", info.TypeName),
		slog.Float64("duration", info.Duration.Seconds()),
		slog.Float64("confidence", info.Confidence),
	)
}

// transcribeChunk runs in its own goroutine; the semaphore bounds how
// many chunks are in flight at once, excess work queues here.
func (p *Processor) transcribeChunk(ctx context.Context, chunk audio.Chunk, epoch uint64) {
	defer p.dispatchWG.Done()

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		p.mu.Lock()
		p.resultsDiscarded++
		p.mu.Unlock()
		return
	}
	defer func() { <-p.sem }()

	data, err := audio.EncodeWAV(chunk.Samples, p.config.SampleRate)
	if err != nil {
		p.recordFailure(chunk.Info, err)
		return
	}

	request := &transcription.Request{
		ChunkID:    chunk.Info.ID,
		ChunkIndex: chunk.Info.Index,
		AudioData:  data,
		Format:     "wav",
		SampleRate: p.config.SampleRate,
		Duration:   chunk.Info.Duration,
		StartTime:  chunk.Info.StartTime,
		Confidence: chunk.Info.Confidence,
		Timestamp:  time.Now(),
	}

	if p.metrics != nil {
		p.metrics.RecordTranscriptionRequest()
	}
	start := time.Now()
	result, err := p.transcriber.Transcribe(ctx, request)
	elapsed := time.Since(start)

	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordTranscriptionFailure(elapsed.Seconds())
		}
		p.recordFailure(chunk.Info, err)
		return
	}
	if p.metrics != nil {
		p.metrics.RecordTranscriptionSuccess(elapsed.Seconds())
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.epoch != epoch {
		p.resultsDiscarded++
		return
	}
	p.transcriptionsOK++
	p.collected = append(p.collected, chunkResult{start: chunk.Info.StartTime, result: result})
}

func (p *Processor) recordFailure(info audio.ChunkInfo, err error) {
	p.mu.Lock()
	p.transcriptionsFailed++
	p.mu.Unlock()

	p.logger.Error("Chunk transcription failed",
		slog.String("chunk_id", info.ID),
		slog.Int("chunk_index", info.Index),
		slog.String("error", err.Error()),
	)
}

// Stop ends the session. Any buffered tail is flushed as a final chunk
// and dispatched, then in-flight transcriptions are given until ctx
// expires to complete. Results arriving after Stop returns are
// discarded. The consolidated result covers everything received.
func (p *Processor) Stop(ctx context.Context) (*FinalResult, error) {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil, audio.NewError(audio.KindComponentNotReady, "stream.stop", "processor is not running")
	}

	if final := p.chunker.Finalize(); final != nil {
		p.dispatchLocked(*final)
	}
	p.running = false
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.dispatchWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	p.mu.Lock()
	p.epoch++
	p.cancel()
	result := p.consolidateLocked()
	p.collected = nil
	p.mu.Unlock()

	p.logger.Info("Streaming session stopped",
		slog.Int("chunks_total", result.ChunksTotal),
		slog.Int("chunks_transcribed", result.ChunksTranscribed),
		slog.Int("chunks_failed", result.ChunksFailed),
		slog.Float64("duration", result.Duration.Seconds()),
		slog.Float64("confidence", result.Confidence),
	)
	return result, nil
}

// consolidateLocked assembles the final result from per-chunk
// transcriptions, ordered by chunk index, with segment times offset
// into stream time.
func (p *Processor) consolidateLocked() *FinalResult {
	sort.Slice(p.collected, func(i, j int) bool {
		return p.collected[i].result.ChunkIndex < p.collected[j].result.ChunkIndex
	})

	result := &FinalResult{
		Duration:          p.sampleDuration(p.streamPos),
		ChunksTotal:       int(p.chunksGenerated),
		ChunksTranscribed: len(p.collected),
		ChunksFailed:      int(p.transcriptionsFailed),
	}

	var confidenceSum float64
	for _, cr := range p.collected {
		if result.Text != "" && cr.result.Text != "" {
			result.Text += " "
		}
		result.Text += cr.result.Text
		confidenceSum += cr.result.Confidence
		result.ChunkResults = append(result.ChunkResults, cr.result)

		offset := cr.start.Seconds()
		for _, seg := range cr.result.Segments {
			result.Segments = append(result.Segments, transcription.Segment{
				Start:      seg.Start + offset,
				End:        seg.End + offset,
				Text:       seg.Text,
				Confidence: seg.Confidence,
			})
		}
	}
	if len(p.collected) > 0 {
		result.Confidence = confidenceSum / float64(len(p.collected))
	}
	return result
}

// silenceWatchdog raises a voice-activity-ended notification when the
// wall-clock gap since the last voice activity exceeds the configured
// maximum. It re-arms when voice resumes.
func (p *Processor) silenceWatchdog(ctx context.Context) {
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.checkSilence()
		}
	}
}

func (p *Processor) checkSilence() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running || p.lastVoice.IsZero() || p.silenceNotified {
		return
	}
	gap := time.Since(p.lastVoice)
	if gap < p.config.MaxSilenceDuration {
		return
	}
	p.silenceNotified = true
	p.emitLocked(Event{Type: EventVoiceActivityEnded, Timestamp: time.Now()})

	p.logger.Info("Voice activity ended",
		slog.Float64("silence_seconds", gap.Seconds()),
		slog.Float64("max_silence", p.config.MaxSilenceDuration.Seconds()),
	)
}

// emitLocked delivers an event without blocking; dropped events are
// counted.
func (p *Processor) emitLocked(event Event) {
	select {
	case p.events <- event:
	default:
		p.droppedEvents++
	}
}

// LastVADResult returns the most recent detector result. The second
// return is false when VAD is disabled or no frame has been scored
// yet.
func (p *Processor) LastVADResult() (vad.Result, bool) {
	if p.detector == nil {
		return vad.Result{}, false
	}
	result := p.detector.LastResult()
	if result.Timestamp.IsZero() {
		return vad.Result{}, false
	}
	return result, true
}

// GetStats returns a snapshot of the processor counters.
func (p *Processor) GetStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		Running:              p.running,
		SamplesProcessed:     p.samplesProcessed,
		ProcessedSeconds:     p.sampleDuration(int64(p.samplesProcessed)).Seconds(),
		ChunksGenerated:      p.chunksGenerated,
		ChunksDispatched:     p.chunksDispatched,
		SilenceChunksSkipped: p.silenceChunksSkipped,
		TranscriptionsOK:     p.transcriptionsOK,
		TranscriptionsFailed: p.transcriptionsFailed,
		ResultsDiscarded:     p.resultsDiscarded,
		DroppedEvents:        p.droppedEvents,
		LastVoiceActivity:    p.lastVoice,
	}
}

// Reset restores the processor to its initial state. The processor
// must be stopped first.
func (p *Processor) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("cannot reset a running processor")
	}
	p.resetSessionLocked()
	p.samplesProcessed = 0
	p.chunksGenerated = 0
	p.chunksDispatched = 0
	p.silenceChunksSkipped = 0
	p.transcriptionsOK = 0
	p.transcriptionsFailed = 0
	p.resultsDiscarded = 0
	return nil
}

// resetSessionLocked clears per-session state ahead of a new session.
func (p *Processor) resetSessionLocked() {
	if p.detector != nil {
		p.detector.Reset()
	}
	p.chunker.Reset()
	p.framePending = nil
	p.streamPos = 0
	p.lastVoice = time.Time{}
	p.silenceNotified = false
	p.collected = nil
}

func (p *Processor) sampleDuration(samples int64) time.Duration {
	return time.Duration(float64(samples) / float64(p.config.SampleRate) * float64(time.Second))
}

// bufferLevel is the RMS level of a sample buffer.
func bufferLevel(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
