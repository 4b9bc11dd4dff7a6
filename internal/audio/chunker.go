package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ChunkType classifies the content of an emitted chunk.
type ChunkType int

const (
	ChunkSilence ChunkType = iota
	ChunkSpeech
	ChunkMixed
	// ChunkContext marks material carried only for boundary continuity,
	// ChunkPadding marks pre/post roll around a speech segment. The
	// classifier never assigns these; callers that split chunks further
	// may.
	ChunkContext
	ChunkPadding
)

func (t ChunkType) String() string {
	switch t {
	case ChunkSpeech:
		return "speech"
	case ChunkMixed:
		return "mixed"
	case ChunkContext:
		return "context"
	case ChunkPadding:
		return "padding"
	default:
		return "silence"
	}
}

// zcrSpeechThreshold is the minimum zero-crossing rate for a chunk to be
// considered speech-bearing alongside its RMS level.
const zcrSpeechThreshold = 0.05

// speechConfidenceCutoff separates pure speech chunks from mixed ones.
const speechConfidenceCutoff = 0.8

// ChunkInfo describes an emitted chunk without carrying its samples.
type ChunkInfo struct {
	ID              string        `json:"id"`
	Index           int           `json:"index"`
	StartTime       time.Duration `json:"start_time"`
	EndTime         time.Duration `json:"end_time"`
	Duration        time.Duration `json:"duration"`
	SizeBytes       int           `json:"size_bytes"`
	HasSpeech       bool          `json:"has_speech"`
	Confidence      float64       `json:"confidence"`
	OverlapDuration time.Duration `json:"overlap_duration"`
	Type            ChunkType     `json:"-"`
	TypeName        string        `json:"type"`
	Final           bool          `json:"final"`
}

// Chunk is a segment of the input stream. For every chunk after the
// first, the leading OverlapDuration of samples repeats the tail of the
// previous chunk; concatenating each chunk minus its leading overlap
// reconstructs the stream exactly.
type Chunk struct {
	Info    ChunkInfo
	Samples []float32
}

// ChunkerConfig controls segmentation behavior.
type ChunkerConfig struct {
	SampleRate       int
	ChunkDuration    time.Duration
	OverlapDuration  time.Duration
	MinChunkDuration time.Duration
	MaxChunkBytes    int
	SilenceThreshold float64

	// EnableSmartSplitting moves a pending cut back to the most recent
	// speech-end boundary reported via NoteSpeechEnd, when that boundary
	// lies within BoundaryTolerance of the nominal cut point.
	EnableSmartSplitting bool
	BoundaryTolerance    time.Duration
}

// Validate checks the configuration for consistency.
func (c ChunkerConfig) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.ChunkDuration <= 0 {
		return fmt.Errorf("chunk_duration must be positive, got %v", c.ChunkDuration)
	}
	if c.OverlapDuration < 0 {
		return fmt.Errorf("overlap_duration must be non-negative, got %v", c.OverlapDuration)
	}
	if c.OverlapDuration >= c.ChunkDuration {
		return fmt.Errorf("overlap_duration %v must be shorter than chunk_duration %v", c.OverlapDuration, c.ChunkDuration)
	}
	if c.MinChunkDuration < 0 || c.MinChunkDuration > c.ChunkDuration {
		return fmt.Errorf("min_chunk_duration %v must be in [0, chunk_duration]", c.MinChunkDuration)
	}
	if c.SilenceThreshold < 0 {
		return fmt.Errorf("silence_threshold must be non-negative, got %v", c.SilenceThreshold)
	}
	if c.EnableSmartSplitting && c.BoundaryTolerance <= 0 {
		return fmt.Errorf("boundary_tolerance must be positive when smart splitting is enabled")
	}
	return nil
}

// Chunker accumulates samples and emits fixed-duration chunks with a
// configurable overlap carried between consecutive chunks.
type Chunker struct {
	config ChunkerConfig

	mu            sync.Mutex
	buffer        []float32
	bufferStart   int64 // stream position of buffer[0], in samples
	index         int
	ledger        []ChunkInfo
	lastSpeechEnd int64 // stream position of last reported speech end, -1 if none
	finalized     bool

	targetSamples  int
	overlapSamples int
	minSamples     int

	totalChunks      uint64
	speechChunks     uint64
	silenceChunks    uint64
	mixedChunks      uint64
	chunkDurationSum time.Duration
	emittedThrough   int64 // stream position covered by emitted chunks
}

// NewChunker creates a chunker. If MaxChunkBytes caps the chunk below
// its nominal duration, the effective chunk duration shrinks to fit.
func NewChunker(config ChunkerConfig) (*Chunker, error) {
	const op = "audio.NewChunker"

	if err := config.Validate(); err != nil {
		return nil, WrapError(KindConfiguration, op, err)
	}

	target := int(config.ChunkDuration.Seconds() * float64(config.SampleRate))
	overlap := int(config.OverlapDuration.Seconds() * float64(config.SampleRate))
	if config.MaxChunkBytes > 0 {
		if maxSamples := config.MaxChunkBytes / 4; maxSamples < target {
			target = maxSamples
		}
	}
	if target <= overlap {
		return nil, NewError(KindConfiguration, op, "max_chunk_bytes leaves no room beyond the overlap")
	}

	return &Chunker{
		config:         config,
		lastSpeechEnd:  -1,
		targetSamples:  target,
		overlapSamples: overlap,
		minSamples:     int(config.MinChunkDuration.Seconds() * float64(config.SampleRate)),
	}, nil
}

// AddAudioData appends samples to the accumulation buffer and returns
// any chunks that became complete. The input slice is copied.
func (c *Chunker) AddAudioData(samples []float32) ([]Chunk, error) {
	const op = "audio.Chunker.AddAudioData"

	if len(samples) == 0 {
		return nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.finalized {
		return nil, NewError(KindComponentNotReady, op, "chunker already finalized")
	}

	c.buffer = append(c.buffer, samples...)

	var chunks []Chunk
	for len(c.buffer) >= c.targetSamples {
		cut := c.targetSamples
		if c.config.EnableSmartSplitting {
			cut = c.adjustCutToBoundary(cut)
		}
		chunks = append(chunks, c.emitLocked(cut, false))
	}
	return chunks, nil
}

// NoteSpeechEnd records a speech-to-silence transition at the given
// stream offset. Smart splitting prefers cutting at these boundaries.
func (c *Chunker) NoteSpeechEnd(at time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSpeechEnd = int64(at.Seconds() * float64(c.config.SampleRate))
}

// adjustCutToBoundary moves the nominal cut back to the last reported
// speech end when it falls within the boundary tolerance and still
// satisfies the minimum chunk duration.
func (c *Chunker) adjustCutToBoundary(cut int) int {
	if c.lastSpeechEnd < 0 {
		return cut
	}

	boundary := int(c.lastSpeechEnd - c.bufferStart)
	tolerance := int(c.config.BoundaryTolerance.Seconds() * float64(c.config.SampleRate))

	if boundary <= 0 || boundary > cut || cut-boundary > tolerance {
		return cut
	}
	if boundary < c.minSamples || boundary <= c.overlapSamples {
		return cut
	}
	return boundary
}

// emitLocked slices a chunk of cut samples off the buffer, retains the
// overlap tail, and classifies the chunk.
func (c *Chunker) emitLocked(cut int, final bool) Chunk {
	samples := make([]float32, cut)
	copy(samples, c.buffer[:cut])

	rate := float64(c.config.SampleRate)
	start := time.Duration(float64(c.bufferStart) / rate * float64(time.Second))
	end := time.Duration(float64(c.bufferStart+int64(cut)) / rate * float64(time.Second))

	overlap := time.Duration(0)
	if c.index > 0 {
		overlap = c.config.OverlapDuration
	}

	info := ChunkInfo{
		ID:              uuid.New().String(),
		Index:           c.index,
		StartTime:       start,
		EndTime:         end,
		Duration:        end - start,
		SizeBytes:       cut * 4,
		OverlapDuration: overlap,
		Final:           final,
	}
	c.classify(samples, &info)

	c.emittedThrough = c.bufferStart + int64(cut)
	c.chunkDurationSum += info.Duration

	advance := cut - c.overlapSamples
	if final || advance < 0 {
		advance = cut
	}
	c.buffer = append(c.buffer[:0], c.buffer[advance:]...)
	c.bufferStart += int64(advance)
	c.index++

	c.ledger = append(c.ledger, info)
	c.totalChunks++
	switch info.Type {
	case ChunkSpeech:
		c.speechChunks++
	case ChunkMixed:
		c.mixedChunks++
	default:
		c.silenceChunks++
	}

	return Chunk{Info: info, Samples: samples}
}

// classify derives speech presence from RMS level and zero-crossing
// rate, then grades the chunk type from the resulting confidence. The
// chunk is scanned in 100 ms windows so a burst of speech inside an
// otherwise quiet chunk is not diluted below the thresholds.
func (c *Chunker) classify(samples []float32, info *ChunkInfo) {
	window := c.config.SampleRate / 10
	if window < 1 || window > len(samples) {
		window = len(samples)
	}

	var peakRMS float64
	for start := 0; start < len(samples); start += window {
		end := start + window
		if end > len(samples) {
			end = len(samples)
		}
		level := bufferRMS(samples[start:end])
		if level > peakRMS {
			peakRMS = level
		}
		if level > c.config.SilenceThreshold && windowZCR(samples[start:end]) > zcrSpeechThreshold {
			info.HasSpeech = true
		}
	}

	confidence := 0.0
	if c.config.SilenceThreshold > 0 {
		confidence = peakRMS / (c.config.SilenceThreshold * 10)
	} else if peakRMS > 0 {
		confidence = 1
	}
	if confidence > 1 {
		confidence = 1
	}
	info.Confidence = confidence

	switch {
	case info.HasSpeech && confidence > speechConfidenceCutoff:
		info.Type = ChunkSpeech
	case info.HasSpeech:
		info.Type = ChunkMixed
	default:
		info.Type = ChunkSilence
	}
	info.TypeName = info.Type.String()
}

// windowZCR is the sign-change rate of a sample window.
func windowZCR(samples []float32) float64 {
	if len(samples) < 2 {
		return 0
	}
	var crossings int
	for i := 1; i < len(samples); i++ {
		if (samples[i-1] >= 0) != (samples[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(samples)-1)
}

// Finalize flushes any buffered tail as a last, possibly short, chunk.
// It returns nil when nothing remains beyond audio already covered by
// the previous chunk's overlap. The chunker accepts no more data
// afterwards.
func (c *Chunker) Finalize() *Chunk {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.finalized {
		return nil
	}
	c.finalized = true

	remaining := len(c.buffer)
	if remaining == 0 {
		return nil
	}
	if c.index > 0 && remaining <= c.overlapSamples {
		c.buffer = nil
		return nil
	}

	chunk := c.emitLocked(remaining, true)
	c.buffer = nil
	return &chunk
}

// Ledger returns metadata for every chunk emitted so far.
func (c *Chunker) Ledger() []ChunkInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]ChunkInfo, len(c.ledger))
	copy(out, c.ledger)
	return out
}

// ChunkerStats reports cumulative chunker activity. ProcessedRatio is
// the fraction of received audio already covered by emitted chunks;
// audio still waiting in the accumulation buffer counts as unprocessed.
type ChunkerStats struct {
	TotalChunks          uint64        `json:"total_chunks"`
	SpeechChunks         uint64        `json:"speech_chunks"`
	MixedChunks          uint64        `json:"mixed_chunks"`
	SilenceChunks        uint64        `json:"silence_chunks"`
	AverageChunkDuration time.Duration `json:"average_chunk_duration"`
	ProcessedRatio       float64       `json:"processed_ratio"`
	BufferedSamples      int           `json:"buffered_samples"`
	StreamPosition       time.Duration `json:"stream_position"`
}

// GetStats returns a snapshot of chunker statistics.
func (c *Chunker) GetStats() ChunkerStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	rate := float64(c.config.SampleRate)
	stats := ChunkerStats{
		TotalChunks:     c.totalChunks,
		SpeechChunks:    c.speechChunks,
		MixedChunks:     c.mixedChunks,
		SilenceChunks:   c.silenceChunks,
		BufferedSamples: len(c.buffer),
		StreamPosition:  time.Duration(float64(c.bufferStart+int64(len(c.buffer))) / rate * float64(time.Second)),
	}
	if c.totalChunks > 0 {
		stats.AverageChunkDuration = c.chunkDurationSum / time.Duration(c.totalChunks)
	}
	if total := c.bufferStart + int64(len(c.buffer)); total > 0 {
		stats.ProcessedRatio = float64(c.emittedThrough) / float64(total)
	}
	return stats
}

// Reset clears all buffered audio and counters so the chunker can be
// reused for a new stream.
func (c *Chunker) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buffer = nil
	c.bufferStart = 0
	c.index = 0
	c.ledger = nil
	c.lastSpeechEnd = -1
	c.finalized = false
	c.totalChunks = 0
	c.speechChunks = 0
	c.silenceChunks = 0
	c.mixedChunks = 0
	c.chunkDurationSum = 0
	c.emittedThrough = 0
}
