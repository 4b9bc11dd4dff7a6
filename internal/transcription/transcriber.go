package transcription

import (
	"context"
	"time"
)

// Request carries one audio chunk to a transcription backend. AudioData
// holds the encoded payload; the remaining fields are metadata the
// backend may use for alignment and model selection.
type Request struct {
	ChunkID    string        `json:"chunk_id"`
	ChunkIndex int           `json:"chunk_index"`
	AudioData  []byte        `json:"-"`
	Format     string        `json:"format"`
	SampleRate int           `json:"sample_rate"`
	Duration   time.Duration `json:"duration"`
	StartTime  time.Duration `json:"start_time"`
	Confidence float64       `json:"confidence"`
	Language   string        `json:"language,omitempty"`
	Model      string        `json:"model,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Segment is a time-aligned span of transcribed text.
type Segment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Result is a backend's transcription of one chunk.
type Result struct {
	ChunkID     string    `json:"chunk_id"`
	ChunkIndex  int       `json:"chunk_index"`
	Text        string    `json:"text"`
	Confidence  float64   `json:"confidence"`
	Language    string    `json:"language,omitempty"`
	Segments    []Segment `json:"segments,omitempty"`
	Duration    float64   `json:"duration"`
	ProcessedAt time.Time `json:"processed_at"`
}

// Transcriber is the contract between the pipeline and a transcription
// backend. Implementations must be safe for concurrent use; the stream
// processor and the file pipeline both dispatch chunks in parallel.
type Transcriber interface {
	Transcribe(ctx context.Context, request *Request) (*Result, error)
	Close() error
}
