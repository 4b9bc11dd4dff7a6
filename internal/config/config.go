package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/audiopipe/audio-prep-service/internal/vad"
)

// Config represents the complete service configuration.
type Config struct {
	Ingest        IngestConfig        `yaml:"ingest"`
	HTTP          HTTPConfig          `yaml:"http"`
	Audio         AudioConfig         `yaml:"audio"`
	VAD           vad.Config          `yaml:"vad"`
	Preprocessing PreprocessingConfig `yaml:"preprocessing"`
	Chunking      ChunkingConfig      `yaml:"chunking"`
	Streaming     StreamingConfig     `yaml:"streaming"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// IngestConfig contains the UDP ingest listener configuration.
type IngestConfig struct {
	Enabled     bool   `yaml:"enabled"`
	UDPPort     int    `yaml:"udp_port"`
	BindAddress string `yaml:"bind_address"`
	BufferSize  int    `yaml:"buffer_size"`
}

// HTTPConfig contains the HTTP API server configuration.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
}

// AudioConfig contains the canonical audio format parameters.
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
	BitDepth   int `yaml:"bit_depth"`
}

// PreprocessingConfig selects the conditioning preset.
type PreprocessingConfig struct {
	Enabled bool `yaml:"enabled"`
	// Preset is "minimal", "default", "aggressive", or "auto". With
	// "auto" the pipeline picks a preset from quality analysis.
	Preset string `yaml:"preset"`
}

// ChunkingConfig contains file chunking parameters.
type ChunkingConfig struct {
	ChunkDuration     float64 `yaml:"chunk_duration"`     // seconds
	OverlapDuration   float64 `yaml:"overlap_duration"`   // seconds
	MinChunkDuration  float64 `yaml:"min_chunk_duration"` // seconds
	MaxChunkSize      int     `yaml:"max_chunk_size"`     // bytes
	EnableSmartSplit  bool    `yaml:"enable_smart_split"`
	EnableVADChunking bool    `yaml:"enable_vad_chunking"`
	PreserveContext   bool    `yaml:"preserve_context"`
	BoundaryTolerance float64 `yaml:"boundary_tolerance"` // seconds
}

// StreamingConfig contains real-time processing parameters.
type StreamingConfig struct {
	ChunkDuration           float64 `yaml:"chunk_duration"`       // seconds
	OverlapDuration         float64 `yaml:"overlap_duration"`     // seconds
	SilenceThreshold        float64 `yaml:"silence_threshold"`    // linear RMS
	MaxSilenceDuration      float64 `yaml:"max_silence_duration"` // seconds
	MaxConcurrentOperations int     `yaml:"max_concurrent_operations"`
	VADEnabled              bool    `yaml:"vad_enabled"`
	VADThreshold            float64 `yaml:"vad_threshold"` // frame energy floor
}

// TranscriptionConfig contains transcription backend configuration.
type TranscriptionConfig struct {
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
	Language      string `yaml:"language"`
	Model         string `yaml:"model"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the full default configuration. Load unmarshals the
// file over these values, so a partial file only overrides what it
// names.
func Default() *Config {
	return &Config{
		Ingest: IngestConfig{
			Enabled:     true,
			UDPPort:     5060,
			BindAddress: "0.0.0.0",
			BufferSize:  65536,
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Port:    8080,
			Address: "0.0.0.0",
		},
		Audio: AudioConfig{
			SampleRate: 16000,
			Channels:   1,
			BitDepth:   16,
		},
		VAD: vad.DefaultConfig(),
		Preprocessing: PreprocessingConfig{
			Enabled: true,
			Preset:  "auto",
		},
		Chunking: ChunkingConfig{
			ChunkDuration:     30.0,
			OverlapDuration:   2.0,
			MinChunkDuration:  5.0,
			MaxChunkSize:      50 * 1024 * 1024,
			EnableSmartSplit:  true,
			EnableVADChunking: true,
			PreserveContext:   true,
			BoundaryTolerance: 0.5,
		},
		Streaming: StreamingConfig{
			ChunkDuration:           2.0,
			OverlapDuration:         0.5,
			SilenceThreshold:        0.01,
			MaxSilenceDuration:      3.0,
			MaxConcurrentOperations: 2,
			VADEnabled:              true,
			VADThreshold:            0.01,
		},
		Transcription: TranscriptionConfig{
			Timeout:       30,
			MaxRetries:    3,
			MaxConcurrent: 4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file, applying defaults for
// anything the file omits.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration.
func (c *Config) Validate() error {
	if err := c.Ingest.Validate(); err != nil {
		return fmt.Errorf("ingest config: %w", err)
	}
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}
	if err := c.Preprocessing.Validate(); err != nil {
		return fmt.Errorf("preprocessing config: %w", err)
	}
	if err := c.Chunking.Validate(); err != nil {
		return fmt.Errorf("chunking config: %w", err)
	}
	if err := c.Streaming.Validate(); err != nil {
		return fmt.Errorf("streaming config: %w", err)
	}
	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if c.VAD.SampleRate != c.Audio.SampleRate {
		return fmt.Errorf("vad sample_rate %d must match audio sample_rate %d", c.VAD.SampleRate, c.Audio.SampleRate)
	}

	return nil
}

// Validate checks the ingest section.
func (c *IngestConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.UDPPort < 1 || c.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be between 1 and 65535, got %d", c.UDPPort)
	}
	if c.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}
	if c.BufferSize < 1024 {
		return fmt.Errorf("buffer_size must be at least 1024 bytes, got %d", c.BufferSize)
	}
	return nil
}

// Validate checks the HTTP section.
func (c *HTTPConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	return nil
}

// Validate checks the audio section.
func (c *AudioConfig) Validate() error {
	switch c.SampleRate {
	case 8000, 16000, 22050, 44100, 48000:
	default:
		return fmt.Errorf("unsupported sample_rate: %d", c.SampleRate)
	}
	if c.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono pipeline), got %d", c.Channels)
	}
	if c.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16, got %d", c.BitDepth)
	}
	return nil
}

// Validate checks the preprocessing section.
func (c *PreprocessingConfig) Validate() error {
	switch c.Preset {
	case "auto", "minimal", "default", "aggressive":
		return nil
	default:
		return fmt.Errorf("preset must be auto, minimal, default, or aggressive, got %q", c.Preset)
	}
}

// Validate checks the chunking section.
func (c *ChunkingConfig) Validate() error {
	if c.ChunkDuration <= 0 {
		return fmt.Errorf("chunk_duration must be positive, got %v", c.ChunkDuration)
	}
	if c.OverlapDuration < 0 || c.OverlapDuration >= c.ChunkDuration {
		return fmt.Errorf("overlap_duration must be in [0, chunk_duration), got %v", c.OverlapDuration)
	}
	if c.MinChunkDuration < 0 || c.MinChunkDuration > c.ChunkDuration {
		return fmt.Errorf("min_chunk_duration must be in [0, chunk_duration], got %v", c.MinChunkDuration)
	}
	if c.MaxChunkSize <= 0 {
		return fmt.Errorf("max_chunk_size must be positive, got %d", c.MaxChunkSize)
	}
	if c.EnableSmartSplit && c.BoundaryTolerance <= 0 {
		return fmt.Errorf("boundary_tolerance must be positive when smart splitting is enabled")
	}
	return nil
}

// Validate checks the streaming section.
func (c *StreamingConfig) Validate() error {
	if c.ChunkDuration <= 0 {
		return fmt.Errorf("chunk_duration must be positive, got %v", c.ChunkDuration)
	}
	if c.OverlapDuration < 0 || c.OverlapDuration >= c.ChunkDuration {
		return fmt.Errorf("overlap_duration must be in [0, chunk_duration), got %v", c.OverlapDuration)
	}
	if c.SilenceThreshold < 0 || c.SilenceThreshold > 1 {
		return fmt.Errorf("silence_threshold must be in [0, 1], got %v", c.SilenceThreshold)
	}
	if c.MaxSilenceDuration <= 0 {
		return fmt.Errorf("max_silence_duration must be positive, got %v", c.MaxSilenceDuration)
	}
	if c.MaxConcurrentOperations < 1 {
		return fmt.Errorf("max_concurrent_operations must be at least 1, got %d", c.MaxConcurrentOperations)
	}
	if c.VADThreshold < 0 {
		return fmt.Errorf("vad_threshold cannot be negative, got %v", c.VADThreshold)
	}
	return nil
}

// Validate checks the transcription section. The endpoint may be empty,
// in which case the service runs without a backend and chunks are only
// segmented, not transcribed.
func (c *TranscriptionConfig) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %d", c.Timeout)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", c.MaxRetries)
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", c.MaxConcurrent)
	}
	return nil
}

// Validate checks the logging section.
func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("level must be debug, info, warn, or error, got %q", c.Level)
	}
	switch c.Format {
	case "json", "text":
	default:
		return fmt.Errorf("format must be json or text, got %q", c.Format)
	}
	return nil
}

// Duration helpers so callers never re-derive units from the raw
// float fields.

func (c *ChunkingConfig) GetChunkDuration() time.Duration {
	return time.Duration(c.ChunkDuration * float64(time.Second))
}

func (c *ChunkingConfig) GetOverlapDuration() time.Duration {
	return time.Duration(c.OverlapDuration * float64(time.Second))
}

func (c *ChunkingConfig) GetMinChunkDuration() time.Duration {
	return time.Duration(c.MinChunkDuration * float64(time.Second))
}

func (c *ChunkingConfig) GetBoundaryTolerance() time.Duration {
	return time.Duration(c.BoundaryTolerance * float64(time.Second))
}

func (c *StreamingConfig) GetChunkDuration() time.Duration {
	return time.Duration(c.ChunkDuration * float64(time.Second))
}

func (c *StreamingConfig) GetOverlapDuration() time.Duration {
	return time.Duration(c.OverlapDuration * float64(time.Second))
}

func (c *StreamingConfig) GetMaxSilenceDuration() time.Duration {
	return time.Duration(c.MaxSilenceDuration * float64(time.Second))
}

func (c *TranscriptionConfig) GetTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}
