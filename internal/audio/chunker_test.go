package audio

import (
	"testing"
	"time"
)

func testChunkerConfig() ChunkerConfig {
	return ChunkerConfig{
		SampleRate:       16000,
		ChunkDuration:    2 * time.Second,
		OverlapDuration:  500 * time.Millisecond,
		MinChunkDuration: 500 * time.Millisecond,
		SilenceThreshold: 0.01,
	}
}

func TestChunkerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ChunkerConfig)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *ChunkerConfig) {}},
		{name: "zero sample rate", mutate: func(c *ChunkerConfig) { c.SampleRate = 0 }, wantErr: true},
		{name: "zero chunk duration", mutate: func(c *ChunkerConfig) { c.ChunkDuration = 0 }, wantErr: true},
		{name: "negative overlap", mutate: func(c *ChunkerConfig) { c.OverlapDuration = -time.Second }, wantErr: true},
		{name: "overlap exceeds chunk", mutate: func(c *ChunkerConfig) { c.OverlapDuration = 3 * time.Second }, wantErr: true},
		{name: "min exceeds chunk", mutate: func(c *ChunkerConfig) { c.MinChunkDuration = 5 * time.Second }, wantErr: true},
		{name: "negative silence threshold", mutate: func(c *ChunkerConfig) { c.SilenceThreshold = -1 }, wantErr: true},
		{
			name: "smart splitting without tolerance",
			mutate: func(c *ChunkerConfig) {
				c.EnableSmartSplitting = true
				c.BoundaryTolerance = 0
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := testChunkerConfig()
			tt.mutate(&config)
			err := config.Validate()
			if tt.wantErr && err == nil {
				t.Error("Expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Unexpected validation error: %v", err)
			}
		})
	}
}

func TestChunkerOverlapReconstruction(t *testing.T) {
	chunker, err := NewChunker(testChunkerConfig())
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	// A ramp makes every sample unique so stitching errors are visible
	total := 16000 * 5
	input := make([]float32, total)
	for i := range input {
		input[i] = float32(i) / float32(total)
	}

	var chunks []Chunk
	for offset := 0; offset < total; offset += 4000 {
		out, err := chunker.AddAudioData(input[offset : offset+4000])
		if err != nil {
			t.Fatalf("AddAudioData failed: %v", err)
		}
		chunks = append(chunks, out...)
	}
	if final := chunker.Finalize(); final != nil {
		chunks = append(chunks, *final)
	}

	if len(chunks) != 3 {
		t.Fatalf("Expected 3 chunks from 5s at 2s/0.5s, got %d", len(chunks))
	}

	overlapSamples := 8000
	var stitched []float32
	for i, chunk := range chunks {
		samples := chunk.Samples
		if i > 0 {
			if chunk.Info.OverlapDuration != 500*time.Millisecond {
				t.Errorf("Chunk %d: expected overlap metadata, got %v", i, chunk.Info.OverlapDuration)
			}
			samples = samples[overlapSamples:]
		}
		stitched = append(stitched, samples...)
	}

	for i, s := range stitched {
		if s != input[i] {
			t.Fatalf("Reconstruction diverges at sample %d: expected %v, got %v", i, input[i], s)
		}
	}

	// Timestamps must tile the stream with the configured advance
	for i, chunk := range chunks {
		expectedStart := time.Duration(i) * 1500 * time.Millisecond
		if chunk.Info.StartTime != expectedStart {
			t.Errorf("Chunk %d: expected start %v, got %v", i, expectedStart, chunk.Info.StartTime)
		}
		if chunk.Info.Duration != 2*time.Second {
			t.Errorf("Chunk %d: expected 2s duration, got %v", i, chunk.Info.Duration)
		}
	}
}

func TestChunkerFinalizeShortInput(t *testing.T) {
	chunker, err := NewChunker(testChunkerConfig())
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	out, err := chunker.AddAudioData(make([]float32, 16000))
	if err != nil {
		t.Fatalf("AddAudioData failed: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("Expected no chunks before finalize, got %d", len(out))
	}

	final := chunker.Finalize()
	if final == nil {
		t.Fatal("Expected a final chunk for buffered audio")
	}
	if !final.Info.Final {
		t.Error("Final chunk not marked final")
	}
	if len(final.Samples) != 16000 {
		t.Errorf("Expected 16000 samples, got %d", len(final.Samples))
	}
	if final.Info.Duration != time.Second {
		t.Errorf("Expected 1s duration, got %v", final.Info.Duration)
	}

	if _, err := chunker.AddAudioData(make([]float32, 100)); !IsKind(err, KindComponentNotReady) {
		t.Errorf("Expected component not ready error after finalize, got %v", err)
	}
	if again := chunker.Finalize(); again != nil {
		t.Error("Second finalize must return nil")
	}
}

func TestChunkerClassification(t *testing.T) {
	tests := []struct {
		name      string
		samples   func() []float32
		wantType  ChunkType
		hasSpeech bool
	}{
		{
			name:      "silence",
			samples:   func() []float32 { return make([]float32, 32000) },
			wantType:  ChunkSilence,
			hasSpeech: false,
		},
		{
			name: "loud tone throughout",
			samples: func() []float32 {
				return sine(440, 16000, 32000, 0.5)
			},
			wantType:  ChunkSpeech,
			hasSpeech: true,
		},
		{
			name: "quiet burst in silence",
			samples: func() []float32 {
				samples := make([]float32, 32000)
				copy(samples[8000:], sine(440, 16000, 4800, 0.1))
				return samples
			},
			wantType:  ChunkMixed,
			hasSpeech: true,
		},
		{
			name: "hum below zcr floor",
			samples: func() []float32 {
				// 20 Hz barely crosses zero, so level alone does not
				// make it speech
				return sine(20, 16000, 32000, 0.5)
			},
			wantType:  ChunkSilence,
			hasSpeech: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunker, err := NewChunker(testChunkerConfig())
			if err != nil {
				t.Fatalf("NewChunker failed: %v", err)
			}

			chunks, err := chunker.AddAudioData(tt.samples())
			if err != nil {
				t.Fatalf("AddAudioData failed: %v", err)
			}
			if len(chunks) != 1 {
				t.Fatalf("Expected 1 chunk, got %d", len(chunks))
			}

			info := chunks[0].Info
			if info.HasSpeech != tt.hasSpeech {
				t.Errorf("Expected HasSpeech=%v, got %v", tt.hasSpeech, info.HasSpeech)
			}
			if info.Type != tt.wantType {
				t.Errorf("Expected type %v, got %v (confidence %.2f)", tt.wantType, info.Type, info.Confidence)
			}
		})
	}
}

func TestChunkerSmartSplitting(t *testing.T) {
	config := testChunkerConfig()
	config.OverlapDuration = 250 * time.Millisecond
	config.EnableSmartSplitting = true
	config.BoundaryTolerance = 500 * time.Millisecond

	chunker, err := NewChunker(config)
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	// A speech end just before the nominal 2s cut pulls the cut back
	chunker.NoteSpeechEnd(1800 * time.Millisecond)

	chunks, err := chunker.AddAudioData(make([]float32, 40000))
	if err != nil {
		t.Fatalf("AddAudioData failed: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("Expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Info.EndTime != 1800*time.Millisecond {
		t.Errorf("Expected cut at speech end 1.8s, got %v", chunks[0].Info.EndTime)
	}
}

func TestChunkerSmartSplittingIgnoresDistantBoundary(t *testing.T) {
	config := testChunkerConfig()
	config.OverlapDuration = 250 * time.Millisecond
	config.EnableSmartSplitting = true
	config.BoundaryTolerance = 200 * time.Millisecond

	chunker, err := NewChunker(config)
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	// 1.2s is outside the 200ms tolerance of the 2s cut
	chunker.NoteSpeechEnd(1200 * time.Millisecond)

	chunks, err := chunker.AddAudioData(make([]float32, 40000))
	if err != nil {
		t.Fatalf("AddAudioData failed: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("Expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Info.EndTime != 2*time.Second {
		t.Errorf("Expected nominal cut at 2s, got %v", chunks[0].Info.EndTime)
	}
}

func TestChunkerMaxBytesCapsDuration(t *testing.T) {
	config := testChunkerConfig()
	config.MaxChunkBytes = 16000 * 4 // one second of float32

	chunker, err := NewChunker(config)
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	chunks, err := chunker.AddAudioData(make([]float32, 32000))
	if err != nil {
		t.Fatalf("AddAudioData failed: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("Expected at least one chunk")
	}
	if chunks[0].Info.Duration != time.Second {
		t.Errorf("Expected byte cap to shrink chunks to 1s, got %v", chunks[0].Info.Duration)
	}
	if chunks[0].Info.SizeBytes != config.MaxChunkBytes {
		t.Errorf("Expected %d bytes, got %d", config.MaxChunkBytes, chunks[0].Info.SizeBytes)
	}
}

func TestChunkerStatsDurations(t *testing.T) {
	chunker, err := NewChunker(testChunkerConfig())
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	// 3s of audio yields one 2s chunk; 1s past the overlap stays buffered
	if _, err := chunker.AddAudioData(make([]float32, 48000)); err != nil {
		t.Fatalf("AddAudioData failed: %v", err)
	}

	stats := chunker.GetStats()
	if stats.AverageChunkDuration != 2*time.Second {
		t.Errorf("Expected 2s average after one chunk, got %v", stats.AverageChunkDuration)
	}
	if diff := stats.ProcessedRatio - 2.0/3.0; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Expected processed ratio 2/3, got %v", stats.ProcessedRatio)
	}

	if final := chunker.Finalize(); final == nil {
		t.Fatal("Expected a final chunk for the buffered tail")
	}

	stats = chunker.GetStats()
	if stats.AverageChunkDuration != 1750*time.Millisecond {
		t.Errorf("Expected 1.75s average after finalize, got %v", stats.AverageChunkDuration)
	}
	if stats.ProcessedRatio != 1 {
		t.Errorf("Expected full coverage after finalize, got %v", stats.ProcessedRatio)
	}
}

func TestChunkerReset(t *testing.T) {
	chunker, err := NewChunker(testChunkerConfig())
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	if _, err := chunker.AddAudioData(make([]float32, 40000)); err != nil {
		t.Fatalf("AddAudioData failed: %v", err)
	}
	chunker.Finalize()

	chunker.Reset()

	stats := chunker.GetStats()
	if stats.TotalChunks != 0 || stats.BufferedSamples != 0 {
		t.Errorf("Expected clean state after reset, got %+v", stats)
	}
	if len(chunker.Ledger()) != 0 {
		t.Error("Expected empty ledger after reset")
	}

	chunks, err := chunker.AddAudioData(make([]float32, 32000))
	if err != nil {
		t.Fatalf("AddAudioData after reset failed: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("Expected 1 chunk after reset, got %d", len(chunks))
	}
	if chunks[0].Info.Index != 0 || chunks[0].Info.StartTime != 0 {
		t.Errorf("Expected indexing restarted, got index %d start %v", chunks[0].Info.Index, chunks[0].Info.StartTime)
	}
}
