package dsp

import (
	"math"
	"testing"
)

func TestAnalyzeEmptyFrame(t *testing.T) {
	analyzer := NewSpectralAnalyzer(16000)

	features := analyzer.Analyze(nil)
	if features.Centroid != 0 || features.Rolloff != 0 {
		t.Errorf("empty frame features = %+v, want zeros", features)
	}

	features = analyzer.Analyze([]float32{})
	if features.Centroid != 0 || features.Rolloff != 0 {
		t.Errorf("zero-length frame features = %+v, want zeros", features)
	}
}

func TestAnalyzeSilentFrame(t *testing.T) {
	analyzer := NewSpectralAnalyzer(16000)

	features := analyzer.Analyze(make([]float32, 512))
	if features.Centroid != 0 || features.Rolloff != 0 {
		t.Errorf("silent frame features = %+v, want zeros", features)
	}
}

func TestAnalyzeSineTone(t *testing.T) {
	const sampleRate = 16000

	tests := []struct {
		name string
		freq float64
	}{
		{"low tone", 250},
		{"mid tone", 1000},
		{"high tone", 4000},
	}

	analyzer := NewSpectralAnalyzer(sampleRate)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := generateSine(tt.freq, sampleRate, 1024)
			features := analyzer.Analyze(frame)

			// Windowing and padding smear the peak, so allow a coarse
			// tolerance around the tone frequency.
			if math.Abs(features.Centroid-tt.freq) > tt.freq*0.25+100 {
				t.Errorf("centroid = %.1f Hz, want near %.1f Hz", features.Centroid, tt.freq)
			}
			if features.Rolloff < tt.freq*0.5 {
				t.Errorf("rolloff = %.1f Hz, want at least %.1f Hz", features.Rolloff, tt.freq*0.5)
			}
		})
	}
}

func TestAnalyzeNonPowerOfTwoFrame(t *testing.T) {
	const sampleRate = 16000

	analyzer := NewSpectralAnalyzer(sampleRate)

	// 20 ms frame at 16 kHz is 320 samples; the analyzer must pad to 512.
	frame := generateSine(1000, sampleRate, 320)
	features := analyzer.Analyze(frame)

	if features.Centroid <= 0 {
		t.Errorf("centroid = %v, want positive", features.Centroid)
	}
	if features.Rolloff <= 0 {
		t.Errorf("rolloff = %v, want positive", features.Rolloff)
	}
}

func TestNextPowerOfTwo(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{1, 1},
		{2, 2},
		{3, 4},
		{320, 512},
		{512, 512},
		{513, 1024},
	}

	for _, tt := range tests {
		if got := nextPowerOfTwo(tt.in); got != tt.want {
			t.Errorf("nextPowerOfTwo(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
