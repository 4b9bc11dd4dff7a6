package audio

import (
	"math"
	"math/rand"
	"testing"
)

// noisyBursts builds alternating one-second tone and pause stretches
// with white noise of the given level mixed over the whole buffer.
func noisyBursts(seconds int, toneAmplitude, noiseLevel float64) []float32 {
	rng := rand.New(rand.NewSource(42))
	sampleRate := 16000
	samples := make([]float32, seconds*sampleRate)
	for i := range samples {
		var s float64
		if (i/sampleRate)%2 == 0 {
			t := float64(i) / float64(sampleRate)
			s = toneAmplitude * math.Sin(2*math.Pi*440*t)
		}
		samples[i] = float32(s + noiseLevel*rng.NormFloat64())
	}
	return samples
}

func TestAnalyzeQualityEmpty(t *testing.T) {
	if _, err := AnalyzeQuality(nil); !IsKind(err, KindInvalidInput) {
		t.Errorf("Expected invalid input error, got %v", err)
	}
}

func TestAnalyzeQualityCleanRecording(t *testing.T) {
	// A loud tone with true pauses: high SNR against the silent floor
	samples := make([]float32, 32000)
	copy(samples, sine(440, 16000, 16000, 0.5))

	analysis, err := AnalyzeQuality(samples)
	if err != nil {
		t.Fatalf("AnalyzeQuality failed: %v", err)
	}

	if analysis.SNR < 30 {
		t.Errorf("Expected SNR above 30 dB, got %.1f", analysis.SNR)
	}
	if analysis.Tier != TierExcellent {
		t.Errorf("Expected excellent tier, got %v", analysis.TierName)
	}
	if analysis.RecommendedPreset != PresetMinimal {
		t.Errorf("Expected minimal preset, got %v", analysis.RecommendedPreset)
	}
	if math.Abs(analysis.PeakLevel-0.5) > 0.01 {
		t.Errorf("Expected peak near 0.5, got %v", analysis.PeakLevel)
	}
	// Peak 0.5 over RMS 0.25 is 6 dB of headroom
	if math.Abs(analysis.DynamicRange-6.02) > 0.1 {
		t.Errorf("Expected dynamic range near 6 dB, got %.2f", analysis.DynamicRange)
	}
}

func TestAnalyzeQualityNoisyRecording(t *testing.T) {
	// A constant-level signal has no quiet windows, so the noise floor
	// equals the signal level and the SNR collapses
	samples := sine(440, 16000, 32000, 0.3)

	analysis, err := AnalyzeQuality(samples)
	if err != nil {
		t.Fatalf("AnalyzeQuality failed: %v", err)
	}

	if analysis.SNR >= 10 {
		t.Errorf("Expected SNR below 10 dB, got %.1f", analysis.SNR)
	}
	if analysis.Tier != TierPoor {
		t.Errorf("Expected poor tier, got %v", analysis.TierName)
	}
	if analysis.RecommendedPreset != PresetAggressive {
		t.Errorf("Expected aggressive preset, got %v", analysis.RecommendedPreset)
	}
}

func TestAnalyzeQualityModerateNoise(t *testing.T) {
	// Tone over an audible hiss floor lands in the middle band
	samples := make([]float32, 32000)
	copy(samples, sine(440, 16000, 16000, 0.5))
	copy(samples[16000:], sine(3000, 16000, 16000, 0.0707))

	analysis, err := AnalyzeQuality(samples)
	if err != nil {
		t.Fatalf("AnalyzeQuality failed: %v", err)
	}

	if analysis.SNR < 10 || analysis.SNR >= 20 {
		t.Errorf("Expected SNR in [10, 20), got %.1f", analysis.SNR)
	}
	if analysis.Tier != TierFair {
		t.Errorf("Expected fair tier, got %v", analysis.TierName)
	}
	if analysis.RecommendedPreset != PresetDefault {
		t.Errorf("Expected default preset, got %v", analysis.RecommendedPreset)
	}
}

func TestAnalyzeQualityClippedRecording(t *testing.T) {
	samples := make([]float32, 32000)
	copy(samples, sine(440, 16000, 16000, 0.99))

	analysis, err := AnalyzeQuality(samples)
	if err != nil {
		t.Fatalf("AnalyzeQuality failed: %v", err)
	}

	if analysis.PeakLevel <= 0.95 {
		t.Fatalf("Expected near-clipping peak, got %v", analysis.PeakLevel)
	}
	// SNR is fine but the hot peak blocks the excellent tier and
	// demands real conditioning
	if analysis.Tier != TierGood {
		t.Errorf("Expected good tier, got %v", analysis.TierName)
	}
	if analysis.RecommendedPreset != PresetDefault {
		t.Errorf("Expected default preset, got %v", analysis.RecommendedPreset)
	}
}

func TestPresetRecommendationTracksNoiseLevel(t *testing.T) {
	// Tone RMS is amplitude/sqrt(2) ~= 0.212. Noise louder than the
	// tone must push the recommendation to aggressive; faint noise at
	// ~25 dB below the tone must leave it at minimal.
	noisy, err := AnalyzeQuality(noisyBursts(6, 0.3, 0.377))
	if err != nil {
		t.Fatalf("AnalyzeQuality failed: %v", err)
	}
	if noisy.RecommendedPreset != PresetAggressive {
		t.Errorf("Expected aggressive preset for drowned signal (snr %.1f), got %v", noisy.SNR, noisy.RecommendedPreset)
	}

	clean, err := AnalyzeQuality(noisyBursts(6, 0.3, 0.012))
	if err != nil {
		t.Fatalf("AnalyzeQuality failed: %v", err)
	}
	if clean.RecommendedPreset != PresetMinimal {
		t.Errorf("Expected minimal preset for faint noise (snr %.1f), got %v", clean.SNR, clean.RecommendedPreset)
	}
	if clean.SNR <= noisy.SNR {
		t.Errorf("Expected SNR ordering, got clean %.1f vs noisy %.1f", clean.SNR, noisy.SNR)
	}
}

func TestAnalyzeQualityAllZeros(t *testing.T) {
	analysis, err := AnalyzeQuality(make([]float32, 16000))
	if err != nil {
		t.Fatalf("AnalyzeQuality failed: %v", err)
	}

	if math.IsInf(analysis.SNR, 0) || math.IsNaN(analysis.SNR) {
		t.Fatalf("SNR must stay finite for silence, got %v", analysis.SNR)
	}
	if analysis.SNR != 0 {
		t.Errorf("Expected 0 dB SNR for silence, got %v", analysis.SNR)
	}
	if analysis.Tier != TierPoor {
		t.Errorf("Expected poor tier, got %v", analysis.TierName)
	}
}

func TestQualityTierString(t *testing.T) {
	tests := []struct {
		tier QualityTier
		want string
	}{
		{TierExcellent, "excellent"},
		{TierGood, "good"},
		{TierFair, "fair"},
		{TierPoor, "poor"},
	}
	for _, tt := range tests {
		if got := tt.tier.String(); got != tt.want {
			t.Errorf("QualityTier(%d).String() = %q, want %q", tt.tier, got, tt.want)
		}
	}
}
