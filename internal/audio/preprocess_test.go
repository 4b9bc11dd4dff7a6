package audio

import (
	"math"
	"testing"
)

func TestSettingsForPreset(t *testing.T) {
	for _, name := range []string{PresetMinimal, PresetDefault, PresetAggressive} {
		settings, err := SettingsForPreset(name)
		if err != nil {
			t.Errorf("SettingsForPreset(%q) failed: %v", name, err)
		}
		if err := settings.Validate(16000); err != nil {
			t.Errorf("Preset %q does not validate: %v", name, err)
		}
	}

	if _, err := SettingsForPreset("loud"); !IsKind(err, KindConfiguration) {
		t.Errorf("Expected configuration error for unknown preset, got %v", err)
	}
}

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*PreprocessingSettings)
		wantErr bool
	}{
		{name: "defaults", mutate: func(s *PreprocessingSettings) {}},
		{name: "cutoff above nyquist", mutate: func(s *PreprocessingSettings) { s.LowPassCutoff = 9000 }, wantErr: true},
		{name: "inverted band", mutate: func(s *PreprocessingSettings) { s.HighPassCutoff = 8000; s.LowPassCutoff = 7000 }, wantErr: true},
		{name: "reduction strength above one", mutate: func(s *PreprocessingSettings) { s.ReductionStrength = 1.5 }, wantErr: true},
		{name: "compression ratio below one", mutate: func(s *PreprocessingSettings) { s.CompressionRatio = 0.5 }, wantErr: true},
		{name: "zero attack", mutate: func(s *PreprocessingSettings) { s.AttackMs = 0 }, wantErr: true},
		{name: "peak limit above one", mutate: func(s *PreprocessingSettings) { s.PeakLimit = 1.2 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := DefaultSettings()
			tt.mutate(&settings)
			err := settings.Validate(16000)
			if tt.wantErr && err == nil {
				t.Error("Expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Unexpected validation error: %v", err)
			}
		})
	}
}

func TestNewPreprocessorRejectsBadConfig(t *testing.T) {
	if _, err := NewPreprocessor(0, MinimalSettings()); !IsKind(err, KindConfiguration) {
		t.Errorf("Expected configuration error for zero sample rate, got %v", err)
	}

	bad := MinimalSettings()
	bad.PeakLimit = 0
	if _, err := NewPreprocessor(16000, bad); !IsKind(err, KindConfiguration) {
		t.Errorf("Expected configuration error for invalid settings, got %v", err)
	}
}

func TestProcessRejectsEmptyInput(t *testing.T) {
	p, err := NewPreprocessor(16000, MinimalSettings())
	if err != nil {
		t.Fatalf("NewPreprocessor failed: %v", err)
	}
	if _, err := p.Process(nil); !IsKind(err, KindInvalidInput) {
		t.Errorf("Expected invalid input error, got %v", err)
	}
}

func TestNormalizationHitsTargetLevel(t *testing.T) {
	p, err := NewPreprocessor(16000, MinimalSettings())
	if err != nil {
		t.Fatalf("NewPreprocessor failed: %v", err)
	}

	input := sine(440, 16000, 16000, 0.05)
	out, err := p.Process(input)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	// Minimal targets -20 dBFS, linear RMS 0.1
	target := math.Pow(10, -20.0/20)
	rms := bufferRMS(out)
	if math.Abs(rms-target)/target > 0.01 {
		t.Errorf("Expected RMS near %.3f, got %.4f", target, rms)
	}

	// The input buffer is never modified
	if input[100] != sine(440, 16000, 16000, 0.05)[100] {
		t.Error("Process modified its input slice")
	}
}

func TestNormalizationConverges(t *testing.T) {
	p, err := NewPreprocessor(16000, MinimalSettings())
	if err != nil {
		t.Fatalf("NewPreprocessor failed: %v", err)
	}

	once, err := p.Process(sine(440, 16000, 16000, 0.3))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	twice, err := p.Process(once)
	if err != nil {
		t.Fatalf("Second pass failed: %v", err)
	}

	// A second pass at the same target must not move the level further
	first := bufferRMS(once)
	second := bufferRMS(twice)
	if math.Abs(second-first)/first > 0.01 {
		t.Errorf("Normalization diverges: first pass RMS %.4f, second %.4f", first, second)
	}
}

func TestPeakLimitNeverExceeded(t *testing.T) {
	settings := AggressiveSettings()
	p, err := NewPreprocessor(16000, settings)
	if err != nil {
		t.Fatalf("NewPreprocessor failed: %v", err)
	}

	out, err := p.Process(sine(440, 16000, 16000, 0.95))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	limit := float32(settings.PeakLimit)
	for i, s := range out {
		if s > limit || s < -limit {
			t.Fatalf("Sample %d exceeds peak limit %.2f: %v", i, settings.PeakLimit, s)
		}
	}
}

func TestNoiseReductionAttenuatesQuietSamples(t *testing.T) {
	settings := PreprocessingSettings{
		NoiseReduction:     true,
		NoiseGateThreshold: 0.05,
		ReductionStrength:  0.5,
		PeakLimit:          0.98,
	}
	p, err := NewPreprocessor(16000, settings)
	if err != nil {
		t.Fatalf("NewPreprocessor failed: %v", err)
	}

	// Loud first half, near-silent second half
	input := make([]float32, 4096)
	for i := 0; i < 2048; i++ {
		input[i] = 0.5
	}
	for i := 2048; i < 4096; i++ {
		input[i] = 0.01
	}

	out, err := p.Process(input)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if out[100] != 0.5 {
		t.Errorf("Loud samples must pass the gate unchanged, got %v", out[100])
	}
	if out[3000] != 0.005 {
		t.Errorf("Quiet samples must be attenuated by the reduction strength, got %v", out[3000])
	}

	stats := p.GetStats()
	if stats.BuffersProcessed != 1 || stats.SamplesProcessed != 4096 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if stats.NoiseProfile <= 0 {
		t.Errorf("Expected a tracked noise profile, got %v", stats.NoiseProfile)
	}
}

func TestUpdateSettings(t *testing.T) {
	p, err := NewPreprocessor(16000, MinimalSettings())
	if err != nil {
		t.Fatalf("NewPreprocessor failed: %v", err)
	}

	if err := p.UpdateSettings(AggressiveSettings()); err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}
	if !p.Settings().NoiseReduction {
		t.Error("Expected new settings to take effect")
	}

	bad := AggressiveSettings()
	bad.HighPassCutoff = -5
	if err := p.UpdateSettings(bad); !IsKind(err, KindConfiguration) {
		t.Errorf("Expected configuration error, got %v", err)
	}
	if p.Settings().HighPassCutoff < 0 {
		t.Error("Rejected settings must not take effect")
	}
}
