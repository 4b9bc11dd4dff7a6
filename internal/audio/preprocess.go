package audio

import (
	"fmt"
	"math"
	"sync"

	"github.com/audiopipe/audio-prep-service/internal/dsp"
)

// Preset names accepted by SettingsForPreset and the configuration layer.
const (
	PresetMinimal    = "minimal"
	PresetDefault    = "default"
	PresetAggressive = "aggressive"
)

// noiseWindowSize is the trailing window used to track the noise floor.
const noiseWindowSize = 1024

// noiseProfileAlpha is the smoothing factor of the noise floor estimate.
const noiseProfileAlpha = 0.1

// Speech formant centers emphasized by voice enhancement, in Hz.
var formantFrequencies = []float64{500, 1500, 2500}

// PreprocessingSettings controls which stages of the conditioning chain
// run and how hard each one works.
type PreprocessingSettings struct {
	NoiseReduction     bool    `yaml:"noise_reduction" json:"noise_reduction"`
	NoiseGateThreshold float64 `yaml:"noise_gate_threshold" json:"noise_gate_threshold"`
	ReductionStrength  float64 `yaml:"reduction_strength" json:"reduction_strength"`

	HighPass       bool    `yaml:"high_pass" json:"high_pass"`
	HighPassCutoff float64 `yaml:"high_pass_cutoff" json:"high_pass_cutoff"`
	LowPass        bool    `yaml:"low_pass" json:"low_pass"`
	LowPassCutoff  float64 `yaml:"low_pass_cutoff" json:"low_pass_cutoff"`

	VoiceEnhancement bool    `yaml:"voice_enhancement" json:"voice_enhancement"`
	FormantEmphasis  float64 `yaml:"formant_emphasis" json:"formant_emphasis"`
	PresenceBoost    float64 `yaml:"presence_boost" json:"presence_boost"`

	Compression          bool    `yaml:"compression" json:"compression"`
	CompressionThreshold float64 `yaml:"compression_threshold" json:"compression_threshold"` // dBFS
	CompressionRatio     float64 `yaml:"compression_ratio" json:"compression_ratio"`
	AttackMs             float64 `yaml:"attack_ms" json:"attack_ms"`
	ReleaseMs            float64 `yaml:"release_ms" json:"release_ms"`

	Normalization bool    `yaml:"normalization" json:"normalization"`
	TargetLevel   float64 `yaml:"target_level" json:"target_level"` // dBFS

	PeakLimit float64 `yaml:"peak_limit" json:"peak_limit"`
}

// MinimalSettings conditions already-clean audio: gentle filtering and
// level management, no noise reduction or enhancement.
func MinimalSettings() PreprocessingSettings {
	return PreprocessingSettings{
		HighPass:       true,
		HighPassCutoff: 60,
		Normalization:  true,
		TargetLevel:    -20,
		PeakLimit:      0.98,
	}
}

// DefaultSettings is the balanced chain for typical recordings.
func DefaultSettings() PreprocessingSettings {
	return PreprocessingSettings{
		NoiseReduction:     true,
		NoiseGateThreshold: 0.01,
		ReductionStrength:  0.5,

		HighPass:       true,
		HighPassCutoff: 80,
		LowPass:        true,
		LowPassCutoff:  7500,

		Compression:          true,
		CompressionThreshold: -12,
		CompressionRatio:     4,
		AttackMs:             3,
		ReleaseMs:            100,

		Normalization: true,
		TargetLevel:   -20,
		PeakLimit:     0.98,
	}
}

// AggressiveSettings is the full chain for noisy or badly leveled input.
func AggressiveSettings() PreprocessingSettings {
	s := DefaultSettings()
	s.NoiseGateThreshold = 0.02
	s.ReductionStrength = 0.8
	s.HighPassCutoff = 100
	s.LowPassCutoff = 6500
	s.VoiceEnhancement = true
	s.FormantEmphasis = 0.15
	s.PresenceBoost = 0.1
	return s
}

// SettingsForPreset maps a preset name to its settings.
func SettingsForPreset(name string) (PreprocessingSettings, error) {
	switch name {
	case PresetMinimal:
		return MinimalSettings(), nil
	case PresetDefault:
		return DefaultSettings(), nil
	case PresetAggressive:
		return AggressiveSettings(), nil
	default:
		return PreprocessingSettings{}, NewError(KindConfiguration, "audio.SettingsForPreset", "unknown preset %q", name)
	}
}

// Validate checks settings for internally consistent values.
func (s PreprocessingSettings) Validate(sampleRate int) error {
	nyquist := float64(sampleRate) / 2
	if s.HighPass && (s.HighPassCutoff <= 0 || s.HighPassCutoff >= nyquist) {
		return fmt.Errorf("high_pass_cutoff must be in (0, %v), got %v", nyquist, s.HighPassCutoff)
	}
	if s.LowPass && (s.LowPassCutoff <= 0 || s.LowPassCutoff >= nyquist) {
		return fmt.Errorf("low_pass_cutoff must be in (0, %v), got %v", nyquist, s.LowPassCutoff)
	}
	if s.HighPass && s.LowPass && s.HighPassCutoff >= s.LowPassCutoff {
		return fmt.Errorf("high_pass_cutoff %v must be below low_pass_cutoff %v", s.HighPassCutoff, s.LowPassCutoff)
	}
	if s.NoiseReduction {
		if s.ReductionStrength < 0 || s.ReductionStrength > 1 {
			return fmt.Errorf("reduction_strength must be in [0, 1], got %v", s.ReductionStrength)
		}
		if s.NoiseGateThreshold < 0 {
			return fmt.Errorf("noise_gate_threshold must be non-negative, got %v", s.NoiseGateThreshold)
		}
	}
	if s.Compression {
		if s.CompressionRatio < 1 {
			return fmt.Errorf("compression_ratio must be at least 1, got %v", s.CompressionRatio)
		}
		if s.AttackMs <= 0 || s.ReleaseMs <= 0 {
			return fmt.Errorf("attack_ms and release_ms must be positive, got %v and %v", s.AttackMs, s.ReleaseMs)
		}
	}
	if s.PeakLimit <= 0 || s.PeakLimit > 1 {
		return fmt.Errorf("peak_limit must be in (0, 1], got %v", s.PeakLimit)
	}
	return nil
}

// Preprocessor runs the audio conditioning chain. Stages execute in a
// fixed order: noise reduction, high-pass, low-pass, voice enhancement,
// compression, normalization, peak limiting. Disabled stages are
// skipped without reordering the rest.
type Preprocessor struct {
	sampleRate int

	mu           sync.Mutex
	settings     PreprocessingSettings
	highPass     *dsp.Biquad
	lowPass      *dsp.Biquad
	noiseProfile float64
	envelope     float64

	buffersProcessed uint64
	samplesProcessed uint64
}

// NewPreprocessor creates a preprocessor for mono audio at the given
// sample rate.
func NewPreprocessor(sampleRate int, settings PreprocessingSettings) (*Preprocessor, error) {
	const op = "audio.NewPreprocessor"

	if sampleRate <= 0 {
		return nil, NewError(KindConfiguration, op, "sample rate must be positive, got %d", sampleRate)
	}
	if err := settings.Validate(sampleRate); err != nil {
		return nil, WrapError(KindConfiguration, op, err)
	}

	p := &Preprocessor{
		sampleRate: sampleRate,
		settings:   settings,
	}
	if err := p.rebuildFilters(); err != nil {
		return nil, WrapError(KindConfiguration, op, err)
	}
	return p, nil
}

func (p *Preprocessor) rebuildFilters() error {
	p.highPass = nil
	p.lowPass = nil

	if p.settings.HighPass {
		f, err := dsp.NewBiquad(dsp.HighPass, p.settings.HighPassCutoff, float64(p.sampleRate), dsp.DefaultQ)
		if err != nil {
			return err
		}
		p.highPass = f
	}
	if p.settings.LowPass {
		f, err := dsp.NewBiquad(dsp.LowPass, p.settings.LowPassCutoff, float64(p.sampleRate), dsp.DefaultQ)
		if err != nil {
			return err
		}
		p.lowPass = f
	}
	return nil
}

// UpdateSettings replaces the active settings. Filters are rebuilt and
// the noise profile and compressor envelope are reset, so the change is
// safest at a stream boundary.
func (p *Preprocessor) UpdateSettings(settings PreprocessingSettings) error {
	const op = "audio.Preprocessor.UpdateSettings"

	if err := settings.Validate(p.sampleRate); err != nil {
		return WrapError(KindConfiguration, op, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.settings = settings
	if err := p.rebuildFilters(); err != nil {
		return WrapError(KindConfiguration, op, err)
	}
	p.noiseProfile = 0
	p.envelope = 0
	return nil
}

// Settings returns a copy of the active settings.
func (p *Preprocessor) Settings() PreprocessingSettings {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settings
}

// Process runs the conditioning chain over a buffer and returns the
// processed copy. The input slice is not modified.
func (p *Preprocessor) Process(samples []float32) ([]float32, error) {
	const op = "audio.Preprocessor.Process"

	if len(samples) == 0 {
		return nil, NewError(KindInvalidInput, op, "empty sample buffer")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]float32, len(samples))
	copy(out, samples)

	if p.settings.NoiseReduction {
		p.applyNoiseReduction(out)
	}
	if p.highPass != nil {
		p.highPass.ProcessBuffer(out)
	}
	if p.lowPass != nil {
		p.lowPass.ProcessBuffer(out)
	}
	if p.settings.VoiceEnhancement {
		p.applyVoiceEnhancement(out)
	}
	if p.settings.Compression {
		p.applyCompression(out)
	}
	if p.settings.Normalization {
		applyNormalization(out, p.settings.TargetLevel)
	}
	applyPeakLimit(out, float32(p.settings.PeakLimit))

	p.buffersProcessed++
	p.samplesProcessed += uint64(len(samples))

	return out, nil
}

// applyNoiseReduction tracks the noise floor with a smoothed estimate of
// the trailing window RMS, then attenuates samples that fall below the
// gate threshold scaled by that floor.
func (p *Preprocessor) applyNoiseReduction(samples []float32) {
	start := 0
	if len(samples) > noiseWindowSize {
		start = len(samples) - noiseWindowSize
	}
	windowRMS := bufferRMS(samples[start:])

	if p.noiseProfile == 0 {
		p.noiseProfile = windowRMS
	} else {
		p.noiseProfile = (1-noiseProfileAlpha)*p.noiseProfile + noiseProfileAlpha*windowRMS
	}

	gate := p.settings.NoiseGateThreshold
	if p.noiseProfile > gate {
		gate = p.noiseProfile
	}
	attenuation := float32(1 - p.settings.ReductionStrength)

	for i, s := range samples {
		if math.Abs(float64(s)) < gate {
			samples[i] = s * attenuation
		}
	}
}

// applyVoiceEnhancement modulates samples with additive sinusoids at the
// speech formant centers plus a broadband presence gain.
func (p *Preprocessor) applyVoiceEnhancement(samples []float32) {
	emphasis := p.settings.FormantEmphasis
	base := 1 + p.settings.PresenceBoost
	rate := float64(p.sampleRate)

	for i, s := range samples {
		t := float64(i) / rate
		gain := base
		for _, freq := range formantFrequencies {
			gain += emphasis * math.Sin(2*math.Pi*freq*t)
		}
		samples[i] = s * float32(gain)
	}
}

// applyCompression is a feed-forward compressor with an exponential
// envelope follower. Gain reduction applies above the threshold at the
// configured ratio.
func (p *Preprocessor) applyCompression(samples []float32) {
	attackCoef := math.Exp(-1 / (float64(p.sampleRate) * p.settings.AttackMs / 1000))
	releaseCoef := math.Exp(-1 / (float64(p.sampleRate) * p.settings.ReleaseMs / 1000))
	threshold := p.settings.CompressionThreshold
	ratio := p.settings.CompressionRatio

	env := p.envelope
	for i, s := range samples {
		level := math.Abs(float64(s))
		if level > env {
			env = attackCoef*env + (1-attackCoef)*level
		} else {
			env = releaseCoef*env + (1-releaseCoef)*level
		}

		envDB := linearToDB(env)
		if envDB > threshold {
			reductionDB := (threshold - envDB) * (1 - 1/ratio)
			samples[i] = s * float32(math.Pow(10, reductionDB/20))
		}
	}
	p.envelope = env
}

// applyNormalization scales the buffer so its RMS hits the target dBFS
// level. Silent buffers pass through unchanged.
func applyNormalization(samples []float32, targetDB float64) {
	current := bufferRMS(samples)
	if current == 0 {
		return
	}

	target := math.Pow(10, targetDB/20)
	gain := float32(target / current)
	for i := range samples {
		samples[i] *= gain
	}
}

// applyPeakLimit hard-clips samples to the configured ceiling. It always
// runs, so downstream consumers never see samples beyond the limit.
func applyPeakLimit(samples []float32, limit float32) {
	for i, s := range samples {
		if s > limit {
			samples[i] = limit
		} else if s < -limit {
			samples[i] = -limit
		}
	}
}

func bufferRMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func linearToDB(level float64) float64 {
	if level <= 0 {
		return -120
	}
	return 20 * math.Log10(level)
}

// PreprocessorStats reports cumulative preprocessor activity.
type PreprocessorStats struct {
	BuffersProcessed uint64  `json:"buffers_processed"`
	SamplesProcessed uint64  `json:"samples_processed"`
	NoiseProfile     float64 `json:"noise_profile"`
}

// GetStats returns a snapshot of preprocessor statistics.
func (p *Preprocessor) GetStats() PreprocessorStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return PreprocessorStats{
		BuffersProcessed: p.buffersProcessed,
		SamplesProcessed: p.samplesProcessed,
		NoiseProfile:     p.noiseProfile,
	}
}
