package audio

import "math"

// QualityTier grades audio suitability for transcription.
type QualityTier int

const (
	TierPoor QualityTier = iota
	TierFair
	TierGood
	TierExcellent
)

func (t QualityTier) String() string {
	switch t {
	case TierExcellent:
		return "excellent"
	case TierGood:
		return "good"
	case TierFair:
		return "fair"
	default:
		return "poor"
	}
}

// noiseFloorMin keeps the SNR estimate finite for near-silent input.
const noiseFloorMin = 0.001

// QualityAnalysis summarizes signal measurements and the preprocessing
// preset recommended for them.
type QualityAnalysis struct {
	SNR               float64     `json:"snr_db"`
	PeakLevel         float64     `json:"peak_level"`
	RMSLevel          float64     `json:"rms_level"`
	DynamicRange      float64     `json:"dynamic_range_db"`
	Tier              QualityTier `json:"-"`
	TierName          string      `json:"tier"`
	RecommendedPreset string      `json:"recommended_preset"`
}

// AnalyzeQuality measures a buffer and recommends a preprocessing
// preset. The noise floor is estimated as the quietest trailing-window
// RMS across the buffer, floored at noiseFloorMin, so recordings with
// pauses yield a realistic SNR.
func AnalyzeQuality(samples []float32) (QualityAnalysis, error) {
	const op = "audio.AnalyzeQuality"

	if len(samples) == 0 {
		return QualityAnalysis{}, NewError(KindInvalidInput, op, "empty sample buffer")
	}

	var peak float64
	for _, s := range samples {
		if abs := math.Abs(float64(s)); abs > peak {
			peak = abs
		}
	}
	rmsLevel := bufferRMS(samples)

	noiseFloor := estimateNoiseFloor(samples)
	snr := 20 * math.Log10(math.Max(rmsLevel, noiseFloorMin)/noiseFloor)

	// Headroom between the peak and the average level, in dB.
	dynamicRange := 20 * math.Log10(math.Max(peak, noiseFloorMin)/math.Max(rmsLevel, noiseFloorMin))

	analysis := QualityAnalysis{
		SNR:          snr,
		PeakLevel:    peak,
		RMSLevel:     rmsLevel,
		DynamicRange: dynamicRange,
	}

	switch {
	case snr < 10:
		analysis.RecommendedPreset = PresetAggressive
	case snr < 20 || peak > 0.9 || rmsLevel < 0.1:
		analysis.RecommendedPreset = PresetDefault
	default:
		analysis.RecommendedPreset = PresetMinimal
	}

	switch {
	case snr >= 30 && peak <= 0.95 && rmsLevel >= 0.05:
		analysis.Tier = TierExcellent
	case snr >= 20:
		analysis.Tier = TierGood
	case snr >= 10:
		analysis.Tier = TierFair
	default:
		analysis.Tier = TierPoor
	}
	analysis.TierName = analysis.Tier.String()

	return analysis, nil
}

// estimateNoiseFloor scans the buffer in windows and returns the RMS of
// the quietest one.
func estimateNoiseFloor(samples []float32) float64 {
	window := noiseWindowSize
	if window > len(samples) {
		window = len(samples)
	}

	step := window / 2
	if step == 0 {
		step = 1
	}

	quietest := math.Inf(1)
	for start := 0; start < len(samples); start += step {
		end := start + window
		if end > len(samples) {
			end = len(samples)
		}
		if windowRMS := bufferRMS(samples[start:end]); windowRMS < quietest {
			quietest = windowRMS
		}
		if end == len(samples) {
			break
		}
	}

	if quietest < noiseFloorMin || math.IsInf(quietest, 1) {
		return noiseFloorMin
	}
	return quietest
}
