package dsp

import (
	"math"
	"testing"
)

func generateSine(freq float64, sampleRate, n int) []float32 {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(math.Sin(2 * math.Pi * freq * float64(i) / float64(sampleRate)))
	}
	return samples
}

func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func TestNewBiquadValidation(t *testing.T) {
	tests := []struct {
		name       string
		filterType FilterType
		frequency  float64
		sampleRate float64
		q          float64
		wantErr    bool
	}{
		{"valid lowpass", LowPass, 3400, 16000, DefaultQ, false},
		{"valid highpass", HighPass, 80, 16000, DefaultQ, false},
		{"valid bandpass", BandPass, 1500, 16000, 2.0, false},
		{"valid notch", Notch, 50, 16000, 10.0, false},
		{"zero frequency", LowPass, 0, 16000, DefaultQ, true},
		{"negative frequency", LowPass, -100, 16000, DefaultQ, true},
		{"at nyquist", LowPass, 8000, 16000, DefaultQ, true},
		{"above nyquist", LowPass, 9000, 16000, DefaultQ, true},
		{"zero sample rate", LowPass, 1000, 0, DefaultQ, true},
		{"zero q", LowPass, 1000, 16000, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBiquad(tt.filterType, tt.frequency, tt.sampleRate, tt.q)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewBiquad() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLowPassAttenuatesHighFrequencies(t *testing.T) {
	const sampleRate = 16000

	filter, err := NewBiquad(LowPass, 1000, sampleRate, DefaultQ)
	if err != nil {
		t.Fatalf("NewBiquad() error = %v", err)
	}

	// Tone well inside the passband should survive nearly untouched.
	low := generateSine(200, sampleRate, sampleRate)
	inLow := rms(low)
	filter.ProcessBuffer(low)
	if outLow := rms(low); outLow < inLow*0.9 {
		t.Errorf("passband tone attenuated: in RMS %.4f, out RMS %.4f", inLow, outLow)
	}

	filter.Reset()

	// Tone far above the cutoff should be strongly attenuated.
	high := generateSine(6000, sampleRate, sampleRate)
	inHigh := rms(high)
	filter.ProcessBuffer(high)
	if outHigh := rms(high); outHigh > inHigh*0.1 {
		t.Errorf("stopband tone not attenuated: in RMS %.4f, out RMS %.4f", inHigh, outHigh)
	}
}

func TestHighPassAttenuatesLowFrequencies(t *testing.T) {
	const sampleRate = 16000

	filter, err := NewBiquad(HighPass, 1000, sampleRate, DefaultQ)
	if err != nil {
		t.Fatalf("NewBiquad() error = %v", err)
	}

	low := generateSine(100, sampleRate, sampleRate)
	inLow := rms(low)
	filter.ProcessBuffer(low)
	if outLow := rms(low); outLow > inLow*0.1 {
		t.Errorf("stopband tone not attenuated: in RMS %.4f, out RMS %.4f", inLow, outLow)
	}

	filter.Reset()

	high := generateSine(5000, sampleRate, sampleRate)
	inHigh := rms(high)
	filter.ProcessBuffer(high)
	if outHigh := rms(high); outHigh < inHigh*0.9 {
		t.Errorf("passband tone attenuated: in RMS %.4f, out RMS %.4f", inHigh, outHigh)
	}
}

func TestBiquadReset(t *testing.T) {
	filter, err := NewBiquad(LowPass, 1000, 16000, DefaultQ)
	if err != nil {
		t.Fatalf("NewBiquad() error = %v", err)
	}

	input := generateSine(500, 16000, 256)
	first := make([]float32, len(input))
	copy(first, input)
	filter.ProcessBuffer(first)

	filter.Reset()

	second := make([]float32, len(input))
	copy(second, input)
	filter.ProcessBuffer(second)

	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("output differs after Reset at sample %d: %v != %v", i, first[i], second[i])
		}
	}
}

func TestBiquadZeroInput(t *testing.T) {
	filter, err := NewBiquad(HighPass, 80, 16000, DefaultQ)
	if err != nil {
		t.Fatalf("NewBiquad() error = %v", err)
	}

	for i := 0; i < 100; i++ {
		if out := filter.Process(0); out != 0 {
			t.Fatalf("zero input produced non-zero output %v at sample %d", out, i)
		}
	}
}
