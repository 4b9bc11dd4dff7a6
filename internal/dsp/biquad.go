package dsp

import (
	"fmt"
	"math"
)

// FilterType selects the frequency response of a Biquad filter.
type FilterType int

const (
	LowPass FilterType = iota
	HighPass
	BandPass
	Notch
)

func (t FilterType) String() string {
	switch t {
	case LowPass:
		return "lowpass"
	case HighPass:
		return "highpass"
	case BandPass:
		return "bandpass"
	case Notch:
		return "notch"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// DefaultQ is the Butterworth quality factor used when callers have no
// specific resonance requirement.
const DefaultQ = 0.7071067811865476

// Biquad is a second-order IIR filter in direct form I. Coefficients
// follow the Audio EQ Cookbook formulas, normalized by a0 at
// construction time so Process needs only five multiplies.
//
// A Biquad carries state between calls and is not safe for concurrent
// use; give each goroutine (or each channel of audio) its own instance.
type Biquad struct {
	filterType FilterType
	frequency  float64
	sampleRate float64
	q          float64

	b0, b1, b2 float64
	a1, a2     float64

	x1, x2 float64
	y1, y2 float64
}

// NewBiquad creates a filter of the given type centered (or cornered) at
// frequency Hz. The cutoff must lie below the Nyquist frequency.
func NewBiquad(filterType FilterType, frequency, sampleRate, q float64) (*Biquad, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %v", sampleRate)
	}
	if frequency <= 0 || frequency >= sampleRate/2 {
		return nil, fmt.Errorf("frequency %v Hz outside (0, %v) for sample rate %v", frequency, sampleRate/2, sampleRate)
	}
	if q <= 0 {
		return nil, fmt.Errorf("q must be positive, got %v", q)
	}

	f := &Biquad{
		filterType: filterType,
		frequency:  frequency,
		sampleRate: sampleRate,
		q:          q,
	}
	if err := f.computeCoefficients(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Biquad) computeCoefficients() error {
	omega := 2 * math.Pi * f.frequency / f.sampleRate
	sn := math.Sin(omega)
	cs := math.Cos(omega)
	alpha := sn / (2 * f.q)

	var b0, b1, b2, a0, a1, a2 float64

	switch f.filterType {
	case LowPass:
		b0 = (1 - cs) / 2
		b1 = 1 - cs
		b2 = (1 - cs) / 2
		a0 = 1 + alpha
		a1 = -2 * cs
		a2 = 1 - alpha
	case HighPass:
		b0 = (1 + cs) / 2
		b1 = -(1 + cs)
		b2 = (1 + cs) / 2
		a0 = 1 + alpha
		a1 = -2 * cs
		a2 = 1 - alpha
	case BandPass:
		b0 = alpha
		b1 = 0
		b2 = -alpha
		a0 = 1 + alpha
		a1 = -2 * cs
		a2 = 1 - alpha
	case Notch:
		b0 = 1
		b1 = -2 * cs
		b2 = 1
		a0 = 1 + alpha
		a1 = -2 * cs
		a2 = 1 - alpha
	default:
		return fmt.Errorf("unsupported filter type: %d", int(f.filterType))
	}

	// Normalize by a0 so the recurrence needs no division.
	f.b0 = b0 / a0
	f.b1 = b1 / a0
	f.b2 = b2 / a0
	f.a1 = a1 / a0
	f.a2 = a2 / a0

	return nil
}

// Process filters a single sample and advances the filter state.
func (f *Biquad) Process(sample float32) float32 {
	x := float64(sample)
	y := f.b0*x + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2

	f.x2 = f.x1
	f.x1 = x
	f.y2 = f.y1
	f.y1 = y

	return float32(y)
}

// ProcessBuffer filters samples in place.
func (f *Biquad) ProcessBuffer(samples []float32) {
	for i, s := range samples {
		samples[i] = f.Process(s)
	}
}

// Reset clears the delay line. Call it between unrelated audio streams
// so state from one recording does not bleed into the next.
func (f *Biquad) Reset() {
	f.x1, f.x2 = 0, 0
	f.y1, f.y2 = 0, 0
}

// Frequency returns the configured cutoff (or center) frequency in Hz.
func (f *Biquad) Frequency() float64 {
	return f.frequency
}

// SetFrequency retunes the filter to a new cutoff and clears its state.
func (f *Biquad) SetFrequency(frequency float64) error {
	if frequency <= 0 || frequency >= f.sampleRate/2 {
		return fmt.Errorf("frequency %v Hz outside (0, %v)", frequency, f.sampleRate/2)
	}
	f.frequency = frequency
	if err := f.computeCoefficients(); err != nil {
		return err
	}
	f.Reset()
	return nil
}
