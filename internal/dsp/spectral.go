package dsp

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// rolloffFraction is the share of total spectral magnitude below the
// reported rolloff frequency.
const rolloffFraction = 0.95

// SpectralFeatures summarizes the frequency content of one audio frame.
type SpectralFeatures struct {
	// Centroid is the magnitude-weighted mean frequency in Hz.
	Centroid float64
	// Rolloff is the frequency in Hz below which rolloffFraction of the
	// spectral magnitude is concentrated.
	Rolloff float64
}

// SpectralAnalyzer computes FFT-based features over audio frames. FFT
// plans are cached per padded frame length, so reusing one analyzer for
// a fixed frame size avoids re-planning on every call.
//
// An analyzer is not safe for concurrent use.
type SpectralAnalyzer struct {
	sampleRate int
	plans      map[int]*fourier.FFT
	window     map[int][]float64
	scratch    []float64
}

// NewSpectralAnalyzer creates an analyzer for audio at the given sample rate.
func NewSpectralAnalyzer(sampleRate int) *SpectralAnalyzer {
	return &SpectralAnalyzer{
		sampleRate: sampleRate,
		plans:      make(map[int]*fourier.FFT),
		window:     make(map[int][]float64),
	}
}

// Analyze computes spectral features for one frame. An empty frame or a
// frame with no spectral energy yields zero features rather than an error,
// which keeps silence handling uniform for callers.
func (a *SpectralAnalyzer) Analyze(frame []float32) SpectralFeatures {
	magnitudes := a.Magnitudes(frame)
	if len(magnitudes) == 0 {
		return SpectralFeatures{}
	}

	n := nextPowerOfTwo(len(frame))
	binWidth := float64(a.sampleRate) / float64(n)

	var total, weighted float64
	for i, m := range magnitudes {
		total += m
		weighted += float64(i) * binWidth * m
	}
	if total == 0 {
		return SpectralFeatures{}
	}

	centroid := weighted / total

	target := total * rolloffFraction
	var cumulative, rolloff float64
	for i, m := range magnitudes {
		cumulative += m
		if cumulative >= target {
			rolloff = float64(i) * binWidth
			break
		}
	}

	return SpectralFeatures{Centroid: centroid, Rolloff: rolloff}
}

// Magnitudes returns the half-spectrum magnitudes of a Hann-windowed,
// zero-padded frame. The result is valid until the next call.
func (a *SpectralAnalyzer) Magnitudes(frame []float32) []float64 {
	if len(frame) == 0 {
		return nil
	}

	n := nextPowerOfTwo(len(frame))
	if cap(a.scratch) < n {
		a.scratch = make([]float64, n)
	}
	padded := a.scratch[:n]
	for i := range padded {
		padded[i] = 0
	}

	win := a.hannWindow(len(frame))
	for i, s := range frame {
		padded[i] = float64(s) * win[i]
	}

	plan, ok := a.plans[n]
	if !ok {
		plan = fourier.NewFFT(n)
		a.plans[n] = plan
	}

	coeffs := plan.Coefficients(nil, padded)
	magnitudes := make([]float64, len(coeffs))
	for i, c := range coeffs {
		magnitudes[i] = cmplx.Abs(c)
	}
	return magnitudes
}

func (a *SpectralAnalyzer) hannWindow(size int) []float64 {
	if win, ok := a.window[size]; ok {
		return win
	}
	win := make([]float64, size)
	if size == 1 {
		win[0] = 1
	} else {
		for i := range win {
			win[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(size-1)))
		}
	}
	a.window[size] = win
	return win
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
