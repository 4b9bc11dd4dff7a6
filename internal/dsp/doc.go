// Package dsp provides the signal processing primitives used by the
// audio pipeline: biquad IIR filters and FFT-based spectral analysis.
package dsp
