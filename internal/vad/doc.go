// Package vad provides multi-feature voice activity detection.
// It scores frames on energy, zero-crossing rate, and spectral shape,
// adapts its thresholds to the recent signal, and debounces raw frame
// decisions through a five-state machine.
package vad
