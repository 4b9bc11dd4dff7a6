// Package audio implements the conditioning and segmentation stages of
// the pipeline: the preprocessing chain, quality analysis, boundary-aware
// chunking, format detection and conversion, and the WAV codec used for
// in-memory chunk payloads.
package audio
