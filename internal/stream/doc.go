// Package stream runs the real-time processing loop: frames in, chunks
// out. It buffers incoming audio, tracks voice activity, and dispatches
// completed chunks to the transcription backend with bounded concurrency.
package stream
