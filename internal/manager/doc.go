// Package manager coordinates the audio pipeline: it owns the
// streaming processor, the file pipeline, and the configuration, and
// exposes the operations the ingest and HTTP surfaces call into.
package manager
