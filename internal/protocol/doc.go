// Package protocol implements the binary framing used by the UDP audio
// ingest path: a fixed header followed by a control or PCM payload.
package protocol
