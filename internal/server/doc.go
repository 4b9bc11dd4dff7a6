// Package server hosts the service's network surfaces: the UDP listener
// that ingests live PCM frames and the HTTP API used for control,
// file processing, and monitoring.
package server
