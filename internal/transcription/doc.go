// Package transcription defines the transcription backend interface and
// its HTTP implementation. The client sends chunk payloads as multipart
// form data with retry and bounded concurrency.
package transcription
