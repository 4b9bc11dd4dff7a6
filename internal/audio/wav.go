package audio

import (
	"bytes"
	"encoding/binary"
	"math"
)

const wavHeaderSize = 44

// wavHeader is the canonical 44-byte PCM WAV header. It is used for
// in-memory chunk payloads handed to the transcription backend; file
// decoding goes through the format converter instead.
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// EncodeWAV serializes mono float32 samples as a 16-bit PCM WAV payload.
// Samples outside [-1, 1] are clipped during quantization.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	const op = "audio.EncodeWAV"

	if len(samples) == 0 {
		return nil, NewError(KindInvalidInput, op, "cannot encode empty sample buffer")
	}
	if sampleRate <= 0 {
		return nil, NewError(KindInvalidInput, op, "sample rate must be positive, got %d", sampleRate)
	}

	pcm := make([]int16, len(samples))
	for i, s := range samples {
		pcm[i] = quantizeSample(s)
	}

	const numChannels = 1
	const bitsPerSample = 16
	dataSize := uint32(len(pcm) * 2)

	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * numChannels * bitsPerSample / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)*2))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, WrapError(KindConversionFailed, op, err)
	}
	if err := binary.Write(buf, binary.LittleEndian, pcm); err != nil {
		return nil, WrapError(KindConversionFailed, op, err)
	}

	return buf.Bytes(), nil
}

// DecodeWAV parses a mono 16-bit PCM WAV payload back into float32
// samples, returning the samples and the sample rate.
func DecodeWAV(data []byte) ([]float32, int, error) {
	const op = "audio.DecodeWAV"

	header, err := parseWAVHeader(data)
	if err != nil {
		return nil, 0, err
	}

	if header.AudioFormat != 1 {
		return nil, 0, NewError(KindUnsupportedFormat, op, "audio format %d, only PCM supported", header.AudioFormat)
	}
	if header.BitsPerSample != 16 {
		return nil, 0, NewError(KindUnsupportedFormat, op, "bit depth %d, only 16-bit supported", header.BitsPerSample)
	}
	if header.NumChannels != 1 {
		return nil, 0, NewError(KindUnsupportedFormat, op, "%d channels, only mono supported", header.NumChannels)
	}

	numSamples := int(header.Subchunk2Size) / 2
	if numSamples <= 0 {
		return nil, 0, NewError(KindInvalidInput, op, "no audio data in payload")
	}
	if wavHeaderSize+numSamples*2 > len(data) {
		return nil, 0, NewError(KindInvalidInput, op, "payload truncated: header declares %d samples, %d bytes available", numSamples, len(data)-wavHeaderSize)
	}

	pcm := make([]int16, numSamples)
	reader := bytes.NewReader(data[wavHeaderSize:])
	if err := binary.Read(reader, binary.LittleEndian, pcm); err != nil {
		return nil, 0, WrapError(KindConversionFailed, op, err)
	}

	samples := make([]float32, numSamples)
	for i, s := range pcm {
		samples[i] = float32(s) / 32768.0
	}

	return samples, int(header.SampleRate), nil
}

// ValidateWAV checks the structural markers of a WAV payload without
// decoding the audio data.
func ValidateWAV(data []byte) error {
	_, err := parseWAVHeader(data)
	return err
}

// WAVDuration returns the duration of a WAV payload in seconds.
func WAVDuration(data []byte) (float64, error) {
	const op = "audio.WAVDuration"

	header, err := parseWAVHeader(data)
	if err != nil {
		return 0, err
	}
	if header.SampleRate == 0 {
		return 0, NewError(KindInvalidInput, op, "sample rate is zero")
	}

	bytesPerSample := uint32(header.BitsPerSample) / 8
	if bytesPerSample == 0 {
		return 0, NewError(KindInvalidInput, op, "bits per sample is zero")
	}
	numSamples := header.Subchunk2Size / bytesPerSample / uint32(header.NumChannels)
	return float64(numSamples) / float64(header.SampleRate), nil
}

func parseWAVHeader(data []byte) (*wavHeader, error) {
	const op = "audio.parseWAVHeader"

	if len(data) < wavHeaderSize {
		return nil, NewError(KindInvalidInput, op, "payload too short: need %d bytes, got %d", wavHeaderSize, len(data))
	}

	var header wavHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, WrapError(KindInvalidInput, op, err)
	}

	if string(header.ChunkID[:]) != "RIFF" {
		return nil, NewError(KindUnsupportedFormat, op, "missing RIFF marker")
	}
	if string(header.Format[:]) != "WAVE" {
		return nil, NewError(KindUnsupportedFormat, op, "missing WAVE marker")
	}
	if string(header.Subchunk1ID[:]) != "fmt " {
		return nil, NewError(KindUnsupportedFormat, op, "missing fmt chunk")
	}
	if string(header.Subchunk2ID[:]) != "data" {
		return nil, NewError(KindUnsupportedFormat, op, "missing data chunk")
	}

	return &header, nil
}

func quantizeSample(s float32) int16 {
	scaled := float64(s) * 32767.0
	if scaled > 32767 {
		return 32767
	}
	if scaled < -32768 {
		return -32768
	}
	return int16(math.Round(scaled))
}
