package audio

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Format identifies a container or codec family.
type Format int

const (
	FormatUnknown Format = iota
	FormatWAV
	FormatMP3
	FormatM4A
	FormatAAC
	FormatFLAC
	FormatOGG
	FormatPCM
)

func (f Format) String() string {
	switch f {
	case FormatWAV:
		return "wav"
	case FormatMP3:
		return "mp3"
	case FormatM4A:
		return "m4a"
	case FormatAAC:
		return "aac"
	case FormatFLAC:
		return "flac"
	case FormatOGG:
		return "ogg"
	case FormatPCM:
		return "pcm"
	default:
		return "unknown"
	}
}

// FormatFromExtension maps a file extension to a format. It is the
// fallback when content sniffing is inconclusive.
func FormatFromExtension(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave":
		return FormatWAV
	case ".mp3":
		return FormatMP3
	case ".m4a", ".mp4":
		return FormatM4A
	case ".aac":
		return FormatAAC
	case ".flac":
		return FormatFLAC
	case ".ogg", ".oga", ".opus":
		return FormatOGG
	case ".pcm", ".raw":
		return FormatPCM
	default:
		return FormatUnknown
	}
}

// DetectFormat sniffs leading magic bytes. It needs at least 12 bytes
// to be reliable; shorter input yields FormatUnknown.
func DetectFormat(data []byte) Format {
	if len(data) < 12 {
		return FormatUnknown
	}

	switch {
	case bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return FormatWAV
	case bytes.HasPrefix(data, []byte("fLaC")):
		return FormatFLAC
	case bytes.HasPrefix(data, []byte("OggS")):
		return FormatOGG
	case bytes.HasPrefix(data, []byte("ID3")):
		return FormatMP3
	case data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		// MPEG audio frame sync. 0xF1/0xF9 in the second byte is ADTS AAC.
		if data[1] == 0xF1 || data[1] == 0xF9 {
			return FormatAAC
		}
		return FormatMP3
	case bytes.HasPrefix(data, []byte("ADIF")):
		return FormatAAC
	case bytes.Equal(data[4:8], []byte("ftyp")):
		return FormatM4A
	default:
		return FormatUnknown
	}
}

// DetectFileFormat sniffs a file's leading bytes and falls back to the
// extension when the content is not recognized.
func DetectFileFormat(path string) (Format, error) {
	const op = "audio.DetectFileFormat"

	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, WrapError(KindInvalidInput, op, err)
	}
	defer f.Close()

	header := make([]byte, 12)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.ErrUnexpectedEOF {
		return FormatUnknown, WrapError(KindInvalidInput, op, err)
	}

	if format := DetectFormat(header[:n]); format != FormatUnknown {
		return format, nil
	}
	return FormatFromExtension(path), nil
}

// Metadata describes an audio file without decoding all of it.
type Metadata struct {
	Format     Format        `json:"-"`
	FormatName string        `json:"format"`
	Duration   time.Duration `json:"duration"`
	SampleRate int           `json:"sample_rate"`
	Channels   int           `json:"channels"`
	BitDepth   int           `json:"bit_depth"`
	FileSize   int64         `json:"file_size"`
}

// ConversionSettings selects the target encoding of Convert.
type ConversionSettings struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// DefaultConversionSettings is the pipeline's canonical target: mono
// 16 kHz 16-bit.
func DefaultConversionSettings() ConversionSettings {
	return ConversionSettings{SampleRate: 16000, Channels: 1, BitDepth: 16}
}

// Converter decodes audio files into the canonical in-memory form
// (mono float32) and writes WAV files back out. Compressed formats are
// detected and reported, but only WAV and raw PCM payloads decode
// without an external codec.
type Converter struct {
	targetRate int
	logger     *slog.Logger
}

// NewConverter creates a converter that resamples decoded audio to
// targetRate.
func NewConverter(targetRate int, logger *slog.Logger) *Converter {
	return &Converter{targetRate: targetRate, logger: logger}
}

// ReadFile decodes an audio file into canonical mono float32 samples at
// the converter's target rate.
func (c *Converter) ReadFile(path string) ([]float32, Metadata, error) {
	const op = "audio.Converter.ReadFile"

	format, err := DetectFileFormat(path)
	if err != nil {
		return nil, Metadata{}, err
	}
	if format != FormatWAV {
		return nil, Metadata{}, NewError(KindUnsupportedFormat, op, "cannot decode %s without an external codec", format)
	}

	samples, meta, err := c.readWAV(path)
	if err != nil {
		return nil, Metadata{}, err
	}

	if meta.SampleRate != c.targetRate {
		c.logger.Debug("resampling decoded audio",
			slog.String("path", filepath.Base(path)),
			slog.Int("from", meta.SampleRate),
			slog.Int("to", c.targetRate),
		)
		samples = Resample(samples, meta.SampleRate, c.targetRate)
	}

	return samples, meta, nil
}

func (c *Converter) readWAV(path string) ([]float32, Metadata, error) {
	const op = "audio.Converter.readWAV"

	f, err := os.Open(path)
	if err != nil {
		return nil, Metadata{}, WrapError(KindInvalidInput, op, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, Metadata{}, WrapError(KindInvalidInput, op, err)
	}

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, Metadata{}, NewError(KindUnsupportedFormat, op, "not a decodable WAV file")
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, Metadata{}, WrapError(KindConversionFailed, op, err)
	}
	if buf == nil || len(buf.Data) == 0 {
		return nil, Metadata{}, NewError(KindInvalidInput, op, "no audio data in file")
	}

	channels := buf.Format.NumChannels
	if channels <= 0 {
		channels = 1
	}
	bitDepth := int(decoder.BitDepth)
	if bitDepth == 0 {
		bitDepth = 16
	}

	samples := Downmix(buf.Data, channels, bitDepth)

	meta := Metadata{
		Format:     FormatWAV,
		FormatName: FormatWAV.String(),
		SampleRate: buf.Format.SampleRate,
		Channels:   channels,
		BitDepth:   bitDepth,
		FileSize:   info.Size(),
	}
	if meta.SampleRate > 0 {
		frames := len(buf.Data) / channels
		meta.Duration = time.Duration(float64(frames) / float64(meta.SampleRate) * float64(time.Second))
	}

	return samples, meta, nil
}

// FileMetadata returns metadata for an audio file. For WAV it decodes
// the header; for other formats it reports what sniffing and the file
// size reveal.
func (c *Converter) FileMetadata(path string) (Metadata, error) {
	const op = "audio.Converter.FileMetadata"

	format, err := DetectFileFormat(path)
	if err != nil {
		return Metadata{}, err
	}

	stat, err := os.Stat(path)
	if err != nil {
		return Metadata{}, WrapError(KindInvalidInput, op, err)
	}

	meta := Metadata{
		Format:     format,
		FormatName: format.String(),
		FileSize:   stat.Size(),
	}

	if format != FormatWAV {
		return meta, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return Metadata{}, WrapError(KindInvalidInput, op, err)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	decoder.ReadInfo()
	if err := decoder.Err(); err != nil {
		return Metadata{}, WrapError(KindConversionFailed, op, err)
	}
	duration, err := decoder.Duration()
	if err != nil {
		return Metadata{}, WrapError(KindConversionFailed, op, err)
	}

	meta.Duration = duration
	meta.SampleRate = int(decoder.SampleRate)
	meta.Channels = int(decoder.NumChans)
	meta.BitDepth = int(decoder.BitDepth)
	return meta, nil
}

// conversionBlockFrames is the write granularity of Convert, sized so
// progress callbacks fire at a useful rate.
const conversionBlockFrames = 16384

// Convert transcodes srcPath into a PCM WAV file at dstPath with the
// given settings. progress, when non-nil, is called with values in
// [0, 1] as encoding advances. The destination is removed on failure.
func (c *Converter) Convert(ctx context.Context, srcPath, dstPath string, settings ConversionSettings, progress func(float64)) error {
	const op = "audio.Converter.Convert"

	if settings.SampleRate <= 0 || settings.Channels <= 0 {
		return NewError(KindConfiguration, op, "sample rate and channels must be positive")
	}
	if settings.BitDepth != 16 {
		return NewError(KindUnsupportedFormat, op, "only 16-bit output supported, got %d", settings.BitDepth)
	}

	samples, meta, err := c.ReadFile(srcPath)
	if err != nil {
		return err
	}
	if settings.SampleRate != c.targetRate {
		samples = Resample(samples, c.targetRate, settings.SampleRate)
	}

	need := int64(len(samples))*2*int64(settings.Channels) + wavHeaderSize
	if err := checkDiskSpace(filepath.Dir(dstPath), need); err != nil {
		return err
	}

	out, err := os.Create(dstPath)
	if err != nil {
		return WrapError(KindConversionFailed, op, err)
	}

	encoder := wav.NewEncoder(out, settings.SampleRate, settings.BitDepth, settings.Channels, 1)

	fail := func(cause error) error {
		encoder.Close()
		out.Close()
		os.Remove(dstPath)
		return WrapError(KindConversionFailed, op, cause)
	}

	block := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: settings.Channels, SampleRate: settings.SampleRate},
		SourceBitDepth: settings.BitDepth,
	}

	total := len(samples)
	for offset := 0; offset < total; offset += conversionBlockFrames {
		select {
		case <-ctx.Done():
			return fail(ctx.Err())
		default:
		}

		end := offset + conversionBlockFrames
		if end > total {
			end = total
		}

		frames := samples[offset:end]
		block.Data = block.Data[:0]
		for _, s := range frames {
			v := int(quantizeSample(s))
			for ch := 0; ch < settings.Channels; ch++ {
				block.Data = append(block.Data, v)
			}
		}

		if err := encoder.Write(block); err != nil {
			return fail(err)
		}
		if progress != nil {
			progress(float64(end) / float64(total))
		}
	}

	if err := encoder.Close(); err != nil {
		return fail(err)
	}
	if err := out.Close(); err != nil {
		return WrapError(KindConversionFailed, op, err)
	}

	c.logger.Info("file converted",
		slog.String("src", filepath.Base(srcPath)),
		slog.String("dst", filepath.Base(dstPath)),
		slog.String("src_format", meta.FormatName),
		slog.Int("sample_rate", settings.SampleRate),
		slog.Int("channels", settings.Channels),
	)

	return nil
}

// checkDiskSpace verifies the destination filesystem has room for the
// output plus headroom.
func checkDiskSpace(dir string, need int64) error {
	const op = "audio.checkDiskSpace"

	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		// Detection failure is not fatal; the write itself will surface
		// a real shortage.
		return nil
	}

	available := int64(stat.Bavail) * int64(stat.Bsize)
	if available < need*2 {
		return NewError(KindInsufficientResources, op, "need %d bytes in %s, %d available", need, dir, available)
	}
	return nil
}

// Downmix converts interleaved integer PCM to mono float32 by averaging
// channels and scaling by the bit depth's full-scale value.
func Downmix(data []int, channels, bitDepth int) []float32 {
	if channels <= 0 {
		channels = 1
	}

	scale := float64(int64(1) << (bitDepth - 1))
	frames := len(data) / channels
	out := make([]float32, frames)

	for i := 0; i < frames; i++ {
		var sum float64
		for ch := 0; ch < channels; ch++ {
			sum += float64(data[i*channels+ch])
		}
		out[i] = float32(sum / float64(channels) / scale)
	}
	return out
}

// Resample converts samples between rates with linear interpolation.
// It is adequate for speech feature extraction; transcription-critical
// paths should prefer sources already at the target rate.
func Resample(samples []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 || len(samples) == 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	outLen := int(float64(len(samples)) / ratio)
	if outLen == 0 {
		outLen = 1
	}

	out := make([]float32, outLen)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}
	return out
}
