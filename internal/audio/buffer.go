package audio

import (
	"sync"
	"time"
)

// reorderMaxGap is how many missing frames the buffer waits for before
// declaring them lost and resynchronizing.
const reorderMaxGap = 20

// lostTrackingWindow bounds how long lost sequence numbers are tracked.
const lostTrackingWindow = 100

// FrameBuffer reassembles a live PCM stream from datagrams that may
// arrive out of order. In-order frames decode straight into the sample
// queue; future frames are parked until the gap fills or exceeds
// reorderMaxGap, at which point the missing frames are written off as
// lost and the stream resynchronizes.
type FrameBuffer struct {
	sampleRate int

	mu       sync.RWMutex
	samples  []float32
	lastSeq  uint32
	nextSeq  uint32
	parked   map[uint32][]byte
	lost     map[uint32]bool
	started  bool

	lastUpdate  time.Time
	totalFrames uint64
	lostCount   uint64
}

// NewFrameBuffer creates a reassembly buffer for mono PCM-16 frames at
// the given sample rate.
func NewFrameBuffer(sampleRate int) *FrameBuffer {
	return &FrameBuffer{
		sampleRate: sampleRate,
		samples:    make([]float32, 0, sampleRate),
		parked:     make(map[uint32][]byte),
		lost:       make(map[uint32]bool),
		lastUpdate: time.Now(),
	}
}

// AddFrame queues one sequence-numbered frame of little-endian PCM-16
// bytes. Old duplicates are rejected.
func (b *FrameBuffer) AddFrame(sequence uint32, pcm []byte) error {
	const op = "audio.FrameBuffer.AddFrame"

	if len(pcm) == 0 || len(pcm)%2 != 0 {
		return NewError(KindInvalidInput, op, "frame length must be a positive even byte count, got %d", len(pcm))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastUpdate = time.Now()
	b.totalFrames++

	if !b.started {
		b.started = true
		b.nextSeq = sequence
		b.lastSeq = sequence - 1
	}

	switch {
	case sequence == b.nextSeq:
		b.appendPCM(pcm)
		b.lastSeq = sequence
		b.nextSeq = sequence + 1
		b.drainParked()

	case sequence > b.nextSeq:
		data := make([]byte, len(pcm))
		copy(data, pcm)
		b.parked[sequence] = data

		if sequence-b.nextSeq > reorderMaxGap {
			// Write off the missing slots, but keep any frames that did
			// arrive inside the gap instead of stranding them in parked.
			for seq := b.nextSeq; seq < sequence; seq++ {
				if data, ok := b.parked[seq]; ok {
					b.appendPCM(data)
					delete(b.parked, seq)
				} else {
					b.lost[seq] = true
					b.lostCount++
				}
			}
			b.nextSeq = sequence
			b.drainParked()
		}

	default:
		return NewError(KindInvalidInput, op, "stale frame: seq=%d, last=%d", sequence, b.lastSeq)
	}

	b.pruneLost()
	return nil
}

func (b *FrameBuffer) appendPCM(pcm []byte) {
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int16(pcm[i]) | int16(pcm[i+1])<<8
		b.samples = append(b.samples, float32(s)/32768.0)
	}
}

func (b *FrameBuffer) drainParked() {
	for {
		data, ok := b.parked[b.nextSeq]
		if !ok {
			return
		}
		b.appendPCM(data)
		delete(b.parked, b.nextSeq)
		delete(b.lost, b.nextSeq)
		b.lastSeq = b.nextSeq
		b.nextSeq++
	}
}

func (b *FrameBuffer) pruneLost() {
	if b.lastSeq < lostTrackingWindow {
		return
	}
	cutoff := b.lastSeq - lostTrackingWindow
	for seq := range b.lost {
		if seq < cutoff {
			delete(b.lost, seq)
		}
	}
}

// PopSamples removes and returns all in-order samples accumulated so
// far. It returns nil when nothing is ready.
func (b *FrameBuffer) PopSamples() []float32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.samples) == 0 {
		return nil
	}
	out := b.samples
	b.samples = make([]float32, 0, cap(out))
	return out
}

// LastUpdate returns the arrival time of the most recent frame.
func (b *FrameBuffer) LastUpdate() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdate
}

// FrameBufferStats reports reassembly statistics.
type FrameBufferStats struct {
	TotalFrames    uint64  `json:"total_frames"`
	LostFrames     uint64  `json:"lost_frames"`
	LossRate       float64 `json:"loss_rate"`
	PendingFrames  int     `json:"pending_frames"`
	QueuedSamples  int     `json:"queued_samples"`
	LastSequence   uint32  `json:"last_sequence"`
}

// GetStats returns a snapshot of buffer statistics.
func (b *FrameBuffer) GetStats() FrameBufferStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	lossRate := 0.0
	if b.totalFrames > 0 {
		lossRate = float64(b.lostCount) / float64(b.totalFrames) * 100
	}

	return FrameBufferStats{
		TotalFrames:   b.totalFrames,
		LostFrames:    b.lostCount,
		LossRate:      lossRate,
		PendingFrames: len(b.parked),
		QueuedSamples: len(b.samples),
		LastSequence:  b.lastSeq,
	}
}

// Reset clears all buffered state for a new stream.
func (b *FrameBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.samples = b.samples[:0]
	b.parked = make(map[uint32][]byte)
	b.lost = make(map[uint32]bool)
	b.started = false
	b.lastSeq = 0
	b.nextSeq = 0
	b.totalFrames = 0
	b.lostCount = 0
}
