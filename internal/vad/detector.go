package vad

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/audiopipe/audio-prep-service/internal/dsp"
)

// State is the debounced voice activity state.
type State int

const (
	StateSilence State = iota
	StatePossibleSpeech
	StateSpeech
	StatePossibleSilence
	StateExtendedSilence
)

func (s State) String() string {
	switch s {
	case StateSilence:
		return "silence"
	case StatePossibleSpeech:
		return "possible_speech"
	case StateSpeech:
		return "speech"
	case StatePossibleSilence:
		return "possible_silence"
	case StateExtendedSilence:
		return "extended_silence"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

const (
	// speechConfirmFrames is how many consecutive speech frames promote
	// PossibleSpeech to Speech.
	speechConfirmFrames = 2
	// silenceConfirmFrames is how many consecutive silence frames promote
	// PossibleSilence to ExtendedSilence.
	silenceConfirmFrames = 3

	// historySize is the rolling per-feature history used for threshold
	// adaptation.
	historySize = 20
	// adaptMinSamples is the minimum history before thresholds adapt.
	adaptMinSamples = 10
	// adaptAlpha is the smoothing factor applied to the history median.
	adaptAlpha = 0.1

	// eventQueueSize bounds the event channel. Events beyond capacity
	// are dropped and counted rather than blocking the audio path.
	eventQueueSize = 256
)

// Initial feature thresholds, adapted toward the observed signal.
const (
	initialEnergyThreshold   = 0.01
	initialZCRThreshold      = 0.1
	initialSpectralThreshold = 1000
)

// Config controls detector behavior.
type Config struct {
	SampleRate  int     `yaml:"sample_rate" json:"sample_rate"`
	FrameSizeMs int     `yaml:"frame_size_ms" json:"frame_size_ms"`
	Sensitivity float64 `yaml:"sensitivity" json:"sensitivity"`
	// Aggressiveness 0-3 scales the speech probability upward, making
	// the detector more willing to call frames speech.
	Aggressiveness int `yaml:"aggressiveness" json:"aggressiveness"`

	EnergyEnabled   bool `yaml:"energy_enabled" json:"energy_enabled"`
	ZCREnabled      bool `yaml:"zcr_enabled" json:"zcr_enabled"`
	SpectralEnabled bool `yaml:"spectral_enabled" json:"spectral_enabled"`
}

// DefaultConfig returns the detector defaults: 20 ms frames at 16 kHz
// with all features enabled.
func DefaultConfig() Config {
	return Config{
		SampleRate:      16000,
		FrameSizeMs:     20,
		Sensitivity:     0.5,
		Aggressiveness:  1,
		EnergyEnabled:   true,
		ZCREnabled:      true,
		SpectralEnabled: true,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	switch c.FrameSizeMs {
	case 10, 20, 30:
	default:
		return fmt.Errorf("frame_size_ms must be 10, 20, or 30, got %d", c.FrameSizeMs)
	}
	if c.Sensitivity < 0 || c.Sensitivity > 1 {
		return fmt.Errorf("sensitivity must be in [0, 1], got %v", c.Sensitivity)
	}
	if c.Aggressiveness < 0 || c.Aggressiveness > 3 {
		return fmt.Errorf("aggressiveness must be in [0, 3], got %d", c.Aggressiveness)
	}
	if !c.EnergyEnabled && !c.ZCREnabled && !c.SpectralEnabled {
		return fmt.Errorf("at least one feature must be enabled")
	}
	return nil
}

// FrameSize returns the frame length in samples.
func (c Config) FrameSize() int {
	return c.SampleRate * c.FrameSizeMs / 1000
}

// FrameDuration returns the frame length as a duration.
func (c Config) FrameDuration() time.Duration {
	return time.Duration(c.FrameSizeMs) * time.Millisecond
}

// Result is the per-frame detection outcome.
type Result struct {
	IsSpeech   bool    `json:"is_speech"`
	Confidence float64 `json:"confidence"`

	Energy           float64 `json:"energy"`
	ZeroCrossingRate float64 `json:"zero_crossing_rate"`
	SpectralCentroid float64 `json:"spectral_centroid"`
	SpectralRolloff  float64 `json:"spectral_rolloff"`

	State     State     `json:"-"`
	StateName string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// EventType identifies detector events.
type EventType int

const (
	EventStateChange EventType = iota
	EventSpeechStart
	EventSpeechEnd
)

func (t EventType) String() string {
	switch t {
	case EventSpeechStart:
		return "speech_start"
	case EventSpeechEnd:
		return "speech_end"
	default:
		return "state_change"
	}
}

// Event is a detector notification delivered over the Events channel.
type Event struct {
	Type      EventType
	State     State
	Previous  State
	Result    Result
	Timestamp time.Time
}

// Detector scores audio frames on multiple features and debounces the
// raw decisions through a state machine. Frames must be fed serially;
// the detector guards its state with a mutex but does not reorder
// concurrent callers.
type Detector struct {
	config   Config
	analyzer *dsp.SpectralAnalyzer

	mu    sync.Mutex
	state State

	consecSpeech  int
	consecSilence int

	energyHistory   []float64
	zcrHistory      []float64
	spectralHistory []float64

	energyThreshold   float64
	zcrThreshold      float64
	spectralThreshold float64

	events        chan Event
	droppedEvents uint64

	framesProcessed uint64
	speechFrames    uint64
	lastResult      Result
}

// NewDetector creates a detector from the given configuration.
func NewDetector(config Config) (*Detector, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid detector config: %w", err)
	}

	return &Detector{
		config:            config,
		analyzer:          dsp.NewSpectralAnalyzer(config.SampleRate),
		state:             StateSilence,
		energyThreshold:   initialEnergyThreshold,
		zcrThreshold:      initialZCRThreshold,
		spectralThreshold: initialSpectralThreshold,
		events:            make(chan Event, eventQueueSize),
	}, nil
}

// Events exposes the detector's notification channel. Consumers that
// fall behind lose events rather than stalling frame processing.
func (d *Detector) Events() <-chan Event {
	return d.events
}

// ProcessFrame scores one frame and advances the state machine. The
// frame should contain Config.FrameSize samples; shorter frames are
// scored on what they contain.
func (d *Detector) ProcessFrame(samples []float32, timestamp time.Time) Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	// An empty frame degrades to a zero-confidence non-speech result.
	// It must not advance the state machine or enter the adaptive
	// history, or a burst of bad frames would drag the thresholds down.
	if len(samples) == 0 {
		return Result{
			State:     d.state,
			StateName: d.state.String(),
			Timestamp: timestamp,
		}
	}

	energy := frameEnergy(samples)
	zcr := zeroCrossingRate(samples)

	var spectralScore float64
	var features dsp.SpectralFeatures
	if d.config.SpectralEnabled {
		features = d.analyzer.Analyze(samples)
		spectralScore = (features.Centroid + features.Rolloff) / 2
	}

	probability := d.speechProbability(energy, zcr, spectralScore)
	isSpeech := probability > d.config.Sensitivity

	confidence := probability
	if !isSpeech {
		confidence = 1 - probability
	}

	d.updateHistory(energy, zcr, spectralScore)
	d.adaptThresholds()

	result := Result{
		IsSpeech:         isSpeech,
		Confidence:       confidence,
		Energy:           energy,
		ZeroCrossingRate: zcr,
		SpectralCentroid: features.Centroid,
		SpectralRolloff:  features.Rolloff,
		Timestamp:        timestamp,
	}

	d.advanceState(isSpeech, &result)

	d.framesProcessed++
	if isSpeech {
		d.speechFrames++
	}
	d.lastResult = result

	return result
}

// speechProbability combines the enabled feature contributions with
// equal weight, then applies the aggressiveness boost. Each feature
// contributes how far the measured value sits above its adaptive
// threshold, clamped to [0, 1].
func (d *Detector) speechProbability(energy, zcr, spectralScore float64) float64 {
	var sum float64
	var count int

	if d.config.EnergyEnabled {
		sum += featureScore(energy, d.energyThreshold)
		count++
	}
	if d.config.ZCREnabled {
		sum += featureScore(zcr, d.zcrThreshold)
		count++
	}
	if d.config.SpectralEnabled {
		sum += featureScore(spectralScore, d.spectralThreshold)
		count++
	}
	if count == 0 {
		return 0
	}

	probability := sum / float64(count)
	probability *= 1 + 0.1*float64(d.config.Aggressiveness)
	return clamp01(probability)
}

const thresholdEpsilon = 1e-10

func featureScore(value, threshold float64) float64 {
	denom := threshold
	if denom < thresholdEpsilon {
		denom = thresholdEpsilon
	}
	return clamp01((value - threshold) / denom)
}

func (d *Detector) updateHistory(energy, zcr, spectralScore float64) {
	d.energyHistory = appendBounded(d.energyHistory, energy)
	d.zcrHistory = appendBounded(d.zcrHistory, zcr)
	d.spectralHistory = appendBounded(d.spectralHistory, spectralScore)
}

func appendBounded(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// adaptThresholds smooths the per-feature history median into each
// threshold so the detector tracks the ambient signal level.
func (d *Detector) adaptThresholds() {
	if len(d.energyHistory) < adaptMinSamples {
		return
	}

	d.energyThreshold = smooth(d.energyThreshold, median(d.energyHistory))
	d.zcrThreshold = smooth(d.zcrThreshold, median(d.zcrHistory))
	d.spectralThreshold = smooth(d.spectralThreshold, median(d.spectralHistory))
}

func smooth(current, target float64) float64 {
	return (1-adaptAlpha)*current + adaptAlpha*target
}

func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// advanceState runs the debounce machine for one frame decision.
// Single-frame blips in either direction are absorbed by the
// PossibleSpeech and PossibleSilence states.
func (d *Detector) advanceState(isSpeech bool, result *Result) {
	previous := d.state

	switch d.state {
	case StateSilence:
		if isSpeech {
			d.state = StatePossibleSpeech
			d.consecSpeech = 1
		}

	case StatePossibleSpeech:
		if isSpeech {
			d.consecSpeech++
			if d.consecSpeech >= speechConfirmFrames {
				d.state = StateSpeech
			}
		} else {
			d.state = StateSilence
			d.consecSpeech = 0
		}

	case StateSpeech:
		if !isSpeech {
			d.state = StatePossibleSilence
			d.consecSilence = 1
		}

	case StatePossibleSilence:
		if isSpeech {
			d.state = StateSpeech
			d.consecSilence = 0
		} else {
			d.consecSilence++
			if d.consecSilence >= silenceConfirmFrames {
				d.state = StateExtendedSilence
			}
		}

	case StateExtendedSilence:
		// Always resolves to Silence, regardless of the frame. Speech
		// resuming immediately still opens a fresh candidate from
		// Silence on the following frame.
		d.consecSilence = 0
		d.state = StateSilence
	}

	result.State = d.state
	result.StateName = d.state.String()

	if d.state == previous {
		return
	}

	d.emit(Event{Type: EventStateChange, State: d.state, Previous: previous, Result: *result, Timestamp: result.Timestamp})
	switch {
	case d.state == StateSpeech && previous == StatePossibleSpeech:
		d.emit(Event{Type: EventSpeechStart, State: d.state, Previous: previous, Result: *result, Timestamp: result.Timestamp})
	case d.state == StateExtendedSilence:
		d.emit(Event{Type: EventSpeechEnd, State: d.state, Previous: previous, Result: *result, Timestamp: result.Timestamp})
	}
}

func (d *Detector) emit(event Event) {
	select {
	case d.events <- event:
	default:
		d.droppedEvents++
	}
}

// State returns the current debounced state.
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// LastResult returns the most recent frame result.
func (d *Detector) LastResult() Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastResult
}

// Stats reports cumulative detector activity.
type Stats struct {
	FramesProcessed uint64  `json:"frames_processed"`
	SpeechFrames    uint64  `json:"speech_frames"`
	SpeechRatio     float64 `json:"speech_ratio"`
	State           string  `json:"state"`
	EnergyThreshold float64 `json:"energy_threshold"`
	DroppedEvents   uint64  `json:"dropped_events"`
}

// GetStats returns a snapshot of detector statistics.
func (d *Detector) GetStats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	ratio := 0.0
	if d.framesProcessed > 0 {
		ratio = float64(d.speechFrames) / float64(d.framesProcessed)
	}

	return Stats{
		FramesProcessed: d.framesProcessed,
		SpeechFrames:    d.speechFrames,
		SpeechRatio:     ratio,
		State:           d.state.String(),
		EnergyThreshold: d.energyThreshold,
		DroppedEvents:   d.droppedEvents,
	}
}

// Reset returns the detector to its initial state, clearing histories
// and adaptive thresholds.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.state = StateSilence
	d.consecSpeech = 0
	d.consecSilence = 0
	d.energyHistory = nil
	d.zcrHistory = nil
	d.spectralHistory = nil
	d.energyThreshold = initialEnergyThreshold
	d.zcrThreshold = initialZCRThreshold
	d.spectralThreshold = initialSpectralThreshold
	d.framesProcessed = 0
	d.speechFrames = 0
	d.lastResult = Result{}
}

func frameEnergy(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func zeroCrossingRate(samples []float32) float64 {
	if len(samples) < 2 {
		return 0
	}
	var crossings int
	for i := 1; i < len(samples); i++ {
		if (samples[i-1] >= 0) != (samples[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(samples)-1)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
