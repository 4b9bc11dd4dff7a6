package vad

import (
	"math"
	"testing"
	"time"
)

func speechFrame(cfg Config) []float32 {
	// A 2 kHz tone scores high on every feature: strong energy, zero
	// crossings well above the initial threshold, and spectral content
	// in the upper speech band.
	frame := make([]float32, cfg.FrameSize())
	for i := range frame {
		frame[i] = float32(0.5 * math.Sin(2*math.Pi*2000*float64(i)/float64(cfg.SampleRate)))
	}
	return frame
}

func silenceFrame(cfg Config) []float32 {
	return make([]float32, cfg.FrameSize())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"frame size 10", func(c *Config) { c.FrameSizeMs = 10 }, false},
		{"frame size 30", func(c *Config) { c.FrameSizeMs = 30 }, false},
		{"frame size 25", func(c *Config) { c.FrameSizeMs = 25 }, true},
		{"zero sample rate", func(c *Config) { c.SampleRate = 0 }, true},
		{"sensitivity too high", func(c *Config) { c.Sensitivity = 1.5 }, true},
		{"negative sensitivity", func(c *Config) { c.Sensitivity = -0.1 }, true},
		{"aggressiveness too high", func(c *Config) { c.Aggressiveness = 4 }, true},
		{"no features", func(c *Config) {
			c.EnergyEnabled = false
			c.ZCREnabled = false
			c.SpectralEnabled = false
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSilentInputNeverSpeech(t *testing.T) {
	cfg := DefaultConfig()
	detector, err := NewDetector(cfg)
	if err != nil {
		t.Fatalf("NewDetector() error = %v", err)
	}

	frame := silenceFrame(cfg)
	now := time.Now()
	for i := 0; i < 100; i++ {
		result := detector.ProcessFrame(frame, now)
		if result.IsSpeech {
			t.Fatalf("frame %d: silent input classified as speech (confidence %.3f)", i, result.Confidence)
		}
	}

	if state := detector.State(); state != StateSilence {
		t.Errorf("state after silent input = %v, want %v", state, StateSilence)
	}

	stats := detector.GetStats()
	if stats.SpeechFrames != 0 {
		t.Errorf("speech frames = %d, want 0", stats.SpeechFrames)
	}
	if stats.FramesProcessed != 100 {
		t.Errorf("frames processed = %d, want 100", stats.FramesProcessed)
	}
}

func TestToneDetectedAsSpeech(t *testing.T) {
	cfg := DefaultConfig()
	detector, err := NewDetector(cfg)
	if err != nil {
		t.Fatalf("NewDetector() error = %v", err)
	}

	frame := speechFrame(cfg)
	now := time.Now()

	// Check the frames before threshold adaptation has pulled the
	// baselines toward the tone itself.
	for i := 0; i < 8; i++ {
		result := detector.ProcessFrame(frame, now)
		if !result.IsSpeech {
			t.Fatalf("frame %d: tone not classified as speech (confidence %.3f)", i, result.Confidence)
		}
	}

	if state := detector.State(); state != StateSpeech {
		t.Errorf("state after sustained tone = %v, want %v", state, StateSpeech)
	}
}

func TestStateMachineTransitions(t *testing.T) {
	cfg := DefaultConfig()
	detector, err := NewDetector(cfg)
	if err != nil {
		t.Fatalf("NewDetector() error = %v", err)
	}

	speech := speechFrame(cfg)
	silence := silenceFrame(cfg)
	now := time.Now()

	steps := []struct {
		frame []float32
		want  State
	}{
		{speech, StatePossibleSpeech},
		{speech, StateSpeech},
		{speech, StateSpeech},
		{silence, StatePossibleSilence},
		{silence, StatePossibleSilence},
		{silence, StateExtendedSilence},
		{silence, StateSilence},
		{speech, StatePossibleSpeech},
		{speech, StateSpeech},
		{silence, StatePossibleSilence},
		{silence, StatePossibleSilence},
		{silence, StateExtendedSilence},
		// ExtendedSilence resolves to Silence on the very next frame
		// even when speech resumes immediately.
		{speech, StateSilence},
		{speech, StatePossibleSpeech},
	}

	for i, step := range steps {
		result := detector.ProcessFrame(step.frame, now)
		if result.State != step.want {
			t.Fatalf("step %d: state = %v, want %v", i, result.State, step.want)
		}
	}
}

func TestSpeechNeverSkipsPossibleSpeech(t *testing.T) {
	cfg := DefaultConfig()
	detector, err := NewDetector(cfg)
	if err != nil {
		t.Fatalf("NewDetector() error = %v", err)
	}

	// A single speech frame must not reach StateSpeech.
	result := detector.ProcessFrame(speechFrame(cfg), time.Now())
	if result.State != StatePossibleSpeech {
		t.Errorf("single speech frame state = %v, want %v", result.State, StatePossibleSpeech)
	}

	// A silence frame aborts the candidate without ever entering Speech.
	result = detector.ProcessFrame(silenceFrame(cfg), time.Now())
	if result.State != StateSilence {
		t.Errorf("aborted candidate state = %v, want %v", result.State, StateSilence)
	}
}

func TestEmptyFrameReturnsDegradedResult(t *testing.T) {
	cfg := DefaultConfig()
	detector, err := NewDetector(cfg)
	if err != nil {
		t.Fatalf("NewDetector() error = %v", err)
	}

	speech := speechFrame(cfg)
	now := time.Now()
	detector.ProcessFrame(speech, now)
	detector.ProcessFrame(speech, now)

	result := detector.ProcessFrame(nil, now)
	if result.IsSpeech {
		t.Error("empty frame classified as speech")
	}
	if result.Confidence != 0 {
		t.Errorf("empty frame confidence = %v, want 0", result.Confidence)
	}
	if result.State != StateSpeech {
		t.Errorf("empty frame advanced state to %v", result.State)
	}
	if stats := detector.GetStats(); stats.FramesProcessed != 2 {
		t.Errorf("frames processed = %d, want 2 (empty frame not counted)", stats.FramesProcessed)
	}

	// The next real frame carries on from the untouched state.
	if got := detector.ProcessFrame(speech, now); got.State != StateSpeech {
		t.Errorf("state after empty frame = %v, want %v", got.State, StateSpeech)
	}
}

func TestSingleSilenceFrameDoesNotEndSpeech(t *testing.T) {
	cfg := DefaultConfig()
	detector, err := NewDetector(cfg)
	if err != nil {
		t.Fatalf("NewDetector() error = %v", err)
	}

	speech := speechFrame(cfg)
	now := time.Now()

	detector.ProcessFrame(speech, now)
	detector.ProcessFrame(speech, now)

	// One silence blip, then speech resumes.
	result := detector.ProcessFrame(silenceFrame(cfg), now)
	if result.State != StatePossibleSilence {
		t.Fatalf("state after blip = %v, want %v", result.State, StatePossibleSilence)
	}

	result = detector.ProcessFrame(speech, now)
	if result.State != StateSpeech {
		t.Errorf("state after speech resumes = %v, want %v", result.State, StateSpeech)
	}
}

func TestSpeechStartAndEndEvents(t *testing.T) {
	cfg := DefaultConfig()
	detector, err := NewDetector(cfg)
	if err != nil {
		t.Fatalf("NewDetector() error = %v", err)
	}

	speech := speechFrame(cfg)
	silence := silenceFrame(cfg)
	now := time.Now()

	detector.ProcessFrame(speech, now)
	detector.ProcessFrame(speech, now)
	detector.ProcessFrame(silence, now)
	detector.ProcessFrame(silence, now)
	detector.ProcessFrame(silence, now)

	var sawStart, sawEnd bool
	for {
		select {
		case event := <-detector.Events():
			switch event.Type {
			case EventSpeechStart:
				sawStart = true
			case EventSpeechEnd:
				sawEnd = true
			}
			continue
		default:
		}
		break
	}

	if !sawStart {
		t.Error("no speech_start event emitted")
	}
	if !sawEnd {
		t.Error("no speech_end event emitted")
	}
}

func TestConfidenceReflectsDecision(t *testing.T) {
	cfg := DefaultConfig()
	detector, err := NewDetector(cfg)
	if err != nil {
		t.Fatalf("NewDetector() error = %v", err)
	}

	result := detector.ProcessFrame(silenceFrame(cfg), time.Now())
	if result.IsSpeech {
		t.Fatal("silence classified as speech")
	}
	if result.Confidence < 0.5 {
		t.Errorf("silence confidence = %.3f, want at least 0.5", result.Confidence)
	}

	result = detector.ProcessFrame(speechFrame(cfg), time.Now())
	if !result.IsSpeech {
		t.Fatal("tone not classified as speech")
	}
	if result.Confidence <= 0.5 {
		t.Errorf("speech confidence = %.3f, want above 0.5", result.Confidence)
	}
}

func TestDetectorReset(t *testing.T) {
	cfg := DefaultConfig()
	detector, err := NewDetector(cfg)
	if err != nil {
		t.Fatalf("NewDetector() error = %v", err)
	}

	speech := speechFrame(cfg)
	for i := 0; i < 5; i++ {
		detector.ProcessFrame(speech, time.Now())
	}

	detector.Reset()

	if state := detector.State(); state != StateSilence {
		t.Errorf("state after reset = %v, want %v", state, StateSilence)
	}
	stats := detector.GetStats()
	if stats.FramesProcessed != 0 || stats.SpeechFrames != 0 {
		t.Errorf("stats after reset = %+v, want zeroed counters", stats)
	}
}

func TestAggressivenessRaisesProbability(t *testing.T) {
	// A borderline frame: moderate energy, low crossing rate.
	makeDetector := func(aggressiveness int) *Detector {
		cfg := DefaultConfig()
		cfg.Aggressiveness = aggressiveness
		d, err := NewDetector(cfg)
		if err != nil {
			t.Fatalf("NewDetector() error = %v", err)
		}
		return d
	}

	cfg := DefaultConfig()
	frame := make([]float32, cfg.FrameSize())
	for i := range frame {
		frame[i] = float32(0.05 * math.Sin(2*math.Pi*300*float64(i)/float64(cfg.SampleRate)))
	}

	low := makeDetector(0).ProcessFrame(frame, time.Now())
	high := makeDetector(3).ProcessFrame(frame, time.Now())

	probLow := low.Confidence
	if !low.IsSpeech {
		probLow = 1 - low.Confidence
	}
	probHigh := high.Confidence
	if !high.IsSpeech {
		probHigh = 1 - high.Confidence
	}

	if probHigh < probLow {
		t.Errorf("aggressiveness 3 probability %.3f below aggressiveness 0 probability %.3f", probHigh, probLow)
	}
}
