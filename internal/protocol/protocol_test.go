package protocol

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expected    *Header
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid control header",
			data: []byte{
				0x01,       // PacketType: Control
				0x00, 0x10, // PacketLen: 16 (8 + 8)
				0x00, 0x00, 0x30, 0x39, // SessionID: 12345
				0x00, // Reserved
			},
			expected: &Header{
				PacketType: PacketTypeControl,
				PacketLen:  16,
				SessionID:  12345,
			},
		},
		{
			name: "valid audio header",
			data: []byte{
				0x02,       // PacketType: Audio
				0x01, 0x00, // PacketLen: 256
				0x12, 0x34, 0x56, 0x78, // SessionID: 305419896
				0x00, // Reserved
			},
			expected: &Header{
				PacketType: PacketTypeAudio,
				PacketLen:  256,
				SessionID:  305419896,
			},
		},
		{
			name:        "header too short",
			data:        []byte{0x01, 0x00},
			expectError: true,
			errorMsg:    "header too short",
		},
		{
			name:        "empty data",
			data:        []byte{},
			expectError: true,
			errorMsg:    "header too short",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header, err := ParseHeader(tt.data)

			if tt.expectError {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("error = %q, want substring %q", err.Error(), tt.errorMsg)
				}
				return
			}

			if err != nil {
				t.Fatalf("ParseHeader() error = %v", err)
			}
			if *header != *tt.expected {
				t.Errorf("header = %+v, want %+v", header, tt.expected)
			}
		})
	}
}

func TestParseControlPayload(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expected    *ControlPayload
		expectError bool
	}{
		{
			name: "start command",
			data: []byte{
				0x01,                   // Command: Start
				0x00, 0x00, 0x3E, 0x80, // SampleRate: 16000
				0x01,       // Channels: 1
				0x00, 0x00, // Reserved
			},
			expected: &ControlPayload{Command: ControlStart, SampleRate: 16000, Channels: 1},
		},
		{
			name: "stop command",
			data: []byte{
				0x02,
				0x00, 0x00, 0x1F, 0x40, // SampleRate: 8000
				0x01,
				0x00, 0x00,
			},
			expected: &ControlPayload{Command: ControlStop, SampleRate: 8000, Channels: 1},
		},
		{
			name:        "unknown command",
			data:        []byte{0x09, 0x00, 0x00, 0x3E, 0x80, 0x01, 0x00, 0x00},
			expectError: true,
		},
		{
			name:        "payload too short",
			data:        []byte{0x01, 0x00},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := ParseControlPayload(tt.data)

			if tt.expectError {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseControlPayload() error = %v", err)
			}
			if *payload != *tt.expected {
				t.Errorf("payload = %+v, want %+v", payload, tt.expected)
			}
		})
	}
}

func TestParseAudioPayload(t *testing.T) {
	pcm := []byte{0x10, 0x20, 0x30, 0x40}
	data := append([]byte{0x00, 0x00, 0x00, 0x2A}, pcm...) // Sequence: 42

	payload, err := ParseAudioPayload(data)
	if err != nil {
		t.Fatalf("ParseAudioPayload() error = %v", err)
	}

	if payload.Sequence != 42 {
		t.Errorf("sequence = %d, want 42", payload.Sequence)
	}
	if !bytes.Equal(payload.PCM, pcm) {
		t.Errorf("pcm = %v, want %v", payload.PCM, pcm)
	}

	// The payload must own its bytes; mutating the datagram buffer
	// afterwards must not change it.
	data[AudioPayloadHeaderSize] = 0xFF
	if payload.PCM[0] != 0x10 {
		t.Error("payload aliases the datagram buffer")
	}

	if _, err := ParseAudioPayload([]byte{0x00}); err == nil {
		t.Error("expected error for short payload")
	}
}

func TestPacketRoundTrip(t *testing.T) {
	t.Run("control", func(t *testing.T) {
		data := EncodeControlPacket(7, ControlStart, 16000, 1)

		packet, err := ParsePacket(data)
		if err != nil {
			t.Fatalf("ParsePacket() error = %v", err)
		}
		if packet.Header.SessionID != 7 {
			t.Errorf("session id = %d, want 7", packet.Header.SessionID)
		}
		if packet.Control == nil {
			t.Fatal("control payload not set")
		}
		if packet.Audio != nil {
			t.Error("audio payload set on control packet")
		}
		if packet.Control.SampleRate != 16000 || packet.Control.Channels != 1 {
			t.Errorf("control payload = %+v", packet.Control)
		}
	})

	t.Run("audio", func(t *testing.T) {
		pcm := make([]byte, 320)
		for i := range pcm {
			pcm[i] = byte(i)
		}
		data := EncodeAudioPacket(7, 99, pcm)

		packet, err := ParsePacket(data)
		if err != nil {
			t.Fatalf("ParsePacket() error = %v", err)
		}
		if packet.Audio == nil {
			t.Fatal("audio payload not set")
		}
		if packet.Audio.Sequence != 99 {
			t.Errorf("sequence = %d, want 99", packet.Audio.Sequence)
		}
		if !bytes.Equal(packet.Audio.PCM, pcm) {
			t.Error("pcm data does not round-trip")
		}
	})
}

func TestParsePacketRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"truncated", []byte{0x02, 0x00}},
		{"length mismatch", func() []byte {
			data := EncodeAudioPacket(1, 1, make([]byte, 10))
			return data[:len(data)-2]
		}()},
		{"unknown type", func() []byte {
			data := EncodeAudioPacket(1, 1, make([]byte, 10))
			data[0] = 0x7F
			return data
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParsePacket(tt.data); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
