package protocol

import (
	"encoding/binary"
	"fmt"
)

// Packet framing for the UDP ingest path. Every datagram starts with an
// 8-byte header followed by a control or audio payload.
const (
	// Packet types
	PacketTypeControl = 0x01
	PacketTypeAudio   = 0x02

	// Control commands
	ControlStart = 0x01
	ControlStop  = 0x02

	// Structure sizes
	HeaderSize             = 8 // 1 + 2 + 4 + 1 bytes
	ControlPayloadSize     = 8 // 1 + 4 + 1 + 2 bytes
	AudioPayloadHeaderSize = 4 // sequence number
)

// Header is the 8-byte packet header.
// Layout: [PacketType:1][PacketLen:2][SessionID:4][Reserved:1]
type Header struct {
	PacketType uint8
	PacketLen  uint16 // total packet size including this header
	SessionID  uint32
	Reserved   uint8
}

// ControlPayload starts or stops a live ingest session.
// Layout: [Command:1][SampleRate:4][Channels:1][Reserved:2]
type ControlPayload struct {
	Command    uint8
	SampleRate uint32
	Channels   uint8
}

// AudioPayload carries one sequence-numbered frame of PCM-16 audio.
// Layout: [Sequence:4][PCM:N]
type AudioPayload struct {
	Sequence uint32
	PCM      []byte
}

// Packet is a fully parsed datagram. Exactly one of Control and Audio
// is set, matching Header.PacketType.
type Packet struct {
	Header  *Header
	Control *ControlPayload
	Audio   *AudioPayload
}

// ParseHeader parses the fixed packet header.
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	return &Header{
		PacketType: data[0],
		PacketLen:  binary.BigEndian.Uint16(data[1:3]),
		SessionID:  binary.BigEndian.Uint32(data[3:7]),
		Reserved:   data[7],
	}, nil
}

// ParseControlPayload parses a control payload.
func ParseControlPayload(data []byte) (*ControlPayload, error) {
	if len(data) < ControlPayloadSize {
		return nil, fmt.Errorf("control payload too short: expected %d bytes, got %d", ControlPayloadSize, len(data))
	}

	payload := &ControlPayload{
		Command:    data[0],
		SampleRate: binary.BigEndian.Uint32(data[1:5]),
		Channels:   data[5],
	}

	if payload.Command != ControlStart && payload.Command != ControlStop {
		return nil, fmt.Errorf("unknown control command: 0x%02x", payload.Command)
	}
	return payload, nil
}

// ParseAudioPayload parses an audio payload. The PCM bytes are copied
// out of the datagram buffer.
func ParseAudioPayload(data []byte) (*AudioPayload, error) {
	if len(data) < AudioPayloadHeaderSize {
		return nil, fmt.Errorf("audio payload too short: expected at least %d bytes, got %d", AudioPayloadHeaderSize, len(data))
	}

	payload := &AudioPayload{
		Sequence: binary.BigEndian.Uint32(data[0:4]),
	}
	if len(data) > AudioPayloadHeaderSize {
		payload.PCM = make([]byte, len(data)-AudioPayloadHeaderSize)
		copy(payload.PCM, data[AudioPayloadHeaderSize:])
	}

	return payload, nil
}

// ParsePacket parses a complete datagram.
func ParsePacket(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("packet too short: expected at least %d bytes, got %d", HeaderSize, len(data))
	}

	header, err := ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	if int(header.PacketLen) != len(data) {
		return nil, fmt.Errorf("packet length mismatch: header says %d bytes, got %d bytes", header.PacketLen, len(data))
	}
	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	packet := &Packet{Header: header}
	payloadData := data[HeaderSize:]

	switch header.PacketType {
	case PacketTypeControl:
		payload, err := ParseControlPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse control payload: %w", err)
		}
		packet.Control = payload

	case PacketTypeAudio:
		payload, err := ParseAudioPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse audio payload: %w", err)
		}
		packet.Audio = payload

	default:
		return nil, fmt.Errorf("unknown packet type: 0x%02x", header.PacketType)
	}

	return packet, nil
}

// ValidateHeader checks header fields against the declared packet type.
func ValidateHeader(header *Header) error {
	if header.PacketType != PacketTypeControl && header.PacketType != PacketTypeAudio {
		return fmt.Errorf("invalid packet type: 0x%02x", header.PacketType)
	}
	if header.PacketLen < HeaderSize {
		return fmt.Errorf("packet length too small: %d (minimum %d)", header.PacketLen, HeaderSize)
	}

	payloadSize := int(header.PacketLen) - HeaderSize
	switch header.PacketType {
	case PacketTypeControl:
		if payloadSize != ControlPayloadSize {
			return fmt.Errorf("control payload size mismatch: expected %d, got %d", ControlPayloadSize, payloadSize)
		}
	case PacketTypeAudio:
		if payloadSize < AudioPayloadHeaderSize {
			return fmt.Errorf("audio payload too small: expected at least %d, got %d", AudioPayloadHeaderSize, payloadSize)
		}
	}

	return nil
}

// EncodeControlPacket builds a control datagram. Used by tests and
// ingest clients.
func EncodeControlPacket(sessionID uint32, command uint8, sampleRate uint32, channels uint8) []byte {
	packet := make([]byte, HeaderSize+ControlPayloadSize)
	packet[0] = PacketTypeControl
	binary.BigEndian.PutUint16(packet[1:3], uint16(len(packet)))
	binary.BigEndian.PutUint32(packet[3:7], sessionID)

	payload := packet[HeaderSize:]
	payload[0] = command
	binary.BigEndian.PutUint32(payload[1:5], sampleRate)
	payload[5] = channels

	return packet
}

// EncodeAudioPacket builds an audio datagram around the given PCM bytes.
func EncodeAudioPacket(sessionID, sequence uint32, pcm []byte) []byte {
	packet := make([]byte, HeaderSize+AudioPayloadHeaderSize+len(pcm))
	packet[0] = PacketTypeAudio
	binary.BigEndian.PutUint16(packet[1:3], uint16(len(packet)))
	binary.BigEndian.PutUint32(packet[3:7], sessionID)

	binary.BigEndian.PutUint32(packet[HeaderSize:HeaderSize+4], sequence)
	copy(packet[HeaderSize+AudioPayloadHeaderSize:], pcm)

	return packet
}

// String returns a human-readable representation of the header.
func (h *Header) String() string {
	var packetType string
	switch h.PacketType {
	case PacketTypeControl:
		packetType = "Control"
	case PacketTypeAudio:
		packetType = "Audio"
	default:
		packetType = fmt.Sprintf("Unknown(0x%02x)", h.PacketType)
	}
	return fmt.Sprintf("Header{Type:%s, Len:%d, SessionID:%d}", packetType, h.PacketLen, h.SessionID)
}

// String returns a human-readable representation of the audio payload.
func (a *AudioPayload) String() string {
	return fmt.Sprintf("AudioPayload{Sequence:%d, PCMLen:%d}", a.Sequence, len(a.PCM))
}
