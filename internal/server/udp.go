package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/audiopipe/audio-prep-service/internal/audio"
	"github.com/audiopipe/audio-prep-service/internal/config"
	"github.com/audiopipe/audio-prep-service/internal/manager"
	"github.com/audiopipe/audio-prep-service/internal/metrics"
	"github.com/audiopipe/audio-prep-service/internal/protocol"
)

// packetQueueSize buffers bursts between the receive loop and the
// processing goroutine.
const packetQueueSize = 1000

// stopGrace bounds how long a session stop triggered over the wire may
// wait for in-flight transcriptions.
const stopGrace = 10 * time.Second

// UDPServer receives PCM ingest packets and feeds them into the live
// pipeline. One session is active at a time; a control start packet
// opens it and a control stop packet closes it.
type UDPServer struct {
	conn    *net.UDPConn
	config  *config.IngestConfig
	logger  *slog.Logger
	manager *manager.Manager
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	packetChan chan *incomingPacket

	mu             sync.RWMutex
	frames         *audio.FrameBuffer
	sessionID      uint32
	sessionActive  bool
	armedRate      int
	packetsRx      uint64
	packetsHandled uint64
	parseErrors    uint64
	dropped        uint64
}

// incomingPacket is one received datagram with its metadata.
type incomingPacket struct {
	data       []byte
	remoteAddr *net.UDPAddr
	timestamp  time.Time
}

// NewUDPServer creates the ingest server. audioRate is the canonical
// sample rate incoming PCM is expected to match.
func NewUDPServer(cfg *config.IngestConfig, audioRate int, logger *slog.Logger, mgr *manager.Manager, m *metrics.Metrics) *UDPServer {
	ctx, cancel := context.WithCancel(context.Background())

	return &UDPServer{
		config:     cfg,
		logger:     logger,
		manager:    mgr,
		metrics:    m,
		ctx:        ctx,
		cancel:     cancel,
		armedRate:  audioRate,
		frames:     audio.NewFrameBuffer(audioRate),
		packetChan: make(chan *incomingPacket, packetQueueSize),
	}
}

// Start begins listening for ingest packets.
func (s *UDPServer) Start() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", s.config.BindAddress, s.config.UDPPort))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}
	s.conn = conn

	if err := s.conn.SetReadBuffer(s.config.BufferSize); err != nil {
		s.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", s.config.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("UDP ingest server started",
		slog.String("address", addr.String()),
		slog.Int("buffer_size", s.config.BufferSize),
	)

	// A single processing goroutine keeps frames in arrival order;
	// sequence reassembly and the detector both depend on it.
	s.wg.Add(1)
	go s.packetProcessor()

	s.wg.Add(1)
	go s.receiveLoop()

	return nil
}

// Stop gracefully stops the server.
func (s *UDPServer) Stop() error {
	s.logger.Info("Stopping UDP ingest server...")

	s.cancel()

	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
		}
	}

	s.wg.Wait()

	s.mu.RLock()
	packetsRx := s.packetsRx
	packetsHandled := s.packetsHandled
	parseErrors := s.parseErrors
	dropped := s.dropped
	s.mu.RUnlock()

	s.logger.Info("UDP ingest server stopped",
		slog.Uint64("packets_received", packetsRx),
		slog.Uint64("packets_processed", packetsHandled),
		slog.Uint64("parse_errors", parseErrors),
		slog.Uint64("packets_dropped", dropped),
	)
	return nil
}

// receiveLoop reads datagrams and queues them for processing. It is
// the only sender on packetChan and therefore owns closing it.
func (s *UDPServer) receiveLoop() {
	defer s.wg.Done()
	defer close(s.packetChan)

	buffer := make([]byte, s.config.BufferSize)

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		// A short deadline keeps the loop responsive to shutdown.
		if err := s.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			s.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Error("Failed to read UDP packet", slog.String("error", err.Error()))
				continue
			}
		}

		s.mu.Lock()
		s.packetsRx++
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.RecordFrameReceived()
		}

		// The read buffer is reused, so the payload must be copied out.
		packetData := make([]byte, n)
		copy(packetData, buffer[:n])

		packet := &incomingPacket{
			data:       packetData,
			remoteAddr: remoteAddr,
			timestamp:  time.Now(),
		}

		select {
		case s.packetChan <- packet:
			if s.metrics != nil {
				s.metrics.SetIngestQueueSize(len(s.packetChan))
			}
		default:
			s.mu.Lock()
			s.dropped++
			s.mu.Unlock()
			if s.metrics != nil {
				s.metrics.RecordFrameDropped()
			}
			s.logger.Warn("Packet queue full, dropping packet",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("packet_size", n),
			)
		}
	}
}

// packetProcessor consumes queued packets serially.
func (s *UDPServer) packetProcessor() {
	defer s.wg.Done()

	for packet := range s.packetChan {
		s.handlePacket(packet)
	}
}

func (s *UDPServer) handlePacket(packet *incomingPacket) {
	parsed, err := protocol.ParsePacket(packet.data)
	if err != nil {
		s.mu.Lock()
		s.parseErrors++
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.RecordParseError()
		}

		s.logger.Error("Failed to parse packet",
			slog.String("remote_addr", packet.remoteAddr.String()),
			slog.Int("packet_size", len(packet.data)),
			slog.String("error", err.Error()),
		)
		return
	}

	s.mu.Lock()
	s.packetsHandled++
	s.mu.Unlock()

	switch parsed.Header.PacketType {
	case protocol.PacketTypeControl:
		s.processControlPacket(parsed.Header, parsed.Control)
	case protocol.PacketTypeAudio:
		s.processAudioPacket(parsed.Header, parsed.Audio)
	}
}

// processControlPacket opens or closes the live session.
func (s *UDPServer) processControlPacket(header *protocol.Header, payload *protocol.ControlPayload) {
	switch payload.Command {
	case protocol.ControlStart:
		s.startSession(header.SessionID, payload)
	case protocol.ControlStop:
		s.stopSession(header.SessionID)
	}
}

func (s *UDPServer) startSession(sessionID uint32, payload *protocol.ControlPayload) {
	s.mu.Lock()
	if s.sessionActive {
		active := s.sessionID
		s.mu.Unlock()
		s.logger.Warn("Ignoring session start while another session is active",
			slog.Uint64("session_id", uint64(sessionID)),
			slog.Uint64("active_session", uint64(active)),
		)
		return
	}
	s.sessionID = sessionID
	s.sessionActive = true
	s.frames.Reset()
	s.mu.Unlock()

	if int(payload.SampleRate) != s.armedRate {
		s.logger.Warn("Session sample rate differs from canonical rate",
			slog.Uint64("session_id", uint64(sessionID)),
			slog.Uint64("declared_rate", uint64(payload.SampleRate)),
			slog.Int("canonical_rate", s.armedRate),
		)
	}

	if err := s.manager.StartProcessing(); err != nil {
		s.mu.Lock()
		s.sessionActive = false
		s.mu.Unlock()
		s.logger.Error("Failed to start live processing",
			slog.Uint64("session_id", uint64(sessionID)),
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.Info("Ingest session started",
		slog.Uint64("session_id", uint64(sessionID)),
		slog.Uint64("sample_rate", uint64(payload.SampleRate)),
		slog.Int("channels", int(payload.Channels)),
	)
}

func (s *UDPServer) stopSession(sessionID uint32) {
	s.mu.Lock()
	if !s.sessionActive || s.sessionID != sessionID {
		s.mu.Unlock()
		s.logger.Warn("Ignoring stop for unknown session",
			slog.Uint64("session_id", uint64(sessionID)),
		)
		return
	}
	s.sessionActive = false
	s.mu.Unlock()

	s.flushFrames()

	ctx, cancel := context.WithTimeout(context.Background(), stopGrace)
	defer cancel()
	result, stats, err := s.manager.StopProcessing(ctx)
	if err != nil {
		s.logger.Error("Failed to stop live processing",
			slog.Uint64("session_id", uint64(sessionID)),
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.Info("Ingest session stopped",
		slog.Uint64("session_id", uint64(sessionID)),
		slog.Float64("duration", result.Duration.Seconds()),
		slog.Int("chunks_total", result.ChunksTotal),
		slog.Int("chunks_transcribed", result.ChunksTranscribed),
		slog.Float64("confidence", result.Confidence),
		slog.Uint64("samples_processed", stats.SamplesProcessed),
	)
}

// processAudioPacket reassembles PCM frames and forwards the decoded
// samples to the pipeline.
func (s *UDPServer) processAudioPacket(header *protocol.Header, payload *protocol.AudioPayload) {
	s.mu.RLock()
	active := s.sessionActive && s.sessionID == header.SessionID
	s.mu.RUnlock()

	if !active {
		s.logger.Debug("Dropping audio packet outside an active session",
			slog.Uint64("session_id", uint64(header.SessionID)),
			slog.Uint64("sequence", uint64(payload.Sequence)),
		)
		return
	}

	if err := s.frames.AddFrame(payload.Sequence, payload.PCM); err != nil {
		s.logger.Warn("Rejected audio frame",
			slog.Uint64("session_id", uint64(header.SessionID)),
			slog.Uint64("sequence", uint64(payload.Sequence)),
			slog.String("error", err.Error()),
		)
		return
	}

	s.flushFrames()
}

// flushFrames drains reassembled samples into the pipeline.
func (s *UDPServer) flushFrames() {
	samples := s.frames.PopSamples()
	if len(samples) == 0 {
		return
	}
	if err := s.manager.ProcessAudio(samples); err != nil {
		s.logger.Error("Failed to process audio samples",
			slog.Int("sample_count", len(samples)),
			slog.String("error", err.Error()),
		)
	}
}

// ServerStatistics reports ingest server counters.
type ServerStatistics struct {
	PacketsReceived  uint64 `json:"packets_received"`
	PacketsProcessed uint64 `json:"packets_processed"`
	ParseErrors      uint64 `json:"parse_errors"`
	PacketsDropped   uint64 `json:"packets_dropped"`
	SessionActive    bool   `json:"session_active"`
	SessionID        uint32 `json:"session_id,omitempty"`
	QueueSize        uint64 `json:"queue_size"`
	QueueCapacity    uint64 `json:"queue_capacity"`

	FrameBuffer audio.FrameBufferStats `json:"frame_buffer"`
}

// GetStatistics returns current server counters.
func (s *UDPServer) GetStatistics() ServerStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return ServerStatistics{
		PacketsReceived:  s.packetsRx,
		PacketsProcessed: s.packetsHandled,
		ParseErrors:      s.parseErrors,
		PacketsDropped:   s.dropped,
		SessionActive:    s.sessionActive,
		SessionID:        s.sessionID,
		QueueSize:        uint64(len(s.packetChan)),
		QueueCapacity:    uint64(cap(s.packetChan)),
		FrameBuffer:      s.frames.GetStats(),
	}
}
