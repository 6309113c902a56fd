package server

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marquee-dev/marquee/pkg/protocol"
)

// Session is one live WebSocket connection to a device. A session is
// anonymous until the device registers; after registration it carries
// the device's logical identity and announced protocol version.
type Session struct {
	id          uint64
	conn        *websocket.Conn
	cfg         Config
	log         *slog.Logger
	remoteAddr  string
	connectedAt time.Time

	// identity and version are set once at registration and read from
	// other goroutines afterwards.
	identity atomic.Value
	version  atomic.Value

	writeMu sync.Mutex
	closed  atomic.Bool
	once    sync.Once

	messagesIn  atomic.Int64
	messagesOut atomic.Int64
}

func newSession(id uint64, conn *websocket.Conn, cfg Config, log *slog.Logger) *Session {
	s := &Session{
		id:          id,
		conn:        conn,
		cfg:         cfg,
		log:         log.With("conn_id", id),
		remoteAddr:  conn.RemoteAddr().String(),
		connectedAt: time.Now(),
	}
	s.identity.Store("")
	s.version.Store("")
	return s
}

// ID returns the connection serial, unique per process.
func (s *Session) ID() uint64 { return s.id }

// Identity returns the device's logical identity, or "" before
// registration.
func (s *Session) Identity() string { return s.identity.Load().(string) }

func (s *Session) bind(identity, version string) {
	s.identity.Store(identity)
	s.version.Store(version)
	s.log = s.log.With("device_id", identity)
}

// Version returns the protocol version string the device announced at
// registration, or "" before registration.
func (s *Session) Version() string { return s.version.Load().(string) }

// RemoteAddr returns the peer address.
func (s *Session) RemoteAddr() string { return s.remoteAddr }

// ConnectedAt returns when the connection was accepted.
func (s *Session) ConnectedAt() time.Time { return s.connectedAt }

// Send encodes and writes a message to the device. Payloads at or above
// the configured compression threshold go out as gzip binary frames.
// Returns ErrSessionClosed once the session is closed.
func (s *Session) Send(msg protocol.Message) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	data, binary, err := protocol.EncodeFrame(msg, s.cfg.CompressionThreshold)
	if err != nil {
		return fmt.Errorf("server: encode %s: %w", msg.Kind(), err)
	}
	frameType := websocket.TextMessage
	if binary {
		frameType = websocket.BinaryMessage
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed.Load() {
		return ErrSessionClosed
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := s.conn.WriteMessage(frameType, data); err != nil {
		metricSendErrors.Inc()
		return fmt.Errorf("server: write %s: %w", msg.Kind(), err)
	}
	s.messagesOut.Add(1)
	metricMessagesSent.WithLabelValues(string(msg.Kind())).Inc()
	metricBytesSent.Add(float64(len(data)))
	return nil
}

// Close shuts the session down. The first call sends a close frame with
// the given reason; later calls are no-ops.
func (s *Session) Close(code int, reason string) {
	s.once.Do(func() {
		s.closed.Store(true)
		s.writeMu.Lock()
		s.conn.SetWriteDeadline(time.Now().Add(time.Second))
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason))
		s.writeMu.Unlock()
		s.conn.Close()
	})
}

func (s *Session) ping() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed.Load() {
		return ErrSessionClosed
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return s.conn.WriteMessage(websocket.PingMessage, nil)
}

// readLoop pulls frames off the wire until the connection dies, handing
// each decoded message to handle. A message that fails to decode is
// logged and skipped; one bad frame must not take down the session.
func (s *Session) readLoop(handle func(*Session, protocol.Message)) {
	s.conn.SetReadLimit(s.cfg.ReadLimit)
	s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
		return nil
	})

	for {
		frameType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("connection closed unexpectedly", "error", err)
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
		if frameType != websocket.TextMessage && frameType != websocket.BinaryMessage {
			continue
		}
		metricBytesReceived.Add(float64(len(data)))

		msg, err := protocol.DecodeFrame(data, frameType == websocket.BinaryMessage)
		if err != nil {
			s.log.Warn("dropping undecodable message", "error", err, "bytes", len(data))
			continue
		}
		s.messagesIn.Add(1)
		metricMessagesReceived.WithLabelValues(string(msg.Kind())).Inc()
		handle(s, msg)
	}
}

// pingLoop keeps the connection alive until stop closes.
func (s *Session) pingLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.pingInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.ping(); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}
