package server

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marquee-dev/marquee/pkg/protocol"
	"github.com/marquee-dev/marquee/pkg/registry"
)

// Hub maps logical device identities to live sessions and routes
// protocol traffic between the sessions and the registry. A device that
// reconnects under an identity already in use atomically displaces the
// previous session; the newest connection always wins.
type Hub struct {
	cfg        Config
	log        *slog.Logger
	registry   *registry.Registry
	negotiator *Negotiator

	nextID atomic.Uint64

	mu       sync.RWMutex
	sessions map[string]*Session

	// OnRegister runs after a device completes registration, before the
	// ack is sent. Optional.
	OnRegister func(s *Session, reg *protocol.Register)

	// OnMessage receives inbound messages the hub does not consume
	// itself (logs, screenshots, config acks). Optional.
	OnMessage func(s *Session, msg protocol.Message)

	// OnDisconnect runs exactly once when a registered session ends.
	// Optional.
	OnDisconnect func(s *Session)
}

// NewHub creates a hub bound to a device registry.
func NewHub(cfg Config, reg *registry.Registry, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		cfg:        cfg,
		log:        log.With("component", "hub"),
		registry:   reg,
		negotiator: NewNegotiator(log),
		sessions:   make(map[string]*Session),
	}
}

// Registry returns the device registry the hub writes to.
func (h *Hub) Registry() *registry.Registry { return h.registry }

// handleConn owns a freshly upgraded connection for its whole life.
func (h *Hub) handleConn(conn *websocket.Conn) {
	s := newSession(h.nextID.Add(1), conn, h.cfg, h.log)
	metricConnects.Inc()
	metricActiveConnections.Inc()
	s.log.Debug("connection accepted", "remote_addr", s.RemoteAddr())

	stop := make(chan struct{})
	go s.pingLoop(stop)

	s.readLoop(h.dispatch)

	close(stop)
	s.Close(websocket.CloseNormalClosure, "")
	metricActiveConnections.Dec()
	metricDisconnects.Inc()
	h.drop(s)
}

// drop removes a finished session. The map entry is only deleted when
// it still points at this session, so a displaced session cannot evict
// its replacement.
func (h *Hub) drop(s *Session) {
	identity := s.Identity()
	if identity == "" {
		s.log.Debug("unregistered connection closed")
		return
	}
	h.mu.Lock()
	if h.sessions[identity] == s {
		delete(h.sessions, identity)
	}
	h.mu.Unlock()

	s.log.Info("device disconnected", "messages_in", s.messagesIn.Load(), "messages_out", s.messagesOut.Load())
	if h.OnDisconnect != nil {
		h.OnDisconnect(s)
	}
}

func (h *Hub) dispatch(s *Session, msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.Register:
		h.handleRegister(s, m)
	case *protocol.Heartbeat:
		if id := s.Identity(); id != "" {
			h.registry.Touch(id, time.Now())
		}
	case *protocol.StatusReport:
		if id := s.Identity(); id != "" {
			h.registry.RecordStatus(id, registry.Status{
				CPUPercent:    m.CPUPercent,
				MemoryPercent: m.MemoryPercent,
				DiskPercent:   m.DiskPercent,
				TemperatureC:  m.TemperatureC,
				ReportedAt:    time.Now(),
			}, time.Now())
		}
	default:
		if h.OnMessage != nil {
			h.OnMessage(s, msg)
		}
	}
}

// handleRegister negotiates the device's protocol version, binds the
// session to its logical identity, records it in the registry, and
// acknowledges. An incompatible version gets no record and no ack; the
// connection is left open so the device can surface the mismatch.
func (h *Hub) handleRegister(s *Session, reg *protocol.Register) {
	deviceID := reg.DeviceID
	if deviceID == "" {
		deviceID = newDeviceID()
	}

	compat := h.negotiator.Negotiate(deviceID, reg.Version)
	if !compat.Compatible() {
		return
	}

	s.bind(deviceID, reg.Version)

	// The mapping swap alone displaces a previous session; its transport
	// is left to die on its own (read error, pong timeout, client close)
	// and drop's pointer compare keeps it from evicting this one.
	h.mu.Lock()
	prev := h.sessions[deviceID]
	h.sessions[deviceID] = s
	h.mu.Unlock()
	if prev != nil && prev != s {
		h.log.Info("device reconnected, identity remapped to new session",
			"device_id", deviceID, "old_conn_id", prev.ID(), "new_conn_id", s.ID())
	}

	now := time.Now()
	rec := h.registry.Register(registry.Record{
		DeviceID:     deviceID,
		Name:         reg.Name,
		OS:           reg.OS,
		Arch:         reg.Arch,
		ScreenWidth:  reg.ScreenWidth,
		ScreenHeight: reg.ScreenHeight,
		Capabilities: reg.Capabilities,
		Version:      reg.Version,
	}, now)

	if h.OnRegister != nil {
		h.OnRegister(s, reg)
	}

	if err := s.Send(&protocol.RegistrationAck{
		DeviceID:       deviceID,
		AssignedLayout: rec.AssignedLayout,
		ServerTime:     now,
	}); err != nil {
		s.log.Warn("failed to ack registration", "error", err)
	}
}

// SendTo delivers a message to a connected device.
func (h *Hub) SendTo(deviceID string, msg protocol.Message) error {
	h.mu.RLock()
	s := h.sessions[deviceID]
	h.mu.RUnlock()
	if s == nil {
		return ErrDeviceNotConnected
	}
	return s.Send(msg)
}

// Broadcast delivers a message to every connected device, best effort.
// Returns how many sends succeeded; individual failures are logged and
// do not stop the fan-out.
func (h *Hub) Broadcast(msg protocol.Message) int {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if err := s.Send(msg); err != nil {
			h.log.Warn("broadcast send failed", "device_id", s.Identity(), "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// Connected reports whether a device has a live session.
func (h *Hub) Connected(deviceID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessions[deviceID] != nil
}

// ConnectedIDs returns the identities of all connected devices.
func (h *Hub) ConnectedIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	return ids
}

// SupportsFeature reports whether a registered device negotiated a
// protocol version at or above the given major.minor. Used to gate
// newer message kinds.
func (h *Hub) SupportsFeature(deviceID string, major, minor int) bool {
	return h.negotiator.SupportsFeature(deviceID, major, minor)
}

// Sweep removes registry records for devices unseen past timeout and
// drops their cached negotiation outcomes, so a returning device is
// negotiated (and logged) afresh and the cache cannot grow unbounded
// under coordinator-assigned identities.
func (h *Hub) Sweep(timeout time.Duration, now time.Time) []string {
	removed := h.registry.Sweep(timeout, now)
	for _, id := range removed {
		h.negotiator.Forget(id)
	}
	return removed
}

// CloseAll closes every live session, used during shutdown.
func (h *Hub) CloseAll(code int, reason string) {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()
	for _, s := range targets {
		s.Close(code, reason)
	}
}

func newDeviceID() string {
	var b [8]byte
	rand.Read(b[:])
	return "dev-" + hex.EncodeToString(b[:])
}
