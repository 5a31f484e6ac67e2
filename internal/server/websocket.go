package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/RONNYKD/GUARDIAN-AI/internal/metrics"
	"github.com/RONNYKD/GUARDIAN-AI/internal/telemetry"
)

// Incident stream event types.
const (
	EventIncidentCreated    = "incident.created"
	EventIncidentTransition = "incident.transition"
)

// clientBuffer is the per-client send queue. A client that falls this far
// behind is disconnected rather than allowed to stall the hub.
const clientBuffer = 32

// heartbeatInterval paces keepalive pings to stream clients.
const heartbeatInterval = 30 * time.Second

// StreamEvent is one message on the incident stream. Seq increases
// monotonically per hub; clients use it to detect gaps after reconnects.
type StreamEvent struct {
	Seq       uint64              `json:"seq"`
	Type      string              `json:"type"`
	Timestamp time.Time           `json:"timestamp"`
	Incident  *telemetry.Incident `json:"incident"`
}

// Hub fans incident events out to connected WebSocket clients.
type Hub struct {
	logger *zap.Logger

	mu      sync.Mutex
	seq     uint64
	clients map[*streamClient]struct{}
	closed  bool
}

type streamClient struct {
	conn *websocket.Conn
	send chan *StreamEvent
	done chan struct{}
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*streamClient]struct{}),
	}
}

// IncidentCreated broadcasts a newly synthesized incident.
func (h *Hub) IncidentCreated(inc *telemetry.Incident) {
	h.broadcast(EventIncidentCreated, inc)
}

// IncidentTransitioned broadcasts a lifecycle change.
func (h *Hub) IncidentTransitioned(inc *telemetry.Incident) {
	h.broadcast(EventIncidentTransition, inc)
}

func (h *Hub) broadcast(eventType string, inc *telemetry.Incident) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	h.seq++
	ev := &StreamEvent{
		Seq:       h.seq,
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Incident:  inc,
	}

	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			// Slow consumer: cut it loose instead of blocking the hub.
			h.dropLocked(c)
		}
	}
}

func (h *Hub) register(c *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(c.done)
		return
	}
	h.clients[c] = struct{}{}
	metrics.WebSocketConnections.Set(float64(len(h.clients)))
}

func (h *Hub) unregister(c *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(c)
}

// dropLocked removes a client. Caller holds the lock.
func (h *Hub) dropLocked(c *streamClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.done)
	metrics.WebSocketConnections.Set(float64(len(h.clients)))
}

// Close disconnects every client and refuses further broadcasts.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.done)
	}
	metrics.WebSocketConnections.Set(0)
}

// ClientCount reports the number of connected stream clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// newUpgrader builds a WebSocket upgrader that admits the configured
// origins. Requests without an Origin header (non-browser clients) are
// always admitted; an empty allowlist admits everything.
func newUpgrader(allowedOrigins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowedOrigins) == 0 {
				return true
			}
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					return true
				}
			}
			return false
		},
	}
}

// handleIncidentStream upgrades GET /ws/incidents and streams incident
// events until the client disconnects or the server stops.
func (s *Server) handleIncidentStream(w http.ResponseWriter, r *http.Request) {
	upgrader := newUpgrader(s.cfg.Server.AllowedOrigins)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &streamClient{
		conn: conn,
		send: make(chan *StreamEvent, clientBuffer),
		done: make(chan struct{}),
	}
	s.hub.register(client)
	s.logger.Info("incident stream client connected", zap.String("remote", conn.RemoteAddr().String()))

	go s.streamWriter(client)
	s.streamReader(client)
}

// streamWriter pushes events and heartbeats until the client is dropped.
func (s *Server) streamWriter(c *streamClient) {
	ticker := time.NewTicker(heartbeatInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case <-s.ctx.Done():
			return
		case ev := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(ev); err != nil {
				s.hub.unregister(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.hub.unregister(c)
				return
			}
		}
	}
}

// streamReader discards client frames; the stream is one-way. Returning
// unregisters the client and ends the writer.
func (s *Server) streamReader(c *streamClient) {
	defer s.hub.unregister(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("incident stream read error", zap.Error(err))
			}
			return
		}
	}
}
