package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/fieldbus-core/internal/alert"
	"github.com/nerrad567/fieldbus-core/internal/control"
	"github.com/nerrad567/fieldbus-core/internal/device"
	"github.com/nerrad567/fieldbus-core/internal/infrastructure/config"
	"github.com/nerrad567/fieldbus-core/internal/infrastructure/logging"
	"github.com/nerrad567/fieldbus-core/internal/relay"
)

// Stream frame types.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePing        = "ping"
	FramePong        = "pong"
	FrameEvent       = "event"
	FrameAck         = "ack"
	FrameError       = "error"

	// streamQueueSize is the per-client outbound frame queue.
	streamQueueSize = 256
)

// streamChannels lists what a client may subscribe to.
var streamChannels = []string{
	relay.ChannelSnapshot,
	relay.ChannelAlert,
	relay.ChannelControl,
	relay.ChannelMaintenance,
}

// StreamRequest is a frame sent by a client.
type StreamRequest struct {
	Type     string   `json:"type"`
	ID       string   `json:"id,omitempty"`
	Channels []string `json:"channels,omitempty"`
	Devices  []string `json:"devices,omitempty"`
}

// StreamFrame is a frame sent to a client. Seq increases by one per
// broadcast, so a gap tells the client frames were dropped.
type StreamFrame struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Channel   string `json:"channel,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
	Seq       uint64 `json:"seq,omitempty"`
	Timestamp string `json:"timestamp"`
	Payload   any    `json:"payload,omitempty"`
}

// StreamFilter is a client's current selection. No devices means every device.
type StreamFilter struct {
	Channels []string `json:"channels"`
	Devices  []string `json:"devices,omitempty"`
}

// Hub fans relay broadcasts out to connected stream clients.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	seq     atomic.Uint64
	dropped atomic.Uint64

	mu      sync.RWMutex
	clients map[*streamClient]struct{}
}

// streamClient is one authenticated stream connection. out is never closed;
// done signals the writer to stop.
type streamClient struct {
	hub     *Hub
	conn    *websocket.Conn
	subject string
	out     chan []byte
	done    chan struct{}
	once    sync.Once

	mu       sync.RWMutex
	channels map[string]struct{}
	devices  map[string]struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Clients authenticate with a single-use ticket, not cookies.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*streamClient]struct{}),
	}
}

func newStreamClient(h *Hub, conn *websocket.Conn, subject string) *streamClient {
	return &streamClient{
		hub:      h,
		conn:     conn,
		subject:  subject,
		out:      make(chan []byte, streamQueueSize),
		done:     make(chan struct{}),
		channels: make(map[string]struct{}),
		devices:  make(map[string]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*streamClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.stop()
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

func (h *Hub) attach(c *streamClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("stream client connected", "subject", c.subject, "clients", n)
}

func (h *Hub) detach(c *streamClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.stop()
	h.logger.Debug("stream client disconnected", "subject", c.subject, "clients", n)
}

// Broadcast sends payload on channel to every client whose filter matches.
// A client with a full queue loses the frame.
func (h *Hub) Broadcast(channel string, payload any) {
	deviceID := deviceOf(payload)
	frame := StreamFrame{
		Type:      FrameEvent,
		Channel:   channel,
		DeviceID:  deviceID,
		Seq:       h.seq.Add(1),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	}
	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("encoding stream frame failed", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*streamClient, 0, len(h.clients))
	for c := range h.clients {
		if c.wants(channel, deviceID) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.enqueue(data) {
			h.dropped.Add(1)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedFrames returns how many frames were lost to full client queues.
func (h *Hub) DroppedFrames() uint64 {
	return h.dropped.Load()
}

// deviceOf extracts the device a relayed payload belongs to.
func deviceOf(payload any) string {
	switch p := payload.(type) {
	case *device.Snapshot:
		if p != nil {
			return p.DeviceID
		}
	case alert.Event:
		return p.DeviceID
	case control.Action:
		return p.DeviceID
	case map[string]any:
		if id, ok := p["device_id"].(string); ok {
			return id
		}
	}
	return ""
}

// handleWebSocket upgrades a ticket-authenticated request to a stream.
// Tickets come from POST /api/v1/ws-ticket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}
	entry, ok := s.tickets.consume(ticket, s.now())
	if !ok {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("stream upgrade failed", "subject", entry.subject, "error", err)
		return
	}

	c := newStreamClient(s.hub, conn, entry.subject)
	s.hub.attach(c)
	ping, wait := keepalive(s.wsCfg)
	go c.writeLoop(ping, wait)
	go c.readLoop(s.wsCfg.MaxMessageSize, ping+wait)
}

// keepalive converts the configured seconds into the ping period and the
// time allowed for a pong or a write. Unset values fall back to 30s and 10s.
func keepalive(cfg config.WebSocketConfig) (ping, wait time.Duration) {
	ping, wait = 30*time.Second, 10*time.Second
	if cfg.PingInterval > 0 {
		ping = time.Duration(cfg.PingInterval) * time.Second
	}
	if cfg.PongTimeout > 0 {
		wait = time.Duration(cfg.PongTimeout) * time.Second
	}
	return ping, wait
}

func (c *streamClient) stop() {
	c.once.Do(func() { close(c.done) })
}

// enqueue reports false when the frame was dropped.
func (c *streamClient) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.out <- data:
		return true
	default:
		return false
	}
}

func (c *streamClient) wants(channel, deviceID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.channels[channel]; !ok {
		return false
	}
	if len(c.devices) == 0 || deviceID == "" {
		return true
	}
	_, ok := c.devices[deviceID]
	return ok
}

func (c *streamClient) filter() StreamFilter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f := StreamFilter{Channels: make([]string, 0, len(c.channels))}
	for ch := range c.channels {
		f.Channels = append(f.Channels, ch)
	}
	for id := range c.devices {
		f.Devices = append(f.Devices, id)
	}
	slices.Sort(f.Channels)
	slices.Sort(f.Devices)
	return f
}

// readLoop handles client frames until the connection fails. Any frame, not
// only a pong, extends the read deadline.
func (c *streamClient) readLoop(limit int, idle time.Duration) {
	defer func() {
		c.hub.detach(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(limit))
	extend := func(string) error { return c.conn.SetReadDeadline(time.Now().Add(idle)) }
	extend("") //nolint:errcheck // a failed deadline surfaces on the next read
	c.conn.SetPongHandler(extend)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("stream read failed", "subject", c.subject, "error", err)
			}
			return
		}
		extend("") //nolint:errcheck // as above
		c.handle(data)
	}
}

// writeLoop drains the outbound queue and sends pings.
func (c *streamClient) writeLoop(ping, wait time.Duration) {
	ticker := time.NewTicker(ping)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) bool {
		c.conn.SetWriteDeadline(time.Now().Add(wait)) //nolint:errcheck // write reports it
		return c.conn.WriteMessage(kind, data) == nil
	}

	for {
		select {
		case <-c.done:
			write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			return
		case data := <-c.out:
			if !write(websocket.TextMessage, data) {
				return
			}
		case <-ticker.C:
			if !write(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *streamClient) handle(data []byte) {
	var req StreamRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.reply(FrameError, "", map[string]string{"message": "invalid JSON frame"})
		return
	}

	switch req.Type {
	case FrameSubscribe:
		if err := c.subscribe(req); err != nil {
			c.reply(FrameError, req.ID, map[string]string{"message": err.Error()})
			return
		}
		f := c.filter()
		c.hub.logger.Info("stream subscription changed", "subject", c.subject, "channels", f.Channels, "devices", f.Devices)
		c.reply(FrameAck, req.ID, f)
	case FrameUnsubscribe:
		c.unsubscribe(req)
		c.reply(FrameAck, req.ID, c.filter())
	case FramePing:
		c.reply(FramePong, req.ID, nil)
	default:
		c.reply(FrameError, req.ID, map[string]string{"message": "unknown frame type: " + req.Type})
	}
}

// subscribe adds channels and devices. Nothing changes if any channel is unknown.
func (c *streamClient) subscribe(req StreamRequest) error {
	if len(req.Channels) == 0 && len(req.Devices) == 0 {
		return fmt.Errorf("subscribe needs channels or devices")
	}
	for _, ch := range req.Channels {
		if !slices.Contains(streamChannels, ch) {
			return fmt.Errorf("unknown channel %q", ch)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range req.Channels {
		c.channels[ch] = struct{}{}
	}
	for _, id := range req.Devices {
		c.devices[id] = struct{}{}
	}
	return nil
}

func (c *streamClient) unsubscribe(req StreamRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range req.Channels {
		delete(c.channels, ch)
	}
	for _, id := range req.Devices {
		delete(c.devices, id)
	}
}

func (c *streamClient) reply(kind, id string, payload any) {
	data, err := json.Marshal(StreamFrame{
		Type:      kind,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.enqueue(data)
}
