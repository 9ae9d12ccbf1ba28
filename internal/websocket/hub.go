package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"featureflow/internal/config"
	"featureflow/internal/infrastructure"
	"featureflow/internal/operations"
)

// Outbound message types
const (
	TypeConnection     = "connection"
	TypeRecordsWritten = operations.EventRecordsWritten
	TypeRunFailed      = operations.EventRunFailed
	TypeTriggerAck     = "trigger_ack"
	TypeError          = "error"
)

// Inbound message types
const (
	TypeHeartbeat = "heartbeat"
	TypeTrigger   = "trigger"
)

const broadcastBuffer = 256

// Envelope is the JSON frame exchanged with clients
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	TraceID   string          `json:"trace_id,omitempty"`
}

type outbound struct {
	client *Client
	data   []byte
}

// Hub maintains the set of active clients, fans pipeline notifications out to
// them and forwards client triggers to the publisher.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	direct     chan outbound
	register   chan *Client
	unregister chan *Client

	mu       sync.RWMutex
	running  bool
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	count    int
	total    int64
	sent     int64
	dropped  int64

	upgrader   websocket.Upgrader
	pingPeriod time.Duration
	pongWait   time.Duration
	publisher  Publisher
	metrics    *OTelMetrics
	logger     *slog.Logger
}

// NewHub creates a hub. publisher may be nil, in which case client triggers are
// rejected; metrics may be nil.
func NewHub(cfg config.WebSocketConfig, publisher Publisher, metrics *OTelMetrics, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	pongWait := cfg.PongWait
	if pongWait <= 0 {
		pongWait = 60 * time.Second
	}
	pingPeriod := cfg.PingPeriod
	if pingPeriod <= 0 || pingPeriod >= pongWait {
		pingPeriod = pongWait * 9 / 10
	}

	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, broadcastBuffer),
		direct:     make(chan outbound, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		pingPeriod: pingPeriod,
		pongWait:   pongWait,
		publisher:  publisher,
		metrics:    metrics,
		logger:     logger.With(slog.String("component", "websocket.hub")),
	}
}

// Start runs the hub loop in a new goroutine
func (h *Hub) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.Run()
}

// Run is the hub's main loop. Only this goroutine touches the client set and
// closes client send channels.
func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case <-h.quit:
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.setCount(0)
			h.logger.Info("hub shutting down")
			return

		case client := <-h.register:
			h.clients[client] = true
			h.setCount(len(h.clients))
			h.mu.Lock()
			h.total++
			h.mu.Unlock()

			ctx := client.context()
			h.metrics.RecordConnection(ctx)
			h.logger.InfoContext(ctx, "client registered",
				slog.Int("total_clients", len(h.clients)),
				slog.String("client_id", client.id),
				slog.String("remote_addr", client.remoteAddr))

			h.deliver(client, frame(TypeConnection, map[string]string{
				"status":    "connected",
				"client_id": client.id,
			}, client.traceID))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; !ok {
				continue
			}
			h.drop(client)
			ctx := client.context()
			h.metrics.RecordDisconnection(ctx, time.Since(client.connectedAt))
			h.logger.InfoContext(ctx, "client unregistered",
				slog.Int("total_clients", len(h.clients)),
				slog.String("client_id", client.id),
				slog.Duration("connection_duration", time.Since(client.connectedAt)))

		case out := <-h.direct:
			if h.clients[out.client] {
				h.deliver(out.client, out.data)
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				h.deliver(client, message)
			}
		}
	}
}

// deliver queues data on a client without blocking. A client whose buffer is
// full is disconnected.
func (h *Hub) deliver(client *Client, data []byte) {
	select {
	case client.send <- data:
		h.mu.Lock()
		h.sent++
		h.mu.Unlock()
	default:
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
		ctx := client.context()
		h.metrics.RecordDroppedMessage(ctx, "broadcast")
		h.logger.WarnContext(ctx, "client send buffer full, disconnecting",
			slog.String("client_id", client.id))
		h.drop(client)
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
	h.setCount(len(h.clients))
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

// Notify implements operations.Notifier. Notifications are dropped rather than
// block a pipeline when the broadcast queue is full.
func (h *Hub) Notify(ctx context.Context, n operations.Notification) {
	h.Broadcast(ctx, n.Type, n, n.TraceID)
}

// Broadcast sends a typed message to every connected client
func (h *Hub) Broadcast(ctx context.Context, msgType string, data interface{}, traceID string) {
	msg := frame(msgType, data, traceID)
	if msg == nil {
		h.logger.ErrorContext(ctx, "failed to marshal broadcast", slog.String("message_type", msgType))
		return
	}
	select {
	case h.broadcast <- msg:
		h.metrics.RecordMessage(ctx, "outbound", msgType, len(msg))
	default:
		h.metrics.RecordDroppedMessage(ctx, msgType)
		h.logger.WarnContext(ctx, "broadcast queue full, dropping message",
			slog.String("message_type", msgType))
	}
}

// reply sends a message to one client through the hub loop
func (h *Hub) reply(client *Client, msgType string, data interface{}) {
	msg := frame(msgType, data, client.traceID)
	if msg == nil {
		return
	}
	select {
	case h.direct <- outbound{client: client, data: msg}:
	case <-h.quit:
	}
}

// ServeHTTP upgrades the request and attaches a new client
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := NewClient(h, NewConnection(conn), infrastructure.GetTraceID(r.Context()))
	if !h.Register(client) {
		conn.Close()
		return
	}
	go client.WritePump()
	go client.ReadPump()
}

// Register attaches client. It returns false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.quit:
		return false
	}
}

// Unregister detaches client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Stats returns hub counters
func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return map[string]interface{}{
		"active_clients":    h.count,
		"total_connections": h.total,
		"messages_sent":     h.sent,
		"messages_dropped":  h.dropped,
	}
}

// Stop disconnects every client and ends the hub loop
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.quit)
		h.mu.RLock()
		running := h.running
		h.mu.RUnlock()
		if running {
			<-h.done
		}
	})
}

func frame(msgType string, data interface{}, traceID string) []byte {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	out, err := json.Marshal(Envelope{
		Type:      msgType,
		Data:      raw,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		TraceID:   traceID,
	})
	if err != nil {
		return nil
	}
	return out
}
