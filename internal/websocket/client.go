package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"featureflow/internal/infrastructure"
	"featureflow/internal/pubsub"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 4096

	sendBuffer = 256
)

// Client is a middleman between the websocket connection and the hub
type Client struct {
	hub  *Hub
	conn Connection

	// Buffered channel of outbound messages; closed by the hub
	send chan []byte

	id          string
	traceID     string
	remoteAddr  string
	connectedAt time.Time

	logger *slog.Logger
}

// NewClient creates a client for conn. traceID ties the connection to the HTTP
// request that opened it.
func NewClient(hub *Hub, conn Connection, traceID string) *Client {
	id := uuid.NewString()
	logger := hub.logger.With(
		slog.String("component", "websocket.client"),
		slog.String("client_id", id),
	)
	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		id:          id,
		traceID:     traceID,
		remoteAddr:  conn.RemoteAddr(),
		connectedAt: time.Now(),
		logger:      logger,
	}
}

// ID returns the client identifier
func (c *Client) ID() string { return c.id }

func (c *Client) context() context.Context {
	ctx := context.Background()
	if c.traceID != "" {
		ctx = infrastructure.WithTraceID(ctx, c.traceID)
	}
	return ctx
}

// ReadPump reads client frames until the connection fails
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.hub.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.ErrorContext(c.context(), "unexpected websocket close", slog.String("error", err.Error()))
			}
			return
		}
		c.handle(message)
	}
}

// handle processes one inbound frame. Heartbeats only keep the connection alive;
// triggers are validated and published.
func (c *Client) handle(message []byte) {
	ctx := c.context()

	var env Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		c.hub.reply(c, TypeError, map[string]string{"message": "malformed frame"})
		return
	}
	c.hub.metrics.RecordMessage(ctx, "inbound", env.Type, len(message))

	switch env.Type {
	case TypeHeartbeat:
		c.logger.DebugContext(ctx, "heartbeat received")
	case TypeTrigger:
		c.handleTrigger(ctx, env.Data)
	default:
		c.hub.reply(c, TypeError, map[string]string{"message": "unknown message type " + env.Type})
	}
}

func (c *Client) handleTrigger(ctx context.Context, data []byte) {
	msg, err := pubsub.Decode(data)
	if err != nil {
		c.hub.metrics.RecordTrigger(ctx, msg.Topic, false)
		c.hub.reply(c, TypeError, map[string]string{"message": err.Error()})
		return
	}
	if c.hub.publisher == nil {
		c.hub.metrics.RecordTrigger(ctx, msg.Topic, false)
		c.hub.reply(c, TypeError, map[string]string{"message": "triggers are disabled"})
		return
	}

	ctx = infrastructure.EnsureTraceID(ctx)
	if msg.Source == "" {
		msg.Source = "websocket"
	}
	if err := c.hub.publisher.Publish(ctx, msg); err != nil {
		c.hub.metrics.RecordTrigger(ctx, msg.Topic, false)
		c.hub.reply(c, TypeError, map[string]string{"message": err.Error()})
		return
	}

	c.hub.metrics.RecordTrigger(ctx, msg.Topic, true)
	c.logger.InfoContext(ctx, "trigger accepted",
		slog.String("topic", msg.Topic),
		slog.Int64("instrument_id", msg.InstrumentID),
		slog.Int64("vpin_id", msg.VpinID))
	c.hub.reply(c, TypeTriggerAck, map[string]interface{}{
		"topic":         msg.Topic,
		"instrument_id": msg.InstrumentID,
		"vpin_id":       msg.VpinID,
		"trace_id":      infrastructure.GetTraceID(ctx),
	})
}

// WritePump writes queued frames and keeps the connection alive with pings
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.hub.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.ErrorContext(c.context(), "error writing message", slog.String("error", err.Error()))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.DebugContext(c.context(), "failed to send ping", slog.String("error", err.Error()))
				return
			}
		}
	}
}
