package websocket

import (
	"context"
	"time"

	"featureflow/internal/pubsub"
)

// Connection is the subset of *websocket.Conn the hub and clients use. Tests
// substitute an in-memory implementation.
type Connection interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(string) error)
	RemoteAddr() string
}

// Publisher accepts triggers sent by clients, e.g. the pubsub broker
type Publisher interface {
	Publish(ctx context.Context, msg pubsub.Message) error
}
