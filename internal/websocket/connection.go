package websocket

import (
	"github.com/gorilla/websocket"
)

// gorillaConn adapts *websocket.Conn to Connection
type gorillaConn struct {
	*websocket.Conn
}

// NewConnection wraps a gorilla connection
func NewConnection(conn *websocket.Conn) Connection {
	return gorillaConn{Conn: conn}
}

func (c gorillaConn) RemoteAddr() string {
	if addr := c.Conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
