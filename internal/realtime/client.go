package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// client one WebSocket connection; writes are serialised by writeMu
type client struct {
	id          string
	conn        *websocket.Conn
	connectedAt time.Time

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

func (c *client) write(msgType int, data []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.conn.WriteMessage(msgType, data)
}

// inbound control message from a dashboard
type inbound struct {
	Type string `json:"type"`
}
