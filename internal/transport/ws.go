package transport

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/yanun0323/logs"

	"main/internal/broadcast"
)

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Conn adapts one *websocket.Conn to the broadcaster's channel contract.
// Alive flips to false on the first write failure or peer close, which is
// how the registry learns the subscriber is gone without a transport error
// escaping into the workers.
type Conn struct {
	ws    *websocket.Conn
	mu    sync.Mutex
	alive atomic.Bool
}

// NewConn wraps an upgraded websocket connection.
func NewConn(ws *websocket.Conn) *Conn {
	c := &Conn{ws: ws}
	c.alive.Store(true)
	return c
}

// Send writes v as a JSON message. Concurrent sends are serialized; a
// failed write marks the connection dead.
func (c *Conn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteJSON(v); err != nil {
		c.alive.Store(false)
		return err
	}
	return nil
}

// Alive reports whether the connection is still usable.
func (c *Conn) Alive() bool {
	return c.alive.Load()
}

// Close marks the connection dead and closes the socket.
func (c *Conn) Close() error {
	c.alive.Store(false)
	return c.ws.Close()
}

// ProgressHandler upgrades the request to a websocket, registers it with
// the broadcaster under the authenticated account, and blocks reading
// until the peer disconnects.
func ProgressHandler(registry *broadcast.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.GetString("accountID")
		if accountID == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logs.Warnf("websocket upgrade for account %s: %v", accountID, err)
			return
		}

		conn := NewConn(ws)
		registry.Register(accountID, conn)
		logs.Infof("account %s connected to progress stream", accountID)

		// Read pump: the server never expects inbound frames, but reading
		// is how gorilla surfaces close frames and errors.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				break
			}
		}

		_ = conn.Close()
		registry.Unregister(accountID)
		logs.Infof("account %s disconnected from progress stream", accountID)
	}
}
