// Package ws pushes meeting snapshots to the browser and accepts
// presentation commands over a websocket.
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/oztf/meetlink/internal/app"
	"github.com/oztf/meetlink/internal/app/orch"
	"github.com/oztf/meetlink/internal/config"
)

var ErrBackpressure = errors.New("backpressure")

type MeetWSController struct {
	Sessions   *app.Manager
	ReadLimit  int64
	PingPeriod time.Duration
}

func NewMeetWSController(sessions *app.Manager, cfg *config.Config) *MeetWSController {
	return &MeetWSController{
		Sessions:   sessions,
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
	}
}

type wsMeetConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *wsMeetConn) TrySend(b []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- b:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsMeetConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleMeet upgrades the connection and binds it to the client's
// session. Snapshots are pushed on every state change; dropped frames
// are fine because each snapshot supersedes the previous one.
func (ctl *MeetWSController) HandleMeet(ctx context.Context, c *gin.Context) {
	token := c.GetString("client_token")
	log.Info().Str("module", "adapters.ws").Str("token", token).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.ws").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.ReadLimit)

	conn := &wsMeetConn{
		conn: ws,
		send: make(chan []byte, 32),
	}

	client := ctl.Sessions.Get(token)
	client.Orch.SetNotify(func(snap orch.Snapshot) {
		ctl.pushSnapshot(conn, snap)
	})
	client.NotifyLeave(func(reason string) {
		ctl.sendJSON(conn, map[string]string{"type": "leave", "reason": reason})
	})

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go func() {
		defer cancel()
		ctl.readPump(ctx, client, conn)
	}()
}
