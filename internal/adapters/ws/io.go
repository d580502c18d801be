package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/oztf/meetlink/internal/app"
	"github.com/oztf/meetlink/internal/app/orch"
)

func (ctl *MeetWSController) writePump(ctx context.Context, c *wsMeetConn) {
	ticker := time.NewTicker(ctl.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "adapters.ws").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("module", "adapters.ws").Msg("writePump ping error")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "adapters.ws").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "adapters.ws").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "adapters.ws").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *MeetWSController) readPump(ctx context.Context, client *app.Client, c *wsMeetConn) {
	defer func() {
		log.Info().Str("module", "adapters.ws").Str("token", client.Token).Msg("readPump closing")
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "adapters.ws").Str("token", client.Token).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Error().Err(err).Str("module", "adapters.ws").Str("token", client.Token).Msg("readPump read error")
				return
			}
			ctl.handleFrame(client, c, data)
		}
	}
}

func (ctl *MeetWSController) handleFrame(client *app.Client, c *wsMeetConn, data []byte) {
	var env struct {
		Type string `json:"type"`
		View string `json:"view"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "adapters.ws").Msg("bad json")
		return
	}

	ctx := context.Background()
	switch env.Type {
	case "state":
		ctl.pushSnapshot(c, client.Orch.Snapshot())
	case "toggle_mic":
		client.Orch.ToggleMicrophone(ctx)
	case "toggle_camera":
		client.Orch.ToggleCamera(ctx, env.View)
	case "start_screen_share":
		client.Orch.StartScreenShare(ctx)
	case "stop_screen_share":
		client.Orch.StopScreenShare(ctx)
	case "sink_mounted":
		client.Sinks.Mount(env.View)
	case "sink_unmounted":
		client.Sinks.Unmount(env.View)
	case "exit":
		go func() {
			client.Orch.Exit(ctx)
			ctl.Sessions.Drop(client.Token)
			ctl.sendJSON(c, map[string]string{"type": "left"})
		}()
	case "ping":
		ctl.sendJSON(c, map[string]string{"type": "pong"})
	default:
		log.Warn().Str("module", "adapters.ws").Str("type", env.Type).Msg("unknown frame")
	}
}

func (ctl *MeetWSController) pushSnapshot(c *wsMeetConn, snap orch.Snapshot) {
	resp := struct {
		Type string        `json:"type"`
		Data orch.Snapshot `json:"data"`
	}{
		Type: "snapshot",
		Data: snap,
	}
	ctl.sendJSON(c, resp)
}

func (ctl *MeetWSController) sendJSON(c *wsMeetConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.ws").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}
