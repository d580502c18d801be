package http

import (
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/oztf/meetlink/internal/app"
	"github.com/oztf/meetlink/internal/domain"
	"github.com/oztf/meetlink/internal/roomcode"
	"github.com/oztf/meetlink/internal/roster"
	"github.com/oztf/meetlink/internal/rtc"
)

const sessionMeetKey = "entered_meet"

type handlers struct {
	sessions *app.Manager
	backend  *roster.Client
	joins    *JoinRateLimiter
}

type joinRequest struct {
	Code     string `json:"code" binding:"required"`
	Nickname string `json:"nickname"`
}

// join enters the meeting identified by its human-facing code. The
// request itself is the user interaction that unlocks transport
// initialization.
func (h *handlers) join(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
		return
	}
	if len(req.Nickname) > domain.MaxNicknameLen {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nickname too long"})
		return
	}

	roomID, err := roomcode.Encode(req.Code)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid meeting code"})
		return
	}

	token := c.GetString("client_token")
	if !h.joins.Allow(token) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many join attempts"})
		return
	}

	if existing, ok := h.sessions.Peek(token); ok {
		if snap := existing.Orch.Snapshot(); snap.State != "idle" {
			c.JSON(http.StatusConflict, gin.H{"error": "already in a meeting"})
			return
		}
	}

	client := h.sessions.Get(token)
	client.Gate.Mark()

	err = client.Orch.InitRoom(c.Request.Context(), domain.MeetID(req.Code), roomID, req.Nickname)
	if err != nil {
		h.sessions.Drop(token)
		status := http.StatusBadGateway
		switch {
		case rtc.IsAuthError(err):
			status = http.StatusUnauthorized
		case errors.Is(err, domain.ErrRoomNotFound):
			status = http.StatusNotFound
		}
		log.Warn().Err(err).Str("module", "adapters.http").Str("meet", req.Code).Msg("join failed")
		c.JSON(status, gin.H{"error": "join failed"})
		return
	}

	sess := sessions.Default(c)
	sess.Set(sessionMeetKey, req.Code)
	if err := sess.Save(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("session save failed")
	}

	c.JSON(http.StatusOK, client.Orch.Snapshot())
}

// exit leaves the meeting and releases the client session. Safe to call
// when no meeting was ever joined.
func (h *handlers) exit(c *gin.Context) {
	token := c.GetString("client_token")
	if client, ok := h.sessions.Peek(token); ok {
		client.Orch.Exit(c.Request.Context())
		h.sessions.Drop(token)
	}

	sess := sessions.Default(c)
	sess.Delete(sessionMeetKey)
	if err := sess.Save(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("session save failed")
	}

	c.JSON(http.StatusOK, gin.H{"type": "left"})
}

func (h *handlers) state(c *gin.Context) {
	resp := gin.H{"state": "idle"}
	if client, ok := h.sessions.Peek(c.GetString("client_token")); ok {
		snap := client.Orch.Snapshot()
		resp["state"] = snap.State
		resp["snapshot"] = snap
	}
	if entered := sessions.Default(c).Get(sessionMeetKey); entered != nil {
		resp["enteredMeet"] = entered
	}
	c.JSON(http.StatusOK, resp)
}

// toggleMicrophone, toggleCamera and screenShare mirror the websocket
// command frames for clients that prefer plain requests.
func (h *handlers) toggleMicrophone(c *gin.Context) {
	client, ok := h.sessions.Peek(c.GetString("client_token"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no session"})
		return
	}
	client.Orch.ToggleMicrophone(c.Request.Context())
	c.JSON(http.StatusOK, client.Orch.Snapshot())
}

func (h *handlers) toggleCamera(c *gin.Context) {
	var req struct {
		View string `json:"view"`
	}
	_ = c.ShouldBindJSON(&req)
	client, ok := h.sessions.Peek(c.GetString("client_token"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no session"})
		return
	}
	client.Orch.ToggleCamera(c.Request.Context(), req.View)
	c.JSON(http.StatusOK, client.Orch.Snapshot())
}

func (h *handlers) screenShare(c *gin.Context) {
	var req struct {
		On bool `json:"on"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
		return
	}
	client, ok := h.sessions.Peek(c.GetString("client_token"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no session"})
		return
	}
	if req.On {
		client.Orch.StartScreenShare(c.Request.Context())
	} else {
		client.Orch.StopScreenShare(c.Request.Context())
	}
	c.JSON(http.StatusOK, client.Orch.Snapshot())
}

// meetingInfo proxies meeting status and schedule for the pre-join
// screen.
func (h *handlers) meetingInfo(c *gin.Context) {
	code := c.Query("meetId")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "meetId required"})
		return
	}
	m, err := h.backend.GetMeetingInfo(c.Request.Context(), domain.MeetID(code))
	if err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Str("meet", code).Msg("meeting info fetch failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "meeting info unavailable"})
		return
	}
	c.JSON(http.StatusOK, m)
}
