// Package http exposes the meeting session API: join and exit by
// meeting code, session state, and the websocket used for snapshot push
// and presentation commands.
package http

import (
	"context"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/oztf/meetlink/internal/adapters/ws"
	"github.com/oztf/meetlink/internal/app"
	"github.com/oztf/meetlink/internal/config"
	"github.com/oztf/meetlink/internal/roster"
)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, manager *app.Manager, backend *roster.Client) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("MeetSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	h := &handlers{
		sessions: manager,
		backend:  backend,
		joins:    NewJoinRateLimiter(5, time.Minute),
	}
	wsCtl := ws.NewMeetWSController(manager, cfg)

	api := r.Group("/api")

	api.POST("/meet/join", h.join)
	api.POST("/meet/exit", h.exit)
	api.GET("/meet/state", h.state)
	api.GET("/meet/info", h.meetingInfo)
	api.POST("/meet/microphone", h.toggleMicrophone)
	api.POST("/meet/camera", h.toggleCamera)
	api.POST("/meet/screen-share", h.screenShare)

	api.GET("/ws/meet", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("token", c.GetString("client_token")).Msg("ws meet endpoint hit")
		wsCtl.HandleMeet(ctx, c)
	})

	return r
}
