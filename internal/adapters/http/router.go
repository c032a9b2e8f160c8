package http

import (
	"context"
	"net/http"

	"github.com/dkeye/devrooms/internal/adapters/signal"
	"github.com/dkeye/devrooms/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// SetupRouter wires the room API and the RTC signal endpoint. ctx bounds
// long-lived WebSocket handlers.
func SetupRouter(ctx context.Context, cfg *config.Config, h *Handlers, hub *signal.Hub) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	registerValidators()

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions("DevRoomsSession", store))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	rooms := r.Group("/rooms", IdentityMiddleware())
	rooms.POST("/create", h.Create)
	rooms.GET("/all", h.List)
	rooms.POST("/token", h.Token)
	rooms.POST("/join/random", h.JoinRandom)
	rooms.POST("/join/:id", h.Join)
	rooms.POST("/leave/:id", h.Leave)
	rooms.GET("/:id", h.Get)
	rooms.GET("/:id/events", func(c *gin.Context) { h.Events(ctx, c) })
	rooms.POST("/:id/session", h.Bind)
	rooms.POST("/:id/terminate", h.Terminate)
	rooms.PATCH("/:id/status", h.SetStatus)

	r.GET("/rtc/signal", func(c *gin.Context) {
		hub.HandleSignal(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}
