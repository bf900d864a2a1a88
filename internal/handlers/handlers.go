package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"genboard/engine/internal/config"
	"genboard/engine/internal/engine"
	"genboard/engine/internal/middleware"
)

type HandlerSet struct {
	log    zerolog.Logger
	cfg    *config.AppConfig
	engine *engine.Engine
	db     *pgxpool.Pool
	cache  *redis.Client
}

func NewHandlerSet(log zerolog.Logger, cfg *config.AppConfig, eng *engine.Engine, db *pgxpool.Pool, cache *redis.Client) HandlerSet {
	return HandlerSet{
		log:    log,
		cfg:    cfg,
		engine: eng,
		db:     db,
		cache:  cache,
	}
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	v1 := router.Group("/v1")

	ws := v1.Group("/workspace")
	ws.Use(middleware.Auth(h.cfg))
	ws.GET("", h.Snapshot)
	ws.POST("/visible", h.ReportVisible)
	ws.POST("/import", h.Import)
	ws.POST("/clear", h.Clear)
	ws.DELETE("/assets/:id", h.RemoveAsset)

	notifications := v1.Group("/notifications")
	notifications.Use(middleware.Auth(h.cfg))
	notifications.GET("", h.Notifications)
}
