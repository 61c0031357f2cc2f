package server

import (
	"log/slog"
	"net/http"

	"fairbid/internal/cache"
	"fairbid/internal/engine"
	"fairbid/internal/infra"
	"fairbid/internal/realtime"

	"github.com/gin-gonic/gin"
)

// Server exposes the engine over HTTP and websockets.
type Server struct {
	coord *engine.Coordinator
	life  *engine.Lifecycle
	cache *cache.StateCache
	store Store
	hub   *realtime.Hub
	log   *slog.Logger
}

// New wires the HTTP surface.
func New(coord *engine.Coordinator, life *engine.Lifecycle, c *cache.StateCache, store Store, hub *realtime.Hub, log *slog.Logger) *Server {
	return &Server{coord: coord, life: life, cache: c, store: store, hub: hub, log: log}
}

// Router builds the gin handler tree.
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/metrics", s.handleMetrics)

	ws := realtime.NewWSHandler(s.hub, s.log)
	r.GET("/ws/auctions/:id", ws.Serve)

	api := r.Group("/api/v1")

	auctions := api.Group("/auctions")
	auctions.POST("", s.handleCreateAuction)
	auctions.GET("/:id", s.handleGetAuction)
	auctions.GET("/:id/bids", s.handleListBids)
	auctions.POST("/:id/bids", s.handlePlaceBid)
	auctions.POST("/:id/respond", s.handleRespond)
	auctions.POST("/:id/cancel", s.handleCancel)

	admin := api.Group("/admin/auctions/:id")
	admin.POST("/force-close", s.handleForceClose)
	admin.POST("/cancel", s.handleAdminCancel)
	admin.POST("/deadline", s.handleAdjustDeadline)
	admin.POST("/force-no-show", s.handleForceNoShow)

	return r
}

func (s *Server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, infra.GlobalMetrics.Snapshot())
}
