// Package api exposes the relay over HTTP with gin.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stoik/cex/internal/relay"
)

// Config holds the HTTP-layer settings.
type Config struct {
	// AdminKey guards /admin. Empty disables the admin routes.
	AdminKey string
	// PublicURL, when set, is used to build invite join URLs.
	PublicURL string
	// RatePerMinute caps authenticated requests per agent. Zero disables it.
	RatePerMinute int
}

// Handler serves the relay endpoints.
type Handler struct {
	svc *relay.Service
	cfg Config
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(svc *relay.Service, cfg Config) *gin.Engine {
	h := &Handler{svc: svc, cfg: cfg}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/contracts", h.contracts)
	r.POST("/auth/register", h.register)

	authed := r.Group("/", h.requireAgent(), rateLimit(cfg.RatePerMinute))
	{
		authed.GET("/auth/me", h.me)
		authed.PUT("/auth/me", h.updateMe)
		authed.POST("/auth/agents", h.addAgent)
		authed.GET("/auth/agents", h.listAgents)
	}

	conns := authed.Group("/connections")
	{
		conns.POST("/invite", h.createInvite)
		conns.POST("/accept", h.acceptInvite)
		conns.GET("", h.listConnections)
		conns.DELETE("/:id", h.removeConnection)
		conns.GET("/:id/permissions", h.getPermissions)
		conns.PUT("/:id/permissions", h.updatePermission)
	}

	msgs := authed.Group("/messages")
	{
		msgs.POST("", h.sendMessage)
		msgs.GET("/inbox", h.inbox)
		msgs.GET("/stream", h.stream)
		msgs.POST("/:id/ack", h.ack)
		msgs.GET("/threads", h.listThreads)
		msgs.GET("/thread/:id", h.getThread)
	}

	admin := r.Group("/admin", h.requireAdmin())
	{
		admin.POST("/announcements", h.createAnnouncement)
		admin.GET("/announcements", h.listAnnouncements)
		admin.POST("/announcements/:id/deactivate", h.deactivateAnnouncement)
	}

	return r
}

func (h *Handler) health(c *gin.Context) {
	if err := h.svc.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) contracts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"contracts":  h.svc.Contracts(),
		"categories": h.svc.Config().Categories,
	})
}
