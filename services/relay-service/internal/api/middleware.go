package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"github.com/stoik/cex/internal/models"
	"golang.org/x/time/rate"
)

const agentKey = "agent"

// requestLogger logs one line per request through logrus.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}
		if v, ok := c.Get(agentKey); ok {
			fields["agent_id"] = v.(models.Agent).ID
		}
		entry := logrus.WithFields(fields)
		switch {
		case c.Writer.Status() >= 500:
			entry.Error("Request")
		case c.Writer.Status() >= 400:
			entry.Info("Request")
		default:
			entry.Debug("Request")
		}
	}
}

// requireAgent authenticates the bearer API key and stores the agent.
func (h *Handler) requireAgent() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		key, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing API key", "code": "unauthorized"})
			return
		}
		agent, err := h.svc.Authenticate(c.Request.Context(), strings.TrimSpace(key))
		if err != nil {
			respondError(c, err)
			return
		}
		c.Set(agentKey, agent)
		c.Next()
	}
}

// requireAdmin checks X-Admin-Key. Admin routes are closed when no key is
// configured.
func (h *Handler) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader("X-Admin-Key")
		if h.cfg.AdminKey == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.cfg.AdminKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid admin key", "code": "forbidden"})
			return
		}
		c.Next()
	}
}

// rateLimit throttles each authenticated agent to perMinute requests. Must
// run after requireAgent.
func rateLimit(perMinute int) gin.HandlerFunc {
	if perMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	limiters := cache.New(10*time.Minute, 20*time.Minute)
	every := rate.Every(time.Minute / time.Duration(perMinute))

	return func(c *gin.Context) {
		agent := currentAgent(c)
		key := agent.ID.String()
		var l *rate.Limiter
		if v, ok := limiters.Get(key); ok {
			l = v.(*rate.Limiter)
		} else {
			l = rate.NewLimiter(every, perMinute)
			if err := limiters.Add(key, l, cache.DefaultExpiration); err != nil {
				if v, ok := limiters.Get(key); ok {
					l = v.(*rate.Limiter)
				}
			}
		}
		if !l.Allow() {
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded", "code": "rate_limited"})
			return
		}
		c.Next()
	}
}

func currentAgent(c *gin.Context) models.Agent {
	return c.MustGet(agentKey).(models.Agent)
}
