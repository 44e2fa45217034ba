// Package sink records relay webhook deliveries for local inspection.
package sink

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stoik/cex/internal/models"
)

// Delivery is one webhook POST as the sink received it.
type Delivery struct {
	ID         uuid.UUID      `json:"id"`
	ReceivedAt time.Time      `json:"received_at"`
	Event      string         `json:"event"`
	Message    models.Message `json:"message"`
}

// Recorder keeps the most recent deliveries, oldest dropped first.
type Recorder struct {
	mu       sync.RWMutex
	capacity int
	items    []Delivery
}

func NewRecorder(capacity int) *Recorder {
	if capacity < 1 {
		capacity = 1
	}
	return &Recorder{capacity: capacity}
}

func (r *Recorder) Record(d Delivery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, d)
	if over := len(r.items) - r.capacity; over > 0 {
		r.items = append(r.items[:0:0], r.items[over:]...)
	}
}

// List returns deliveries newest first. A non-zero agent keeps only
// deliveries addressed to it.
func (r *Recorder) List(agent models.AgentID) []Delivery {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Delivery, 0, len(r.items))
	for i := len(r.items) - 1; i >= 0; i-- {
		if !agent.IsZero() && r.items[i].Message.ToAgentID != agent {
			continue
		}
		out = append(out, r.items[i])
	}
	return out
}

func (r *Recorder) Clear() {
	r.mu.Lock()
	r.items = nil
	r.mu.Unlock()
}

type payload struct {
	Event   string         `json:"event"`
	Message models.Message `json:"message"`
}

// NewRouter serves POST /hook for the relay and GET/DELETE /deliveries for
// whoever is watching.
func NewRouter(rec *Recorder) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/hook", func(c *gin.Context) {
		var p payload
		if err := c.ShouldBindJSON(&p); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook payload"})
			return
		}
		if p.Event == "" {
			p.Event = c.GetHeader("X-Relay-Event")
		}
		d := Delivery{ID: uuid.New(), ReceivedAt: time.Now().UTC(), Event: p.Event, Message: p.Message}
		rec.Record(d)
		logrus.WithFields(logrus.Fields{
			"event":      d.Event,
			"message_id": d.Message.ID,
			"to":         d.Message.ToAgentID,
		}).Info("Webhook received")
		c.JSON(http.StatusOK, gin.H{"id": d.ID})
	})

	r.GET("/deliveries", func(c *gin.Context) {
		var agent models.AgentID
		if q := c.Query("agent"); q != "" {
			id, err := models.ParseAgentID(q)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid agent id"})
				return
			}
			agent = id
		}
		items := rec.List(agent)
		c.JSON(http.StatusOK, gin.H{"deliveries": items, "count": len(items)})
	})

	r.DELETE("/deliveries", func(c *gin.Context) {
		rec.Clear()
		c.Status(http.StatusNoContent)
	})

	return r
}
