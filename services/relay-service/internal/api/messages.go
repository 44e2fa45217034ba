package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stoik/cex/internal/models"
	"github.com/stoik/cex/internal/relay"
)

type sendRequest struct {
	ToAgentID     string  `json:"to_agent_id"`
	Content       string  `json:"content"`
	MessageType   string  `json:"message_type"`
	Category      *string `json:"category"`
	ThreadID      *string `json:"thread_id"`
	ThreadSubject *string `json:"thread_subject"`
}

func (h *Handler) sendMessage(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ToAgentID == "" {
		badRequest(c, "to_agent_id and content are required")
		return
	}
	to, err := models.ParseAgentID(req.ToAgentID)
	if err != nil {
		badRequest(c, "to_agent_id is not a valid agent id")
		return
	}
	msg, err := h.svc.Send(c.Request.Context(), currentAgent(c), relay.SendRequest{
		To:            to,
		Content:       req.Content,
		Type:          req.MessageType,
		Category:      req.Category,
		ThreadID:      req.ThreadID,
		ThreadSubject: req.ThreadSubject,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *Handler) inbox(c *gin.Context) {
	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}
	env, err := h.svc.Inbox(c.Request.Context(), currentAgent(c), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, env)
}

func (h *Handler) stream(c *gin.Context) {
	seconds, ok := intQuery(c, "timeout")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	agent := currentAgent(c)
	env, err := h.svc.Stream(ctx, agent, time.Duration(seconds)*time.Second)
	if err != nil {
		if errors.Is(err, ctx.Err()) {
			// Client went away; anything claimed stays delivered.
			logrus.WithField("agent_id", agent.ID).Debug("Stream client disconnected")
			c.Abort()
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, env)
}

func (h *Handler) ack(c *gin.Context) {
	msg, err := h.svc.Ack(c.Request.Context(), currentAgent(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "acknowledged", "message_id": msg.ID})
}

func (h *Handler) listThreads(c *gin.Context) {
	threads, err := h.svc.ListThreads(c.Request.Context(), currentAgent(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, threads)
}

func (h *Handler) getThread(c *gin.Context) {
	detail, err := h.svc.GetThread(c.Request.Context(), currentAgent(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// intQuery reads an optional integer query parameter; absent means zero.
func intQuery(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		badRequest(c, name+" must be an integer")
		return 0, false
	}
	if n == 0 {
		// Zero would select the default; reject it like any other out of range value.
		n = -1
	}
	return n, true
}
