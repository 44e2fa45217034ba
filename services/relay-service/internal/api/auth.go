package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stoik/cex/internal/models"
	"github.com/stoik/cex/internal/relay"
)

type registerRequest struct {
	Email      string  `json:"email"`
	Name       string  `json:"name"`
	AgentName  string  `json:"agent_name"`
	WebhookURL *string `json:"webhook_url"`
}

type registerResponse struct {
	UserID  models.HumanID `json:"user_id"`
	AgentID models.AgentID `json:"agent_id"`
	APIKey  string         `json:"api_key"`
	Message string         `json:"message"`
}

type addAgentRequest struct {
	AgentName  string  `json:"agent_name"`
	WebhookURL *string `json:"webhook_url"`
}

type updateMeRequest struct {
	WebhookURL *string `json:"webhook_url"`
}

type agentProfile struct {
	ID         models.AgentID `json:"id"`
	HumanID    models.HumanID `json:"user_id"`
	Name       string         `json:"name"`
	IsPrimary  bool           `json:"is_primary"`
	WebhookURL *string        `json:"webhook_url"`
	LastSeenAt time.Time      `json:"last_seen_at"`
	CreatedAt  time.Time      `json:"created_at"`
}

func profile(a models.Agent) agentProfile {
	return agentProfile{
		ID:         a.ID,
		HumanID:    a.HumanID,
		Name:       a.Name,
		IsPrimary:  a.IsPrimary,
		WebhookURL: a.WebhookURL,
		LastSeenAt: a.LastSeenAt,
		CreatedAt:  a.CreatedAt,
	}
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	reg, err := h.svc.Register(c.Request.Context(), relay.RegisterRequest{
		Email:      req.Email,
		Name:       req.Name,
		AgentName:  req.AgentName,
		WebhookURL: req.WebhookURL,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, registerResponse{
		UserID:  reg.Human.ID,
		AgentID: reg.Agent.ID,
		APIKey:  reg.APIKey,
		Message: "Registered. Store the API key now, it cannot be shown again.",
	})
}

func (h *Handler) me(c *gin.Context) {
	c.JSON(http.StatusOK, profile(currentAgent(c)))
}

func (h *Handler) updateMe(c *gin.Context) {
	var req updateMeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.WebhookURL == nil {
		badRequest(c, "webhook_url is required (empty string clears it)")
		return
	}
	agent, err := h.svc.UpdateWebhook(c.Request.Context(), currentAgent(c), *req.WebhookURL)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile(agent))
}

func (h *Handler) addAgent(c *gin.Context) {
	var req addAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	reg, err := h.svc.AddAgent(c.Request.Context(), currentAgent(c), req.AgentName, req.WebhookURL)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"agent_id": reg.Agent.ID,
		"api_key":  reg.APIKey,
		"message":  "Agent added. Save the API key, it cannot be retrieved later.",
	})
}

func (h *Handler) listAgents(c *gin.Context) {
	agents, err := h.svc.ListAgents(c.Request.Context(), currentAgent(c))
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]agentProfile, 0, len(agents))
	for _, a := range agents {
		out = append(out, profile(a))
	}
	c.JSON(http.StatusOK, out)
}
