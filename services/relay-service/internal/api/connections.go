package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stoik/cex/internal/relay"
)

type inviteResponse struct {
	InviteCode string    `json:"invite_code"`
	JoinURL    string    `json:"join_url,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type acceptRequest struct {
	InviteCode string `json:"invite_code"`
	Contract   string `json:"contract"`
}

type permissionRequest struct {
	Category     string  `json:"category"`
	Level        *string `json:"level"`
	InboundLevel *string `json:"inbound_level"`
}

func (h *Handler) createInvite(c *gin.Context) {
	inv, err := h.svc.CreateInvite(c.Request.Context(), currentAgent(c))
	if err != nil {
		respondError(c, err)
		return
	}
	resp := inviteResponse{InviteCode: inv.Code, ExpiresAt: inv.ExpiresAt}
	if h.cfg.PublicURL != "" {
		resp.JoinURL = strings.TrimRight(h.cfg.PublicURL, "/") + "/join/" + inv.Code
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) acceptInvite(c *gin.Context) {
	var req acceptRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.InviteCode == "" {
		badRequest(c, "invite_code is required")
		return
	}
	rec, err := h.svc.AcceptInvite(c.Request.Context(), currentAgent(c), req.InviteCode, req.Contract)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) listConnections(c *gin.Context) {
	conns, err := h.svc.ListConnections(c.Request.Context(), currentAgent(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conns)
}

func (h *Handler) removeConnection(c *gin.Context) {
	if err := h.svc.RemoveConnection(c.Request.Context(), currentAgent(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) getPermissions(c *gin.Context) {
	set, err := h.svc.GetPermissions(c.Request.Context(), currentAgent(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, set)
}

func (h *Handler) updatePermission(c *gin.Context) {
	var req permissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	perm, err := h.svc.UpdatePermission(c.Request.Context(), currentAgent(c), c.Param("id"), relay.PermissionUpdate{
		Category: req.Category,
		Outbound: req.Level,
		Inbound:  req.InboundLevel,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, perm)
}
