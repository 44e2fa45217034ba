package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type announcementRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Version string `json:"version"`
}

func (h *Handler) createAnnouncement(c *gin.Context) {
	var req announcementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	ann, err := h.svc.CreateAnnouncement(c.Request.Context(), req.Title, req.Content, req.Version)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ann)
}

func (h *Handler) listAnnouncements(c *gin.Context) {
	anns, err := h.svc.ListAnnouncements(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, anns)
}

func (h *Handler) deactivateAnnouncement(c *gin.Context) {
	ann, err := h.svc.DeactivateAnnouncement(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ann)
}
