package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/streamvigil/vigil/internal/hub"
	"github.com/streamvigil/vigil/internal/models"
	"github.com/streamvigil/vigil/internal/repositories/postgres"
	"github.com/streamvigil/vigil/internal/utils"
)

type DetectionHandler struct {
	detections postgres.DetectionRepository
	hub        *hub.Hub
}

func NewDetectionHandler(detections postgres.DetectionRepository, h *hub.Hub) *DetectionHandler {
	return &DetectionHandler{detections: detections, hub: h}
}

// Unread returns the caller's unread detections: everything for admins,
// assigned streams only for agents.
func (h *DetectionHandler) Unread(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var (
		logs []models.DetectionLog
		err  error
	)
	if userRole(c) == models.RoleAdmin {
		logs, err = h.detections.UnreadForAdmin(c.Request.Context())
	} else {
		logs, err = h.detections.UnreadForAgent(c.Request.Context(), userID)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(200, gin.H{"notifications": logs})
}

type markReadReq struct {
	Read *bool `json:"read"`
}

// MarkRead flips a detection's read flag and pushes the change to the
// caller's other sessions.
func (h *DetectionHandler) MarkRead(c *gin.Context) {
	const op = "DetectionHandler.MarkRead"

	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "invalid detection id", err))
		return
	}

	read := true
	var req markReadReq
	if err := c.ShouldBindJSON(&req); err == nil && req.Read != nil {
		read = *req.Read
	}

	if err := h.detections.MarkRead(c.Request.Context(), uint(id), read); err != nil {
		writeError(c, err)
		return
	}
	if h.hub != nil {
		h.hub.PublishNotificationUpdate(userID, uint(id), read)
	}
	c.JSON(200, gin.H{"id": id, "read": read})
}
