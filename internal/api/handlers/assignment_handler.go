package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/streamvigil/vigil/internal/hub"
	"github.com/streamvigil/vigil/internal/models"
	"github.com/streamvigil/vigil/internal/repositories/postgres"
	"github.com/streamvigil/vigil/internal/utils"
)

type AssignmentHandler struct {
	assignments postgres.AssignmentRepository
	users       postgres.UserRepository
	hub         *hub.Hub
}

func NewAssignmentHandler(assignments postgres.AssignmentRepository, users postgres.UserRepository, h *hub.Hub) *AssignmentHandler {
	return &AssignmentHandler{assignments: assignments, users: users, hub: h}
}

type createAssignmentReq struct {
	AgentID  uint `json:"agent_id" binding:"required"`
	StreamID uint `json:"stream_id" binding:"required"`
}

// Create links an agent to a stream. Admin only (enforced by routing).
func (h *AssignmentHandler) Create(c *gin.Context) {
	const op = "AssignmentHandler.Create"

	var req createAssignmentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "agent_id and stream_id are required", err))
		return
	}

	if _, err := h.users.GetByID(c.Request.Context(), req.AgentID); err != nil {
		writeError(c, err)
		return
	}

	a := &models.Assignment{AgentID: req.AgentID, StreamID: req.StreamID, Active: true}
	if err := h.assignments.Create(c.Request.Context(), a); err != nil {
		writeError(c, err)
		return
	}
	if h.hub != nil {
		h.hub.PublishAssignmentUpdate(*a)
	}
	c.JSON(201, a)
}

// Mine lists the caller's active assignments with their streams preloaded.
func (h *AssignmentHandler) Mine(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	out, err := h.assignments.ListActiveByAgent(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(200, gin.H{"assignments": out})
}
