package handler

import (
	"github.com/gin-gonic/gin"

	"xpanel/internal/operations"
	"xpanel/pkg/response"
)

// ActivationHandler exposes the user↔node activation endpoints.
type ActivationHandler struct {
	ops *operations.Operations
}

// NewActivationHandler builds an ActivationHandler.
func NewActivationHandler(ops *operations.Operations) *ActivationHandler {
	return &ActivationHandler{ops: ops}
}

// ActivateRequest names the node a user should be placed on.
type ActivateRequest struct {
	NodeID uint `json:"node_id" binding:"required"`
}

// Activate assigns a user to a node and schedules the node restart that
// brings their config live.
func (h *ActivationHandler) Activate(c *gin.Context) {
	var req ActivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.ops.ActivateUserOnNode(c.Request.Context(), c.Param("account"), req.NodeID); err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, "activation scheduled", nil)
}

// Deactivate clears a user's active node.
func (h *ActivationHandler) Deactivate(c *gin.Context) {
	if err := h.ops.DeactivateUser(c.Request.Context(), c.Param("account")); err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, "deactivation scheduled", nil)
}
