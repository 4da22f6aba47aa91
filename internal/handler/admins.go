package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"xpanel/internal/middleware"
	"xpanel/internal/store"
	"xpanel/pkg/apperror"
	"xpanel/pkg/response"
)

// AdminsHandler manages admin accounts; every route requires sudo.
type AdminsHandler struct {
	store *store.Store
}

// NewAdminsHandler builds an AdminsHandler.
func NewAdminsHandler(st *store.Store) *AdminsHandler {
	return &AdminsHandler{store: st}
}

// List returns every admin account.
func (h *AdminsHandler) List(c *gin.Context) {
	admins, err := h.store.ListAdmins(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]interface{}, len(admins))
	for i := range admins {
		out[i] = admins[i].ToResponse()
	}
	response.OK(c, "", out)
}

// CreateAdminRequest is the admin-creation payload.
type CreateAdminRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
	IsSudo   bool   `json:"is_sudo"`
}

// Create adds a new admin account.
func (h *AdminsHandler) Create(c *gin.Context) {
	var req CreateAdminRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(c, apperror.Internal(err))
		return
	}

	admin, err := h.store.CreateAdmin(c.Request.Context(), req.Username, string(hash), req.IsSudo)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Created(c, "admin created", admin.ToResponse())
}

// ChangePasswordRequest carries a new password for an existing admin.
type ChangePasswordRequest struct {
	Password string `json:"password" binding:"required,min=8"`
}

// ChangePassword replaces an admin's password hash.
func (h *AdminsHandler) ChangePassword(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "invalid admin id")
		return
	}

	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(c, apperror.Internal(err))
		return
	}

	if err := h.store.UpdateAdminPassword(c.Request.Context(), uint(id), string(hash)); err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, "password changed", nil)
}

// Delete removes an admin account. An admin may not delete itself.
func (h *AdminsHandler) Delete(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "invalid admin id")
		return
	}

	if callerID, ok := middleware.GetAdminID(c); ok && callerID == uint(id) {
		response.Conflict(c, "cannot delete your own account")
		return
	}

	if err := h.store.DeleteAdmin(c.Request.Context(), uint(id)); err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, "admin deleted", nil)
}
