package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"xpanel/internal/adminauth"
	"xpanel/internal/middleware"
	"xpanel/pkg/response"
)

// AuthHandler exposes admin login/refresh/logout.
type AuthHandler struct {
	auth *adminauth.Service
}

// NewAuthHandler builds an AuthHandler.
func NewAuthHandler(auth *adminauth.Service) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// LoginRequest is the admin login payload.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login authenticates an admin and returns a token pair.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	tokens, admin, err := h.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}

	response.OK(c, "login successful", gin.H{
		"tokens": tokens,
		"admin":  admin.ToResponse(),
	})
}

// RefreshRequest carries a refresh token.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Refresh exchanges a valid refresh token for a new token pair.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	tokens, err := h.auth.RefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, "token refreshed", tokens)
}

// LogoutRequest optionally carries the refresh token alongside the
// bearer access token already present on the request.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Logout blacklists the caller's access (and optional refresh) token.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req LogoutRequest
	_ = c.ShouldBindJSON(&req)

	accessToken := ""
	if authHeader := c.GetHeader("Authorization"); len(authHeader) > len("Bearer ") {
		accessToken = authHeader[len("Bearer "):]
	}

	if err := h.auth.Logout(c.Request.Context(), accessToken, req.RefreshToken); err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, "logged out", nil)
}

// Me returns the authenticated admin's own identity claims.
func (h *AuthHandler) Me(c *gin.Context) {
	adminID, _ := middleware.GetAdminID(c)
	username, _ := middleware.GetUsername(c)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"admin_id": adminID,
			"username": username,
			"is_sudo":  middleware.GetIsSudo(c),
		},
	})
}
