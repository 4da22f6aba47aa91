package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"xpanel/internal/store"
	"xpanel/internal/store/models"
	"xpanel/internal/subscription"
	"xpanel/pkg/jwt"
)

// SubscriptionHandler renders a user's subscription body, format chosen
// by sniffing the client's User-Agent.
type SubscriptionHandler struct {
	store          *store.Store
	jwt            *jwt.Manager
	supportURL     string
	profileTitle   string
	updateInterval int
}

// NewSubscriptionHandler builds a SubscriptionHandler. supportURL,
// profileTitle and updateInterval populate the support-url/profile-title/
// profile-update-interval response headers spec §6 requires.
func NewSubscriptionHandler(st *store.Store, jwtMgr *jwt.Manager, supportURL, profileTitle string, updateInterval int) *SubscriptionHandler {
	return &SubscriptionHandler{store: st, jwt: jwtMgr, supportURL: supportURL, profileTitle: profileTitle, updateInterval: updateInterval}
}

// Get resolves the subscription token, loads the user and their active
// node, and renders the format the requesting client's User-Agent asks
// for.
func (h *SubscriptionHandler) Get(c *gin.Context) {
	token := c.Param("token")

	claims, err := h.jwt.ValidateSubscriptionToken(token)
	if err != nil {
		c.String(http.StatusUnauthorized, "invalid subscription link")
		return
	}

	user, err := h.store.GetUserByAccountNumber(c.Request.Context(), claims.AccountNumber)
	if err != nil {
		c.String(http.StatusNotFound, "subscription not found")
		return
	}

	if _, err := subscription.ResolveAccountNumber(h.jwt, token, user); err != nil {
		c.String(http.StatusUnauthorized, "subscription link revoked")
		return
	}

	var node *models.Node
	if user.ActiveNodeID != nil {
		if n, err := h.store.GetNode(c.Request.Context(), *user.ActiveNodeID); err == nil {
			node = n
		}
	}

	h.setSubscriptionHeaders(c, user)

	format := subscription.DetectFormat(c.Request.UserAgent())
	body, contentType := subscription.Render(user, node, user.Proxies, format)
	c.Data(http.StatusOK, contentType, []byte(body))
}

// setSubscriptionHeaders attaches the client-convention headers spec §6
// requires on every subscription response: usage/quota/expiry in
// subscription-userinfo, plus the panel's display/refresh hints.
func (h *SubscriptionHandler) setSubscriptionHeaders(c *gin.Context, user *models.User) {
	total := "0"
	if user.DataLimitBytes != nil {
		total = fmt.Sprintf("%d", *user.DataLimitBytes)
	}
	expire := "0"
	if user.ExpireTs != nil {
		expire = fmt.Sprintf("%d", *user.ExpireTs)
	}
	c.Header("subscription-userinfo", fmt.Sprintf("upload=0; download=%d; total=%s; expire=%s", user.UsedTrafficBytes, total, expire))
	c.Header("profile-title", h.profileTitle)
	c.Header("profile-update-interval", fmt.Sprintf("%d", h.updateInterval))
	c.Header("support-url", h.supportURL)
}
