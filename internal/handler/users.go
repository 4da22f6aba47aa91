package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"xpanel/internal/middleware"
	"xpanel/internal/operations"
	"xpanel/internal/store"
	"xpanel/internal/store/models"
	"xpanel/pkg/response"
)

// UsersHandler exposes user CRUD and lifecycle endpoints.
type UsersHandler struct {
	store *store.Store
	ops   *operations.Operations
}

// NewUsersHandler builds a UsersHandler.
func NewUsersHandler(st *store.Store, ops *operations.Operations) *UsersHandler {
	return &UsersHandler{store: st, ops: ops}
}

// ProxyRequest is one protocol's credential payload in create/update
// requests.
type ProxyRequest struct {
	Protocol models.ProxyProtocol `json:"protocol" binding:"required"`
	UUID     string               `json:"uuid"`
	Flow     string               `json:"flow"`
	Password string               `json:"password"`
	Method   string               `json:"method"`
}

func (p ProxyRequest) toModel() models.Proxy {
	return models.Proxy{
		Protocol: p.Protocol,
		Settings: models.ProxySettings{
			UUID:     p.UUID,
			Flow:     p.Flow,
			Password: p.Password,
			Method:   p.Method,
		},
	}
}

// CreateUserRequest is the user-creation payload.
type CreateUserRequest struct {
	AccountNumber          string                       `json:"account_number"`
	Status                 models.UserStatus            `json:"status"`
	DataLimitBytes         *uint64                      `json:"data_limit_bytes"`
	ExpireTs               *int64                       `json:"expire_ts"`
	OnHoldExpireDurationS  *int64                       `json:"on_hold_expire_duration_s"`
	DataLimitResetStrategy models.DataLimitResetStrategy `json:"data_limit_reset_strategy"`
	AutoDeleteInDays       *int                         `json:"auto_delete_in_days"`
	Proxies                []ProxyRequest               `json:"proxies"`
}

// Create adds a new user, owned by the calling admin.
func (h *UsersHandler) Create(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	proxies := make([]models.Proxy, len(req.Proxies))
	for i, p := range req.Proxies {
		proxies[i] = p.toModel()
	}

	var owner *uint
	if adminID, ok := middleware.GetAdminID(c); ok {
		owner = &adminID
	}

	user, err := h.store.CreateUser(c.Request.Context(), owner, store.UserSpec{
		AccountNumber:          req.AccountNumber,
		Status:                 req.Status,
		DataLimitBytes:         req.DataLimitBytes,
		ExpireTs:               req.ExpireTs,
		OnHoldExpireDurationS:  req.OnHoldExpireDurationS,
		DataLimitResetStrategy: req.DataLimitResetStrategy,
		AutoDeleteInDays:       req.AutoDeleteInDays,
		Proxies:                proxies,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	response.Created(c, "user created", user.ToResponse())
}

// Get loads one user by account number.
func (h *UsersHandler) Get(c *gin.Context) {
	user, err := h.store.GetUserByAccountNumber(c.Request.Context(), c.Param("account"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, "", user.ToResponse())
}

// UpdateUserRequest is the partial-update payload.
type UpdateUserRequest struct {
	DataLimitBytes *uint64            `json:"data_limit_bytes"`
	ClearDataLimit bool               `json:"clear_data_limit"`
	ExpireTs       *int64             `json:"expire_ts"`
	ClearExpire    bool               `json:"clear_expire"`
	Status         *models.UserStatus `json:"status"`
	Proxies        []ProxyRequest     `json:"proxies"`
}

// Update applies a partial update to a user.
func (h *UsersHandler) Update(c *gin.Context) {
	user, err := h.store.GetUserByAccountNumber(c.Request.Context(), c.Param("account"))
	if err != nil {
		writeError(c, err)
		return
	}

	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	var proxies []models.Proxy
	if req.Proxies != nil {
		proxies = make([]models.Proxy, len(req.Proxies))
		for i, p := range req.Proxies {
			proxies[i] = p.toModel()
		}
	}

	updated, err := h.store.UpdateUser(c.Request.Context(), user.ID, store.UserPatch{
		DataLimitBytes: req.DataLimitBytes,
		ClearDataLimit: req.ClearDataLimit,
		ExpireTs:       req.ExpireTs,
		ClearExpire:    req.ClearExpire,
		Status:         req.Status,
		Proxies:        proxies,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	h.ops.Enqueue(func(ctx context.Context) {
		_ = h.ops.ReapplyUser(ctx, updated.ID)
	})
	response.OK(c, "user updated", updated.ToResponse())
}

// Delete removes a user, first deactivating it on its active node.
func (h *UsersHandler) Delete(c *gin.Context) {
	user, err := h.store.GetUserByAccountNumber(c.Request.Context(), c.Param("account"))
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.ops.DeleteUser(c.Request.Context(), user.ID); err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, "user deleted", nil)
}

// List returns users filtered by the status query parameter, which is
// required; a request without it gets 400.
func (h *UsersHandler) List(c *gin.Context) {
	status := models.UserStatus(c.Query("status"))
	if status == "" {
		response.BadRequest(c, "status query parameter is required")
		return
	}
	users, err := h.store.ListUsersByStatus(c.Request.Context(), status)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]interface{}, len(users))
	for i := range users {
		out[i] = users[i].ToResponse()
	}
	response.OK(c, "", out)
}

// ResetUsage zeroes a user's traffic counter.
func (h *UsersHandler) ResetUsage(c *gin.Context) {
	user, err := h.store.GetUserByAccountNumber(c.Request.Context(), c.Param("account"))
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.store.ResetUserDataUsage(c.Request.Context(), user.ID); err != nil {
		writeError(c, err)
		return
	}
	h.ops.Enqueue(func(ctx context.Context) {
		_ = h.ops.ReapplyUser(ctx, user.ID)
	})
	response.OK(c, "usage reset", nil)
}

// RevokeSub invalidates every subscription token issued before now for
// this user; it does not affect node activation.
func (h *UsersHandler) RevokeSub(c *gin.Context) {
	user, err := h.store.GetUserByAccountNumber(c.Request.Context(), c.Param("account"))
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.store.RevokeUserSub(c.Request.Context(), user.ID); err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, "subscription revoked", nil)
}

// RevokeProxyRequest names the protocol whose secret should be
// regenerated.
type RevokeProxyRequest struct {
	Protocol models.ProxyProtocol `json:"protocol" binding:"required"`
}

// RevokeProxy regenerates one protocol's secret in place and, if the
// user is active on a node, schedules a restart so the new credential
// replaces the old one in the running config.
func (h *UsersHandler) RevokeProxy(c *gin.Context) {
	user, err := h.store.GetUserByAccountNumber(c.Request.Context(), c.Param("account"))
	if err != nil {
		writeError(c, err)
		return
	}
	var req RevokeProxyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	proxy, err := h.store.RevokeUserProxy(c.Request.Context(), user.ID, req.Protocol)
	if err != nil {
		writeError(c, err)
		return
	}
	h.ops.Enqueue(func(ctx context.Context) {
		_ = h.ops.ReapplyUser(ctx, user.ID)
	})
	response.OK(c, "proxy credential revoked", proxy)
}

func idParam(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		response.BadRequest(c, "invalid "+name)
		return 0, false
	}
	return uint(v), true
}
