package handler

import (
	"context"
	"crypto/rand"
	"encoding/base64"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"xpanel/internal/noderegistry"
	"xpanel/internal/operations"
	"xpanel/internal/pki"
	"xpanel/internal/store"
	"xpanel/internal/store/models"
	"xpanel/pkg/apperror"
	"xpanel/pkg/response"
)

// NodesHandler exposes node CRUD, connection control, and service
// configuration management.
type NodesHandler struct {
	store    *store.Store
	ops      *operations.Operations
	registry *noderegistry.Registry
	pki      *pki.Manager
}

// NewNodesHandler builds a NodesHandler.
func NewNodesHandler(st *store.Store, ops *operations.Operations, registry *noderegistry.Registry, pkiMgr *pki.Manager) *NodesHandler {
	return &NodesHandler{store: st, ops: ops, registry: registry, pki: pkiMgr}
}

// CreateNodeRequest is the node-creation payload.
type CreateNodeRequest struct {
	Name             string  `json:"name" binding:"required"`
	Address          string  `json:"address" binding:"required"`
	RPCPort          int     `json:"rpc_port" binding:"required"`
	StatsPort        int     `json:"stats_port" binding:"required"`
	UsageCoefficient float64 `json:"usage_coefficient"`
}

// Create persists a new node, issues its mTLS certificate pair, and
// generates a fresh per-node API key (returned once, not stored raw).
func (h *NodesHandler) Create(c *gin.Context) {
	var req CreateNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	node, err := h.store.CreateNode(c.Request.Context(), &models.Node{
		Name:             req.Name,
		Address:          req.Address,
		RPCPort:          req.RPCPort,
		StatsPort:        req.StatsPort,
		UsageCoefficient: req.UsageCoefficient,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	if _, err := h.pki.IssueNodeCerts(c.Request.Context(), node.ID, node.Name, node.Address); err != nil {
		writeError(c, err)
		return
	}

	apiKey, err := generateAPIKey()
	if err != nil {
		writeError(c, apperror.Internal(err))
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.DefaultCost)
	if err != nil {
		writeError(c, apperror.Internal(err))
		return
	}
	if err := h.store.SetNodeAPIKey(c.Request.Context(), node.ID, string(hash)); err != nil {
		writeError(c, err)
		return
	}

	response.Created(c, "node created", gin.H{
		"node":    node.ToResponse(),
		"api_key": apiKey,
	})
}

func generateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// List returns every node.
func (h *NodesHandler) List(c *gin.Context) {
	nodes, err := h.store.ListNodes(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]interface{}, len(nodes))
	for i := range nodes {
		out[i] = nodes[i].ToResponse()
	}
	response.OK(c, "", out)
}

// Get loads one node by id.
func (h *NodesHandler) Get(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	node, err := h.store.GetNode(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, "", node)
}

// Delete removes a node, closing its live client session first.
func (h *NodesHandler) Delete(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	h.registry.Remove(id)
	if err := h.store.DeleteNode(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, "node deleted", nil)
}

// Connect schedules a connect attempt against the node.
func (h *NodesHandler) Connect(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	h.ops.Enqueue(func(ctx context.Context) {
		_ = h.ops.ConnectNode(ctx, id)
	})
	response.OK(c, "connect scheduled", nil)
}

// Restart schedules a restart of an already-connected node.
func (h *NodesHandler) Restart(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	h.ops.Enqueue(func(ctx context.Context) {
		_ = h.ops.RestartNode(ctx, id)
	})
	response.OK(c, "restart scheduled", nil)
}

// UpsertServiceRequest is the service-configuration create/update
// payload.
type UpsertServiceRequest struct {
	ID               uint                 `json:"id"`
	ServiceName      string               `json:"service_name" binding:"required"`
	Enabled          bool                 `json:"enabled"`
	Protocol         models.ProxyProtocol `json:"protocol" binding:"required"`
	ListenAddress    string               `json:"listen_address"`
	ListenPort       int                  `json:"listen_port" binding:"required"`
	NetworkType      models.NetworkType   `json:"network_type"`
	SecurityType     models.SecurityType  `json:"security_type"`
	TCPHeaderType    string               `json:"tcp_header_type"`
	WSPath           string               `json:"ws_path"`
	GRPCServiceName  string               `json:"grpc_service_name"`
	SNI              string               `json:"sni"`
	Fingerprint      string               `json:"fingerprint"`
	RealityPublicKey string               `json:"reality_public_key"`
	RealityShortID   string               `json:"reality_short_id"`
}

// UpsertService creates or replaces a service configuration on a node.
func (h *NodesHandler) UpsertService(c *gin.Context) {
	nodeID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req UpsertServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	svc := &models.ServiceConfiguration{
		ID:               req.ID,
		NodeID:           nodeID,
		ServiceName:      req.ServiceName,
		Enabled:          req.Enabled,
		Protocol:         req.Protocol,
		ListenAddress:    req.ListenAddress,
		ListenPort:       req.ListenPort,
		NetworkType:      req.NetworkType,
		SecurityType:     req.SecurityType,
		TCPHeaderType:    req.TCPHeaderType,
		WSPath:           req.WSPath,
		GRPCServiceName:  req.GRPCServiceName,
		SNI:              req.SNI,
		Fingerprint:      req.Fingerprint,
		RealityPublicKey: req.RealityPublicKey,
		RealityShortID:   req.RealityShortID,
	}

	saved, err := h.store.UpsertServiceConfiguration(c.Request.Context(), svc)
	if err != nil {
		writeError(c, err)
		return
	}

	h.ops.Enqueue(func(ctx context.Context) {
		_ = h.ops.RestartNode(ctx, nodeID)
	})
	response.OK(c, "service saved", saved)
}

// DeleteService removes a service configuration.
func (h *NodesHandler) DeleteService(c *gin.Context) {
	nodeID, ok := idParam(c, "id")
	if !ok {
		return
	}
	svcID, ok := idParam(c, "service_id")
	if !ok {
		return
	}
	if err := h.store.DeleteServiceConfiguration(c.Request.Context(), svcID); err != nil {
		writeError(c, err)
		return
	}
	h.ops.Enqueue(func(ctx context.Context) {
		_ = h.ops.RestartNode(ctx, nodeID)
	})
	response.OK(c, "service deleted", nil)
}
