package store

import (
	"strconv"
	"strings"
	"time"

	"xpanel/internal/store/models"
	"xpanel/pkg/apperror"
)

// CreateNode persists a new worker node definition.
func (s *Store) CreateNode(ctx Ctx, node *models.Node) (*models.Node, error) {
	node.Status = models.NodeStatusDisabled
	node.LastStatusChange = time.Now().UTC()
	if node.UsageCoefficient == 0 {
		node.UsageCoefficient = 1.0
	}
	err := s.db.WithContext(ctx).Create(node).Error
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperror.AlreadyExists("node with name %q already exists", node.Name)
		}
		return nil, apperror.Internal(err)
	}
	return node, nil
}

// GetNode loads a node with its service configurations.
func (s *Store) GetNode(ctx Ctx, id uint) (*models.Node, error) {
	var node models.Node
	err := s.db.WithContext(ctx).Preload("Services").First(&node, id).Error
	if err != nil {
		return nil, wrapGormErr(err, "node not found")
	}
	return &node, nil
}

// ListNodes returns every node, services preloaded.
func (s *Store) ListNodes(ctx Ctx) ([]models.Node, error) {
	var nodes []models.Node
	err := s.db.WithContext(ctx).Preload("Services").Find(&nodes).Error
	if err != nil {
		return nil, apperror.Internal(err)
	}
	return nodes, nil
}

// SetNodeStatus updates the panel-side mirror of NodeClient's state
// machine along with an optional detail message.
func (s *Store) SetNodeStatus(ctx Ctx, nodeID uint, status models.NodeStatus, message string) error {
	err := s.db.WithContext(ctx).Model(&models.Node{}).Where("id = ?", nodeID).
		Updates(map[string]interface{}{
			"status":             status,
			"message":            message,
			"last_status_change": time.Now().UTC(),
		}).Error
	if err != nil {
		return apperror.Internal(err)
	}
	return nil
}

// SetNodeEngineVersion records the forwarding engine version reported
// on a successful connect.
func (s *Store) SetNodeEngineVersion(ctx Ctx, nodeID uint, version string) error {
	err := s.db.WithContext(ctx).Model(&models.Node{}).Where("id = ?", nodeID).
		Update("engine_version", version).Error
	if err != nil {
		return apperror.Internal(err)
	}
	return nil
}

// MirrorNodeClientCert writes the panel-client cert/key onto the Node
// row so NodeClient can dial without a separate PKI lookup.
func (s *Store) MirrorNodeClientCert(ctx Ctx, nodeID uint, certPEM, keyPEM string) error {
	err := s.db.WithContext(ctx).Model(&models.Node{}).Where("id = ?", nodeID).
		Updates(map[string]interface{}{
			"panel_client_cert_pem": certPEM,
			"panel_client_key_pem":  keyPEM,
		}).Error
	if err != nil {
		return apperror.Internal(err)
	}
	return nil
}

// SetNodeAPIKey stores the bcrypt hash of the key a node must present on
// its inbound callbacks, replacing any previous key for that node.
func (s *Store) SetNodeAPIKey(ctx Ctx, nodeID uint, keyHash string) error {
	key := models.NodeAPIKey{NodeID: nodeID, KeyHash: keyHash, CreatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).Save(&key).Error
	if err != nil {
		return apperror.Internal(err)
	}
	return nil
}

// GetNodeAPIKeyHash returns the stored key hash for a node, used by
// node-auth middleware to verify an inbound X-API-Key header.
func (s *Store) GetNodeAPIKeyHash(ctx Ctx, nodeID uint) (string, error) {
	var key models.NodeAPIKey
	err := s.db.WithContext(ctx).First(&key, "node_id = ?", nodeID).Error
	if err != nil {
		return "", wrapGormErr(err, "node API key not set")
	}
	return key.KeyHash, nil
}

// DeleteNode removes a node and its service configurations.
func (s *Store) DeleteNode(ctx Ctx, nodeID uint) error {
	err := s.db.WithContext(ctx).Select("Services").Delete(&models.Node{ID: nodeID}).Error
	if err != nil {
		return apperror.Internal(err)
	}
	return nil
}

// validateServiceConfiguration enforces the field-coupling rules of
// spec §3/§8: port range, ws_path shape, grpc service name presence,
// and reality's sni/public-key requirement.
func validateServiceConfiguration(svc *models.ServiceConfiguration) error {
	if svc.ListenPort < 1 || svc.ListenPort > 65535 {
		return apperror.InvalidInput("listen_port %d out of range 1..65535", svc.ListenPort)
	}
	if svc.NetworkType == models.NetworkWS && !strings.HasPrefix(svc.WSPath, "/") {
		return apperror.InvalidInput("ws_path must begin with '/'")
	}
	if svc.NetworkType == models.NetworkGRPC && strings.TrimSpace(svc.GRPCServiceName) == "" {
		return apperror.InvalidInput("grpc_service_name is required for network_type=grpc")
	}
	if svc.SecurityType == models.SecurityReality {
		if strings.TrimSpace(svc.SNI) == "" || strings.TrimSpace(svc.RealityPublicKey) == "" {
			return apperror.InvalidInput("security_type=reality requires sni and reality_public_key")
		}
	}
	return nil
}

// UpsertServiceConfiguration creates or replaces one service on a node;
// engine_tag defaults to a node-and-row-stable synthetic value when
// omitted. For a new row the tag can only be derived once the row has
// an assigned ID, so an omitted tag is filled in with an Updates call
// right after Create rather than before — using the pre-insert ID
// (always 0) would tag every untagged service on a node identically
// and collide on the second insert.
func (s *Store) UpsertServiceConfiguration(ctx Ctx, svc *models.ServiceConfiguration) (*models.ServiceConfiguration, error) {
	if err := validateServiceConfiguration(svc); err != nil {
		return nil, err
	}

	if svc.ID == 0 {
		needsTag := strings.TrimSpace(svc.EngineTag) == ""
		if err := s.db.WithContext(ctx).Create(svc).Error; err != nil {
			if isUniqueViolation(err) {
				return nil, apperror.AlreadyExists("service engine_tag %q already used on this node", svc.EngineTag)
			}
			return nil, apperror.Internal(err)
		}
		if needsTag {
			svc.EngineTag = syntheticEngineTag(svc.NodeID, svc.ID)
			if err := s.db.WithContext(ctx).Model(svc).Update("engine_tag", svc.EngineTag).Error; err != nil {
				if isUniqueViolation(err) {
					return nil, apperror.AlreadyExists("service engine_tag %q already used on this node", svc.EngineTag)
				}
				return nil, apperror.Internal(err)
			}
		}
		return svc, nil
	}

	if strings.TrimSpace(svc.EngineTag) == "" {
		svc.EngineTag = syntheticEngineTag(svc.NodeID, svc.ID)
	}
	if err := s.db.WithContext(ctx).Save(svc).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, apperror.AlreadyExists("service engine_tag %q already used on this node", svc.EngineTag)
		}
		return nil, apperror.Internal(err)
	}
	return svc, nil
}

func syntheticEngineTag(nodeID, serviceID uint) string {
	return "xpanel_service_" + strconv.FormatUint(uint64(nodeID), 10) + "_" + strconv.FormatUint(uint64(serviceID), 10)
}

// DeleteServiceConfiguration removes one service from a node.
func (s *Store) DeleteServiceConfiguration(ctx Ctx, id uint) error {
	err := s.db.WithContext(ctx).Delete(&models.ServiceConfiguration{ID: id}).Error
	if err != nil {
		return apperror.Internal(err)
	}
	return nil
}
