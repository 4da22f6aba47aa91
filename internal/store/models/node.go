package models

import (
	"time"

	"gorm.io/gorm"
)

// NodeStatus is the panel-side mirror of NodeClient's state machine.
type NodeStatus string

const (
	NodeStatusDisabled   NodeStatus = "disabled"
	NodeStatusConnecting NodeStatus = "connecting"
	NodeStatusConnected  NodeStatus = "connected"
	NodeStatusError      NodeStatus = "error"
)

// Node is a worker running the external forwarding engine, controlled
// over mTLS by NodeClient.
type Node struct {
	ID                uint           `gorm:"primaryKey;index:idx_node_lookup,priority:1" json:"id"`
	Name              string         `gorm:"type:varchar(100);unique;not null" json:"name"`
	Address           string         `gorm:"type:varchar(255);not null" json:"address"`
	RPCPort           int            `gorm:"not null" json:"rpc_port"`
	StatsPort         int            `gorm:"not null" json:"stats_port"`
	UsageCoefficient  float64        `gorm:"default:1.0" json:"usage_coefficient"`
	Status            NodeStatus     `gorm:"type:varchar(20);default:'disabled';index" json:"status"`
	Message           string         `gorm:"type:text" json:"message,omitempty"`
	EngineVersion     string         `gorm:"type:varchar(50)" json:"engine_version,omitempty"`
	PanelClientCertPEM string        `gorm:"type:text" json:"-"`
	PanelClientKeyPEM  string        `gorm:"type:text" json:"-"`
	LastStatusChange  time.Time      `json:"last_status_change"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `gorm:"index:idx_node_lookup,priority:2" json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`

	Services []ServiceConfiguration `gorm:"foreignKey:NodeID" json:"services,omitempty"`
}

// IsUsable reports whether the node may host user traffic.
func (n *Node) IsUsable() bool {
	return n.Status != NodeStatusDisabled
}

// NodeResponse is the node data structure for API responses.
type NodeResponse struct {
	ID               uint       `json:"id"`
	Name             string     `json:"name"`
	Address          string     `json:"address"`
	RPCPort          int        `json:"rpc_port"`
	StatsPort        int        `json:"stats_port"`
	UsageCoefficient float64    `json:"usage_coefficient"`
	Status           NodeStatus `json:"status"`
	Message          string     `json:"message,omitempty"`
	EngineVersion    string     `json:"engine_version,omitempty"`
}

// ToResponse converts Node to a safe response structure.
func (n *Node) ToResponse() NodeResponse {
	return NodeResponse{
		ID:               n.ID,
		Name:             n.Name,
		Address:          n.Address,
		RPCPort:          n.RPCPort,
		StatsPort:        n.StatsPort,
		UsageCoefficient: n.UsageCoefficient,
		Status:           n.Status,
		Message:          n.Message,
		EngineVersion:    n.EngineVersion,
	}
}

// NetworkType is the transport carrying a service's inbound traffic.
type NetworkType string

const (
	NetworkTCP  NetworkType = "tcp"
	NetworkKCP  NetworkType = "kcp"
	NetworkWS   NetworkType = "ws"
	NetworkGRPC NetworkType = "grpc"
	NetworkHTTP NetworkType = "http"
	NetworkRaw  NetworkType = "raw"
)

// SecurityType is the transport-layer security applied to a service.
type SecurityType string

const (
	SecurityNone    SecurityType = "none"
	SecurityTLS     SecurityType = "tls"
	SecurityReality SecurityType = "reality"
)

// ServiceConfiguration is a node-local inbound definition users' proxy
// credentials attach to.
type ServiceConfiguration struct {
	ID                uint          `gorm:"primaryKey" json:"id"`
	NodeID            uint          `gorm:"index;uniqueIndex:idx_service_tag,priority:1;not null" json:"node_id"`
	ServiceName       string        `gorm:"type:varchar(100);not null" json:"service_name"`
	Enabled           bool          `gorm:"default:true" json:"enabled"`
	Protocol          ProxyProtocol `gorm:"type:varchar(20);not null" json:"protocol"`
	ListenAddress     string        `gorm:"type:varchar(255);default:'0.0.0.0'" json:"listen_address"`
	ListenPort        int           `gorm:"not null" json:"listen_port"`
	NetworkType       NetworkType   `gorm:"type:varchar(10);default:'tcp'" json:"network_type"`
	SecurityType      SecurityType  `gorm:"type:varchar(10);default:'none'" json:"security_type"`
	TCPHeaderType     string        `gorm:"type:varchar(20)" json:"tcp_header_type,omitempty"`
	WSPath            string        `gorm:"type:varchar(255)" json:"ws_path,omitempty"`
	GRPCServiceName   string        `gorm:"type:varchar(100)" json:"grpc_service_name,omitempty"`
	SNI               string        `gorm:"type:varchar(255)" json:"sni,omitempty"`
	Fingerprint       string        `gorm:"type:varchar(50)" json:"fingerprint,omitempty"`
	RealityPublicKey  string        `gorm:"type:varchar(255)" json:"reality_public_key,omitempty"`
	RealityShortID    string        `gorm:"type:varchar(50)" json:"reality_short_id,omitempty"`
	AdvancedProtocolSettingsJSON string `gorm:"type:text" json:"advanced_protocol_settings,omitempty"`
	AdvancedStreamSettingsJSON   string `gorm:"type:text" json:"advanced_stream_settings,omitempty"`
	AdvancedTLSSettingsJSON      string `gorm:"type:text" json:"advanced_tls_settings,omitempty"`
	AdvancedRealitySettingsJSON  string `gorm:"type:text" json:"advanced_reality_settings,omitempty"`
	AdvancedSniffingJSON         string `gorm:"type:text" json:"advanced_sniffing,omitempty"`
	EngineTag         string        `gorm:"type:varchar(100);uniqueIndex:idx_service_tag,priority:2" json:"engine_tag"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}
