package models

import "time"

// ProxyProtocol enumerates the protocols a user's credentials may carry.
type ProxyProtocol string

const (
	ProtocolVLESS       ProxyProtocol = "vless"
	ProtocolVMess       ProxyProtocol = "vmess"
	ProtocolTrojan      ProxyProtocol = "trojan"
	ProtocolShadowsocks ProxyProtocol = "shadowsocks"
	ProtocolHTTP        ProxyProtocol = "http"
	ProtocolSocks       ProxyProtocol = "socks"
)

// ProxySettings is a tagged union over the per-protocol credential
// payload. Exactly the fields relevant to Protocol are populated; this
// replaces a dynamic settings dictionary with typed, queryable columns.
type ProxySettings struct {
	UUID   string `json:"uuid,omitempty"`   // vless, vmess
	Flow   string `json:"flow,omitempty"`   // vless only
	Password string `json:"password,omitempty"` // trojan, shadowsocks
	Method string `json:"method,omitempty"` // shadowsocks only
}

// Proxy is a user's credential set for one protocol. Exactly one row
// exists per (user, protocol) pair.
type Proxy struct {
	ID        uint          `gorm:"primaryKey" json:"id"`
	UserID    uint          `gorm:"uniqueIndex:idx_proxy_protocol,priority:1;not null" json:"user_id"`
	Protocol  ProxyProtocol `gorm:"type:varchar(20);uniqueIndex:idx_proxy_protocol,priority:2;not null" json:"protocol"`
	Settings  ProxySettings `gorm:"embedded;embeddedPrefix:settings_" json:"settings"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}
