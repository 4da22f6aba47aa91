package subscription

import (
	"encoding/json"

	"xpanel/internal/store/models"
)

// singBoxOutbound mirrors the subset of sing-box's outbound schema
// that vless/vmess/trojan/shadowsocks clients actually read.
type singBoxOutbound struct {
	Type        string                 `json:"type"`
	Tag         string                 `json:"tag"`
	Server      string                 `json:"server"`
	ServerPort  int                    `json:"server_port"`
	UUID        string                 `json:"uuid,omitempty"`
	Password    string                 `json:"password,omitempty"`
	Method      string                 `json:"method,omitempty"`
	Flow        string                 `json:"flow,omitempty"`
	TLS         map[string]interface{} `json:"tls,omitempty"`
	Transport   map[string]interface{} `json:"transport,omitempty"`
}

func renderSingBox(user *models.User, node *models.Node, entries []Entry) string {
	outbounds := make([]singBoxOutbound, 0, len(entries)+1)
	outbounds = append(outbounds, singBoxOutbound{Type: "direct", Tag: "direct"})

	for _, e := range entries {
		outbounds = append(outbounds, singBoxOutboundFor(node, e))
	}

	doc := map[string]interface{}{
		"log":       map[string]interface{}{"level": "warn"},
		"outbounds": outbounds,
	}
	data, _ := json.MarshalIndent(doc, "", "  ")
	return string(data)
}

func singBoxOutboundFor(node *models.Node, e Entry) singBoxOutbound {
	settings := e.Proxy.Settings
	out := singBoxOutbound{
		Tag:        e.Service.EngineTag,
		Server:     node.Address,
		ServerPort: e.Service.ListenPort,
	}

	switch e.Service.Protocol {
	case models.ProtocolVLESS:
		out.Type = "vless"
		out.UUID = settings.UUID
		if keepFlow(string(e.Service.NetworkType), string(e.Service.SecurityType), e.Service.TCPHeaderType) {
			out.Flow = settings.Flow
		}
	case models.ProtocolVMess:
		out.Type = "vmess"
		out.UUID = settings.UUID
	case models.ProtocolTrojan:
		out.Type = "trojan"
		out.Password = settings.Password
	case models.ProtocolShadowsocks:
		out.Type = "shadowsocks"
		out.Password = settings.Password
		out.Method = settings.Method
		if out.Method == "" {
			out.Method = "chacha20-ietf-poly1305"
		}
	}

	if e.Service.SecurityType == models.SecurityTLS || e.Service.SecurityType == models.SecurityReality {
		out.TLS = map[string]interface{}{
			"enabled":     true,
			"server_name": e.Service.SNI,
			"insecure":    false,
		}
		if e.Service.SecurityType == models.SecurityReality {
			out.TLS["reality"] = map[string]interface{}{
				"enabled":    true,
				"public_key": e.Service.RealityPublicKey,
				"short_id":   e.Service.RealityShortID,
			}
		}
		if e.Service.Fingerprint != "" {
			out.TLS["utls"] = map[string]interface{}{"enabled": true, "fingerprint": e.Service.Fingerprint}
		}
	}

	switch e.Service.NetworkType {
	case models.NetworkWS:
		out.Transport = map[string]interface{}{"type": "ws", "path": e.Service.WSPath}
	case models.NetworkGRPC:
		out.Transport = map[string]interface{}{"type": "grpc", "service_name": e.Service.GRPCServiceName}
	case models.NetworkHTTP:
		out.Transport = map[string]interface{}{"type": "http", "path": e.Service.WSPath}
	}

	return out
}
