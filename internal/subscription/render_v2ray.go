package subscription

import (
	"encoding/json"
	"fmt"

	"xpanel/internal/store/models"
)

// v2rayOutbound is the per-entry shape v2rayN/v2rayNG's JSON import
// expects: a minimal single-outbound client config keyed by tag.
type v2rayOutbound struct {
	Tag            string                 `json:"tag"`
	Protocol       string                 `json:"protocol"`
	Settings       map[string]interface{} `json:"settings"`
	StreamSettings map[string]interface{} `json:"streamSettings"`
}

func renderV2RayJSON(user *models.User, node *models.Node, entries []Entry) string {
	outbounds := make([]v2rayOutbound, 0, len(entries))
	for _, e := range entries {
		outbounds = append(outbounds, v2rayOutboundFor(node, e))
	}
	doc := map[string]interface{}{
		"remarks":   fmt.Sprintf("%s-%s", node.Name, node.Address),
		"outbounds": outbounds,
	}
	data, _ := json.MarshalIndent(doc, "", "  ")
	return string(data)
}

func v2rayOutboundFor(node *models.Node, e Entry) v2rayOutbound {
	settings := e.Proxy.Settings
	server := map[string]interface{}{
		"address": node.Address,
		"port":    e.Service.ListenPort,
	}
	switch e.Service.Protocol {
	case models.ProtocolVLESS:
		server["id"] = settings.UUID
		server["encryption"] = "none"
		if keepFlow(string(e.Service.NetworkType), string(e.Service.SecurityType), e.Service.TCPHeaderType) {
			server["flow"] = settings.Flow
		}
	case models.ProtocolVMess:
		server["id"] = settings.UUID
		server["alterId"] = 0
	case models.ProtocolTrojan:
		server["password"] = settings.Password
	case models.ProtocolShadowsocks:
		method := settings.Method
		if method == "" {
			method = "chacha20-ietf-poly1305"
		}
		server["method"] = method
		server["password"] = settings.Password
	}

	stream := streamSettingsJSON(e.Service)

	return v2rayOutbound{
		Tag:      e.Service.EngineTag,
		Protocol: string(e.Service.Protocol),
		Settings: map[string]interface{}{
			"vnext": []interface{}{server},
		},
		StreamSettings: stream,
	}
}

func streamSettingsJSON(svc models.ServiceConfiguration) map[string]interface{} {
	network := string(svc.NetworkType)
	if network == "" {
		network = "tcp"
	}
	stream := map[string]interface{}{"network": network}

	switch svc.NetworkType {
	case models.NetworkWS:
		stream["wsSettings"] = map[string]interface{}{"path": svc.WSPath, "headers": map[string]interface{}{"Host": svc.SNI}}
	case models.NetworkGRPC:
		stream["grpcSettings"] = map[string]interface{}{"serviceName": svc.GRPCServiceName}
	case models.NetworkHTTP:
		stream["httpSettings"] = map[string]interface{}{"path": svc.WSPath, "host": []string{svc.SNI}}
	}

	switch svc.SecurityType {
	case models.SecurityTLS:
		stream["security"] = "tls"
		stream["tlsSettings"] = map[string]interface{}{"serverName": svc.SNI, "fingerprint": svc.Fingerprint}
	case models.SecurityReality:
		stream["security"] = "reality"
		stream["realitySettings"] = map[string]interface{}{
			"serverName":  svc.SNI,
			"fingerprint": svc.Fingerprint,
			"publicKey":   svc.RealityPublicKey,
			"shortId":     svc.RealityShortID,
		}
	default:
		stream["security"] = "none"
	}

	return stream
}
