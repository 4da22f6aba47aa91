package subscription

import (
	"net"

	"xpanel/internal/store/models"
	"xpanel/pkg/proxy"
)

// Entry pairs one of the user's proxy credentials with the service on
// the active node that can serve it.
type Entry struct {
	Service models.ServiceConfiguration
	Proxy   models.Proxy
}

// Gather finds, for each of the user's Proxy rows, the enabled,
// tagged ServiceConfiguration on the active node whose protocol
// matches. A proxy with no matching service on the node is skipped.
func Gather(node *models.Node, proxies []models.Proxy) []Entry {
	var entries []Entry
	for _, svc := range node.Services {
		if !svc.Enabled || svc.EngineTag == "" {
			continue
		}
		for _, p := range proxies {
			if p.Protocol == svc.Protocol {
				entries = append(entries, Entry{Service: svc, Proxy: p})
			}
		}
	}
	return entries
}

// keepFlow mirrors the ConfigBuilder's XTLS-flow-retention rule so a
// subscription link never advertises a flow the inbound would reject.
func keepFlow(network, security, headerType string) bool {
	switch network {
	case "tcp", "kcp", "raw":
	default:
		return false
	}
	switch security {
	case "tls", "reality":
	default:
		return false
	}
	return headerType != "http"
}

func transportFor(svc models.ServiceConfiguration) proxy.TransportParams {
	t := proxy.TransportParams{
		Network:          string(svc.NetworkType),
		HeaderType:       svc.TCPHeaderType,
		Security:         string(svc.SecurityType),
		SNI:              svc.SNI,
		Fingerprint:      svc.Fingerprint,
		RealityPublicKey: svc.RealityPublicKey,
		RealityShortID:   svc.RealityShortID,
	}
	switch svc.NetworkType {
	case models.NetworkWS:
		t.Path = svc.WSPath
		t.Host = svc.SNI
	case models.NetworkGRPC:
		t.Path = svc.GRPCServiceName
	case models.NetworkHTTP:
		t.Path = svc.WSPath
		t.Host = svc.SNI
	}
	return t
}

// linkFor renders one share link for a single entry against the given
// host. The host is the node's address unless the service advertises
// its own listen address as something other than a wildcard bind.
func linkFor(node *models.Node, e Entry, remark string) (string, bool) {
	host := node.Address
	if addr := net.ParseIP(e.Service.ListenAddress); addr != nil && !addr.IsUnspecified() {
		host = e.Service.ListenAddress
	}
	port := e.Service.ListenPort
	settings := e.Proxy.Settings
	t := transportFor(e.Service)
	if keepFlow(string(e.Service.NetworkType), string(e.Service.SecurityType), e.Service.TCPHeaderType) {
		t.Flow = settings.Flow
	}

	switch e.Service.Protocol {
	case models.ProtocolVLESS:
		return proxy.GenerateVLESSLink(settings.UUID, host, port, remark, t), true
	case models.ProtocolVMess:
		return proxy.GenerateVMessLink(settings.UUID, host, port, remark, t), true
	case models.ProtocolTrojan:
		return proxy.GenerateTrojanLink(settings.Password, host, port, remark, t), true
	case models.ProtocolShadowsocks:
		method := settings.Method
		if method == "" {
			method = "chacha20-ietf-poly1305"
		}
		return proxy.GenerateShadowsocksLink(method, settings.Password, host, port, remark), true
	case models.ProtocolSocks:
		return proxy.GenerateSocksLink(settings.UUID, settings.Password, host, port, remark), true
	default:
		return "", false
	}
}
