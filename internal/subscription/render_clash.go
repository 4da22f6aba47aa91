package subscription

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"xpanel/internal/store/models"
)

// clashProxy is a yaml.v3-marshaled proxy entry. clash-meta adds a few
// keys (reality-opts, client-fingerprint, grpc-opts) that plain clash
// ignores, so both variants share this struct; plain clash leaves those
// fields empty and also skips vless entries.
type clashProxy struct {
	Name           string         `yaml:"name"`
	Type           string         `yaml:"type"`
	Server         string         `yaml:"server"`
	Port           int            `yaml:"port"`
	UUID           string         `yaml:"uuid,omitempty"`
	Password       string         `yaml:"password,omitempty"`
	Cipher         string         `yaml:"cipher,omitempty"`
	Flow           string         `yaml:"flow,omitempty"`
	TLS            bool           `yaml:"tls,omitempty"`
	SNI            string         `yaml:"servername,omitempty"`
	Network        string         `yaml:"network,omitempty"`
	UDP            bool           `yaml:"udp"`
	WSOpts         *wsOpts        `yaml:"ws-opts,omitempty"`
	GRPCOpts       *grpcOpts      `yaml:"grpc-opts,omitempty"`
	ClientFP       string         `yaml:"client-fingerprint,omitempty"`
	RealityOpts    *realityOpts   `yaml:"reality-opts,omitempty"`
}

type wsOpts struct {
	Path    string            `yaml:"path"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

type grpcOpts struct {
	ServiceName string `yaml:"grpc-service-name"`
}

type realityOpts struct {
	PublicKey string `yaml:"public-key"`
	ShortID   string `yaml:"short-id"`
}

func renderClash(user *models.User, node *models.Node, entries []Entry, meta bool) string {
	proxies := make([]clashProxy, 0, len(entries))
	names := make([]string, 0, len(entries))

	for _, e := range entries {
		name := fmt.Sprintf("%s-%s", node.Name, e.Service.ServiceName)
		cp, ok := clashProxyFor(name, node, e, meta)
		if !ok {
			continue
		}
		proxies = append(proxies, cp)
		names = append(names, name)
	}

	doc := map[string]interface{}{
		"proxies": proxies,
		"proxy-groups": []map[string]interface{}{
			{
				"name":    "PROXY",
				"type":    "select",
				"proxies": names,
			},
		},
		"rules": []string{"MATCH,PROXY"},
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return "# failed to render clash config: " + err.Error()
	}
	return string(out)
}

func clashProxyFor(name string, node *models.Node, e Entry, meta bool) (clashProxy, bool) {
	settings := e.Proxy.Settings
	cp := clashProxy{
		Name:   name,
		Server: node.Address,
		Port:   e.Service.ListenPort,
		UDP:    true,
	}

	switch e.Service.Protocol {
	case models.ProtocolVLESS:
		if !meta {
			// plain clash has no vless support; only clash-meta renders it.
			return cp, false
		}
		cp.Type = "vless"
		cp.UUID = settings.UUID
		if keepFlow(string(e.Service.NetworkType), string(e.Service.SecurityType), e.Service.TCPHeaderType) {
			cp.Flow = settings.Flow
		}
	case models.ProtocolVMess:
		cp.Type = "vmess"
		cp.UUID = settings.UUID
	case models.ProtocolTrojan:
		cp.Type = "trojan"
		cp.Password = settings.Password
	case models.ProtocolShadowsocks:
		cp.Type = "ss"
		cp.Password = settings.Password
		cp.Cipher = settings.Method
		if cp.Cipher == "" {
			cp.Cipher = "chacha20-ietf-poly1305"
		}
	default:
		return cp, false
	}

	if e.Service.SecurityType == models.SecurityTLS || e.Service.SecurityType == models.SecurityReality {
		cp.TLS = true
		cp.SNI = e.Service.SNI
		if meta {
			cp.ClientFP = e.Service.Fingerprint
		}
		if meta && e.Service.SecurityType == models.SecurityReality {
			cp.RealityOpts = &realityOpts{PublicKey: e.Service.RealityPublicKey, ShortID: e.Service.RealityShortID}
		}
	}

	switch e.Service.NetworkType {
	case models.NetworkWS:
		cp.Network = "ws"
		cp.WSOpts = &wsOpts{Path: e.Service.WSPath, Headers: map[string]string{"Host": e.Service.SNI}}
	case models.NetworkGRPC:
		if meta {
			cp.Network = "grpc"
			cp.GRPCOpts = &grpcOpts{ServiceName: e.Service.GRPCServiceName}
		}
	}

	return cp, true
}
