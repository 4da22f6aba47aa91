// Package configbuilder turns a Node's current Store snapshot into the
// forwarding-engine config NodeClient pushes on start/restart. It is a
// pure function: the same (Node, Users, Services) always yields
// byte-identical JSON. Built in the nested map[string]interface{}
// style of an embedded-agent config builder (buildConfig/buildInbounds/
// buildOutbounds), relocated panel-side and driven by Store rows
// instead of local agent state.
package configbuilder

import (
	"encoding/json"
	"fmt"
	"sort"

	"xpanel/internal/store/models"
)

const apiInboundTag = "API_GRPC_CTRL"

// ErrDuplicateEngineTag is returned when two services on the same node
// resolve to the same engine_tag — a hard build error.
type ErrDuplicateEngineTag struct {
	Tag string
}

func (e *ErrDuplicateEngineTag) Error() string {
	return fmt.Sprintf("configbuilder: duplicate engine_tag %q within node config", e.Tag)
}

// Build assembles the forwarding-engine config for node from the users
// currently active on it and its service configurations. Output is a
// stable JSON document: inbounds are ordered API-inbound-first then by
// ascending ServiceConfiguration.ID, and each inbound's client list is
// ordered by ascending User.ID.
func Build(node *models.Node, users []models.User, services []models.ServiceConfiguration) ([]byte, error) {
	doc := map[string]interface{}{
		"log":      logSection(),
		"api":      apiSection(),
		"stats":    map[string]interface{}{},
		"policy":   policySection(),
		"routing":  routingSection(),
		"outbounds": outboundsSection(),
	}

	sortedServices := make([]models.ServiceConfiguration, len(services))
	copy(sortedServices, services)
	sort.Slice(sortedServices, func(i, j int) bool { return sortedServices[i].ID < sortedServices[j].ID })

	inbounds := []interface{}{apiInbound(node)}
	seenTags := map[string]bool{apiInboundTag: true}

	for _, svc := range sortedServices {
		if !svc.Enabled {
			continue
		}
		tag := svc.EngineTag
		if tag == "" {
			tag = fmt.Sprintf("xpanel_service_%d", svc.ID)
		}
		if seenTags[tag] {
			return nil, &ErrDuplicateEngineTag{Tag: tag}
		}
		seenTags[tag] = true

		inbound, err := buildServiceInbound(svc, tag, users)
		if err != nil {
			return nil, err
		}
		inbounds = append(inbounds, inbound)
	}
	doc["inbounds"] = inbounds

	return json.Marshal(doc)
}

func logSection() map[string]interface{} {
	return map[string]interface{}{
		"loglevel": "warning",
	}
}

func apiSection() map[string]interface{} {
	return map[string]interface{}{
		"tag":      apiInboundTag,
		"services": []string{"HandlerService", "StatsService", "LoggerService"},
	}
}

func policySection() map[string]interface{} {
	return map[string]interface{}{
		"levels": map[string]interface{}{
			"0": map[string]interface{}{
				"statsUserUplink":   true,
				"statsUserDownlink": true,
			},
		},
		"system": map[string]interface{}{
			"statsInboundUplink":   true,
			"statsInboundDownlink": true,
		},
	}
}

func routingSection() map[string]interface{} {
	return map[string]interface{}{
		"rules": []interface{}{
			map[string]interface{}{
				"type":        "field",
				"inboundTag":  []string{"API_GRPC_INBOUND"},
				"outboundTag": apiInboundTag,
			},
		},
	}
}

func outboundsSection() []interface{} {
	return []interface{}{
		map[string]interface{}{"protocol": "freedom", "tag": "direct"},
		map[string]interface{}{"protocol": "blackhole", "tag": "block"},
	}
}

func apiInbound(node *models.Node) map[string]interface{} {
	return map[string]interface{}{
		"listen":   "127.0.0.1",
		"port":     node.StatsPort,
		"protocol": "dokodemo-door",
		"settings": map[string]interface{}{"address": "127.0.0.1"},
		"tag":      "API_GRPC_INBOUND",
	}
}

// xtlsCapableNetworks are the transports that may carry an XTLS flow.
var xtlsCapableNetworks = map[models.NetworkType]bool{
	models.NetworkTCP: true,
	models.NetworkKCP: true,
	models.NetworkRaw: true,
}

var xtlsCapableSecurity = map[models.SecurityType]bool{
	models.SecurityTLS:     true,
	models.SecurityReality: true,
}

func buildServiceInbound(svc models.ServiceConfiguration, tag string, users []models.User) (map[string]interface{}, error) {
	network := svc.NetworkType
	if network == "" {
		network = models.NetworkTCP
	}

	sorted := make([]models.User, len(users))
	copy(sorted, users)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	clients := make([]interface{}, 0)
	for _, u := range sorted {
		for _, proxy := range u.Proxies {
			if proxy.Protocol != svc.Protocol {
				continue
			}
			clients = append(clients, buildClient(u, proxy, svc, network))
		}
	}

	settings := map[string]interface{}{"clients": clients}
	if svc.Protocol == models.ProtocolVLESS {
		settings["decryption"] = "none"
	}
	applyAdvanced(settings, svc.AdvancedProtocolSettingsJSON)

	streamSettings := buildStreamSettings(svc, network)

	inbound := map[string]interface{}{
		"tag":            tag,
		"listen":         nonEmpty(svc.ListenAddress, "0.0.0.0"),
		"port":           svc.ListenPort,
		"protocol":       string(svc.Protocol),
		"settings":       settings,
		"streamSettings": streamSettings,
		"sniffing":       sniffingDefaults(svc.AdvancedSniffingJSON),
	}
	return inbound, nil
}

func buildClient(u models.User, proxy models.Proxy, svc models.ServiceConfiguration, network models.NetworkType) map[string]interface{} {
	client := map[string]interface{}{
		"email": fmt.Sprintf("%d.%s", u.ID, u.AccountNumber),
	}
	switch proxy.Protocol {
	case models.ProtocolVLESS, models.ProtocolVMess:
		client["id"] = proxy.Settings.UUID
		if proxy.Protocol == models.ProtocolVLESS && keepFlow(network, svc.SecurityType, svc.TCPHeaderType) {
			client["flow"] = proxy.Settings.Flow
		}
	case models.ProtocolTrojan:
		client["password"] = proxy.Settings.Password
	case models.ProtocolShadowsocks:
		client["password"] = proxy.Settings.Password
		client["method"] = nonEmpty(proxy.Settings.Method, "chacha20-ietf-poly1305")
	}
	return client
}

// keepFlow drops flow unless network is one of tcp/kcp/raw, security is
// tls/reality, and the header type isn't "http" (http obfuscation is
// incompatible with XTLS framing).
func keepFlow(network models.NetworkType, security models.SecurityType, headerType string) bool {
	return xtlsCapableNetworks[network] && xtlsCapableSecurity[security] && headerType != "http"
}

func buildStreamSettings(svc models.ServiceConfiguration, network models.NetworkType) map[string]interface{} {
	stream := map[string]interface{}{"network": string(network)}

	switch network {
	case models.NetworkWS:
		ws := map[string]interface{}{"path": svc.WSPath}
		deepMergeNetworkBlock(ws, svc.AdvancedStreamSettingsJSON, "wsSettings")
		stream["wsSettings"] = ws
	case models.NetworkGRPC:
		grpc := map[string]interface{}{"serviceName": svc.GRPCServiceName}
		deepMergeNetworkBlock(grpc, svc.AdvancedStreamSettingsJSON, "grpcSettings")
		stream["grpcSettings"] = grpc
	case models.NetworkHTTP:
		httpBlock := map[string]interface{}{"path": svc.WSPath}
		deepMergeNetworkBlock(httpBlock, svc.AdvancedStreamSettingsJSON, "httpSettings")
		stream["httpSettings"] = httpBlock
	}

	if svc.SecurityType != "" && svc.SecurityType != models.SecurityNone {
		stream["security"] = string(svc.SecurityType)
		switch svc.SecurityType {
		case models.SecurityTLS:
			tls := map[string]interface{}{"serverName": svc.SNI}
			applyAdvanced(tls, svc.AdvancedTLSSettingsJSON)
			stream["tlsSettings"] = tls
		case models.SecurityReality:
			reality := map[string]interface{}{
				"serverName": svc.SNI,
				"publicKey":  svc.RealityPublicKey,
				"shortId":    svc.RealityShortID,
				"fingerprint": nonEmpty(svc.Fingerprint, "chrome"),
			}
			applyAdvanced(reality, svc.AdvancedRealitySettingsJSON)
			stream["realitySettings"] = reality
		}
	}

	return stream
}

func sniffingDefaults(advanced string) map[string]interface{} {
	sniffing := map[string]interface{}{
		"enabled":      true,
		"destOverride": []string{"http", "tls", "quic", "fakedns"},
	}
	applyAdvanced(sniffing, advanced)
	return sniffing
}

// applyAdvanced deep-merges an opaque JSON object blob over base,
// letting operator-supplied advanced settings override the denormalized
// columns without losing the computed defaults.
func applyAdvanced(base map[string]interface{}, advancedJSON string) {
	if advancedJSON == "" {
		return
	}
	var overrides map[string]interface{}
	if err := json.Unmarshal([]byte(advancedJSON), &overrides); err != nil {
		return
	}
	for k, v := range overrides {
		base[k] = v
	}
}

func deepMergeNetworkBlock(base map[string]interface{}, advancedStreamJSON, key string) {
	if advancedStreamJSON == "" {
		return
	}
	var stream map[string]interface{}
	if err := json.Unmarshal([]byte(advancedStreamJSON), &stream); err != nil {
		return
	}
	block, ok := stream[key].(map[string]interface{})
	if !ok {
		return
	}
	for k, v := range block {
		base[k] = v
	}
}

func nonEmpty(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
