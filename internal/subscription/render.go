package subscription

import (
	"fmt"

	"xpanel/internal/store/models"
	"xpanel/pkg/proxy"
)

// Render produces the subscription body for user in the given format.
// When the user has no active node, every distinct protocol among
// their proxies gets a human-readable placeholder line instead of a
// link, so clients always receive a well-formed, non-error body.
func Render(user *models.User, node *models.Node, proxies []models.Proxy, format Format) (string, string) {
	if node == nil {
		return renderPlaceholder(proxies), contentTypeFor(format)
	}

	entries := Gather(node, proxies)
	if len(entries) == 0 {
		return fmt.Sprintf("# No server configurations for node %d", node.ID), contentTypeFor(format)
	}

	switch format {
	case FormatClash, FormatClashMeta:
		return renderClash(user, node, entries, format == FormatClashMeta), contentTypeFor(format)
	case FormatSingBox:
		return renderSingBox(user, node, entries), contentTypeFor(format)
	case FormatV2RayJSON:
		return renderV2RayJSON(user, node, entries), contentTypeFor(format)
	default:
		return renderBase64(user, node, entries), contentTypeFor(format)
	}
}

func contentTypeFor(format Format) string {
	switch format {
	case FormatClash, FormatClashMeta:
		return "text/yaml; charset=utf-8"
	case FormatSingBox, FormatV2RayJSON:
		return "application/json; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}

func renderPlaceholder(proxies []models.Proxy) string {
	seen := make(map[models.ProxyProtocol]bool)
	var lines []string
	for _, p := range proxies {
		if seen[p.Protocol] {
			continue
		}
		seen[p.Protocol] = true
		lines = append(lines, fmt.Sprintf("# Select a server first (%s)", p.Protocol))
	}
	if len(lines) == 0 {
		lines = append(lines, "# Select a server first")
	}
	joined := ""
	for i, l := range lines {
		if i > 0 {
			joined += "\n"
		}
		joined += l
	}
	return joined
}

func renderBase64(user *models.User, node *models.Node, entries []Entry) string {
	var links []string
	for _, e := range entries {
		remark := fmt.Sprintf("%s-%s", node.Name, e.Service.ServiceName)
		if link, ok := linkFor(node, e, remark); ok {
			links = append(links, link)
		}
	}
	return proxy.GenerateSubscriptionBase64(links)
}
