package subscription

import (
	"regexp"
)

// Format is the rendered subscription body's shape, chosen by sniffing
// the requesting client's User-Agent header. Order matters: clash-meta
// is matched before clash since clients built on clash-meta also carry
// the substring "clash" in their UA string.
type Format string

const (
	FormatClashMeta Format = "clash-meta"
	FormatClash     Format = "clash"
	FormatSingBox   Format = "sing-box"
	FormatOutline   Format = "outline"
	FormatV2RayJSON Format = "v2ray-json"
	FormatBase64    Format = "base64"
)

var uaRules = []struct {
	pattern *regexp.Regexp
	format  Format
}{
	{regexp.MustCompile(`(?i)clash-?meta|clash\.meta|mihomo`), FormatClashMeta},
	{regexp.MustCompile(`(?i)clash`), FormatClash},
	{regexp.MustCompile(`(?i)sing-?box`), FormatSingBox},
	{regexp.MustCompile(`(?i)outline`), FormatOutline},
	{regexp.MustCompile(`(?i)v2ray|v2box|v2rayn|v2rayng|qv2ray`), FormatV2RayJSON},
}

// DetectFormat maps a raw User-Agent header onto a Format, defaulting
// to plain base64 for unrecognized or absent clients.
func DetectFormat(userAgent string) Format {
	for _, rule := range uaRules {
		if rule.pattern.MatchString(userAgent) {
			return rule.format
		}
	}
	return FormatBase64
}
