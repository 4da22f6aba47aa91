package subscription

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xpanel/internal/store/models"
	"xpanel/pkg/jwt"
)

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		ua   string
		want Format
	}{
		{"ClashMetaForAndroid/2.10", FormatClashMeta},
		{"mihomo/1.18", FormatClashMeta},
		{"ClashForWindows/0.20", FormatClash},
		{"SFA/1.8 (sing-box; universal)", FormatSingBox},
		{"Outline/1.3", FormatOutline},
		{"v2rayNG/1.8.29", FormatV2RayJSON},
		{"curl/8.4.0", FormatBase64},
		{"", FormatBase64},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, DetectFormat(c.ua), "ua=%q", c.ua)
	}
}

func TestResolveAccountNumberRejectsTokenPredatingAccount(t *testing.T) {
	mgr := jwt.NewManager("secret", time.Minute, time.Hour)
	token, err := mgr.GenerateSubscriptionToken("alice")
	require.NoError(t, err)

	user := &models.User{AccountNumber: "alice", CreatedAt: time.Now().Add(time.Hour)}

	_, err = ResolveAccountNumber(mgr, token, user)
	assert.Error(t, err)
}

func TestResolveAccountNumberRejectsRevokedToken(t *testing.T) {
	mgr := jwt.NewManager("secret", time.Minute, time.Hour)
	token, err := mgr.GenerateSubscriptionToken("alice")
	require.NoError(t, err)

	revokedAt := time.Now().Add(time.Hour)
	user := &models.User{AccountNumber: "alice", CreatedAt: time.Now().Add(-time.Hour), SubRevokedAt: &revokedAt}

	_, err = ResolveAccountNumber(mgr, token, user)
	assert.Error(t, err)
}

func TestResolveAccountNumberAcceptsFreshToken(t *testing.T) {
	mgr := jwt.NewManager("secret", time.Minute, time.Hour)
	token, err := mgr.GenerateSubscriptionToken("alice")
	require.NoError(t, err)

	user := &models.User{AccountNumber: "alice", CreatedAt: time.Now().Add(-time.Hour)}

	account, err := ResolveAccountNumber(mgr, token, user)
	require.NoError(t, err)
	assert.Equal(t, "alice", account)
}

func TestGatherMatchesByProtocolAndSkipsDisabled(t *testing.T) {
	node := &models.Node{
		Services: []models.ServiceConfiguration{
			{ID: 1, Enabled: true, EngineTag: "vless-in", Protocol: models.ProtocolVLESS},
			{ID: 2, Enabled: false, EngineTag: "trojan-in", Protocol: models.ProtocolTrojan},
			{ID: 3, Enabled: true, EngineTag: "", Protocol: models.ProtocolShadowsocks},
		},
	}
	proxies := []models.Proxy{
		{Protocol: models.ProtocolVLESS, Settings: models.ProxySettings{UUID: "u1"}},
		{Protocol: models.ProtocolTrojan, Settings: models.ProxySettings{Password: "p1"}},
	}

	entries := Gather(node, proxies)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ProtocolVLESS, entries[0].Service.Protocol)
}

func TestRenderPlaceholderWhenNoActiveNode(t *testing.T) {
	proxies := []models.Proxy{{Protocol: models.ProtocolVLESS}, {Protocol: models.ProtocolVLESS}, {Protocol: models.ProtocolTrojan}}
	body, contentType := Render(&models.User{}, nil, proxies, FormatBase64)
	assert.Contains(t, body, "vless")
	assert.Contains(t, body, "trojan")
	assert.Equal(t, "text/plain; charset=utf-8", contentType)
}

func TestContentTypeByFormat(t *testing.T) {
	assert.Equal(t, "text/yaml; charset=utf-8", contentTypeFor(FormatClash))
	assert.Equal(t, "application/json; charset=utf-8", contentTypeFor(FormatSingBox))
	assert.Equal(t, "text/plain; charset=utf-8", contentTypeFor(FormatBase64))
}
