package configbuilder

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xpanel/internal/store/models"
)

func testNode() *models.Node {
	return &models.Node{ID: 1, Name: "node-a", StatsPort: 62050}
}

func vlessUser(id uint, account, uuid string) models.User {
	return models.User{
		ID:            id,
		AccountNumber: account,
		Proxies: []models.Proxy{
			{UserID: id, Protocol: models.ProtocolVLESS, Settings: models.ProxySettings{UUID: uuid, Flow: "xtls-rprx-vision"}},
		},
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	node := testNode()
	users := []models.User{vlessUser(2, "bob", "uuid-2"), vlessUser(1, "alice", "uuid-1")}
	services := []models.ServiceConfiguration{
		{ID: 1, Enabled: true, Protocol: models.ProtocolVLESS, ListenPort: 443, NetworkType: models.NetworkTCP, SecurityType: models.SecurityReality, EngineTag: "vless-in"},
	}

	first, err := Build(node, users, services)
	require.NoError(t, err)
	second, err := Build(node, users, services)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestBuildOrdersClientsByUserID(t *testing.T) {
	node := testNode()
	users := []models.User{vlessUser(2, "bob", "uuid-2"), vlessUser(1, "alice", "uuid-1")}
	services := []models.ServiceConfiguration{
		{ID: 1, Enabled: true, Protocol: models.ProtocolVLESS, ListenPort: 443, NetworkType: models.NetworkTCP, SecurityType: models.SecurityReality, EngineTag: "vless-in"},
	}

	out, err := Build(node, users, services)
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &doc))

	inbounds := doc["inbounds"].([]interface{})
	require.Len(t, inbounds, 2)

	serviceInbound := inbounds[1].(map[string]interface{})
	clients := serviceInbound["settings"].(map[string]interface{})["clients"].([]interface{})
	require.Len(t, clients, 2)
	assert.Equal(t, "uuid-1", clients[0].(map[string]interface{})["id"])
	assert.Equal(t, "uuid-2", clients[1].(map[string]interface{})["id"])
}

func TestBuildSkipsDisabledServices(t *testing.T) {
	node := testNode()
	services := []models.ServiceConfiguration{
		{ID: 1, Enabled: false, Protocol: models.ProtocolVLESS, ListenPort: 443, EngineTag: "disabled-in"},
	}

	out, err := Build(node, nil, services)
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.Len(t, doc["inbounds"], 1) // api inbound only
}

func TestBuildRejectsDuplicateEngineTags(t *testing.T) {
	node := testNode()
	services := []models.ServiceConfiguration{
		{ID: 1, Enabled: true, Protocol: models.ProtocolVLESS, ListenPort: 443, EngineTag: "dup"},
		{ID: 2, Enabled: true, Protocol: models.ProtocolTrojan, ListenPort: 8443, EngineTag: "dup"},
	}

	_, err := Build(node, nil, services)
	require.Error(t, err)
	var dupErr *ErrDuplicateEngineTag
	assert.ErrorAs(t, err, &dupErr)
	assert.Equal(t, "dup", dupErr.Tag)
}

func TestKeepFlowDropsForHTTPHeader(t *testing.T) {
	assert.False(t, keepFlow(models.NetworkTCP, models.SecurityReality, "http"))
	assert.True(t, keepFlow(models.NetworkTCP, models.SecurityReality, ""))
	assert.False(t, keepFlow(models.NetworkWS, models.SecurityReality, ""))
	assert.False(t, keepFlow(models.NetworkTCP, models.SecurityNone, ""))
}

func TestBuildAppliesAdvancedOverrides(t *testing.T) {
	node := testNode()
	services := []models.ServiceConfiguration{
		{
			ID: 1, Enabled: true, Protocol: models.ProtocolVLESS, ListenPort: 443,
			NetworkType: models.NetworkWS, SecurityType: models.SecurityNone,
			WSPath: "/default", EngineTag: "ws-in",
			AdvancedStreamSettingsJSON: `{"wsSettings":{"path":"/override","headers":{"Host":"example.com"}}}`,
		},
	}

	out, err := Build(node, nil, services)
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &doc))
	inbound := doc["inbounds"].([]interface{})[1].(map[string]interface{})
	ws := inbound["streamSettings"].(map[string]interface{})["wsSettings"].(map[string]interface{})
	assert.Equal(t, "/override", ws["path"])
	assert.Equal(t, "example.com", ws["headers"].(map[string]interface{})["Host"])
}
