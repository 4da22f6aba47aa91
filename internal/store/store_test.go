package store

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"xpanel/internal/store/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	st := New(db)
	require.NoError(t, st.AutoMigrate())
	return st
}

func TestCreateAdminLowercasesUsername(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	admin, err := st.CreateAdmin(ctx, "  Admin  ", "hash", true)
	require.NoError(t, err)
	assert.Equal(t, "admin", admin.Username)

	found, err := st.GetAdminByUsername(ctx, "ADMIN")
	require.NoError(t, err)
	assert.Equal(t, admin.ID, found.ID)
}

func TestCreateAdminRejectsDuplicateUsername(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.CreateAdmin(ctx, "admin", "hash", true)
	require.NoError(t, err)

	_, err = st.CreateAdmin(ctx, "admin", "hash2", false)
	assert.Error(t, err)
}

func TestCountAdminsReflectsInserts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	count, err := st.CountAdmins(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	_, err = st.CreateAdmin(ctx, "admin", "hash", true)
	require.NoError(t, err)

	count, err = st.CountAdmins(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestUpdateUserPromotesToLimitedWhenOverDataLimit(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	limit := uint64(1000)
	user, err := st.CreateUser(ctx, nil, UserSpec{AccountNumber: "alice", Status: models.UserStatusActive, DataLimitBytes: &limit})
	require.NoError(t, err)
	require.NoError(t, st.AddUsedTraffic(ctx, user.ID, 1000))

	updated, err := st.UpdateUser(ctx, user.ID, UserPatch{})
	require.NoError(t, err)
	assert.Equal(t, models.UserStatusLimited, updated.Status)
}

func TestUpdateUserDemotesFromLimitedWhenLimitCleared(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	limit := uint64(1000)
	user, err := st.CreateUser(ctx, nil, UserSpec{AccountNumber: "bob", Status: models.UserStatusActive, DataLimitBytes: &limit})
	require.NoError(t, err)
	require.NoError(t, st.AddUsedTraffic(ctx, user.ID, 1000))
	_, err = st.UpdateUser(ctx, user.ID, UserPatch{})
	require.NoError(t, err)

	updated, err := st.UpdateUser(ctx, user.ID, UserPatch{ClearDataLimit: true})
	require.NoError(t, err)
	assert.Equal(t, models.UserStatusActive, updated.Status)
}

func TestResetUserDataUsageZeroesTrafficAndReactivatesLimited(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	limit := uint64(500)
	user, err := st.CreateUser(ctx, nil, UserSpec{AccountNumber: "carol", Status: models.UserStatusActive, DataLimitBytes: &limit})
	require.NoError(t, err)
	require.NoError(t, st.AddUsedTraffic(ctx, user.ID, 500))
	_, err = st.UpdateUser(ctx, user.ID, UserPatch{})
	require.NoError(t, err)

	require.NoError(t, st.ResetUserDataUsage(ctx, user.ID))

	reloaded, err := st.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), reloaded.UsedTrafficBytes)
	assert.Equal(t, models.UserStatusActive, reloaded.Status)
}

func TestAutoDeleteExpiredRespectsPerUserOverride(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	days := 0
	user, err := st.CreateUser(ctx, nil, UserSpec{AccountNumber: "dave", Status: models.UserStatusExpired, AutoDeleteInDays: &days})
	require.NoError(t, err)
	require.NoError(t, st.SetUserStatus(ctx, user.ID, models.UserStatusExpired))

	due, err := st.AutoDeleteExpired(ctx, false, 30)
	require.NoError(t, err)
	assert.Empty(t, due, "auto_delete_in_days=0 disables deletion even with a positive default")
}

func TestSetNodeAPIKeyRoundTrips(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	node, err := st.CreateNode(ctx, &models.Node{Name: "node-a", Address: "10.0.0.1", RPCPort: 62051, StatsPort: 62050})
	require.NoError(t, err)

	require.NoError(t, st.SetNodeAPIKey(ctx, node.ID, "hashed-key"))
	hash, err := st.GetNodeAPIKeyHash(ctx, node.ID)
	require.NoError(t, err)
	assert.Equal(t, "hashed-key", hash)
}

func TestRevokeUserSubStampsRevocationTimestamp(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	user, err := st.CreateUser(ctx, nil, UserSpec{AccountNumber: "frank", Status: models.UserStatusActive})
	require.NoError(t, err)
	require.Nil(t, user.SubRevokedAt)

	require.NoError(t, st.RevokeUserSub(ctx, user.ID))

	reloaded, err := st.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.SubRevokedAt)
}

func TestRevokeUserProxyRegeneratesSecretInPlace(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	user, err := st.CreateUser(ctx, nil, UserSpec{
		AccountNumber: "grace", Status: models.UserStatusActive,
		Proxies: []models.Proxy{{Protocol: models.ProtocolVLESS, Settings: models.ProxySettings{UUID: "original-uuid"}}},
	})
	require.NoError(t, err)

	revoked, err := st.RevokeUserProxy(ctx, user.ID, models.ProtocolVLESS)
	require.NoError(t, err)
	assert.NotEqual(t, "original-uuid", revoked.Settings.UUID)
	assert.Equal(t, user.Proxies[0].ID, revoked.ID, "revocation replaces the secret, not the row")
}

func TestCreateUserRejectsZeroOnHoldDuration(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	zero := int64(0)
	_, err := st.CreateUser(ctx, nil, UserSpec{AccountNumber: "erin", OnHoldExpireDurationS: &zero})
	assert.Error(t, err)
}

func TestUpsertServiceConfigurationValidatesFieldCoupling(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	node, err := st.CreateNode(ctx, &models.Node{Name: "node-b", Address: "10.0.0.2", RPCPort: 62051, StatsPort: 62050})
	require.NoError(t, err)

	_, err = st.UpsertServiceConfiguration(ctx, &models.ServiceConfiguration{
		NodeID: node.ID, ServiceName: "bad-port", Protocol: models.ProtocolVLESS, ListenPort: 70000,
	})
	assert.Error(t, err, "port outside 1..65535 must be rejected")

	_, err = st.UpsertServiceConfiguration(ctx, &models.ServiceConfiguration{
		NodeID: node.ID, ServiceName: "bad-ws", Protocol: models.ProtocolVLESS, ListenPort: 443,
		NetworkType: models.NetworkWS, WSPath: "no-leading-slash",
	})
	assert.Error(t, err, "ws_path not starting with '/' must be rejected")

	_, err = st.UpsertServiceConfiguration(ctx, &models.ServiceConfiguration{
		NodeID: node.ID, ServiceName: "bad-grpc", Protocol: models.ProtocolVLESS, ListenPort: 443,
		NetworkType: models.NetworkGRPC,
	})
	assert.Error(t, err, "grpc without grpc_service_name must be rejected")

	saved, err := st.UpsertServiceConfiguration(ctx, &models.ServiceConfiguration{
		NodeID: node.ID, ServiceName: "good-ws", Protocol: models.ProtocolVLESS, ListenPort: 443,
		NetworkType: models.NetworkWS, WSPath: "/v",
	})
	require.NoError(t, err)
	assert.NotZero(t, saved.ID)
}

func TestUpsertServiceConfigurationAutoTagsMultipleServicesOnOneNode(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	node, err := st.CreateNode(ctx, &models.Node{Name: "node-c", Address: "10.0.0.3", RPCPort: 62051, StatsPort: 62050})
	require.NoError(t, err)

	first, err := st.UpsertServiceConfiguration(ctx, &models.ServiceConfiguration{
		NodeID: node.ID, ServiceName: "svc-1", Protocol: models.ProtocolVLESS, ListenPort: 443,
	})
	require.NoError(t, err, "first untagged service on a node must succeed")

	second, err := st.UpsertServiceConfiguration(ctx, &models.ServiceConfiguration{
		NodeID: node.ID, ServiceName: "svc-2", Protocol: models.ProtocolTrojan, ListenPort: 8443,
	})
	require.NoError(t, err, "a second untagged service on the same node must not collide with the first")

	assert.NotEmpty(t, first.EngineTag)
	assert.NotEmpty(t, second.EngineTag)
	assert.NotEqual(t, first.EngineTag, second.EngineTag, "auto-generated tags must be unique per service, not per node")
}
