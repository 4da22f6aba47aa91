package adminauth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"xpanel/internal/store"
	"xpanel/pkg/jwt"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	st := store.New(db)
	require.NoError(t, st.AutoMigrate())

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	jwtManager := jwt.NewManager("test-secret", time.Minute, time.Hour)
	return New(st, jwtManager, rdb, nil), st
}

func newTestServiceWithSudoAdmins(t *testing.T, sudoAdmins []string) (*Service, *store.Store) {
	t.Helper()
	svc, st := newTestService(t)
	svc.sudoAdmins = sudoAdmins
	return svc, st
}

func createTestAdmin(t *testing.T, st *store.Store, username, password string) {
	t.Helper()
	createTestAdminWithSudo(t, st, username, password, true)
}

func createTestAdminWithSudo(t *testing.T, st *store.Store, username, password string, isSudo bool) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	_, err = st.CreateAdmin(context.Background(), username, string(hash), isSudo)
	require.NoError(t, err)
}

func TestLoginSucceedsWithCorrectPassword(t *testing.T) {
	svc, st := newTestService(t)
	createTestAdmin(t, st, "admin", "correct-horse")

	tokens, admin, err := svc.Login(context.Background(), "admin", "correct-horse")
	require.NoError(t, err)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)
	assert.Equal(t, "admin", admin.Username)
}

func TestLoginFailsWithWrongPassword(t *testing.T) {
	svc, st := newTestService(t)
	createTestAdmin(t, st, "admin", "correct-horse")

	_, _, err := svc.Login(context.Background(), "admin", "wrong")
	assert.Error(t, err)
}

func TestLoginGrantsSudoToEnvDeclaredSuperAdminRegardlessOfStoredFlag(t *testing.T) {
	svc, st := newTestServiceWithSudoAdmins(t, []string{"ops"})
	createTestAdminWithSudo(t, st, "ops", "correct-horse", false)

	tokens, admin, err := svc.Login(context.Background(), "ops", "correct-horse")
	require.NoError(t, err)
	assert.False(t, admin.IsSudo, "stored flag is unchanged")

	claims, err := svc.ValidateAccessToken(context.Background(), tokens.AccessToken)
	require.NoError(t, err)
	assert.True(t, claims.IsSudo, "env-declared super-admin overrides is_sudo at auth time")
}

func TestLoginFailsForUnknownUsername(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, err := svc.Login(context.Background(), "ghost", "whatever")
	assert.Error(t, err)
}

func TestRefreshTokenRejectsAccessTokenPassedAsRefresh(t *testing.T) {
	svc, st := newTestService(t)
	createTestAdmin(t, st, "admin", "correct-horse")

	tokens, _, err := svc.Login(context.Background(), "admin", "correct-horse")
	require.NoError(t, err)

	_, err = svc.RefreshToken(context.Background(), tokens.AccessToken)
	assert.Error(t, err)
}

func TestRefreshTokenRejectsBlacklistedToken(t *testing.T) {
	svc, st := newTestService(t)
	createTestAdmin(t, st, "admin", "correct-horse")

	tokens, _, err := svc.Login(context.Background(), "admin", "correct-horse")
	require.NoError(t, err)

	_, err = svc.RefreshToken(context.Background(), tokens.RefreshToken)
	require.NoError(t, err, "first refresh should succeed and blacklist the used token")

	_, err = svc.RefreshToken(context.Background(), tokens.RefreshToken)
	assert.Error(t, err, "a refresh token must not be reusable once consumed")
}

func TestRefreshTokenRejectsTokenIssuedBeforePasswordReset(t *testing.T) {
	svc, st := newTestService(t)
	createTestAdmin(t, st, "admin", "correct-horse")

	tokens, admin, err := svc.Login(context.Background(), "admin", "correct-horse")
	require.NoError(t, err)

	require.NoError(t, st.UpdateAdminPassword(context.Background(), admin.ID, admin.PasswordHash))

	_, err = svc.RefreshToken(context.Background(), tokens.RefreshToken)
	assert.Error(t, err, "refresh tokens issued before a password reset must be rejected")
}

func TestValidateAccessTokenAcceptsFreshLogin(t *testing.T) {
	svc, st := newTestService(t)
	createTestAdmin(t, st, "admin", "correct-horse")

	tokens, _, err := svc.Login(context.Background(), "admin", "correct-horse")
	require.NoError(t, err)

	claims, err := svc.ValidateAccessToken(context.Background(), tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Username)
}

func TestLogoutBlacklistsBothTokens(t *testing.T) {
	svc, st := newTestService(t)
	createTestAdmin(t, st, "admin", "correct-horse")

	tokens, _, err := svc.Login(context.Background(), "admin", "correct-horse")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(context.Background(), tokens.AccessToken, tokens.RefreshToken))

	_, err = svc.ValidateAccessToken(context.Background(), tokens.AccessToken)
	assert.Error(t, err, "a logged-out access token must be rejected")

	_, err = svc.RefreshToken(context.Background(), tokens.RefreshToken)
	assert.Error(t, err, "a logged-out refresh token must be rejected")
}
