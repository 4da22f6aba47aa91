package usagepipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"xpanel/internal/noderegistry"
	"xpanel/internal/store"
	"xpanel/internal/store/models"
)

func newTestPipeline(t *testing.T) (*Pipeline, *store.Store) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	st := store.New(db)
	require.NoError(t, st.AutoMigrate())

	log := logrus.New()
	log.SetOutput(nopWriter{})
	return New(st, noderegistry.New(log), log), st
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestBuildUserMapKeysByBothIdentifierForms(t *testing.T) {
	p, st := newTestPipeline(t)
	ctx := context.Background()

	user, err := st.CreateUser(ctx, nil, store.UserSpec{AccountNumber: "alice"})
	require.NoError(t, err)

	emailMap, _, err := p.buildUserMap(ctx)
	require.NoError(t, err)

	assert.Equal(t, user.ID, emailMap["alice"])
	assert.Equal(t, user.ID, emailMap[fmt.Sprintf("%d.%s", user.ID, "alice")])
}

func TestBuildUserMapCoefficientFallsBackToOneWithoutActiveNode(t *testing.T) {
	p, st := newTestPipeline(t)
	ctx := context.Background()

	user, err := st.CreateUser(ctx, nil, store.UserSpec{AccountNumber: "bob"})
	require.NoError(t, err)

	_, coefficient, err := p.buildUserMap(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.0, coefficient(user.ID))
}

func TestBuildUserMapCoefficientUsesActiveNodeUsageCoefficient(t *testing.T) {
	p, st := newTestPipeline(t)
	ctx := context.Background()

	node, err := st.CreateNode(ctx, &models.Node{Name: "node-a", Address: "10.0.0.1", RPCPort: 1, StatsPort: 2, UsageCoefficient: 2.5})
	require.NoError(t, err)
	user, err := st.CreateUser(ctx, nil, store.UserSpec{AccountNumber: "carol"})
	require.NoError(t, err)
	require.NoError(t, st.SetUserActiveNode(ctx, user.ID, &node.ID))

	_, coefficient, err := p.buildUserMap(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2.5, coefficient(user.ID))
}
