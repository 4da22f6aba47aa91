package operations

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"xpanel/internal/noderegistry"
	"xpanel/internal/store"
	"xpanel/internal/store/models"
)

func silentLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(nopWriter{})
	return log
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestOperations(t *testing.T) (*Operations, uint) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	st := store.New(db)
	require.NoError(t, st.AutoMigrate())

	node, err := st.CreateNode(context.Background(), &models.Node{Name: "n1", Address: "10.0.0.1", RPCPort: 62051, StatsPort: 62050})
	require.NoError(t, err)

	log := silentLogger()
	registry := noderegistry.New(log)
	ops := New(st, registry, log, 2)
	return ops, node.ID
}

// A freshly created node is left in status "disabled", so RestartNode
// returns apperror.Conflict immediately without any network I/O — this
// lets the coalescing state machine be exercised deterministically.

func TestScheduleRestartCoalescesASecondRequestWhileOneIsRunning(t *testing.T) {
	ops, nodeID := newTestOperations(t)

	ops.restartMu.Lock()
	ops.restartRunning[nodeID] = true // simulate a restart already in flight
	ops.restartMu.Unlock()

	ops.scheduleRestart(nodeID)

	ops.restartMu.Lock()
	pending := ops.restartPending[nodeID]
	running := ops.restartRunning[nodeID]
	ops.restartMu.Unlock()

	require.True(t, running, "the in-flight run must remain marked running")
	require.True(t, pending, "a restart request arriving mid-flight must be merged into a pending follow-up, not dispatched independently")
}

func TestRunRestartReRunsOnceForAnyNumberOfPendingRequests(t *testing.T) {
	ops, nodeID := newTestOperations(t)

	ops.restartMu.Lock()
	ops.restartRunning[nodeID] = true
	ops.restartPending[nodeID] = true // as if several requests piled up while running
	ops.restartMu.Unlock()

	ops.runRestart(context.Background(), nodeID)

	// runRestart observed the pending flag, cleared it, and re-enqueued
	// itself onto the pool rather than running inline; give the pool a
	// moment to drain that follow-up.
	require.Eventually(t, func() bool {
		ops.restartMu.Lock()
		defer ops.restartMu.Unlock()
		return !ops.restartRunning[nodeID] && !ops.restartPending[nodeID]
	}, time.Second, 5*time.Millisecond, "the follow-up run must clear both flags once it completes, collapsing all pending requests into one extra run")
}

func TestScheduleRestartDispatchesImmediatelyWhenNodeIsIdle(t *testing.T) {
	ops, nodeID := newTestOperations(t)

	ops.scheduleRestart(nodeID)

	require.Eventually(t, func() bool {
		ops.restartMu.Lock()
		defer ops.restartMu.Unlock()
		return !ops.restartRunning[nodeID]
	}, time.Second, 5*time.Millisecond, "an idle node's restart must run and clear its running flag")
}
