package scheduler

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"xpanel/internal/noderegistry"
	"xpanel/internal/operations"
	"xpanel/internal/store"
	"xpanel/internal/usagepipeline"
)

func testJobDeps(t *testing.T) JobDeps {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	st := store.New(db)
	require.NoError(t, st.AutoMigrate())

	log := silentLogger()
	registry := noderegistry.New(log)
	ops := operations.New(st, registry, log, 2)
	usage := usagepipeline.New(st, registry, log)

	return JobDeps{
		Store:      st,
		Registry:   registry,
		Operations: ops,
		Usage:      usage,
	}
}

func TestRegisterDefaultJobsRegistersTheFullTable(t *testing.T) {
	s := New(silentLogger())
	require.NoError(t, RegisterDefaultJobs(s, testJobDeps(t)))
	require.Equal(t, 8, s.Len())
}

func TestRegisterDefaultJobsSkipsDisabledJobs(t *testing.T) {
	deps := testJobDeps(t)
	deps.DisableHealthCheck = true
	deps.DisableRecordingNodeUsage = true
	deps.DisableBandwidthSample = true

	s := New(silentLogger())
	require.NoError(t, RegisterDefaultJobs(s, deps))

	// HealthCheck, CollectUserUsage, AggregateNodeUsage and
	// BandwidthSample are all disabled; the remaining four stay
	// registered.
	require.Equal(t, 4, s.Len())
}
