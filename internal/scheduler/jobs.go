package scheduler

import (
	"context"
	"time"

	"xpanel/internal/metrics"
	"xpanel/internal/noderegistry"
	"xpanel/internal/operations"
	"xpanel/internal/store"
	"xpanel/internal/store/models"
	"xpanel/internal/usagepipeline"
)

// JobDeps bundles everything the scheduled job table needs.
type JobDeps struct {
	Store      *store.Store
	Registry   *noderegistry.Registry
	Operations *operations.Operations
	Usage      *usagepipeline.Pipeline
	// AutoDeleteIncludeLimited / AutoDeleteDefaultDays mirror the
	// env-driven auto-delete feature flags.
	AutoDeleteIncludeLimited bool
	AutoDeleteDefaultDays    int

	// Disable* mirror original_source's DISABLE_* config constants: a
	// disabled job is never registered with the cron scheduler at all.
	DisableRecordingNodeUsage bool
	DisableHealthCheck        bool
	DisableReviewUsers        bool
	DisablePeriodicReset      bool
	DisableAutoDelete         bool
	DisableReminderSweep      bool
	DisableBandwidthSample    bool
}

// RegisterDefaultJobs wires the full set of scheduled jobs. Cadences
// use cron's seconds field: "*/10 * * * * *" == every 10s.
func RegisterDefaultJobs(s *Scheduler, deps JobDeps) error {
	jobs := []struct {
		name     string
		spec     string
		disabled bool
		fn       func(ctx context.Context) error
	}{
		{"HealthCheck", "*/10 * * * * *", deps.DisableHealthCheck, func(ctx context.Context) error { return healthCheck(ctx, deps) }},
		{"CollectUserUsage", "*/10 * * * * *", deps.DisableRecordingNodeUsage, func(ctx context.Context) error { return deps.Usage.Collect(ctx) }},
		{"AggregateNodeUsage", "0 * * * * *", deps.DisableRecordingNodeUsage, func(ctx context.Context) error { return aggregateNodeUsage(ctx, deps) }},
		{"ReviewUsers", "*/30 * * * * *", deps.DisableReviewUsers, func(ctx context.Context) error { return reviewUsers(ctx, deps) }},
		{"PeriodicReset", "0 0 * * * *", deps.DisablePeriodicReset, func(ctx context.Context) error { return periodicReset(ctx, deps) }},
		{"AutoDeleteExpired", "0 0 */6 * * *", deps.DisableAutoDelete, func(ctx context.Context) error { return autoDeleteExpired(ctx, deps) }},
		{"ReminderSweep", "0 0 */2 * * *", deps.DisableReminderSweep, func(ctx context.Context) error { return reminderSweep(ctx, deps) }},
		{"BandwidthSample", "*/2 * * * * *", deps.DisableBandwidthSample, func(ctx context.Context) error { return metrics.SampleHostBandwidth() }},
	}

	for _, j := range jobs {
		if j.disabled {
			continue
		}
		if err := s.Register(j.name, j.spec, j.fn); err != nil {
			return err
		}
	}
	return nil
}

// healthCheck pings every connected node and probes its stats port; a
// failing node is marked error then reconnected. Disabled nodes are
// skipped; any other non-connected node gets a connect attempt.
func healthCheck(ctx context.Context, deps JobDeps) error {
	nodes, err := deps.Store.ListNodes(ctx)
	if err != nil {
		return err
	}
	for _, node := range nodes {
		node := node
		if node.Status == models.NodeStatusDisabled {
			continue
		}

		client, ok := deps.Registry.Get(node.ID)
		if !ok || node.Status != models.NodeStatusConnected {
			go func() { _ = deps.Operations.ConnectNode(context.Background(), node.ID) }()
			continue
		}

		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := client.Ping(pingCtx)
		cancel()
		if err == nil {
			_, err = client.GetSystemStats(ctx)
		}
		if err != nil {
			_ = deps.Store.SetNodeStatus(ctx, node.ID, models.NodeStatusError, err.Error())
			go func() { _ = deps.Operations.ConnectNode(context.Background(), node.ID) }()
		}
	}
	return nil
}

func aggregateNodeUsage(ctx context.Context, deps JobDeps) error {
	bucket := currentHourBucket()
	return deps.Store.AggregateNodeUsage(ctx, bucket)
}

// reviewUsers ports the reference panel's review() job exactly:
// limited/expired detection, next_plan application, and on_hold
// promotion all follow its semantics precisely.
func reviewUsers(ctx context.Context, deps JobDeps) error {
	now := time.Now().UTC()
	nowTs := now.Unix()

	activeUsers, err := deps.Store.ListUsersByStatus(ctx, models.UserStatusActive)
	if err != nil {
		return err
	}
	for _, u := range activeUsers {
		limited := u.DataLimitBytes != nil && u.UsedTrafficBytes >= *u.DataLimitBytes
		expired := u.ExpireTs != nil && *u.ExpireTs <= nowTs

		if (limited || expired) && u.NextPlan != nil {
			if u.NextPlan.FireOnEither || (limited && expired) {
				if _, err := deps.Store.ApplyNextPlan(ctx, u.ID); err == nil {
					_ = deps.Operations.ReapplyUser(ctx, u.ID)
				}
				continue
			}
		}

		var status models.UserStatus
		switch {
		case limited:
			status = models.UserStatusLimited
		case expired:
			status = models.UserStatusExpired
		default:
			continue
		}

		if err := deps.Store.SetUserStatus(ctx, u.ID, status); err != nil {
			continue
		}
		_ = deps.Operations.ReapplyUser(ctx, u.ID)
	}

	onHoldUsers, err := deps.Store.ListUsersByStatus(ctx, models.UserStatusOnHold)
	if err != nil {
		return err
	}
	for _, u := range onHoldUsers {
		baseTime := u.CreatedAt
		if u.EditAt != nil {
			baseTime = *u.EditAt
		}

		promote := false
		if u.OnlineAt != nil && !u.OnlineAt.Before(baseTime) {
			promote = true
		} else if u.OnHoldTimeoutTs != nil && *u.OnHoldTimeoutTs <= nowTs {
			promote = true
		}
		if !promote {
			continue
		}

		if err := deps.Store.SetUserStatus(ctx, u.ID, models.UserStatusActive); err != nil {
			continue
		}
		if u.OnHoldExpireDurationS != nil {
			_ = deps.Store.StartUserExpire(ctx, u.ID, *u.OnHoldExpireDurationS)
		}
		_ = deps.Operations.ReapplyUser(ctx, u.ID)
	}

	return nil
}

var resetIntervals = map[models.DataLimitResetStrategy]time.Duration{
	models.ResetStrategyDay:   24 * time.Hour,
	models.ResetStrategyWeek:  7 * 24 * time.Hour,
	models.ResetStrategyMonth: 30 * 24 * time.Hour,
	models.ResetStrategyYear:  365 * 24 * time.Hour,
}

func periodicReset(ctx context.Context, deps JobDeps) error {
	users, err := deps.Store.ListUsersWithResetStrategy(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, u := range users {
		interval, ok := resetIntervals[u.DataLimitResetStrategy]
		if !ok {
			continue
		}
		if now.Sub(u.LastReset) < interval {
			continue
		}
		if err := deps.Store.ResetUserDataUsage(ctx, u.ID); err == nil {
			_ = deps.Operations.ReapplyUser(ctx, u.ID)
		}
	}
	return nil
}

func autoDeleteExpired(ctx context.Context, deps JobDeps) error {
	due, err := deps.Store.AutoDeleteExpired(ctx, deps.AutoDeleteIncludeLimited, deps.AutoDeleteDefaultDays)
	if err != nil {
		return err
	}
	for _, u := range due {
		_ = deps.Operations.DeleteUser(ctx, u.ID)
	}
	return nil
}

func reminderSweep(ctx context.Context, deps JobDeps) error {
	_, err := deps.Store.EvictExpiredReminders(ctx, time.Now().UTC())
	return err
}

func currentHourBucket() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, time.UTC)
}
