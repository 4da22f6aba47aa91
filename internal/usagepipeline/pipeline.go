// Package usagepipeline implements the periodic collect→attribute→
// persist cycle that turns node-reported traffic counters into
// per-user usage totals, ported byte-exactly from the reference
// panel's record_user_usages job.
package usagepipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"xpanel/internal/noderegistry"
	"xpanel/internal/store"
)

// Pipeline owns one collection tick against every connected node.
type Pipeline struct {
	store    *store.Store
	registry *noderegistry.Registry
	log      *logrus.Logger
}

// New builds a Pipeline.
func New(st *store.Store, registry *noderegistry.Registry, log *logrus.Logger) *Pipeline {
	return &Pipeline{store: st, registry: registry, log: log}
}

type userUsage struct {
	uplink   uint64
	downlink uint64
}

// Collect runs one collection tick: gather traffic from every
// registered node, attribute it to users, then persist. Per-user Store
// writes run after every node has been drained; each write commits on
// its own, so a failure part-way through a tick leaves the earlier
// users' updates in place.
func (p *Pipeline) Collect(ctx context.Context) error {
	emailToUserID, accountCoefficients, err := p.buildUserMap(ctx)
	if err != nil {
		return err
	}

	aggregated := make(map[uint]*userUsage)
	clients := p.registry.All()

	for nodeID, client := range clients {
		statCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		rows, err := client.GetAllUsersTraffic(statCtx, true)
		cancel()
		if err != nil {
			p.log.WithError(err).WithField("node_id", nodeID).Warn("failed to collect user traffic")
			continue
		}

		for _, row := range rows {
			userID, ok := emailToUserID[row.Name]
			if !ok {
				p.log.WithField("identifier", row.Name).Warn("usage stat for unknown user identifier")
				continue
			}
			u := aggregated[userID]
			if u == nil {
				u = &userUsage{}
				aggregated[userID] = u
			}
			u.uplink += row.Uplink
			u.downlink += row.Downlink
		}
	}

	if len(aggregated) == 0 {
		return nil
	}

	now := time.Now().UTC()
	bucket := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, time.UTC)

	for userID, usage := range aggregated {
		coefficient := accountCoefficients(userID)
		delta := uint64(float64(usage.uplink+usage.downlink) * coefficient)
		if delta == 0 {
			continue
		}

		if err := p.store.AddUsedTraffic(ctx, userID, delta); err != nil {
			p.log.WithError(err).WithField("user_id", userID).Warn("failed to add used traffic")
			continue
		}
		_ = p.store.RecordOnline(ctx, userID, now)

		user, err := p.store.GetUserByID(ctx, userID)
		if err == nil && user.ActiveNodeID != nil {
			if err := p.store.RecordPerNodeUserUsage(ctx, userID, *user.ActiveNodeID, bucket, delta); err != nil {
				p.log.WithError(err).WithField("user_id", userID).Warn("failed to record per-node usage")
			}
		}
	}

	return nil
}

// buildUserMap replicates record_user_usages' email_to_user_id_map:
// keyed both by "{user_id}.{account_number}" and the bare
// account_number for legacy/back-compat matching. The returned closure
// resolves a user's active-node usage coefficient, falling back to 1.0
// when the user has no active node, that node row cannot be loaded, or
// its coefficient is not positive.
func (p *Pipeline) buildUserMap(ctx context.Context) (map[string]uint, func(userID uint) float64, error) {
	rows, err := p.store.UsersForUsageMapping(ctx)
	if err != nil {
		return nil, nil, err
	}

	emailToUserID := make(map[string]uint, len(rows)*2)
	for _, r := range rows {
		emailToUserID[fmt.Sprintf("%d.%s", r.ID, r.AccountNumber)] = r.ID
		emailToUserID[r.AccountNumber] = r.ID
	}

	coefficient := func(userID uint) float64 {
		user, err := p.store.GetUserByID(ctx, userID)
		if err != nil || user.ActiveNodeID == nil {
			return 1.0
		}
		node, err := p.store.GetNode(ctx, *user.ActiveNodeID)
		if err != nil {
			return 1.0
		}
		if node.UsageCoefficient <= 0 {
			return 1.0
		}
		return node.UsageCoefficient
	}

	return emailToUserID, coefficient, nil
}
