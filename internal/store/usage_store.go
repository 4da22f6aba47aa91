package store

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"xpanel/internal/store/models"
	"xpanel/pkg/apperror"
)

// RecordPerNodeUserUsage upserts into the (hour_bucket_ts, user_id,
// node_id) unique key. A zero delta is a no-op.
func (s *Store) RecordPerNodeUserUsage(ctx Ctx, userID, nodeID uint, bucket time.Time, delta uint64) error {
	if delta == 0 {
		return nil
	}
	row := models.PerNodeUserUsage{
		UserID:           userID,
		NodeID:           nodeID,
		HourBucketTs:     bucket,
		UsedTrafficBytes: delta,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "node_id"}, {Name: "hour_bucket_ts"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"used_traffic_bytes": gorm.Expr("per_node_user_usages.used_traffic_bytes + ?", delta)}),
	}).Create(&row).Error
	if err != nil {
		return apperror.Internal(err)
	}
	return nil
}

// AggregateNodeUsage sums PerNodeUserUsage rows for bucket and upserts
// PerNodeUsage, one row per node, attributing the full total to
// downlink (the convention preserved from the source, see DESIGN.md).
func (s *Store) AggregateNodeUsage(ctx Ctx, bucket time.Time) error {
	type nodeSum struct {
		NodeID uint
		Total  uint64
	}
	var sums []nodeSum
	err := s.db.WithContext(ctx).Model(&models.PerNodeUserUsage{}).
		Select("node_id, SUM(used_traffic_bytes) as total").
		Where("hour_bucket_ts = ?", bucket).
		Group("node_id").
		Scan(&sums).Error
	if err != nil {
		return apperror.Internal(err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, row := range sums {
			pnu := models.PerNodeUsage{
				NodeID:       row.NodeID,
				HourBucketTs: bucket,
				Uplink:       0,
				Downlink:     row.Total,
			}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "node_id"}, {Name: "hour_bucket_ts"}},
				DoUpdates: clause.Assignments(map[string]interface{}{"downlink": row.Total}),
			}).Create(&pnu).Error
			if err != nil {
				return apperror.Internal(err)
			}
		}
		return nil
	})
}
