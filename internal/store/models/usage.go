package models

import "time"

// PerNodeUserUsage is one hour-bucketed usage delta for a user on a
// node. Unique on (hour_bucket_ts, user_id, node_id).
type PerNodeUserUsage struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	UserID           uint      `gorm:"uniqueIndex:idx_pnuu,priority:1;not null" json:"user_id"`
	NodeID           uint      `gorm:"uniqueIndex:idx_pnuu,priority:2;not null" json:"node_id"`
	HourBucketTs     time.Time `gorm:"uniqueIndex:idx_pnuu,priority:3;not null" json:"hour_bucket_ts"`
	UsedTrafficBytes uint64    `gorm:"default:0" json:"used_traffic_bytes"`
}

// PerNodeUsage is the hourly aggregate of PerNodeUserUsage for a node.
// Unique on (hour_bucket_ts, node_id). By convention the full bucket
// total is attributed to Downlink; Uplink stays zero.
type PerNodeUsage struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	NodeID       uint      `gorm:"uniqueIndex:idx_pnu,priority:1;not null" json:"node_id"`
	HourBucketTs time.Time `gorm:"uniqueIndex:idx_pnu,priority:2;not null" json:"hour_bucket_ts"`
	Uplink       uint64    `gorm:"default:0" json:"uplink"`
	Downlink     uint64    `gorm:"default:0" json:"downlink"`
}
