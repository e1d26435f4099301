package models

import "time"

// TenantWebhookStats holds per-tenant webhook delivery totals, drained
// periodically from the Redis counters.
type TenantWebhookStats struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	TenantID       string    `gorm:"type:varchar(64);not null;uniqueIndex" json:"tenant_id"`
	ReceivedCount  int64     `gorm:"not null;default:0" json:"received_count"`
	DuplicateCount int64     `gorm:"not null;default:0" json:"duplicate_count"`
	FailedCount    int64     `gorm:"not null;default:0" json:"failed_count"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
