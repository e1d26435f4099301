package models

import "time"

// TenantGlobal is the sentinel bucket used when tenant extraction from a
// webhook payload fails or the event is tenant-agnostic.
const TenantGlobal = "_global"

// Webhook event processing statuses.
const (
	WebhookStatusPending   = "pending"
	WebhookStatusProcessed = "processed"
	WebhookStatusFailed    = "failed"
)

// WebhookEvent stores every received payment-provider notification with
// deduplication metadata for idempotent processing. Uniqueness is enforced by
// the composite (tenant_id, event_id) constraint; the plain event_id index
// serves the cheaper global existence check that runs before tenant
// extraction.
type WebhookEvent struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	TenantID     string     `gorm:"type:varchar(64);not null;index:ux_webhook_events_tenant_event,unique,priority:1" json:"tenant_id"`
	EventID      string     `gorm:"type:varchar(191);not null;index:ux_webhook_events_tenant_event,unique,priority:2;index" json:"event_id"`
	EventType    string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	Status       string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	RawPayload   string     `gorm:"type:longtext;not null" json:"raw_payload"`
	ErrorMessage *string    `gorm:"type:text" json:"error_message,omitempty"`
	ReceivedAt   time.Time  `gorm:"autoCreateTime;index" json:"received_at"`
	ProcessedAt  *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
