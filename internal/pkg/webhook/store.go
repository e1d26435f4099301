package webhook

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lensbook/backend/app/models"
)

// RecordInput is the normalized input for webhook event persistence.
type RecordInput struct {
	TenantID   string
	EventID    string
	EventType  string
	RawPayload string
}

// EventStore is the durable record of every received provider event. The
// composite unique constraint on (tenant_id, event_id) is the only
// mutual-exclusion mechanism for "has this event been recorded"; no external
// lock is taken.
type EventStore interface {
	// IsDuplicate checks for an existing record. An empty tenantID checks the
	// bare event id across all tenant buckets; this is the cheap global gate
	// that runs before tenant extraction.
	IsDuplicate(ctx context.Context, tenantID, eventID string) (bool, error)
	// RecordWebhook inserts the event in pending status and reports whether
	// this call created the record, as opposed to a concurrent call having
	// already created it.
	RecordWebhook(ctx context.Context, in RecordInput) (bool, error)
	MarkProcessed(ctx context.Context, tenantID, eventID string) error
	MarkFailed(ctx context.Context, tenantID, eventID, reason string) error
}

type gormEventStore struct {
	db *gorm.DB
}

// NewEventStore creates an event store backed by GORM.
func NewEventStore(db *gorm.DB) EventStore {
	return &gormEventStore{db: db}
}

func (s *gormEventStore) IsDuplicate(ctx context.Context, tenantID, eventID string) (bool, error) {
	q := s.db.WithContext(ctx).Model(&models.WebhookEvent{}).Where("event_id = ?", eventID)
	if tenantID != "" {
		q = q.Where("tenant_id = ?", tenantID)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *gormEventStore) RecordWebhook(ctx context.Context, in RecordInput) (bool, error) {
	event := &models.WebhookEvent{
		TenantID:   in.TenantID,
		EventID:    in.EventID,
		EventType:  in.EventType,
		Status:     models.WebhookStatusPending,
		RawPayload: in.RawPayload,
	}
	tx := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "tenant_id"},
			{Name: "event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (s *gormEventStore) MarkProcessed(ctx context.Context, tenantID, eventID string) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("tenant_id = ? AND event_id = ?", tenantID, eventID).
		Updates(map[string]interface{}{
			"status":        models.WebhookStatusProcessed,
			"processed_at":  &now,
			"error_message": nil,
		}).Error
}

func (s *gormEventStore) MarkFailed(ctx context.Context, tenantID, eventID, reason string) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("tenant_id = ? AND event_id = ?", tenantID, eventID).
		Updates(map[string]interface{}{
			"status":        models.WebhookStatusFailed,
			"processed_at":  &now,
			"error_message": &reason,
		}).Error
}
