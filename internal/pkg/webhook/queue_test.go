package webhook

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lensbook/backend/internal/pkg/jobqueue"
)

func TestJobHandlerReplaysStoredEvent(t *testing.T) {
	p, store, bookings := newTestProcessor()
	handler := p.JobHandler()

	body, sig := buildEvent(t, "evt_1", EventCheckoutCompleted, checkoutObject(validCheckoutMetadata()))
	payload := jobqueue.WebhookJobPayload{
		EventID:    "evt_1",
		TenantID:   "tenant_a",
		RawPayload: string(body),
		Signature:  sig,
	}

	job := &jobqueue.Job{
		ID:        "evt_1",
		Type:      jobqueue.JobTypeWebhookProcess,
		Payload:   payload.ToMap(),
		CreatedAt: time.Now(),
	}
	result, reason := handler(context.Background(), job)

	assert.Equal(t, jobqueue.ResultSuccess, result)
	assert.Empty(t, reason)
	require.Len(t, bookings.completed, 1)
	require.Len(t, store.processed, 1)
}

func TestJobHandlerMapsOutcomes(t *testing.T) {
	t.Run("tampered payload is permanent", func(t *testing.T) {
		p, _, _ := newTestProcessor()
		handler := p.JobHandler()

		body, _ := buildEvent(t, "evt_2", EventCheckoutCompleted, checkoutObject(validCheckoutMetadata()))
		payload := jobqueue.WebhookJobPayload{
			EventID:    "evt_2",
			RawPayload: string(body),
			Signature:  "deadbeef",
		}
		result, reason := handler(context.Background(), &jobqueue.Job{ID: "evt_2", Payload: payload.ToMap()})

		assert.Equal(t, jobqueue.ResultPermanentFailure, result)
		assert.NotEmpty(t, reason)
	})

	t.Run("booking outage is transient", func(t *testing.T) {
		p, _, bookings := newTestProcessor()
		bookings.completedErr = assert.AnError
		handler := p.JobHandler()

		body, sig := buildEvent(t, "evt_3", EventCheckoutCompleted, checkoutObject(validCheckoutMetadata()))
		payload := jobqueue.WebhookJobPayload{
			EventID:    "evt_3",
			RawPayload: string(body),
			Signature:  sig,
		}
		result, _ := handler(context.Background(), &jobqueue.Job{ID: "evt_3", Payload: payload.ToMap()})

		assert.Equal(t, jobqueue.ResultTransientFailure, result)
	})

	t.Run("undecodable job payload is permanent", func(t *testing.T) {
		p, _, _ := newTestProcessor()
		handler := p.JobHandler()

		result, _ := handler(context.Background(), &jobqueue.Job{
			ID:      "evt_4",
			Payload: map[string]interface{}{"event_id": 12345, "raw_payload": []string{"x"}},
		})

		assert.Equal(t, jobqueue.ResultPermanentFailure, result)
	})
}
