package webhook

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/lensbook/backend/app/models"
	"github.com/lensbook/backend/internal/pkg/jobqueue"
)

// JobQueue is the receiver's view of the background queue. A nil or
// unavailable queue switches the receiver to synchronous processing.
type JobQueue interface {
	Available(ctx context.Context) bool
	EnqueueWebhook(ctx context.Context, payload jobqueue.WebhookJobPayload) (bool, error)
}

// StatsRecorder counts deliveries per tenant. Implementations are best
// effort; the receiver never fails a delivery over a counter.
type StatsRecorder interface {
	Received(tenantID string)
	Duplicate(tenantID string)
	Failed(tenantID string)
}

// Receiver is the single entry point for provider notifications. It verifies,
// deduplicates, persists and hands off; it never blocks the caller on
// processing when the queue is up.
type Receiver struct {
	provider  Provider
	store     EventStore
	queue     JobQueue
	processor *Processor
	stats     StatsRecorder
}

func NewReceiver(provider Provider, store EventStore, queue JobQueue, processor *Processor) *Receiver {
	return &Receiver{provider: provider, store: store, queue: queue, processor: processor}
}

// SetStats attaches an optional delivery counter.
func (r *Receiver) SetStats(stats StatsRecorder) {
	r.stats = stats
}

// Handle ingests one raw webhook delivery. Only signature failures and
// missing tenant metadata on booking-creating events return an error; every
// other path reports success so the provider stops retrying.
func (r *Receiver) Handle(ctx context.Context, rawBody []byte, signature string) error {
	evt, err := r.provider.VerifyWebhook(rawBody, signature)
	if err != nil {
		return err
	}

	tenant := ExtractTenant(evt)

	// First gate: bare event id across all tenant buckets, before any tenant
	// validation. Cheap, and closes the loophole where failed extraction
	// records the same event under two buckets.
	dup, err := r.store.IsDuplicate(ctx, "", evt.ID)
	if err != nil {
		return &ProcessingError{Reason: fmt.Sprintf("duplicate check failed for event %s", evt.ID), Err: err}
	}
	if dup {
		log.Infof("[Webhook] Event %s already recorded, acknowledging duplicate delivery", evt.ID)
		if r.stats != nil {
			r.stats.Duplicate(tenant)
		}
		return nil
	}

	if tenant == models.TenantGlobal {
		if evt.Type == EventCheckoutCompleted {
			// Money-relevant events fail loudly so the provider keeps
			// retrying until the upstream metadata bug is fixed.
			return NewValidationError("checkout event %s carries no tenant metadata", evt.ID)
		}
		log.Warnf("[Webhook] Event %s (%s) has no tenant metadata, recording in the global bucket", evt.ID, evt.Type)
	}

	// Second gate: the store's own unique constraint decides which of two
	// concurrent deliveries actually creates the record.
	created, err := r.store.RecordWebhook(ctx, RecordInput{
		TenantID:   tenant,
		EventID:    evt.ID,
		EventType:  evt.Type,
		RawPayload: string(rawBody),
	})
	if err != nil {
		return &ProcessingError{Reason: fmt.Sprintf("recording event %s failed", evt.ID), Err: err}
	}
	if !created {
		log.Infof("[Webhook] Event %s was recorded by a concurrent delivery, acknowledging", evt.ID)
		if r.stats != nil {
			r.stats.Duplicate(tenant)
		}
		return nil
	}
	if r.stats != nil {
		r.stats.Received(tenant)
	}

	payload := jobqueue.WebhookJobPayload{
		EventID:    evt.ID,
		TenantID:   tenant,
		RawPayload: string(rawBody),
		Signature:  signature,
	}

	if r.queue != nil && r.queue.Available(ctx) {
		queued, err := r.queue.EnqueueWebhook(ctx, payload)
		if err == nil && queued {
			return nil
		}
		log.Warnf("[Webhook] Enqueue failed for event %s, falling back to synchronous processing: %v", evt.ID, err)
	} else {
		log.Warnf("[Webhook] Queue unavailable, processing event %s synchronously", evt.ID)
	}

	// Synchronous fallback runs the same verify-then-process path as the
	// worker. Processing failures are recorded in the store; the provider
	// still gets a success so it does not hammer a degraded system.
	if outcome := r.processor.ProcessRaw(ctx, rawBody, signature); outcome.Kind != OutcomeSuccess {
		log.Errorf("[Webhook] Synchronous processing of event %s failed: %s", evt.ID, outcome.Reason)
	}
	return nil
}
