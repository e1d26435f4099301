package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2/log"

	"github.com/lensbook/backend/app/models"
	"github.com/lensbook/backend/internal/pkg/booking"
)

// Processor applies the business effect of a verified event and records the
// outcome in the event store. It must tolerate being invoked twice for the
// same event: a stalled-job re-claim or a worker retry may replay an event
// whose effect already landed. The booking service keys its own writes on the
// checkout session id, so replays surface as booking.ErrConflict and are
// treated as successes here.
type Processor struct {
	store    EventStore
	bookings booking.Service
	provider Provider
	notifier Notifier
	stats    StatsRecorder
}

// Notifier is told about bookings created by webhook processing. Notification
// failures stay inside the implementation; delivery of the event does not
// depend on them.
type Notifier interface {
	BookingCreated(ctx context.Context, b *models.Booking)
}

func NewProcessor(store EventStore, bookings booking.Service, provider Provider) *Processor {
	return &Processor{store: store, bookings: bookings, provider: provider}
}

// SetNotifier attaches an optional notifier for newly created bookings.
func (p *Processor) SetNotifier(n Notifier) {
	p.notifier = n
}

// SetStats attaches an optional failure counter.
func (p *Processor) SetStats(stats StatsRecorder) {
	p.stats = stats
}

// ProcessRaw verifies the raw body again and processes the decoded event.
// Both the worker path and the synchronous fallback go through here, so an
// event is always verified against the stored raw bytes before any effect is
// applied, even though the receiver already verified it once at ingress.
func (p *Processor) ProcessRaw(ctx context.Context, rawBody []byte, signature string) Outcome {
	evt, err := p.provider.VerifyWebhook(rawBody, signature)
	if err != nil {
		return PermanentFailure(err.Error())
	}
	return p.Process(ctx, evt)
}

// Process dispatches on the event type and drives the booking service.
func (p *Processor) Process(ctx context.Context, evt *Event) Outcome {
	switch evt.Type {
	case EventCheckoutCompleted:
		return p.processCheckoutCompleted(ctx, evt)
	case EventPaymentFailed:
		return p.processPaymentFailed(ctx, evt)
	default:
		// Forward-compatible with event types the provider may introduce.
		log.Infof("[Webhook] Ignoring unhandled event type %s (event %s)", evt.Type, evt.ID)
		return p.finish(ctx, ExtractTenant(evt), evt.ID)
	}
}

func (p *Processor) processCheckoutCompleted(ctx context.Context, evt *Event) Outcome {
	var session CheckoutSession
	if err := json.Unmarshal(evt.Data.Object, &session); err != nil {
		reason := "checkout payload failed to decode"
		log.Errorf("[Webhook] Event %s: %s: %v", evt.ID, reason, err)
		// The receiver recorded the event under the metadata tenant, so the
		// failure has to land on the same row.
		p.markFailed(ctx, ExtractTenant(evt), evt.ID, reason)
		return PermanentFailure(reason)
	}

	meta := ParseCheckoutMetadata(session.Metadata)
	tenant := meta.TenantID
	if tenant == "" {
		tenant = models.TenantGlobal
	}

	if meta.IsBalancePayment && meta.BookingID != 0 {
		return p.processBalancePayment(ctx, evt, tenant, meta, session.AmountTotal)
	}

	if err := ValidateCheckout(meta); err != nil {
		// The reason carries field names only; provider payload internals
		// stay out of the database.
		var ve *ValidationError
		reason := "checkout metadata failed validation"
		if errors.As(err, &ve) {
			reason = ve.Reason
		}
		log.Errorf("[Webhook] Event %s rejected: %v", evt.ID, err)
		p.markFailed(ctx, tenant, evt.ID, reason)
		return PermanentFailure(reason)
	}

	// Deposit checkouts charge only the deposit; the booking total comes
	// from metadata, not from the amount charged.
	total := session.AmountTotal
	if meta.IsDeposit && meta.TotalCents > 0 {
		total = meta.TotalCents
	}

	created, err := p.bookings.OnPaymentCompleted(ctx, tenant, booking.PaymentCompletedInput{
		SessionID:             session.ID,
		PackageID:             meta.PackageID,
		EventDate:             meta.EventDate,
		Email:                 meta.Email,
		CoupleName:            meta.CoupleName,
		AddOnIDs:              meta.AddOnIDs,
		TotalCents:            total,
		CommissionAmountCents: meta.CommissionAmount,
		CommissionPercent:     meta.CommissionPercent,
		IsDeposit:             meta.IsDeposit,
		DepositPercent:        meta.DepositPercent,
	})
	if errors.Is(err, booking.ErrConflict) {
		log.Infof("[Webhook] Event %s: booking already exists for session %s, treating as processed", evt.ID, session.ID)
	} else if err != nil {
		reason := "booking creation failed"
		log.Errorf("[Webhook] Event %s: %s: %v", evt.ID, reason, err)
		p.markFailed(ctx, tenant, evt.ID, reason)
		return TransientFailure(reason)
	} else if p.notifier != nil {
		p.notifier.BookingCreated(ctx, created)
	}

	return p.finish(ctx, tenant, evt.ID)
}

func (p *Processor) processBalancePayment(ctx context.Context, evt *Event, tenant string, meta CheckoutMetadata, amountCharged int64) Outcome {
	amount := meta.AmountCents
	if amount == 0 {
		amount = amountCharged
	}

	err := p.bookings.OnBalancePaymentCompleted(ctx, tenant, meta.BookingID, amount)
	if errors.Is(err, booking.ErrConflict) {
		log.Infof("[Webhook] Event %s: balance for booking %d already applied", evt.ID, meta.BookingID)
	} else if err != nil {
		reason := "balance payment could not be applied"
		log.Errorf("[Webhook] Event %s: %s: %v", evt.ID, reason, err)
		p.markFailed(ctx, tenant, evt.ID, reason)
		return TransientFailure(reason)
	}

	return p.finish(ctx, tenant, evt.ID)
}

// processPaymentFailed notifies the booking service about a failed intent.
// Errors here are logged, never re-raised: a failed payment-failure
// notification must not become a retry storm.
func (p *Processor) processPaymentFailed(ctx context.Context, evt *Event) Outcome {
	var intent PaymentIntent
	if err := json.Unmarshal(evt.Data.Object, &intent); err != nil {
		log.Warnf("[Webhook] Event %s: failed-intent payload did not decode: %v", evt.ID, err)
		return p.finish(ctx, ExtractTenant(evt), evt.ID)
	}

	tenant := strings.TrimSpace(intent.Metadata["tenant_id"])
	bookingID := uint(parseInt64(intent.Metadata["booking_id"]))

	if tenant == "" || tenant == models.TenantGlobal || bookingID == 0 {
		// Normal case: the checkout was abandoned before a booking existed.
		log.Infof("[Webhook] Event %s: payment failed with no booking attached, nothing to do", evt.ID)
		return p.finish(ctx, ExtractTenant(evt), evt.ID)
	}

	reason := "payment failed"
	code := ""
	if intent.LastPaymentError != nil {
		if intent.LastPaymentError.Message != "" {
			reason = intent.LastPaymentError.Message
		}
		code = intent.LastPaymentError.Code
	}

	if err := p.bookings.MarkPaymentFailed(ctx, tenant, bookingID, booking.PaymentFailureInput{
		Reason:          reason,
		Code:            code,
		PaymentIntentID: intent.ID,
	}); err != nil {
		log.Errorf("[Webhook] Event %s: could not mark booking %d payment as failed: %v", evt.ID, bookingID, err)
	}

	return p.finish(ctx, tenant, evt.ID)
}

// finish marks the store record processed; a store failure here is transient
// so the worker retries the marking.
func (p *Processor) finish(ctx context.Context, tenantID, eventID string) Outcome {
	if err := p.store.MarkProcessed(ctx, tenantID, eventID); err != nil {
		log.Errorf("[Webhook] Event %s: could not mark processed: %v", eventID, err)
		return TransientFailure("could not mark event processed")
	}
	return Success()
}

func (p *Processor) markFailed(ctx context.Context, tenantID, eventID, reason string) {
	if err := p.store.MarkFailed(ctx, tenantID, eventID, reason); err != nil {
		log.Errorf("[Webhook] Event %s: could not mark failed: %v", eventID, err)
	}
	if p.stats != nil {
		p.stats.Failed(tenantID)
	}
}

// ExtractTenant pulls the tenant id out of an event's object metadata,
// falling back to the sentinel bucket when the payload carries none.
func ExtractTenant(evt *Event) string {
	var obj struct {
		Metadata map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(evt.Data.Object, &obj); err != nil {
		return models.TenantGlobal
	}
	tenant := strings.TrimSpace(obj.Metadata["tenant_id"])
	if tenant == "" {
		return models.TenantGlobal
	}
	return tenant
}
