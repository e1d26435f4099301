package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lensbook/backend/app/models"
	"github.com/lensbook/backend/internal/pkg/booking"
)

const testSecret = "whsec_test"

// buildEvent assembles a signed provider envelope for tests.
func buildEvent(t *testing.T, eventID, eventType string, object map[string]interface{}) ([]byte, string) {
	t.Helper()

	objData, err := json.Marshal(object)
	require.NoError(t, err)

	body, err := json.Marshal(map[string]interface{}{
		"id":   eventID,
		"type": eventType,
		"data": map[string]interface{}{"object": json.RawMessage(objData)},
	})
	require.NoError(t, err)

	return body, SignPayload(body, testSecret)
}

func decodeEvent(t *testing.T, rawBody []byte) *Event {
	t.Helper()
	var evt Event
	require.NoError(t, json.Unmarshal(rawBody, &evt))
	return &evt
}

type storeCall struct {
	TenantID string
	EventID  string
	Reason   string
}

type fakeStore struct {
	duplicate    bool
	duplicateErr error
	created      bool
	recordErr    error
	markErr      error

	recorded  []RecordInput
	processed []storeCall
	failed    []storeCall
}

func newFakeStore() *fakeStore {
	return &fakeStore{created: true}
}

func (s *fakeStore) IsDuplicate(ctx context.Context, tenantID, eventID string) (bool, error) {
	return s.duplicate, s.duplicateErr
}

func (s *fakeStore) RecordWebhook(ctx context.Context, in RecordInput) (bool, error) {
	if s.recordErr != nil {
		return false, s.recordErr
	}
	s.recorded = append(s.recorded, in)
	return s.created, nil
}

func (s *fakeStore) MarkProcessed(ctx context.Context, tenantID, eventID string) error {
	if s.markErr != nil {
		return s.markErr
	}
	s.processed = append(s.processed, storeCall{TenantID: tenantID, EventID: eventID})
	return nil
}

func (s *fakeStore) MarkFailed(ctx context.Context, tenantID, eventID, reason string) error {
	s.failed = append(s.failed, storeCall{TenantID: tenantID, EventID: eventID, Reason: reason})
	return nil
}

type balanceCall struct {
	TenantID    string
	BookingID   uint
	AmountCents int64
}

type failureCall struct {
	TenantID  string
	BookingID uint
	Input     booking.PaymentFailureInput
}

type fakeBookings struct {
	completedErr error
	balanceErr   error
	failureErr   error

	completedTenants []string
	completed        []booking.PaymentCompletedInput
	balances         []balanceCall
	failures         []failureCall
}

func (b *fakeBookings) OnPaymentCompleted(ctx context.Context, tenantID string, in booking.PaymentCompletedInput) (*models.Booking, error) {
	if b.completedErr != nil {
		return nil, b.completedErr
	}
	b.completedTenants = append(b.completedTenants, tenantID)
	b.completed = append(b.completed, in)
	return &models.Booking{TenantID: tenantID, CheckoutSessionID: in.SessionID}, nil
}

func (b *fakeBookings) OnBalancePaymentCompleted(ctx context.Context, tenantID string, bookingID uint, amountCents int64) error {
	if b.balanceErr != nil {
		return b.balanceErr
	}
	b.balances = append(b.balances, balanceCall{TenantID: tenantID, BookingID: bookingID, AmountCents: amountCents})
	return nil
}

func (b *fakeBookings) MarkPaymentFailed(ctx context.Context, tenantID string, bookingID uint, in booking.PaymentFailureInput) error {
	if b.failureErr != nil {
		return b.failureErr
	}
	b.failures = append(b.failures, failureCall{TenantID: tenantID, BookingID: bookingID, Input: in})
	return nil
}

func (b *fakeBookings) CancelBooking(ctx context.Context, tenantID string, bookingID uint, actor, reason string) error {
	return nil
}

func (b *fakeBookings) RescheduleBooking(ctx context.Context, tenantID string, bookingID uint, newDate string) error {
	return nil
}

func (b *fakeBookings) GetBooking(ctx context.Context, tenantID string, bookingID uint) (*models.Booking, error) {
	return nil, booking.ErrNotFound
}

func newTestProcessor() (*Processor, *fakeStore, *fakeBookings) {
	store := newFakeStore()
	bookings := &fakeBookings{}
	return NewProcessor(store, bookings, NewHMACProvider(testSecret)), store, bookings
}

func checkoutObject(metadata map[string]string) map[string]interface{} {
	return map[string]interface{}{
		"id":           "cs_123",
		"amount_total": int64(15000),
		"metadata":     metadata,
	}
}

func validCheckoutMetadata() map[string]string {
	return map[string]string{
		"tenant_id":   "tenant_a",
		"package_id":  "pkg_gold",
		"event_date":  "2026-10-17",
		"email":       "couple@example.com",
		"couple_name": "Ada & Alan",
	}
}

func TestProcessCheckoutCompletedCreatesBooking(t *testing.T) {
	p, store, bookings := newTestProcessor()

	body, _ := buildEvent(t, "evt_1", EventCheckoutCompleted, checkoutObject(validCheckoutMetadata()))
	outcome := p.Process(context.Background(), decodeEvent(t, body))

	assert.Equal(t, OutcomeSuccess, outcome.Kind)
	require.Len(t, bookings.completed, 1)
	assert.Equal(t, "tenant_a", bookings.completedTenants[0])
	assert.Equal(t, "cs_123", bookings.completed[0].SessionID)
	assert.Equal(t, int64(15000), bookings.completed[0].TotalCents)
	require.Len(t, store.processed, 1)
	assert.Equal(t, storeCall{TenantID: "tenant_a", EventID: "evt_1"}, store.processed[0])
	assert.Empty(t, store.failed)
}

func TestProcessCheckoutDepositUsesMetadataTotal(t *testing.T) {
	p, _, bookings := newTestProcessor()

	meta := validCheckoutMetadata()
	meta["is_deposit"] = "true"
	meta["deposit_percent"] = "30"
	meta["total_cents"] = "50000"

	body, _ := buildEvent(t, "evt_2", EventCheckoutCompleted, checkoutObject(meta))
	outcome := p.Process(context.Background(), decodeEvent(t, body))

	assert.Equal(t, OutcomeSuccess, outcome.Kind)
	require.Len(t, bookings.completed, 1)
	// The checkout charged 15000 but the booking is worth the metadata total.
	assert.Equal(t, int64(50000), bookings.completed[0].TotalCents)
	assert.True(t, bookings.completed[0].IsDeposit)
	assert.Equal(t, 30, bookings.completed[0].DepositPercent)
}

func TestProcessCheckoutConflictIsSuccess(t *testing.T) {
	p, store, bookings := newTestProcessor()
	bookings.completedErr = booking.ErrConflict

	body, _ := buildEvent(t, "evt_3", EventCheckoutCompleted, checkoutObject(validCheckoutMetadata()))
	outcome := p.Process(context.Background(), decodeEvent(t, body))

	assert.Equal(t, OutcomeSuccess, outcome.Kind)
	require.Len(t, store.processed, 1)
	assert.Empty(t, store.failed)
}

func TestProcessCheckoutBookingErrorIsTransient(t *testing.T) {
	p, store, bookings := newTestProcessor()
	bookings.completedErr = fmt.Errorf("connection reset")

	body, _ := buildEvent(t, "evt_4", EventCheckoutCompleted, checkoutObject(validCheckoutMetadata()))
	outcome := p.Process(context.Background(), decodeEvent(t, body))

	assert.Equal(t, OutcomeTransientFailure, outcome.Kind)
	require.Len(t, store.failed, 1)
	assert.Equal(t, "booking creation failed", store.failed[0].Reason)
	assert.Empty(t, store.processed)
}

func TestProcessCheckoutValidationFailureIsPermanentAndSanitized(t *testing.T) {
	p, store, bookings := newTestProcessor()

	meta := validCheckoutMetadata()
	meta["email"] = "not-an-email"
	delete(meta, "couple_name")

	body, _ := buildEvent(t, "evt_5", EventCheckoutCompleted, checkoutObject(meta))
	outcome := p.Process(context.Background(), decodeEvent(t, body))

	assert.Equal(t, OutcomePermanentFailure, outcome.Kind)
	assert.Empty(t, bookings.completed)
	require.Len(t, store.failed, 1)

	// The stored reason names the offending fields but never their values.
	assert.Contains(t, store.failed[0].Reason, "Email")
	assert.Contains(t, store.failed[0].Reason, "CoupleName")
	assert.NotContains(t, store.failed[0].Reason, "not-an-email")
	assert.NotContains(t, outcome.Reason, "not-an-email")
}

func TestProcessCheckoutDecodeFailureLandsOnRecordedTenant(t *testing.T) {
	p, store, bookings := newTestProcessor()

	// amount_total arrives as a string, so the typed session decode fails
	// while the metadata map still identifies the tenant.
	object := map[string]interface{}{
		"id":           "cs_bad",
		"amount_total": "15000",
		"metadata":     map[string]string{"tenant_id": "tenant_a"},
	}
	body, _ := buildEvent(t, "evt_20", EventCheckoutCompleted, object)
	outcome := p.Process(context.Background(), decodeEvent(t, body))

	assert.Equal(t, OutcomePermanentFailure, outcome.Kind)
	assert.Empty(t, bookings.completed)
	require.Len(t, store.failed, 1)
	// The failure must target the same row the receiver recorded.
	assert.Equal(t, "tenant_a", store.failed[0].TenantID)
	assert.Equal(t, "checkout payload failed to decode", store.failed[0].Reason)
}

func TestProcessBalancePayment(t *testing.T) {
	p, store, bookings := newTestProcessor()

	meta := map[string]string{
		"tenant_id":          "tenant_a",
		"is_balance_payment": "true",
		"booking_id":         "42",
		"amount_cents":       "35000",
	}
	body, _ := buildEvent(t, "evt_6", EventCheckoutCompleted, checkoutObject(meta))
	outcome := p.Process(context.Background(), decodeEvent(t, body))

	assert.Equal(t, OutcomeSuccess, outcome.Kind)
	require.Len(t, bookings.balances, 1)
	assert.Equal(t, balanceCall{TenantID: "tenant_a", BookingID: 42, AmountCents: 35000}, bookings.balances[0])
	assert.Empty(t, bookings.completed)
	require.Len(t, store.processed, 1)
}

func TestProcessBalancePaymentFallsBackToChargedAmount(t *testing.T) {
	p, _, bookings := newTestProcessor()

	meta := map[string]string{
		"tenant_id":          "tenant_a",
		"is_balance_payment": "true",
		"booking_id":         "42",
	}
	body, _ := buildEvent(t, "evt_7", EventCheckoutCompleted, checkoutObject(meta))
	outcome := p.Process(context.Background(), decodeEvent(t, body))

	assert.Equal(t, OutcomeSuccess, outcome.Kind)
	require.Len(t, bookings.balances, 1)
	assert.Equal(t, int64(15000), bookings.balances[0].AmountCents)
}

func TestProcessBalancePaymentAlreadyAppliedIsSuccess(t *testing.T) {
	p, store, bookings := newTestProcessor()
	bookings.balanceErr = booking.ErrConflict

	meta := map[string]string{
		"tenant_id":          "tenant_a",
		"is_balance_payment": "true",
		"booking_id":         "42",
		"amount_cents":       "35000",
	}
	body, _ := buildEvent(t, "evt_8", EventCheckoutCompleted, checkoutObject(meta))
	outcome := p.Process(context.Background(), decodeEvent(t, body))

	assert.Equal(t, OutcomeSuccess, outcome.Kind)
	require.Len(t, store.processed, 1)
	assert.Empty(t, store.failed)
}

func TestProcessPaymentFailedMarksBooking(t *testing.T) {
	p, store, bookings := newTestProcessor()

	object := map[string]interface{}{
		"id": "pi_9",
		"metadata": map[string]string{
			"tenant_id":  "tenant_a",
			"booking_id": "7",
		},
		"last_payment_error": map[string]string{
			"code":    "card_declined",
			"message": "Your card was declined.",
		},
	}
	body, _ := buildEvent(t, "evt_9", EventPaymentFailed, object)
	outcome := p.Process(context.Background(), decodeEvent(t, body))

	assert.Equal(t, OutcomeSuccess, outcome.Kind)
	require.Len(t, bookings.failures, 1)
	assert.Equal(t, "tenant_a", bookings.failures[0].TenantID)
	assert.Equal(t, uint(7), bookings.failures[0].BookingID)
	assert.Equal(t, "Your card was declined.", bookings.failures[0].Input.Reason)
	assert.Equal(t, "card_declined", bookings.failures[0].Input.Code)
	assert.Equal(t, "pi_9", bookings.failures[0].Input.PaymentIntentID)
	require.Len(t, store.processed, 1)
}

func TestProcessPaymentFailedWithoutBookingIsNoOp(t *testing.T) {
	p, store, bookings := newTestProcessor()

	object := map[string]interface{}{
		"id":       "pi_10",
		"metadata": map[string]string{},
	}
	body, _ := buildEvent(t, "evt_10", EventPaymentFailed, object)
	outcome := p.Process(context.Background(), decodeEvent(t, body))

	// Abandoned checkout: still acknowledged and marked processed.
	assert.Equal(t, OutcomeSuccess, outcome.Kind)
	assert.Empty(t, bookings.failures)
	require.Len(t, store.processed, 1)
	assert.Equal(t, models.TenantGlobal, store.processed[0].TenantID)
}

func TestProcessPaymentFailedDecodeFailureLandsOnRecordedTenant(t *testing.T) {
	p, store, bookings := newTestProcessor()

	object := map[string]interface{}{
		"id":                 "pi_bad",
		"metadata":           map[string]string{"tenant_id": "tenant_a"},
		"last_payment_error": "not-an-object",
	}
	body, _ := buildEvent(t, "evt_21", EventPaymentFailed, object)
	outcome := p.Process(context.Background(), decodeEvent(t, body))

	assert.Equal(t, OutcomeSuccess, outcome.Kind)
	assert.Empty(t, bookings.failures)
	require.Len(t, store.processed, 1)
	assert.Equal(t, "tenant_a", store.processed[0].TenantID)
}

func TestProcessPaymentFailedServiceErrorIsSwallowed(t *testing.T) {
	p, store, bookings := newTestProcessor()
	bookings.failureErr = fmt.Errorf("db down")

	object := map[string]interface{}{
		"id": "pi_11",
		"metadata": map[string]string{
			"tenant_id":  "tenant_a",
			"booking_id": "7",
		},
	}
	body, _ := buildEvent(t, "evt_11", EventPaymentFailed, object)
	outcome := p.Process(context.Background(), decodeEvent(t, body))

	assert.Equal(t, OutcomeSuccess, outcome.Kind)
	require.Len(t, store.processed, 1)
}

func TestProcessUnknownEventTypeIsAcknowledged(t *testing.T) {
	p, store, _ := newTestProcessor()

	body, _ := buildEvent(t, "evt_12", "invoice.created", map[string]interface{}{
		"id":       "in_1",
		"metadata": map[string]string{"tenant_id": "tenant_a"},
	})
	outcome := p.Process(context.Background(), decodeEvent(t, body))

	assert.Equal(t, OutcomeSuccess, outcome.Kind)
	require.Len(t, store.processed, 1)
	assert.Equal(t, "tenant_a", store.processed[0].TenantID)
}

func TestProcessRawRejectsBadSignature(t *testing.T) {
	p, store, bookings := newTestProcessor()

	body, _ := buildEvent(t, "evt_13", EventCheckoutCompleted, checkoutObject(validCheckoutMetadata()))
	outcome := p.ProcessRaw(context.Background(), body, "0000")

	assert.Equal(t, OutcomePermanentFailure, outcome.Kind)
	assert.Empty(t, bookings.completed)
	assert.Empty(t, store.processed)
}

func TestProcessMarkProcessedFailureIsTransient(t *testing.T) {
	p, store, _ := newTestProcessor()
	store.markErr = fmt.Errorf("db down")

	body, _ := buildEvent(t, "evt_14", EventCheckoutCompleted, checkoutObject(validCheckoutMetadata()))
	outcome := p.Process(context.Background(), decodeEvent(t, body))

	assert.Equal(t, OutcomeTransientFailure, outcome.Kind)
}
