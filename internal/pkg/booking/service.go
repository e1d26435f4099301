package booking

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lensbook/backend/app/models"
	"github.com/lensbook/backend/internal/pkg/commission"
)

var (
	// ErrNotFound is returned when no booking matches the tenant/id pair.
	ErrNotFound = errors.New("booking not found")
	// ErrConflict signals that the requested effect was already applied by an
	// earlier delivery. Webhook callers treat it as an idempotent success.
	ErrConflict = errors.New("booking effect already applied")
	// ErrInvalidState is returned when the booking's current status does not
	// allow the requested transition.
	ErrInvalidState = errors.New("booking state does not allow this transition")
)

// PaymentCompletedInput carries the validated checkout data used to create a
// booking.
type PaymentCompletedInput struct {
	SessionID             string
	PackageID             string
	EventDate             string
	Email                 string
	CoupleName            string
	AddOnIDs              []string
	TotalCents            int64
	CommissionAmountCents *int64
	CommissionPercent     *float64
	IsDeposit             bool
	DepositPercent        int
}

// PaymentFailureInput carries the provider's last-error details for a failed
// payment attempt.
type PaymentFailureInput struct {
	Reason          string
	Code            string
	PaymentIntentID string
}

// Service is the booking collaborator consumed by the webhook pipeline and
// the self-service endpoints.
type Service interface {
	OnPaymentCompleted(ctx context.Context, tenantID string, in PaymentCompletedInput) (*models.Booking, error)
	OnBalancePaymentCompleted(ctx context.Context, tenantID string, bookingID uint, amountCents int64) error
	MarkPaymentFailed(ctx context.Context, tenantID string, bookingID uint, in PaymentFailureInput) error
	CancelBooking(ctx context.Context, tenantID string, bookingID uint, actor, reason string) error
	RescheduleBooking(ctx context.Context, tenantID string, bookingID uint, newDate string) error
	GetBooking(ctx context.Context, tenantID string, bookingID uint) (*models.Booking, error)
}

type gormService struct {
	db *gorm.DB
	// defaultRatePercent applies when checkout metadata carries no explicit
	// commission figures for the tenant.
	defaultRatePercent float64
}

// NewService creates a GORM-backed booking service.
func NewService(db *gorm.DB, defaultRatePercent float64) Service {
	return &gormService{db: db, defaultRatePercent: defaultRatePercent}
}

// OnPaymentCompleted creates the booking for a finished checkout. The insert
// is keyed on (tenant_id, checkout_session_id) so a webhook delivered twice
// maps onto the same row; the second call returns ErrConflict.
func (s *gormService) OnPaymentCompleted(ctx context.Context, tenantID string, in PaymentCompletedInput) (*models.Booking, error) {
	if tenantID == "" || strings.TrimSpace(in.SessionID) == "" {
		return nil, errors.New("tenant_id and session_id are required")
	}

	rate := s.defaultRatePercent
	if in.CommissionPercent != nil {
		rate = *in.CommissionPercent
	}
	fee := commission.Calculate(rate, in.TotalCents)
	if in.CommissionAmountCents != nil {
		fee = *in.CommissionAmountCents
	}

	status := models.BookingStatusPaid
	if in.IsDeposit {
		status = models.BookingStatusDepositPaid
	}

	b := &models.Booking{
		Reference:             uuid.NewString(),
		TenantID:              tenantID,
		CheckoutSessionID:     strings.TrimSpace(in.SessionID),
		PackageID:             in.PackageID,
		CoupleName:            in.CoupleName,
		Email:                 in.Email,
		EventDate:             in.EventDate,
		Status:                status,
		TotalCents:            in.TotalCents,
		IsDeposit:             in.IsDeposit,
		DepositPercent:        in.DepositPercent,
		CommissionAmountCents: fee,
		CommissionPercent:     rate,
		RefundStatus:          models.RefundStatusNone,
	}

	tx := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "tenant_id"},
			{Name: "checkout_session_id"},
		},
		DoNothing: true,
	}).Create(b)
	if tx.Error != nil {
		return nil, tx.Error
	}
	if tx.RowsAffected == 0 {
		// A prior delivery already created this booking.
		var existing models.Booking
		if err := s.db.WithContext(ctx).
			Where("tenant_id = ? AND checkout_session_id = ?", tenantID, b.CheckoutSessionID).
			First(&existing).Error; err != nil {
			return nil, err
		}
		return &existing, ErrConflict
	}

	for _, addOnID := range in.AddOnIDs {
		if strings.TrimSpace(addOnID) == "" {
			continue
		}
		if err := s.db.WithContext(ctx).Create(&models.BookingAddOn{
			BookingID: b.ID,
			AddOnID:   addOnID,
		}).Error; err != nil {
			log.Errorf("[Booking] Failed to attach add-on %s to booking %d: %v", addOnID, b.ID, err)
		}
	}

	return b, nil
}

// OnBalancePaymentCompleted transitions a deposit-paid booking to paid. The
// status guard in the WHERE clause is the idempotency mechanism: a second
// delivery finds no deposit_paid row and reports ErrConflict.
func (s *gormService) OnBalancePaymentCompleted(ctx context.Context, tenantID string, bookingID uint, amountCents int64) error {
	now := time.Now().UTC()
	tx := s.db.WithContext(ctx).Model(&models.Booking{}).
		Where("id = ? AND tenant_id = ? AND status = ?", bookingID, tenantID, models.BookingStatusDepositPaid).
		Updates(map[string]interface{}{
			"status":          models.BookingStatusPaid,
			"balance_paid_at": &now,
		})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected > 0 {
		log.Infof("[Booking] Balance payment of %d cents recorded for booking %d (tenant %s)", amountCents, bookingID, tenantID)
		return nil
	}

	b, err := s.GetBooking(ctx, tenantID, bookingID)
	if err != nil {
		return err
	}
	if b.Status == models.BookingStatusPaid || b.Status == models.BookingStatusConfirmed || b.Status == models.BookingStatusFulfilled {
		return ErrConflict
	}
	return ErrInvalidState
}

// MarkPaymentFailed records the provider's failure details on the booking.
func (s *gormService) MarkPaymentFailed(ctx context.Context, tenantID string, bookingID uint, in PaymentFailureInput) error {
	reason := strings.TrimSpace(in.Reason)
	code := strings.TrimSpace(in.Code)
	tx := s.db.WithContext(ctx).Model(&models.Booking{}).
		Where("id = ? AND tenant_id = ?", bookingID, tenantID).
		Updates(map[string]interface{}{
			"payment_failure_reason": &reason,
			"payment_failure_code":   &code,
		})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrNotFound
	}
	log.Infof("[Booking] Payment failure recorded for booking %d (tenant %s, intent %s, code %s)", bookingID, tenantID, in.PaymentIntentID, code)
	return nil
}

// CancelBooking cancels a booking and books the commission refund for the
// platform side. Cancelling an already-canceled booking is a conflict, not an
// error; a fulfilled booking cannot be canceled.
func (s *gormService) CancelBooking(ctx context.Context, tenantID string, bookingID uint, actor, reason string) error {
	b, err := s.GetBooking(ctx, tenantID, bookingID)
	if err != nil {
		return err
	}
	switch b.Status {
	case models.BookingStatusCanceled, models.BookingStatusRefunded:
		return ErrConflict
	case models.BookingStatusFulfilled:
		return ErrInvalidState
	}

	updates := map[string]interface{}{
		"status":              models.BookingStatusCanceled,
		"cancelled_by":        &actor,
		"cancellation_reason": &reason,
	}
	if b.Status == models.BookingStatusDepositPaid || b.Status == models.BookingStatusPaid || b.Status == models.BookingStatusConfirmed {
		// Money changed hands: queue a refund and give back the commission
		// share proportional to the refunded amount (full refund here).
		updates["refund_status"] = models.RefundStatusPending
		updates["refunded_commission_cents"] = commission.RefundCommission(
			b.CommissionAmountCents, b.TotalCents, b.TotalCents)
	}

	return s.db.WithContext(ctx).Model(&models.Booking{}).
		Where("id = ? AND tenant_id = ? AND status = ?", bookingID, tenantID, b.Status).
		Updates(updates).Error
}

// RescheduleBooking moves the event date on a live booking.
func (s *gormService) RescheduleBooking(ctx context.Context, tenantID string, bookingID uint, newDate string) error {
	if strings.TrimSpace(newDate) == "" {
		return errors.New("new date is required")
	}
	b, err := s.GetBooking(ctx, tenantID, bookingID)
	if err != nil {
		return err
	}
	if b.IsTerminal() {
		return ErrInvalidState
	}
	return s.db.WithContext(ctx).Model(&models.Booking{}).
		Where("id = ? AND tenant_id = ?", bookingID, tenantID).
		Update("event_date", newDate).Error
}

func (s *gormService) GetBooking(ctx context.Context, tenantID string, bookingID uint) (*models.Booking, error) {
	var b models.Booking
	err := s.db.WithContext(ctx).
		Preload("AddOns").
		Where("id = ? AND tenant_id = ?", bookingID, tenantID).
		First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}
