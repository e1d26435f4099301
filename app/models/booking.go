package models

import "time"

// Booking lifecycle statuses.
const (
	BookingStatusPending     = "pending"
	BookingStatusDepositPaid = "deposit_paid"
	BookingStatusPaid        = "paid"
	BookingStatusConfirmed   = "confirmed"
	BookingStatusCanceled    = "canceled"
	BookingStatusFulfilled   = "fulfilled"
	BookingStatusRefunded    = "refunded"
)

// Refund statuses tracked on canceled bookings.
const (
	RefundStatusNone      = "none"
	RefundStatusPending   = "pending"
	RefundStatusCompleted = "completed"
)

// Actors recorded on cancellation.
const (
	CancelledByCustomer = "customer"
	CancelledByTenant   = "tenant"
	CancelledBySystem   = "system"
)

// Booking is one customer booking for a tenant's package. The checkout
// session id carries the provider-side idempotency key: a webhook delivered
// twice maps onto the same (tenant_id, checkout_session_id) row.
type Booking struct {
	ID                      uint       `gorm:"primaryKey" json:"id"`
	Reference               string     `gorm:"type:varchar(36);not null;uniqueIndex" json:"reference"`
	TenantID                string     `gorm:"type:varchar(64);not null;index;index:ux_bookings_tenant_session,unique,priority:1" json:"tenant_id"`
	CheckoutSessionID       string     `gorm:"type:varchar(191);not null;index:ux_bookings_tenant_session,unique,priority:2" json:"checkout_session_id"`
	PackageID               string     `gorm:"type:varchar(64);not null" json:"package_id"`
	CoupleName              string     `gorm:"type:varchar(255);not null" json:"couple_name"`
	Email                   string     `gorm:"type:varchar(255);not null;index" json:"email"`
	EventDate               string     `gorm:"type:varchar(32);not null" json:"event_date"`
	Status                  string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	TotalCents              int64      `gorm:"not null;default:0" json:"total_cents"`
	IsDeposit               bool       `gorm:"default:false" json:"is_deposit"`
	DepositPercent          int        `gorm:"default:0" json:"deposit_percent"`
	CommissionAmountCents   int64      `gorm:"not null;default:0" json:"commission_amount_cents"`
	CommissionPercent       float64    `gorm:"type:decimal(5,2);default:0" json:"commission_percent"`
	PaymentFailureReason    *string    `gorm:"type:text" json:"payment_failure_reason,omitempty"`
	PaymentFailureCode      *string    `gorm:"type:varchar(64)" json:"payment_failure_code,omitempty"`
	CancelledBy             *string    `gorm:"type:varchar(20)" json:"cancelled_by,omitempty"`
	CancellationReason      *string    `gorm:"type:text" json:"cancellation_reason,omitempty"`
	RefundStatus            string     `gorm:"type:varchar(20);not null;default:'none'" json:"refund_status"`
	RefundedCommissionCents int64      `gorm:"not null;default:0" json:"refunded_commission_cents"`
	GoogleEventID           *string    `gorm:"type:varchar(191)" json:"google_event_id,omitempty"`
	BalancePaidAt           *time.Time `gorm:"type:timestamp;default:null" json:"balance_paid_at,omitempty"`
	CreatedAt               time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt               time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	AddOns []BookingAddOn `gorm:"foreignKey:BookingID" json:"add_ons,omitempty"`
}

// BookingAddOn links a booked add-on to its booking.
type BookingAddOn struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	BookingID uint      `gorm:"not null;index" json:"booking_id"`
	AddOnID   string    `gorm:"type:varchar(64);not null" json:"add_on_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// IsTerminal reports whether the booking can no longer change through the
// normal payment flow.
func (b *Booking) IsTerminal() bool {
	switch b.Status {
	case BookingStatusCanceled, BookingStatusFulfilled, BookingStatusRefunded:
		return true
	default:
		return false
	}
}
