package bookingtoken

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lensbook/backend/app/models"
	"github.com/lensbook/backend/internal/pkg/booking"
)

// Action names the self-service operation a token grants on one booking.
type Action string

const (
	// ActionManage is the general-purpose token: it satisfies any requested
	// action.
	ActionManage     Action = "manage"
	ActionReschedule Action = "reschedule"
	ActionCancel     Action = "cancel"
	ActionPayBalance Action = "pay_balance"
)

// Reason explains why validation rejected a token.
type Reason string

const (
	ReasonExpired          Reason = "expired"
	ReasonInvalid          Reason = "invalid"
	ReasonMalformed        Reason = "malformed"
	ReasonBookingNotFound  Reason = "booking_not_found"
	ReasonBookingCanceled  Reason = "booking_canceled"
	ReasonBookingCompleted Reason = "booking_completed"
)

// DefaultTTL is how long an issued token stays cryptographically valid. The
// live state check exists because bookings change faster than this window.
const DefaultTTL = 48 * time.Hour

// Payload is the decoded content of a valid token.
type Payload struct {
	BookingID uint
	TenantID  string
	Action    Action
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Validation is the result of checking a token. Reason is set when Valid is
// false.
type Validation struct {
	Valid   bool
	Reason  Reason
	Payload *Payload
}

// StateReader fetches the live booking so validation can reject tokens whose
// booking moved on since issuance. A nil reader skips the state check.
type StateReader interface {
	GetBooking(ctx context.Context, tenantID string, bookingID uint) (*models.Booking, error)
}

type bookingClaims struct {
	BookingID uint   `json:"booking_id"`
	TenantID  string `json:"tenant_id"`
	Action    string `json:"action"`
	jwt.RegisteredClaims
}

// Codec issues and validates signed self-service tokens. Stateless: validity
// is proven by signature plus expiry, then cross-checked against live state.
type Codec struct {
	secret []byte
	issuer string
}

func NewCodec(secret, issuer string) *Codec {
	return &Codec{secret: []byte(secret), issuer: issuer}
}

// Issue signs a token granting one action on one booking. A zero ttl uses
// DefaultTTL.
func (c *Codec) Issue(bookingID uint, tenantID string, action Action, ttl time.Duration) (string, error) {
	if bookingID == 0 || tenantID == "" {
		return "", errors.New("booking id and tenant id are required")
	}
	if !knownAction(action) {
		return "", errors.New("unknown token action")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := time.Now()
	claims := bookingClaims{
		BookingID: bookingID,
		TenantID:  tenantID,
		Action:    string(action),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(c.secret)
}

// Validate checks signature, expiry, action compatibility and, when a reader
// is supplied, the booking's live state. Lookup failures other than
// not-found are returned as errors, not reasons.
func (c *Codec) Validate(ctx context.Context, token string, expectedAction Action, reader StateReader) (Validation, error) {
	parsed, err := jwt.ParseWithClaims(token, &bookingClaims{}, func(t *jwt.Token) (interface{}, error) {
		// prevent alg confusion
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return invalid(ReasonExpired), nil
		}
		return invalid(ReasonInvalid), nil
	}

	claims, ok := parsed.Claims.(*bookingClaims)
	if !ok || !parsed.Valid {
		return invalid(ReasonInvalid), nil
	}
	if claims.BookingID == 0 || claims.TenantID == "" || !knownAction(Action(claims.Action)) {
		return invalid(ReasonMalformed), nil
	}

	payload := &Payload{
		BookingID: claims.BookingID,
		TenantID:  claims.TenantID,
		Action:    Action(claims.Action),
	}
	if claims.IssuedAt != nil {
		payload.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		payload.ExpiresAt = claims.ExpiresAt.Time
	}

	// A manage token satisfies any action; a narrow token only its own.
	if expectedAction != "" && payload.Action != ActionManage && payload.Action != expectedAction {
		return invalid(ReasonInvalid), nil
	}

	if reader == nil {
		return Validation{Valid: true, Payload: payload}, nil
	}

	requested := expectedAction
	if requested == "" {
		requested = payload.Action
	}

	b, err := reader.GetBooking(ctx, payload.TenantID, payload.BookingID)
	if err != nil {
		if errors.Is(err, booking.ErrNotFound) {
			return invalid(ReasonBookingNotFound), nil
		}
		return Validation{}, err
	}

	if reason, ok := checkState(b.Status, requested); !ok {
		return invalid(reason), nil
	}
	return Validation{Valid: true, Payload: payload}, nil
}

// checkState gates a requested action against the booking's live status.
func checkState(status string, action Action) (Reason, bool) {
	if action == ActionManage {
		// Read-only: allowed in every status, including canceled.
		return "", true
	}

	switch action {
	case ActionPayBalance:
		switch status {
		case models.BookingStatusDepositPaid:
			return "", true
		case models.BookingStatusPaid, models.BookingStatusConfirmed, models.BookingStatusFulfilled:
			return ReasonBookingCompleted, false
		case models.BookingStatusCanceled, models.BookingStatusRefunded:
			return ReasonBookingCanceled, false
		default:
			// Still pending: no deposit was ever paid.
			return ReasonInvalid, false
		}

	case ActionReschedule:
		switch status {
		case models.BookingStatusFulfilled:
			return ReasonBookingCompleted, false
		case models.BookingStatusCanceled, models.BookingStatusRefunded:
			return ReasonBookingCanceled, false
		default:
			return "", true
		}

	case ActionCancel:
		switch status {
		case models.BookingStatusFulfilled:
			return ReasonBookingCompleted, false
		case models.BookingStatusCanceled, models.BookingStatusRefunded:
			return ReasonBookingCanceled, false
		default:
			return "", true
		}
	}

	return ReasonInvalid, false
}

func knownAction(a Action) bool {
	switch a {
	case ActionManage, ActionReschedule, ActionCancel, ActionPayBalance:
		return true
	default:
		return false
	}
}

func invalid(reason Reason) Validation {
	return Validation{Valid: false, Reason: reason}
}
