package webhook

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
)

// CheckoutSession mirrors the provider's checkout object for completed
// checkouts. AmountTotal is the amount actually charged in this checkout,
// which for deposit payments is only a fraction of the booking total.
type CheckoutSession struct {
	ID            string            `json:"id"`
	AmountTotal   int64             `json:"amount_total"`
	CustomerEmail string            `json:"customer_email"`
	PaymentIntent string            `json:"payment_intent"`
	Metadata      map[string]string `json:"metadata"`
}

// PaymentIntent mirrors the provider's intent object on failure events.
type PaymentIntent struct {
	ID               string            `json:"id"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *PaymentError     `json:"last_payment_error"`
}

type PaymentError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CheckoutMetadata is the only trusted representation of a checkout payload's
// metadata: everything downstream branches on this struct, never on the raw
// map.
type CheckoutMetadata struct {
	TenantID          string `validate:"required"`
	PackageID         string `validate:"required"`
	EventDate         string `validate:"required"`
	Email             string `validate:"required,email"`
	CoupleName        string `validate:"required"`
	AddOnIDs          []string
	TotalCents        int64
	AmountCents       int64
	CommissionAmount  *int64
	CommissionPercent *float64
	IsDeposit         bool
	DepositPercent    int
	IsBalancePayment  bool
	BookingID         uint
}

var validate = validator.New()

// ParseCheckoutMetadata decodes the provider metadata map into the trusted
// representation. Malformed optional fields are logged and dropped; only the
// schema check in ValidateCheckout fails the event.
func ParseCheckoutMetadata(raw map[string]string) CheckoutMetadata {
	m := CheckoutMetadata{
		TenantID:   strings.TrimSpace(raw["tenant_id"]),
		PackageID:  strings.TrimSpace(raw["package_id"]),
		EventDate:  strings.TrimSpace(raw["event_date"]),
		Email:      strings.TrimSpace(raw["email"]),
		CoupleName: strings.TrimSpace(raw["couple_name"]),
	}

	m.AddOnIDs = parseAddOnIDs(raw["add_on_ids"])
	m.TotalCents = parseInt64(raw["total_cents"])
	m.AmountCents = parseInt64(raw["amount_cents"])
	m.IsDeposit = parseBool(raw["is_deposit"])
	m.DepositPercent = int(parseInt64(raw["deposit_percent"]))
	m.IsBalancePayment = parseBool(raw["is_balance_payment"])
	m.BookingID = uint(parseInt64(raw["booking_id"]))

	if v, ok := raw["commission_amount"]; ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			m.CommissionAmount = &n
		}
	}
	if v, ok := raw["commission_percent"]; ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			m.CommissionPercent = &f
		}
	}

	return m
}

// ValidateCheckout enforces the strict schema for booking-creating checkouts.
// The returned error lists field names only; raw values never leave the logs.
func ValidateCheckout(m CheckoutMetadata) error {
	if err := validate.Struct(m); err != nil {
		var invalid []string
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				invalid = append(invalid, fe.Field())
			}
		}
		if len(invalid) == 0 {
			return NewValidationError("checkout metadata failed validation")
		}
		return NewValidationError("checkout metadata failed validation: %s", strings.Join(invalid, ", "))
	}
	return nil
}

// parseAddOnIDs decodes the add_on_ids metadata value, a JSON string array.
// Malformed input means "no add-ons", never a failed booking.
func parseAddOnIDs(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		log.Warnf("[Webhook] Ignoring malformed add_on_ids metadata: %v", err)
		return nil
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) != "" {
			out = append(out, strings.TrimSpace(id))
		}
	}
	return out
}

func parseInt64(raw string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func parseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}
