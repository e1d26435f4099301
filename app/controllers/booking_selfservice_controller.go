package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/lensbook/backend/app/models"
	"github.com/lensbook/backend/internal/pkg/booking"
	"github.com/lensbook/backend/internal/pkg/bookingtoken"
)

var (
	tokenCodec     *bookingtoken.Codec
	bookingService booking.Service
)

// InitializeSelfServiceController wires the token codec and booking service
// used by the customer self-service routes.
func InitializeSelfServiceController(codec *bookingtoken.Codec, svc booking.Service) {
	tokenCodec = codec
	bookingService = svc
}

type cancelRequest struct {
	Token  string `json:"token"`
	Reason string `json:"reason"`
}

type rescheduleRequest struct {
	Token   string `json:"token"`
	NewDate string `json:"new_date"`
}

// HandleBookingManage returns the booking behind a manage link. Manage
// tokens are read-only and work in every booking state.
func HandleBookingManage(c *fiber.Ctx) error {
	payload, fail := requireToken(c, c.Query("token"), bookingtoken.ActionManage)
	if fail != nil {
		return fail(c)
	}

	ctx, cancel := requestContext()
	defer cancel()

	b, err := bookingService.GetBooking(ctx, payload.TenantID, payload.BookingID)
	if err != nil {
		return bookingError(c, err)
	}
	return c.JSON(fiber.Map{"booking": b})
}

// HandleBookingCancel cancels a booking through a cancel or manage token.
func HandleBookingCancel(c *fiber.Ctx) error {
	var req cancelRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request"})
	}

	payload, fail := requireToken(c, req.Token, bookingtoken.ActionCancel)
	if fail != nil {
		return fail(c)
	}

	ctx, cancel := requestContext()
	defer cancel()

	err := bookingService.CancelBooking(ctx, payload.TenantID, payload.BookingID, models.CancelledByCustomer, req.Reason)
	if errors.Is(err, booking.ErrConflict) {
		// Already canceled: same end state, report success.
		return c.JSON(fiber.Map{"ok": true, "already_canceled": true})
	}
	if err != nil {
		return bookingError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

// HandleBookingReschedule moves the event date through a reschedule or
// manage token.
func HandleBookingReschedule(c *fiber.Ctx) error {
	var req rescheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request"})
	}
	if strings.TrimSpace(req.NewDate) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "new_date_required"})
	}

	payload, fail := requireToken(c, req.Token, bookingtoken.ActionReschedule)
	if fail != nil {
		return fail(c)
	}

	ctx, cancel := requestContext()
	defer cancel()

	if err := bookingService.RescheduleBooking(ctx, payload.TenantID, payload.BookingID, req.NewDate); err != nil {
		return bookingError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

// HandleBookingPayBalance validates a pay-balance token and returns the
// outstanding amount. The actual charge goes through the provider's checkout,
// outside this service.
func HandleBookingPayBalance(c *fiber.Ctx) error {
	payload, fail := requireToken(c, c.Query("token"), bookingtoken.ActionPayBalance)
	if fail != nil {
		return fail(c)
	}

	ctx, cancel := requestContext()
	defer cancel()

	b, err := bookingService.GetBooking(ctx, payload.TenantID, payload.BookingID)
	if err != nil {
		return bookingError(c, err)
	}

	deposit := b.TotalCents * int64(b.DepositPercent) / 100
	return c.JSON(fiber.Map{
		"booking_id":    b.ID,
		"total_cents":   b.TotalCents,
		"balance_cents": b.TotalCents - deposit,
	})
}

// requireToken validates a token for the expected action against live
// booking state. On failure it returns a responder that writes the rejection.
func requireToken(c *fiber.Ctx, token string, action bookingtoken.Action) (*bookingtoken.Payload, func(*fiber.Ctx) error) {
	if strings.TrimSpace(token) == "" {
		return nil, func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "token_required"})
		}
	}

	ctx, cancel := requestContext()
	defer cancel()

	v, err := tokenCodec.Validate(ctx, token, action, bookingService)
	if err != nil {
		log.Errorf("[SelfService] Token validation errored: %v", err)
		return nil, func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "validation_failed"})
		}
	}
	if !v.Valid {
		reason := v.Reason
		return nil, func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": string(reason)})
		}
	}
	return v.Payload, nil
}

func bookingError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, booking.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "booking_not_found"})
	case errors.Is(err, booking.ErrInvalidState):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "invalid_booking_state"})
	default:
		log.Errorf("[SelfService] Booking operation failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "booking_operation_failed"})
	}
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}
