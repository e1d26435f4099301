package controllers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/lensbook/backend/internal/pkg/webhook"
)

var webhookReceiver *webhook.Receiver

// InitializeWebhookController wires the receiver used by the webhook route.
func InitializeWebhookController(r *webhook.Receiver) {
	webhookReceiver = r
}

// HandlePaymentWebhook ingests provider notifications. The body must reach
// the receiver as the exact bytes received; parsing it first would break the
// signature.
func HandlePaymentWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("X-Webhook-Signature"))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := webhookReceiver.Handle(ctx, rawBody, signature); err != nil {
		if webhook.IsValidationError(err) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		log.Errorf("[Webhook] Ingestion failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_ingestion_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}
