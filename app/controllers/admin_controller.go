package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lensbook/backend/app/models"
	"github.com/lensbook/backend/internal/pkg/database"
	"github.com/lensbook/backend/internal/pkg/jobqueue"
)

var queueManager *jobqueue.Manager

// InitializeAdminController wires the operator endpoints to the queue manager.
func InitializeAdminController(manager *jobqueue.Manager) {
	queueManager = manager
}

// HandleQueueStats reports queue depth and per-status job totals.
func HandleQueueStats(c *fiber.Ctx) error {
	if queueManager == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "queue not running"})
	}

	queue := queueManager.GetQueue()
	ctx := c.UserContext()

	pending, err := queue.GetQueueSize(ctx)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "stats unavailable"})
	}
	processing, err := queue.GetProcessingSize(ctx)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "stats unavailable"})
	}
	stats, err := queue.GetJobStats(ctx)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "stats unavailable"})
	}

	return c.JSON(fiber.Map{
		"running":    queueManager.IsRunning(),
		"pending":    pending,
		"processing": processing,
		"jobs":       stats,
	})
}

// HandleWebhookStats reports the drained per-tenant webhook delivery totals.
func HandleWebhookStats(c *fiber.Ctx) error {
	var rows []models.TenantWebhookStats
	if err := database.GetDB().WithContext(c.UserContext()).
		Order("tenant_id").Find(&rows).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "stats unavailable"})
	}
	return c.JSON(fiber.Map{"tenants": rows})
}
