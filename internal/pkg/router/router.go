package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/monitor"

	"github.com/lensbook/backend/app/controllers"
	"github.com/lensbook/backend/internal/pkg/constants"
	"github.com/lensbook/backend/internal/pkg/middleware"
)

type HttpRouter struct {
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// Payment provider webhooks (no CSRF, signature-verified in the receiver)
	app.Post(constants.PaymentWebhookRoute, controllers.HandlePaymentWebhook)

	// Customer self-service, authorized by signed booking tokens
	selfService := app.Group(constants.BookingsRoute)
	selfService.Get("/manage", controllers.HandleBookingManage)
	selfService.Get("/pay-balance", controllers.HandleBookingPayBalance)
	selfService.Post("/cancel", controllers.HandleBookingCancel)
	selfService.Post("/reschedule", controllers.HandleBookingReschedule)

	// Operator endpoints, guarded by the admin API key
	admin := app.Group(constants.AdminRoute, middleware.APIKeyAuthMiddleware())
	admin.Get("/queue/stats", controllers.HandleQueueStats)
	admin.Get("/webhooks/stats", controllers.HandleWebhookStats)
	admin.Get("/monitor", monitor.New(monitor.Config{Title: "Lensbook Backend"}))

	app.Get(constants.HealthRoute, func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"ok": true})
	})
}
