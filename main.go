package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/lensbook/backend/app/controllers"
	"github.com/lensbook/backend/internal/pkg/booking"
	"github.com/lensbook/backend/internal/pkg/bookingtoken"
	"github.com/lensbook/backend/internal/pkg/cache"
	"github.com/lensbook/backend/internal/pkg/database"
	"github.com/lensbook/backend/internal/pkg/env"
	"github.com/lensbook/backend/internal/pkg/jobqueue"
	"github.com/lensbook/backend/internal/pkg/mail"
	"github.com/lensbook/backend/internal/pkg/metrics/counter"
	"github.com/lensbook/backend/internal/pkg/router"
	"github.com/lensbook/backend/internal/pkg/webhook"
)

func main() {
	app, shutdown := NewApplication()

	// Graceful shutdown: stop taking requests, then drain the queue workers.
	// Jobs still queued in Redis survive for the next start.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
	if err := app.Listen(addr); err != nil {
		log.Printf("Server stopped: %v", err)
	}

	shutdown()
}

func NewApplication() (*fiber.App, func()) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()

	defaultRate := 12.0
	if v := env.GetEnv("DEFAULT_COMMISSION_PERCENT", ""); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			defaultRate = f
		}
	}

	provider := webhook.NewHMACProvider(env.GetEnv("WEBHOOK_SECRET", ""))
	store := webhook.NewEventStore(db)
	bookings := booking.NewService(db, defaultRate)
	codec := bookingtoken.NewCodec(env.GetEnv("BOOKING_TOKEN_SECRET", ""), "lensbook")

	processor := webhook.NewProcessor(store, bookings, provider)
	processor.SetNotifier(mail.NewBookingNotifier(codec, env.GetEnv("PUBLIC_BASE_URL", "http://localhost:4000")))
	processor.SetStats(counter.Stats{})

	queue := jobqueue.NewQueue(cache.GetClient(), jobqueue.DefaultWorkers)
	manager := jobqueue.NewManager(queue)
	manager.Start(processor.JobHandler())

	receiver := webhook.NewReceiver(provider, store, webhook.NewQueueBinding(queue), processor)
	receiver.SetStats(counter.Stats{})

	counterStop := make(chan struct{})
	counter.StartFlusher(time.Minute, counterStop)

	controllers.InitializeWebhookController(receiver)
	controllers.InitializeSelfServiceController(codec, bookings)
	controllers.InitializeAdminController(manager)

	app := fiber.New(fiber.Config{
		BodyLimit: 1 << 20, // webhook payloads are small
	})
	app.Use(recover.New(), logger.New())

	router.NewHttpRouter().InstallRouter(app)

	shutdown := func() {
		close(counterStop)
		manager.Stop()
	}
	return app, shutdown
}
