package constants

// Static route constants
const (
	PaymentWebhookRoute = "/webhooks/payments"
	BookingsRoute       = "/bookings"
	AdminRoute          = "/admin"
	HealthRoute         = "/healthz"
)
