// Package routes wires the ledger API onto a Fiber app.
package routes

import (
	"log/slog"
	"slices"
	"time"

	"paysa/internal/handlers"
	"paysa/internal/metrics"
	"paysa/internal/middleware"
	"paysa/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

type Deps struct {
	Ledger  handlers.Ledger
	Health  *handlers.HealthHandler
	Metrics *metrics.Prometheus
	// Collector records request metrics. Defaults to Metrics when nil.
	Collector metrics.Collector
	// JWTSecret verifies bearer tokens.
	JWTSecret string
	// PartnerKeyHashes are bcrypt hashes of the API keys allowed to post settlement results.
	PartnerKeyHashes []string
	// RequestsPerMinute caps money-moving requests per client. Zero disables the limiter.
	RequestsPerMinute int
	Logger            *slog.Logger
}

// SetupRoutes configures all application routes.
func SetupRoutes(app *fiber.App, d Deps) {
	collector := d.Collector
	if collector == nil && d.Metrics != nil {
		collector = d.Metrics
	}
	if collector != nil {
		app.Use(middleware.Metrics(collector))
	}

	if d.Health != nil {
		app.Get("/health", d.Health.HealthCheck)
	}
	if d.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(d.Metrics.Handler()))
	}

	transfers := handlers.NewTransferHandler(d.Ledger)
	wallets := handlers.NewWalletHandler(d.Ledger)
	txs := handlers.NewTransactionHandler(d.Ledger)

	api := app.Group("/api/v1")

	// Partner callbacks authenticate with an API key. They are registered before
	// the bearer group so its token check never runs for them.
	partner := api.Group("/settlements", middleware.PartnerKey(d.PartnerKeyHashes, d.Logger))
	partner.Post("/:id/resolve", txs.ResolveSettlement)

	auth := middleware.NewAuthMiddleware(d.JWTSecret, d.Logger)
	authenticated := api.Group("", auth.Handler)

	moving := []fiber.Handler{middleware.HasPermission(models.PermissionTransactionWrite)}
	if d.RequestsPerMinute > 0 {
		moving = append(moving, limiter.New(limiter.Config{
			Max:        d.RequestsPerMinute,
			Expiration: time.Minute,
			KeyGenerator: func(c *fiber.Ctx) string {
				if token := c.Get(fiber.HeaderAuthorization); token != "" {
					return token
				}
				return c.IP()
			},
		}))
	}

	with := func(hs ...fiber.Handler) []fiber.Handler {
		return append(slices.Clone(moving), hs...)
	}

	authenticated.Post("/transfers", with(transfers.Transfer)...)
	authenticated.Post("/cash-in", with(wallets.CashIn)...)
	authenticated.Post("/cash-out", with(middleware.HasPermission(models.PermissionCashOut), wallets.CashOut)...)

	authenticated.Get("/transactions/:id", middleware.HasPermission(models.PermissionTransactionRead), txs.GetTransaction)
	authenticated.Get("/wallets/:currency", middleware.HasPermission(models.PermissionWalletRead), wallets.GetWallet)
}
