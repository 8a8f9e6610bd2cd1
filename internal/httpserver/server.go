// Package httpserver exposes the billing ledger over HTTP: service
// endpoints for usage reporting, user endpoints for balance and
// transaction history, and webhook endpoints for the payment and
// subscription providers.
package httpserver

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/cypher-asi/z-billing/internal/app"
)

// Server wraps the Fiber app and configuration.
type Server struct {
	app       *fiber.App
	container *app.Container
}

// New constructs a server with baseline middleware and routes ready.
func New(container *app.Container) (*Server, error) {
	if container == nil {
		return nil, fmt.Errorf("dependency container is required")
	}
	cfg := container.Config
	if cfg == nil {
		return nil, fmt.Errorf("container missing config")
	}

	fiberApp := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ServerHeader:          "z-billing",
		BodyLimit:             cfg.Server.MaxBodyBytes,
		ReadTimeout:           cfg.Server.RequestTimeout(),
		WriteTimeout:          cfg.Server.RequestTimeout(),
	})

	fiberApp.Use(requestid.New())
	fiberApp.Use(logger.New())
	fiberApp.Use(recover.New())
	if cfg.Server.FrontendURL != "" {
		fiberApp.Use(cors.New(cors.Config{
			AllowOrigins: cfg.Server.FrontendURL,
			AllowHeaders: "Authorization, Content-Type, X-Authenticated-User",
		}))
	}

	if container.Observability != nil {
		fiberApp.Use(func(c *fiber.Ctx) error {
			start := time.Now()
			err := c.Next()
			route := ""
			if r := c.Route(); r != nil {
				route = r.Path
			}
			if route == "" {
				route = c.Path()
			}
			container.Observability.RecordHTTPRequest(c.UserContext(), c.Method(), route, c.Response().StatusCode(), time.Since(start))
			return err
		})

		if handler := container.Observability.PrometheusHandler(); handler != nil {
			fiberApp.Get("/metrics", adaptor.HTTPHandler(handler))
		}
	}

	registerRoutes(fiberApp, container)

	return &Server{app: fiberApp, container: container}, nil
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App { return s.app }

// Listen blocks until context cancellation or a fatal listen error occurs.
func (s *Server) Listen(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listen(s.container.Config.Server.ListenAddr)
	}()

	select {
	case <-ctx.Done():
		timeout := s.container.Config.Server.GracefulShutdownDelay
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		err := s.app.ShutdownWithContext(shutdownCtx)
		if err == nil {
			err = <-errCh
		}
		return err
	case err := <-errCh:
		return err
	}
}

func registerRoutes(fiberApp *fiber.App, container *app.Container) {
	fiberApp.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": "z-billing"})
	})

	h := &handlers{
		container: container,
		replay:    newReplayCache(container.Redis, 0),
	}

	// Service surface: backend services report usage with the shared
	// API key.
	service := fiberApp.Group("/v1", serviceAuth(container.Config.Auth.ServiceAPIKey))
	service.Post("/usage", h.reportUsage)
	service.Post("/usage/batch", h.reportUsageBatch)
	service.Post("/usage/check-balance", h.checkBalance)
	service.Post("/accounts", h.createAccount)
	service.Delete("/accounts/:user_id", h.deleteAccount)
	service.Post("/admin/credits", h.adminAddCredits)

	// User surface: the identity of the caller arrives pre-verified in
	// the X-Authenticated-User header (JWT verification happens at the
	// edge, outside this service).
	user := fiberApp.Group("/v1/credits", serviceAuth(container.Config.Auth.ServiceAPIKey), authenticatedUser())
	user.Get("/balance", h.getBalance)
	user.Get("/transactions", h.listTransactions)
	user.Put("/auto-refill", h.configureAutoRefill)
	user.Post("/purchase", h.preparePurchase)

	// Webhook surface: adapters verify provider signatures themselves.
	fiberApp.Post("/webhooks/payments", h.paymentWebhook)
	fiberApp.Post("/webhooks/subscriptions", h.subscriptionWebhook)
}
