// Package webapi wires the HTTP surface of the settlement core:
// - wallet: top-up, token purchase and balances
// - withdrawal: user withdrawal requests
// - referral: referral claims
// - admin: operator withdrawal processing and reconciliation
package webapi

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/swagger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kausenergy/settlement/pkg/config"
	referralsvc "github.com/kausenergy/settlement/pkg/service/referral"
	settlementsvc "github.com/kausenergy/settlement/pkg/service/settlement"
	withdrawalsvc "github.com/kausenergy/settlement/pkg/service/withdrawal"
	adminweb "github.com/kausenergy/settlement/webapi/admin"
	"github.com/kausenergy/settlement/webapi/common"
	referralweb "github.com/kausenergy/settlement/webapi/referral"
	walletweb "github.com/kausenergy/settlement/webapi/wallet"
	withdrawalweb "github.com/kausenergy/settlement/webapi/withdrawal"
)

// Deps carries the services the HTTP surface exposes.
type Deps struct {
	Settlement *settlementsvc.Service
	Withdrawal *withdrawalsvc.Service
	Referral   *referralsvc.Service
	Registry   *prometheus.Registry
}

// SetupApp builds the Fiber application with all routes and middleware.
func SetupApp(deps Deps, cfg *config.App) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return common.ProblemDetailsJSON(c, "Internal Server Error", err)
		},
	})

	app.Get("/swagger/*", swagger.New(swagger.Config{
		TryItOutEnabled:      true,
		PersistAuthorization: true,
	}))

	// Rate limiting keyed by client address. Uses X-Forwarded-For when
	// behind a proxy, falling back to X-Real-IP and then the direct IP.
	app.Use(limiter.New(limiter.Config{
		Max:        cfg.RateLimit.MaxRequests,
		Expiration: cfg.RateLimit.Window,
		KeyGenerator: func(c *fiber.Ctx) string {
			if forwardedFor := c.Get("X-Forwarded-For"); forwardedFor != "" {
				if commaIndex := strings.Index(forwardedFor, ","); commaIndex != -1 {
					return strings.TrimSpace(forwardedFor[:commaIndex])
				}
				return strings.TrimSpace(forwardedFor)
			}
			if realIP := c.Get("X-Real-IP"); realIP != "" {
				return realIP
			}
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return common.ProblemDetailsJSON(
				c,
				"Too Many Requests",
				errors.New("rate limit exceeded"),
				fiber.StatusTooManyRequests,
			)
		},
	}))
	app.Use(recover.New())
	app.Use(logger.New())

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString("KAUS settlement API is running")
	})

	if deps.Registry != nil {
		app.Get("/metrics", adaptor.HTTPHandler(
			promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	}

	walletweb.Routes(app, deps.Settlement, cfg)
	withdrawalweb.Routes(app, deps.Withdrawal, cfg)
	referralweb.Routes(app, deps.Referral, cfg)
	adminweb.Routes(app, deps.Withdrawal, deps.Settlement, cfg)
	return app
}
