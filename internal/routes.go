package internal

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"

	"statsnap/internal/config"
	"statsnap/internal/http"
	"statsnap/internal/http/middleware"
)

// SetupSession configures session management on the server.
func SetupSession(srv *cartridge.Server) {
	cfg := config.GetConfig()
	sessionMgr := cartridge.NewSessionManager(cartridge.SessionConfig{
		CookieName: cfg.AppName + "_session",
		Secret:     cfg.GetSessionSecret(),
		TTL:        time.Duration(cfg.GetLoginSessionTimeout()) * time.Second,
		Secure:     cfg.IsProduction(),
		LoginPath:  "/login",
	})
	srv.SetSession(sessionMgr)
}

// MountAppRoutes mounts all application routes using cartridge's route API
func MountAppRoutes(srv *cartridge.Server) {
	SetupSession(srv)

	cfg := config.GetConfig()
	sessionMgr := srv.Session()

	// Rate limiting would get in the way of tests, so it only applies in
	// production.
	conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return limiter(c)
			}
			return c.Next()
		}
	}

	// Stricter rate limiter for auth endpoints to slow brute force attempts
	authRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(10),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	// External trigger endpoint gets a modest limit as well
	triggerRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(30),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	db := srv.GetDBManager().GetConnection()
	logger := srv.GetLogger()

	adminAPIConfig := &cartridge.RouteConfig{
		CustomMiddleware: []fiber.Handler{
			sessionMgr.Middleware(),
		},
	}

	// No Sec-Fetch-Site - the batch trigger is called by external schedulers
	// (cron, curl), not browsers; the API key is the guard.
	syncTriggerConfig := &cartridge.RouteConfig{
		EnableSecFetchSite: cartridge.Bool(false),
		CustomMiddleware: []fiber.Handler{
			triggerRateLimiter,
			middleware.SyncAPIKeyAuth(db, logger),
		},
	}

	loginConfig := &cartridge.RouteConfig{
		CustomMiddleware: []fiber.Handler{authRateLimiter},
	}

	// === HEALTH ===
	srv.Get("/_health", http.HealthIndexAction)
	srv.Head("/_health", http.HealthIndexAction)

	// === AUTHENTICATION ===
	srv.Post("/login", http.ProcessLoginAction, loginConfig)
	srv.Post("/logout", http.LogoutAction)

	// === GOOGLE CONNECT FLOW ===
	srv.Get("/admin/ga/connect", http.ConnectGoogleAction, adminAPIConfig)
	srv.Get("/auth/callback/google", http.GoogleCallbackAction, adminAPIConfig)
	srv.Get("/admin/api/ga/properties", http.ListPropertiesAction, adminAPIConfig)
	srv.Post("/admin/api/ga/property", http.SetPropertyAction, adminAPIConfig)
	srv.Delete("/admin/api/ga", http.DisconnectAction, adminAPIConfig)

	// === DASHBOARD READS ===
	srv.Get("/admin/api/me", http.MeAction, adminAPIConfig)
	srv.Get("/admin/api/overview", http.OverviewIndexAction, adminAPIConfig)
	srv.Get("/admin/api/metrics", http.MetricsIndexAction, adminAPIConfig)
	srv.Get("/admin/api/events", http.EventsIndexAction, adminAPIConfig)
	srv.Get("/admin/api/pages", http.TopPagesIndexAction, adminAPIConfig)
	srv.Get("/admin/api/referrers", http.ReferrersIndexAction, adminAPIConfig)

	// === SYNC TRIGGERS ===
	srv.Post("/admin/api/sync", http.SyncTriggerAction, adminAPIConfig)
	srv.Post("/api/v1/sync/run", http.SyncRunBatchAction, syncTriggerConfig)
}
