package api

import (
	"log/slog"
	"net/http"
	"time"

	"ledger-engine/internal/api/handler"
	mw "ledger-engine/internal/api/middleware"
	"ledger-engine/internal/config"
	"ledger-engine/internal/domain/customer"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/traceid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const requestTimeout = 60 * time.Second

// Services are the core components exposed over HTTP.
type Services struct {
	Accounts   handler.AccountService
	Customers  customer.CustomerService
	Onboarding handler.Onboarder
	Rates      handler.Quoter
}

// SetupRouter builds the HTTP router. The returned func stops background
// work started by the middleware and must be called on shutdown.
func SetupRouter(svc Services, cfg *config.Config, logger *slog.Logger) (*chi.Mux, func()) {
	router := chi.NewRouter()

	limiter := mw.NewRateLimiterMiddleware(cfg.Server.RateLimit, logger)
	setupMiddleware(router, limiter, logger)
	setupMetricsEndpoint(router, cfg, logger)
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	authHandler := handler.NewAuthHandler(cfg.Server.Auth, logger)
	router.Route("/auth", func(r chi.Router) {
		r.Post("/token", authHandler.GenerateBearerToken)
	})

	router.Group(func(r chi.Router) {
		r.Use(mw.AuthMiddleware(cfg.Server.Auth, logger))
		setupAccountRoutes(r, svc.Accounts, logger)
		setupCustomerRoutes(r, svc.Customers, logger)
		setupOnboardingRoutes(r, svc.Onboarding, svc.Rates, logger)
	})

	return router, limiter.Stop
}

func setupMiddleware(router *chi.Mux, limiter *mw.RateLimiterMiddleware, logger *slog.Logger) {
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(traceid.Middleware)
	router.Use(mw.StructuredLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Compress(5))
	router.Use(middleware.Timeout(requestTimeout))
	router.Use(limiter.Middleware)
	router.Use(mw.MetricsMiddleware())
}

func setupMetricsEndpoint(router *chi.Mux, cfg *config.Config, logger *slog.Logger) {
	metricsPath := cfg.Metrics.Path
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	logger.Info("Setting up Prometheus metrics endpoint", "path", metricsPath)
	router.Handle(metricsPath, promhttp.Handler())
}

func setupAccountRoutes(r chi.Router, svc handler.AccountService, logger *slog.Logger) {
	h := handler.NewAccountHandler(svc, logger)

	r.Post("/transfers", h.Transfer)
	r.Route("/accounts", func(r chi.Router) {
		r.Post("/", h.OpenAccount)
		r.Route("/{accountID}", func(r chi.Router) {
			r.Get("/", h.GetAccount)
			r.Post("/deposits", h.Deposit)
			r.Post("/withdrawals", h.Withdraw)
			r.Post("/activate", h.Activate)
			r.Post("/freeze", h.Freeze)
			r.Post("/unfreeze", h.Unfreeze)
			r.Post("/close", h.Close)
		})
	})
}

func setupCustomerRoutes(r chi.Router, svc customer.CustomerService, logger *slog.Logger) {
	h := handler.NewCustomerHandler(svc, logger)

	r.Route("/customers", func(r chi.Router) {
		r.Post("/", h.RegisterCustomer)
		r.Route("/{customerID}", func(r chi.Router) {
			r.Get("/", h.GetCustomer)
			r.Delete("/", h.DeleteCustomer)
			r.Get("/profile", h.GetProfile)
			r.Post("/kyc", h.CompleteKYC)
			r.Patch("/contact", h.UpdateContact)
			r.Post("/activate", h.ActivateCustomer)
			r.Post("/freeze", h.FreezeCustomer)
			r.Post("/accounts", h.LinkAccount)
			r.Delete("/accounts/{accountID}", h.UnlinkAccount)
		})
	})
}

func setupOnboardingRoutes(r chi.Router, o handler.Onboarder, q handler.Quoter, logger *slog.Logger) {
	h := handler.NewOnboardingHandler(o, q, logger)

	r.Route("/onboarding/{customerID}", func(r chi.Router) {
		r.Post("/accounts", h.Onboard)
		r.Post("/premium", h.OnboardPremium)
	})
	r.Get("/rates/{from}/{to}", h.GetRate)
}
