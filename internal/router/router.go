package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/Qmop1967/Clients-Console-sub001/internal/handler"
	"github.com/Qmop1967/Clients-Console-sub001/internal/metrics"
	"github.com/Qmop1967/Clients-Console-sub001/internal/middleware"
)

// Secrets holds the shared secrets guarding each route group.
type Secrets struct {
	Webhook       string
	WebhookHeader string
	Sync          string
	Cron          string
}

// Config holds the configuration for creating a router. Nil handlers leave
// their routes unmounted.
type Config struct {
	Handler           *handler.Handler
	WebhookHandler    *handler.WebhookHandler
	SyncHandler       *handler.SyncHandler
	CronHandler       *handler.CronHandler
	RevalidateHandler *handler.RevalidateHandler
	StockHandler      *handler.StockHandler
	AdminHandler      *handler.AdminHandler
	Metrics           *metrics.Metrics
	Secrets           Secrets
	Logger            *zap.Logger
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	webhookHeader := cfg.Secrets.WebhookHeader
	if webhookHeader == "" {
		webhookHeader = "X-Webhook-Secret"
	}

	r := chi.NewRouter()

	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(logger, cfg.Metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Sync-Secret", webhookHeader},
		ExposedHeaders: []string{"X-Request-ID", "X-Cache"},
		MaxAge:         300,
	}))

	syncAuth := middleware.RequireSecret(middleware.SecretConfig{
		Secret:  cfg.Secrets.Sync,
		Sources: []middleware.SecretSource{middleware.FromHeader("X-Sync-Secret"), middleware.FromQuery("secret"), middleware.FromBearer()},
	})
	cronAuth := middleware.RequireSecret(middleware.SecretConfig{
		Secret:  cfg.Secrets.Cron,
		Sources: []middleware.SecretSource{middleware.FromBearer()},
	})
	webhookAuth := middleware.RequireSecret(middleware.SecretConfig{
		Secret:   cfg.Secrets.Webhook,
		Optional: true,
		Sources:  []middleware.SecretSource{middleware.FromHeader(webhookHeader)},
	})

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		if cfg.Handler != nil {
			r.Get("/status", cfg.Handler.Status)
		}

		if cfg.WebhookHandler != nil {
			r.With(webhookAuth).Post("/webhooks/erp", cfg.WebhookHandler.Receive)
		}

		r.Group(func(r chi.Router) {
			r.Use(syncAuth)
			if cfg.SyncHandler != nil {
				r.Get("/sync", cfg.SyncHandler.Sync)
			}
			if cfg.RevalidateHandler != nil {
				r.Get("/revalidate", cfg.RevalidateHandler.Revalidate)
			}
		})

		if cfg.CronHandler != nil {
			r.Route("/cron", func(r chi.Router) {
				r.Use(cronAuth)
				r.Post("/sync-stock", cfg.CronHandler.SyncStock)
				r.Post("/sync-images", cfg.CronHandler.SyncImages)
			})
		}

		r.Route("/v1", func(r chi.Router) {
			if cfg.Handler != nil {
				r.Get("/health", cfg.Handler.Health)
				r.Get("/ready", cfg.Handler.Ready)
			}

			if cfg.StockHandler != nil {
				r.Get("/stock", cfg.StockHandler.ListStock)
				r.Get("/stock/{item_id}", cfg.StockHandler.GetStock)
			}

			if cfg.AdminHandler != nil {
				r.Route("/admin", func(r chi.Router) {
					r.Use(syncAuth)
					r.Get("/stats", cfg.AdminHandler.GetStats)
					r.Get("/history", cfg.AdminHandler.GetHistory)
				})
			}
		})
	})

	return r
}
