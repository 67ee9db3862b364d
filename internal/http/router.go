// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/ordermesh/go-whatsapp-backend/internal/cache"
	"github.com/ordermesh/go-whatsapp-backend/internal/config"
	"github.com/ordermesh/go-whatsapp-backend/internal/http/handlers"
	"github.com/ordermesh/go-whatsapp-backend/internal/http/middleware"
	"github.com/ordermesh/go-whatsapp-backend/internal/repo"
	"github.com/ordermesh/go-whatsapp-backend/internal/services"
)

// webhookPath is the provider callback endpoint, mounted outside the
// versioned API so the provider-side URL never changes with API versions.
const webhookPath = "/webhooks/whatsapp"

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), rate limiting, CORS
// and security headers, health and metrics endpoints, the provider webhook,
// and the versioned agent-facing API under /api/v*.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing (phone numbers!)
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Rate-limit bypass marker for webhook deliveries, then the limiter
//  8. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, sender services.Sender, cc cache.ConversationCache, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction. Customer phone numbers are PII
	//    and appear in query strings and payloads; never log them raw.
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			"X-API-Key",
		},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Token-bucket rate limiter per user/IP. Webhook deliveries bypass it:
	//    the provider redelivers on non-2xx, so 429s would amplify traffic.
	r.Use(middleware.RateBypass(webhookPath))
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 8) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", "X-Idempotency-Key"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", "X-Idempotency-Key"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Dependency injection: services ← stores/sender/cache
	messages := &repo.MessageRepo{DB: db}
	conversations := &repo.ConversationRepo{DB: db}
	events := &repo.WebhookEventRepo{DB: db}

	if cc == nil {
		cc = cache.Noop{}
	}

	manager := services.NewConversationManager(
		time.Duration(cfg.SLA.ResponseMinutes)*time.Minute,
		time.Duration(cfg.SLA.IdleMinutes)*time.Minute,
	)

	webhookSvc := &services.WebhookService{
		Events:        events,
		Messages:      messages,
		Conversations: conversations,
		Cache:         cc,
		Log:           log.With().Str("component", "webhook_service").Logger(),
	}
	dispatchSvc := &services.DispatchService{
		Messages:      messages,
		Conversations: conversations,
		Sender:        sender,
		Cache:         cc,
		Log:           log.With().Str("component", "dispatch_service").Logger(),
	}
	convSvc := &services.ConversationService{
		Conversations: conversations,
		Manager:       manager,
		Cache:         cc,
		Log:           log.With().Str("component", "conversation_service").Logger(),
	}

	h := handlers.New(webhookSvc, dispatchSvc, messages, convSvc)

	// Provider webhook (unversioned, bypasses the rate limiter)
	r.POST(webhookPath, h.ReceiveWebhook)

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	{
		// Outbound messages
		api.POST("/messages", h.SendMessage)
		api.POST("/messages/:id/retry", h.RetryMessage)

		// Conversations
		api.GET("/conversations", h.ListConversations)
		api.GET("/conversations/search", h.SearchConversations)
		api.GET("/conversations/escalations", h.ListEscalations)
		api.GET("/conversations/:id", h.GetConversation)
		api.GET("/conversations/:id/sla", h.GetConversationSLA)
		api.GET("/conversations/:id/messages", h.ListMessages)
		api.POST("/conversations/:id/assign", h.AssignConversation)
		api.POST("/conversations/:id/resolve", h.ResolveConversation)
		api.POST("/conversations/:id/reopen", h.ReopenConversation)
		api.POST("/conversations/:id/archive", h.ArchiveConversation)
		api.POST("/conversations/:id/read", h.MarkConversationRead)
		api.POST("/conversations/:id/tags", h.AddConversationTag)
		api.DELETE("/conversations/:id/tags/:tag", h.RemoveConversationTag)
		api.PUT("/conversations/:id/priority", h.SetConversationPriority)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
