// Command server runs the WhatsApp messaging backend: provider webhook
// ingestion, outbound dispatch, and the agent-facing conversation API.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/ordermesh/go-whatsapp-backend/internal/cache"
	"github.com/ordermesh/go-whatsapp-backend/internal/config"
	httpapi "github.com/ordermesh/go-whatsapp-backend/internal/http"
	"github.com/ordermesh/go-whatsapp-backend/internal/observability"
	"github.com/ordermesh/go-whatsapp-backend/internal/repo"
	"github.com/ordermesh/go-whatsapp-backend/internal/services"
	"github.com/ordermesh/go-whatsapp-backend/internal/sysutil"
	"github.com/ordermesh/go-whatsapp-backend/internal/whatsapp"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	_ = godotenv.Load()
	cfg := config.MustLoad()

	// Logging
	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Info().Str("version", version).Str("port", cfg.Port).Msg("starting server")

	// Tracing
	ctx := context.Background()
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(ctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	// Storage
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	// Conversation cache (optional)
	var cc cache.ConversationCache = cache.Noop{}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable, running without cache")
		} else {
			cc = cache.NewRedisCache(rdb, cfg.Redis.TTL)
			log.Info().Str("addr", cfg.Redis.Addr).Msg("conversation cache enabled")
		}
	}

	// Background conversation sweeps (auto-close idle, archive old resolved)
	sweepCtx, stopSweeps := context.WithCancel(ctx)
	go runSweeper(sweepCtx, db, cc, cfg)
	defer stopSweeps()

	// Provider client
	sender, err := whatsapp.New(whatsapp.Config{
		BaseURL:          cfg.WhatsApp.BaseURL,
		PhoneNumberID:    cfg.WhatsApp.PhoneNumberID,
		AccessToken:      cfg.WhatsApp.AccessToken,
		TemplateLanguage: cfg.WhatsApp.TemplateLanguage,
		Logger:           log.With().Str("component", "whatsapp_client").Logger(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("whatsapp client setup failed")
	}

	// HTTP engine
	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, sender, cc, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen failed")
		}
	}()
	log.Info().Str("addr", srv.Addr).Msg("http server listening")

	// Graceful shutdown on SIGINT/SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("server stopped")
}

const (
	sweepInterval = 5 * time.Minute
	sweepBatch    = 200
	archiveAfter  = 30 * 24 * time.Hour
)

// runSweeper periodically auto-closes idle conversations and archives
// resolved ones past the retention window. Sweeps are idempotent, so a missed
// or doubled tick is harmless.
func runSweeper(ctx context.Context, db *gorm.DB, cc cache.ConversationCache, cfg config.Config) {
	svc := &services.ConversationService{
		Conversations: &repo.ConversationRepo{DB: db},
		Manager: services.NewConversationManager(
			time.Duration(cfg.SLA.ResponseMinutes)*time.Minute,
			time.Duration(cfg.SLA.IdleMinutes)*time.Minute,
		),
		Cache: cc,
		Log:   log.With().Str("component", "sweeper").Logger(),
	}

	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n, err := svc.AutoCloseIdle(ctx, sweepBatch); err != nil {
				log.Warn().Err(err).Msg("auto-close sweep failed")
			} else if n > 0 {
				log.Info().Int("closed", n).Msg("auto-closed idle conversations")
			}
			cutoff := time.Now().UTC().Add(-archiveAfter)
			if n, err := svc.ArchiveResolvedBefore(ctx, cutoff, sweepBatch); err != nil {
				log.Warn().Err(err).Msg("archive sweep failed")
			} else if n > 0 {
				log.Info().Int("archived", n).Msg("archived resolved conversations")
			}
		}
	}
}
