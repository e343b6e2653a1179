// Command server runs the conversation backend: durable chat/message/vote
// storage with degraded-mode tolerance, cursor-paginated history, per-user
// quotas, and resumable generation streams.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/loomchat/go-convo-backend/internal/config"
	httpapi "github.com/loomchat/go-convo-backend/internal/http"
	"github.com/loomchat/go-convo-backend/internal/observability"
	"github.com/loomchat/go-convo-backend/internal/repo"
	"github.com/loomchat/go-convo-backend/internal/streams"
)

// version is stamped by the build via -ldflags.
var version = "dev"

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	setupLogging(cfg)

	ctx := context.Background()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		if err := shutdownOTel(context.Background()); err != nil {
			log.Warn().Err(err).Msg("otel shutdown failed")
		}
	}()

	// The manager memoizes a single acquisition attempt; a store that is
	// down at boot leaves the service running in degraded mode.
	store := repo.NewManager(openStore(cfg))
	if db, err := store.Acquire(); err == nil {
		if err := repo.AutoMigrate(db); err != nil {
			log.Fatal().Err(err).Msg("migration failed")
		}
	}
	defer func() { _ = store.Close() }()

	registry := openRegistry(ctx, cfg)

	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	httpapi.RegisterRoutes(engine, store, registry, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
	log.Info().Msg("server exited")
}

// setupLogging configures the global zerolog logger from config.
func setupLogging(cfg config.Config) {
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// openStore selects Postgres when DATABASE_URL is set, SQLite otherwise.
func openStore(cfg config.Config) repo.OpenFunc {
	if dsn := strings.TrimSpace(cfg.DatabaseURL); dsn != "" {
		return func() (*gorm.DB, error) { return repo.OpenPostgres(dsn) }
	}
	return func() (*gorm.DB, error) { return repo.OpenSQLite(cfg.DBPath) }
}

// openRegistry selects the Redis-backed live-stream registry when REDIS_ADDR
// is set, falling back to process memory. A Redis that is down at boot is
// fatal: unlike the database, a half-configured registry would silently
// break resumption across instances.
func openRegistry(ctx context.Context, cfg config.Config) streams.Registry {
	if cfg.RedisAddr == "" {
		return streams.NewMemoryRegistry()
	}
	reg, err := streams.NewRedisRegistry(ctx, cfg.RedisAddr, cfg.StreamTTL)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis registry unavailable")
	}
	return reg
}
