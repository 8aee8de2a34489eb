package main // Entry point package

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/iliyamo/memory-gallery/internal/admin"
	"github.com/iliyamo/memory-gallery/internal/caption"
	"github.com/iliyamo/memory-gallery/internal/config"
	"github.com/iliyamo/memory-gallery/internal/database"
	"github.com/iliyamo/memory-gallery/internal/handler"
	"github.com/iliyamo/memory-gallery/internal/logging"
	"github.com/iliyamo/memory-gallery/internal/middleware"
	"github.com/iliyamo/memory-gallery/internal/otp"
	"github.com/iliyamo/memory-gallery/internal/queue"
	"github.com/iliyamo/memory-gallery/internal/repository"
	"github.com/iliyamo/memory-gallery/internal/router"
	"github.com/iliyamo/memory-gallery/internal/service"
)

func main() {
	cfg := config.Load() // Load environment config

	// Structured logger; development mode prints human readable lines.
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }() // flush buffered entries on exit

	// ctx is cancelled on Ctrl+C or SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// MySQL holds users, profiles, refresh tokens and the media catalog.
	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		logger.Fatal("database open failed", zap.Error(err))
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		logger.Fatal("database migration failed", zap.Error(err))
	}

	// Redis is required: the one-time codes live there.
	rdb, err := config.NewRedisClient(config.LoadRedisConfig())
	if err != nil {
		logger.Fatal("redis unavailable", zap.Error(err))
	}
	defer rdb.Close()

	// RabbitMQ publisher for otp.requested and media.changed.
	publisher := service.NewPublisher(cfg.RabbitURL, logger.Named("publisher"))
	codes := otp.NewService(rdb, config.LoadOTPConfig(), publisher, cfg.BcryptCost, logger.Named("otp"))

	// The consumer stands in for the mail/SMS gateway and the audit sink.
	consumer := queue.NewConsumer(cfg.RabbitURL, "logs", logger.Named("consumer"))
	go func() {
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("consumer stopped", zap.Error(err))
		}
	}()

	// Gemini client for reflection captions.
	captions, err := caption.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.CaptionTimeout, logger.Named("caption"))
	if err != nil {
		logger.Fatal("caption client failed", zap.Error(err))
	}

	// Repositories over the shared pool.
	users := repository.NewUserRepo(db)
	profiles := repository.NewProfileRepo(db)
	tokens := repository.NewTokenRepo(db)
	media := repository.NewMediaRepo(db)
	// The admin gate reads the profiles table on every request.
	resolver := admin.NewResolver(repository.AdminProfiles{Users: users, Profiles: profiles}, logger.Named("admin"))

	cacheCfg := config.LoadCacheConfig()
	limit := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, logger.Named("ratelimit"))
	cache := middleware.NewRedisCache(cacheCfg, rdb, logger.Named("cache"))

	e := echo.New() // Create Echo instance
	e.HideBanner = true
	e.Use(echomw.Recover())                                // turn panics into 500s
	e.Use(echomw.RequestID())                              // X-Request-ID on every response
	e.Use(echomw.Logger())                                 // access log
	e.Use(echomw.BodyLimit(bodyLimit(cfg.MaxUploadBytes))) // cap uploads

	router.RegisterRoutes(e) // Register application routes
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, codes, users, tokens, profiles, logger.Named("auth")), cfg.JWTSecret, limit)
	router.RegisterMedia(e,
		handler.NewMediaHandler(media, publisher, cfg, cacheCfg, rdb, logger.Named("media")),
		handler.NewCaptionHandler(captions),
		cfg.JWTSecret, resolver, cache)

	addr := ":" + cfg.Port // Address string with port
	logger.Info("listening", zap.String("addr", addr), zap.String("media_dir", cfg.MediaDir))

	// Serve in the background until a signal arrives.
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	// Give in-flight requests ten seconds to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}

// bodyLimit renders the upload limit in the form echo's BodyLimit expects,
// leaving room for the multipart envelope.
func bodyLimit(maxUpload int64) string {
	return strconv.FormatInt(maxUpload>>20+1, 10) + "M"
}
