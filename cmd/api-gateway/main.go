package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/lumina-attendance-api/api/swagger"
	"github.com/noah-isme/lumina-attendance-api/internal/handler"
	"github.com/noah-isme/lumina-attendance-api/internal/ledger"
	internalmiddleware "github.com/noah-isme/lumina-attendance-api/internal/middleware"
	"github.com/noah-isme/lumina-attendance-api/internal/repository"
	"github.com/noah-isme/lumina-attendance-api/internal/service"
	"github.com/noah-isme/lumina-attendance-api/pkg/cache"
	"github.com/noah-isme/lumina-attendance-api/pkg/config"
	"github.com/noah-isme/lumina-attendance-api/pkg/database"
	"github.com/noah-isme/lumina-attendance-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/lumina-attendance-api/pkg/middleware/cors"
	"github.com/noah-isme/lumina-attendance-api/pkg/middleware/ratelimit"
	reqidmiddleware "github.com/noah-isme/lumina-attendance-api/pkg/middleware/requestid"
	"github.com/noah-isme/lumina-attendance-api/pkg/qrtoken"
)

// @title Lumina Attendance API
// @version 1.0.0
// @description QR proof-of-presence attendance with ledger verification
// @BasePath /
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, using in-process locks and rate limits", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	metrics := service.NewMetricsService()

	adapter := ledger.NewHTTPAdapter(ledger.HTTPConfig{
		BaseURL: cfg.Ledger.BaseURL,
		APIKey:  cfg.Ledger.APIKey,
		Timeout: cfg.Ledger.Timeout,
	}, logr.Named("ledger"))
	if adapter.Simulated() {
		logr.Warn("LEDGER_BASE_URL not set, ledger calls are simulated")
	}
	dispatcher := ledger.NewDispatcher(adapter, ledger.DispatcherConfig{
		Workers:      cfg.Ledger.Workers,
		BufferSize:   cfg.Ledger.BufferSize,
		CallTimeout:  cfg.Ledger.Timeout,
		ResponseWait: cfg.Ledger.ResponseWait,
	}, metrics, logr.Named("ledger"))
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	codecOpts := []qrtoken.Option{}
	if cfg.QR.SigningSecret != "" {
		codecOpts = append(codecOpts, qrtoken.WithSigningSecret(cfg.QR.SigningSecret))
	}
	codec := qrtoken.NewCodec(codecOpts...)
	validate := validator.New()

	lectureRepo := repository.NewLectureRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	userRepo := repository.NewUserRepository(db)
	statisticsRepo := repository.NewStatisticsRepository(db)
	lockRepo := repository.NewLockRepository(redisClient, logr)

	authSvc := service.NewAuthService(logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		Issuer:            cfg.JWT.Issuer,
		Audience:          cfg.JWT.Audience,
	})
	sessionSvc := service.NewSessionService(sessionRepo, lectureRepo, userRepo, dispatcher, codec, lockRepo, metrics, validate, logr.Named("sessions"), service.SessionConfig{
		MinDuration:     cfg.Sessions.MinDuration,
		MaxDuration:     cfg.Sessions.MaxDuration,
		DefaultDuration: cfg.Sessions.DefaultDuration,
		LockTTL:         cfg.Sessions.LockTTL,
		LockWait:        cfg.Sessions.LockWait,
	})
	redemptionSvc := service.NewRedemptionService(sessionRepo, attendanceRepo, enrollmentRepo, lectureRepo, userRepo, dispatcher, codec, metrics, validate, logr.Named("attendance"), service.RedemptionConfig{
		MaxTokenAge: cfg.QR.MaxAge,
	})
	statisticsSvc := service.NewStatisticsService(statisticsRepo, attendanceRepo, dispatcher, adapter, logr)
	ledgerSvc := service.NewLedgerService(lectureRepo, userRepo, dispatcher, adapter, logr.Named("ledger"))

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, "/health", "/metrics"))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics))

	metricsHandler := handler.NewMetricsHandler(metrics.Handler(), map[string]handler.ReadinessCheck{
		"database": func(ctx context.Context) error { return db.PingContext(ctx) },
		"redis":    redisCheck(redisClient),
	})
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	handler.Routes{
		Auth:        internalmiddleware.JWT(authSvc),
		RedeemLimit: redeemLimiter(cfg.RateLimit, redisClient, logr),
		Sessions:    handler.NewSessionHandler(sessionSvc),
		Attendance:  handler.NewAttendanceHandler(redemptionSvc),
		Ledger:      handler.NewLedgerHandler(ledgerSvc, statisticsSvc),
	}.Register(r.Group(cfg.APIPrefix))

	serve(ctx, r, cfg.Port, logr)
}

func redeemLimiter(cfg config.RateLimitConfig, client *redis.Client, logr *zap.Logger) gin.HandlerFunc {
	local := ratelimit.NewTokenBucket(cfg.RedeemBurst, cfg.RedeemPerMinute)
	var shared ratelimit.Limiter
	if window := ratelimit.NewRedisWindow(client, cfg.RedeemPerMinute); window != nil {
		shared = window
	}
	return ratelimit.Middleware(shared, local, internalmiddleware.ActorKey, logr)
}

func redisCheck(client *redis.Client) handler.ReadinessCheck {
	return func(ctx context.Context) error {
		if !cache.Healthy(ctx, client) {
			return errors.New("redis ping failed")
		}
		return nil
	}
}

func serve(ctx context.Context, r *gin.Engine, port int, logr *zap.Logger) {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logr.Error("server failed", zap.Error(err))
		}
	case <-ctx.Done():
		logr.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
