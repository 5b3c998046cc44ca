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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/opencampus/course-reg-api/api/swagger"
	"github.com/opencampus/course-reg-api/internal/handler"
	"github.com/opencampus/course-reg-api/internal/middleware"
	"github.com/opencampus/course-reg-api/internal/models"
	"github.com/opencampus/course-reg-api/internal/repository"
	"github.com/opencampus/course-reg-api/internal/service"
	"github.com/opencampus/course-reg-api/pkg/cache"
	"github.com/opencampus/course-reg-api/pkg/config"
	"github.com/opencampus/course-reg-api/pkg/database"
	"github.com/opencampus/course-reg-api/pkg/jobs"
	"github.com/opencampus/course-reg-api/pkg/logger"
	corsmiddleware "github.com/opencampus/course-reg-api/pkg/middleware/cors"
	reqidmiddleware "github.com/opencampus/course-reg-api/pkg/middleware/requestid"
	"github.com/opencampus/course-reg-api/pkg/storage"
	"github.com/opencampus/course-reg-api/pkg/txn"
)

// @title Course Registration API
// @version 1.0.0
// @description Course registration decision engine
// @BasePath /api/v1
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	// Redis is an accelerator, not a dependency: the engine reads through to
	// postgres when it is absent.
	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, caching disabled", zap.Error(err))
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	store := txn.NewStore(db)
	validate := validator.New()

	offeringRepo := repository.NewOfferingRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	registrationRepo := repository.NewRegistrationRepository(db)
	waitlistRepo := repository.NewWaitlistRepository(db)
	termRepo := repository.NewTermRepository(db)
	userRepo := repository.NewUserRepository(db)

	cacheSvc := service.NewCacheService(redisClient, cfg.Registration.SeatCacheTTL, cfg.Registration.PositionCacheTTL, logr)
	metricsSvc := service.NewMetricsService()

	notifySvc := service.NewNotificationService(jobs.QueueConfig{
		Workers:    cfg.Notify.Workers,
		BufferSize: cfg.Notify.BufferSize,
		MaxRetries: cfg.Notify.MaxRetries,
		RetryDelay: cfg.Notify.RetryDelay,
		Logger:     logr,
	}, logr)

	prereqs := service.NewPrerequisiteChecker()
	conflicts := service.NewConflictDetector()
	ledger := service.NewCreditLedger(studentRepo, service.CreditBounds{
		Min: cfg.Registration.DefaultMinCredits,
		Max: cfg.Registration.DefaultMaxCredits,
	}, logr)
	capacity := service.NewCapacityManager(offeringRepo, waitlistRepo, registrationRepo, cfg.Registration.WaitlistCap, logr)

	registrationSvc := service.NewRegistrationService(
		store,
		offeringRepo,
		studentRepo,
		registrationRepo,
		waitlistRepo,
		prereqs,
		conflicts,
		ledger,
		capacity,
		notifySvc,
		metricsSvc,
		cacheSvc,
		validate,
		logr,
	)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		Secret:     cfg.JWT.Secret,
		Expiration: cfg.JWT.Expiration,
		Issuer:     cfg.JWT.Issuer,
	})
	offeringSvc := service.NewOfferingService(offeringRepo, cacheSvc, logr)
	termSvc := service.NewTermService(termRepo)

	reportStore, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
	if err != nil {
		logr.Fatal("failed to init report storage", zap.Error(err))
	}
	signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)
	reportSvc := service.NewReportService(studentRepo, reportStore, signer, cfg.Registration.DefaultMinCredits, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	offeringHandler := handler.NewOfferingHandler(offeringSvc)
	registrationHandler := handler.NewRegistrationHandler(registrationSvc)
	termHandler := handler.NewTermHandler(termSvc, registrationSvc)
	reportHandler := handler.NewReportHandler(reportSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notifySvc.Start(ctx)
	defer notifySvc.Stop()

	// Expired report files outlive their signed links; sweep them on the
	// link TTL cadence.
	go func() {
		ticker := time.NewTicker(cfg.Reports.SignedURLTTL)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				deleted, err := reportStore.CleanupOlderThan(cfg.Reports.SignedURLTTL)
				if err != nil {
					logr.Warn("report cleanup failed", zap.Error(err))
					continue
				}
				if len(deleted) > 0 {
					logr.Info("expired reports removed", zap.Int("count", len(deleted)))
				}
			}
		}
	}()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)
	}

	authed := api.Group("")
	authed.Use(middleware.JWT(authSvc))

	staffOnly := middleware.RequireRoles(models.RoleRegistrar, models.RoleAdmin)

	terms := authed.Group("/terms")
	{
		terms.GET("", termHandler.List)
		terms.GET("/active", termHandler.Active)
		terms.GET("/:id", termHandler.Get)
		terms.POST("/:id/complete", staffOnly, termHandler.Complete)
	}

	offerings := authed.Group("/offerings")
	{
		offerings.GET("", offeringHandler.List)
		offerings.GET("/:id", offeringHandler.Get)
		offerings.GET("/:id/waitlist", staffOnly, registrationHandler.Waitlist)
		offerings.POST("/:id/waitlist/promote", staffOnly, registrationHandler.ForcePromote)
	}

	registrations := authed.Group("/registrations")
	{
		registrations.POST("", registrationHandler.Submit)
		registrations.GET("", staffOnly, registrationHandler.List)
		registrations.GET("/:id", registrationHandler.Get)
		registrations.POST("/:id/drop", registrationHandler.Drop)
	}

	students := authed.Group("/students/:studentId")
	students.Use(middleware.RBAC(string(models.RoleRegistrar), string(models.RoleAdmin), middleware.Self))
	{
		students.GET("/registrations", registrationHandler.StudentRegistrations)
		students.GET("/schedule", registrationHandler.Schedule)
		students.GET("/waitlist/:offeringId", registrationHandler.WaitlistPosition)
	}

	reports := api.Group("/reports")
	{
		reports.POST("/min-credits", middleware.JWT(authSvc), staffOnly, reportHandler.MinCredit)
		// Download auth is the signed token itself.
		reports.GET("/download", reportHandler.Download)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
