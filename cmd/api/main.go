package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/okulsys/attendance-api/api/swagger"
	"github.com/okulsys/attendance-api/internal/handler"
	"github.com/okulsys/attendance-api/internal/middleware"
	"github.com/okulsys/attendance-api/internal/models"
	"github.com/okulsys/attendance-api/internal/repository"
	"github.com/okulsys/attendance-api/internal/service"
	"github.com/okulsys/attendance-api/pkg/cache"
	"github.com/okulsys/attendance-api/pkg/config"
	"github.com/okulsys/attendance-api/pkg/database"
	"github.com/okulsys/attendance-api/pkg/jobs"
	"github.com/okulsys/attendance-api/pkg/logger"
	corsmiddleware "github.com/okulsys/attendance-api/pkg/middleware/cors"
	reqidmiddleware "github.com/okulsys/attendance-api/pkg/middleware/requestid"
)

// @title Attendance API
// @version 1.0.0
// @description Attendance tracking service with editable session windows and absence threshold alerts
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("postgres connection failed", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, summary cache disabled", "error", err)
		redisClient = nil
	}

	validate := validator.New()
	metrics := service.NewMetricsService()

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	termRepo := repository.NewTermRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	flagRepo := repository.NewFeatureFlagRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	// Services.
	cacheService := service.NewCacheService(cacheRepo, metrics, cfg.Attendance.SummaryCacheTTL, logr, cfg.Attendance.SummaryCache && redisClient != nil)
	flagService := service.NewFeatureFlagService(flagRepo, userRepo, cfg.Attendance.FlagCacheTTL, service.FlagDefaults{
		CountExcusedAsAbsence: true,
		GracePeriodMinutes:    cfg.Attendance.GracePeriodMinutes,
		EarlyOpenMinutes:      cfg.Attendance.EarlyOpenMinutes,
	}, metrics, logr)
	authService := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		Secret:     cfg.JWT.Secret,
		Expiration: cfg.JWT.Expiration,
		Issuer:     "attendance-api",
	})
	ownership := service.NewOwnershipService(courseRepo)
	policy := service.NewEditabilityPolicy()
	notificationService := service.NewNotificationService(notificationRepo, flagService, logr)
	attendanceService := service.NewAttendanceService(
		sessionRepo, attendanceRepo, termRepo, courseRepo,
		ownership, flagService, policy, notificationService,
		userRepo, cacheService, metrics, validate, logr,
	)
	sessionService := service.NewSessionService(sessionRepo, flagService, policy, userRepo, validate, logr)
	termService := service.NewTermService(termRepo, validate, logr)
	exportService := service.NewExportService(attendanceRepo, flagService, logr)

	// Background web-push fan-out.
	queueCtx, stopQueue := context.WithCancel(context.Background())
	notificationService.StartPushQueue(queueCtx, &service.LoggingPushSender{Logger: logr}, jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		BufferSize: cfg.Notifications.QueueSize,
		MaxRetries: cfg.Notifications.MaxRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
		Logger:     logr,
	})

	// Handlers.
	authHandler := handler.NewAuthHandler(authService)
	attendanceHandler := handler.NewAttendanceHandler(attendanceService)
	sessionHandler := handler.NewSessionHandler(sessionService)
	termHandler := handler.NewTermHandler(termService)
	flagHandler := handler.NewFeatureFlagHandler(flagService)
	notificationHandler := handler.NewNotificationHandler(notificationService)
	studentHandler := handler.NewStudentHandler(attendanceService)
	reportHandler := handler.NewReportHandler(exportService)
	metricsHandler := handler.NewMetricsHandler(metrics)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)

	secured := api.Group("")
	secured.Use(middleware.JWT(authService))
	secured.GET("/auth/me", authHandler.Me)

	teacherOrSupervisor := middleware.RequireRoles(models.RoleTeacher, models.RoleSupervisor)
	supervisorOnly := middleware.RequireRoles(models.RoleSupervisor)

	secured.GET("/sessions", sessionHandler.List)
	secured.GET("/sessions/:id", sessionHandler.Get)
	secured.POST("/sessions", teacherOrSupervisor, sessionHandler.Create)
	secured.PUT("/sessions/:id/lock", supervisorOnly, sessionHandler.SetLock)
	secured.POST("/sessions/:id/attendance", teacherOrSupervisor, attendanceHandler.Submit)
	secured.GET("/sessions/:id/attendance", teacherOrSupervisor, attendanceHandler.ListBySession)

	secured.GET("/terms", termHandler.List)
	secured.GET("/terms/:id", termHandler.Get)
	secured.POST("/terms", supervisorOnly, termHandler.Create)
	secured.PUT("/terms/:id", supervisorOnly, termHandler.Update)

	secured.GET("/students/:id/absence-summary", middleware.RBAC(string(models.RoleTeacher), string(models.RoleSupervisor), "SELF"), studentHandler.AbsenceSummary)

	secured.GET("/flags", supervisorOnly, flagHandler.List)
	secured.PUT("/flags/:key", supervisorOnly, flagHandler.Update)

	secured.GET("/notifications", notificationHandler.List)
	secured.PUT("/notifications/:id/read", notificationHandler.MarkRead)

	if cfg.Reports.Enabled {
		secured.GET("/reports/absence", teacherOrSupervisor,
			middleware.Audit(userRepo, models.AuditActionReportExport, "report"),
			reportHandler.Absence)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
	stopQueue()
	notificationService.StopPushQueue()
}
