package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/campuskit/attendance-api/api/swagger"
	"github.com/campuskit/attendance-api/internal/handler"
	"github.com/campuskit/attendance-api/internal/middleware"
	"github.com/campuskit/attendance-api/internal/models"
	"github.com/campuskit/attendance-api/internal/repository"
	"github.com/campuskit/attendance-api/internal/service"
	"github.com/campuskit/attendance-api/pkg/cache"
	"github.com/campuskit/attendance-api/pkg/config"
	"github.com/campuskit/attendance-api/pkg/database"
	"github.com/campuskit/attendance-api/pkg/logger"
	corsmiddleware "github.com/campuskit/attendance-api/pkg/middleware/cors"
	reqidmiddleware "github.com/campuskit/attendance-api/pkg/middleware/requestid"
)

// @title Campus Attendance API
// @version 1.0.0
// @description Geofenced QR attendance tracking with exam-eligibility reporting
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
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	recordRepo := repository.NewRecordRepository(db)
	blocklist := repository.NewTokenBlocklist(redisClient)
	reportCache := repository.NewReportCache(redisClient)

	authSvc := service.NewAuthService(userRepo, blocklist, validate, logr, service.AuthConfig{
		Secret:             cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})
	userSvc := service.NewUserService(userRepo, validate, logr)
	courseSvc := service.NewCourseService(courseRepo, userRepo, sessionRepo, enrollmentRepo, reportCache, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, userRepo, courseRepo, validate, logr)
	sessionSvc := service.NewSessionService(sessionRepo, courseRepo, enrollmentRepo, recordRepo, reportCache, validate, logr, cfg.Attendance)
	checkinSvc := service.NewCheckinService(sessionRepo, recordRepo, enrollmentRepo, reportCache, validate, logr, cfg.Attendance)
	reportSvc := service.NewReportService(courseRepo, enrollmentRepo, sessionRepo, recordRepo, reportCache, logr, cfg.Attendance)
	exportSvc := service.NewExportService(reportSvc, logr)
	metricsSvc := service.NewMetricsService()

	authHandler := handler.NewAuthHandler(authSvc)
	userHandler := handler.NewUserHandler(userSvc)
	courseHandler := handler.NewCourseHandler(courseSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	sessionHandler := handler.NewSessionHandler(sessionSvc, metricsSvc)
	attendanceHandler := handler.NewAttendanceHandler(checkinSvc, metricsSvc)
	reportHandler := handler.NewReportHandler(reportSvc, exportSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Scrape)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
		auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)
	}

	secured := api.Group("")
	secured.Use(middleware.JWT(authSvc))

	users := secured.Group("/users")
	users.Use(middleware.RequireRoles(models.RoleAdmin))
	{
		users.POST("", userHandler.Create)
		users.GET("", userHandler.List)
	}

	courses := secured.Group("/courses")
	{
		courses.GET("", courseHandler.List)
		courses.GET("/:id", courseHandler.Get)

		manage := courses.Group("")
		manage.Use(middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher))
		{
			manage.POST("", courseHandler.Create)
			manage.PUT("/:id", courseHandler.Update)
			manage.DELETE("/:id", courseHandler.Delete)
			manage.PATCH("/:id/planned-sessions", courseHandler.UpdatePlannedSessions)
			manage.POST("/:id/students", enrollmentHandler.Enroll)
			manage.GET("/:id/students", enrollmentHandler.ListStudents)
			manage.POST("/:id/students/import", enrollmentHandler.Import)
			manage.GET("/:id/eligibility", reportHandler.CourseEligibility)
			manage.GET("/:id/eligibility/export", reportHandler.ExportEligibility)
		}
	}

	sessions := secured.Group("/sessions")
	sessions.Use(middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher))
	{
		sessions.POST("", sessionHandler.Create)
		sessions.GET("", sessionHandler.List)
		sessions.GET("/:id", sessionHandler.Get)
		sessions.POST("/:id/close", sessionHandler.Close)
		sessions.GET("/:id/attendance", sessionHandler.AttendanceSheet)
	}

	attendance := secured.Group("/attendance")
	{
		attendance.POST("/checkin", middleware.RequireRoles(models.RoleStudent), attendanceHandler.CheckIn)
		attendance.GET("/me", middleware.RequireRoles(models.RoleStudent), reportHandler.MyAttendance)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
