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

	_ "github.com/noah-isme/sma-ews-api/api/swagger"
	"github.com/noah-isme/sma-ews-api/internal/handler"
	internalmiddleware "github.com/noah-isme/sma-ews-api/internal/middleware"
	"github.com/noah-isme/sma-ews-api/internal/models"
	"github.com/noah-isme/sma-ews-api/internal/repository"
	"github.com/noah-isme/sma-ews-api/internal/service"
	"github.com/noah-isme/sma-ews-api/pkg/cache"
	"github.com/noah-isme/sma-ews-api/pkg/config"
	"github.com/noah-isme/sma-ews-api/pkg/database"
	"github.com/noah-isme/sma-ews-api/pkg/jobs"
	"github.com/noah-isme/sma-ews-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-ews-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-ews-api/pkg/middleware/requestid"
)

// @title SMA EWS API
// @version 1.0.0
// @description Attendance early-warning system: fingerprint import, identity mapping, daily facts and dropout risk scoring.
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
	metricsService := service.NewMetricsService()

	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	cacheService := service.NewCacheService(cacheRepo, metricsService, cfg.Features.CacheTTL, logr, cfg.Features.Enabled)

	deviceRepo := repository.NewDeviceRepository(db)
	batchRepo := repository.NewBatchRepository(db)
	eventRepo := repository.NewEventRepository(db)
	mappingRepo := repository.NewMappingRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	factRepo := repository.NewAttendanceRepository(db)
	riskRepo := repository.NewRiskRepository(db)
	modelRepo := repository.NewModelRepository(db)

	deviceService := service.NewDeviceService(deviceRepo, batchRepo, metricsService, cfg.School.StudentDepartment, validate, logr)
	eventService := service.NewEventService(batchRepo, eventRepo, deviceRepo, metricsService, validate, logr)
	mappingService := service.NewMappingService(mappingRepo, deviceRepo, studentRepo, cacheService, service.MappingConfig{
		AutoThreshold:     cfg.Matching.AutoThreshold,
		SuggestionFloor:   cfg.Matching.SuggestionFloor,
		MaxSuggestions:    cfg.Matching.MaxSuggestions,
		StudentDepartment: cfg.School.StudentDepartment,
	}, validate, logr)
	attendanceService := service.NewAttendanceService(factRepo, eventRepo, batchRepo, mappingRepo, studentRepo, metricsService, service.AttendanceConfig{
		StartTime:        cfg.School.StartTime,
		GraceMinutes:     cfg.School.GraceMinutes,
		Timezone:         cfg.School.Timezone,
		ConsecutiveAlert: cfg.School.ConsecutiveAlert,
	}, validate, logr)
	featureService := service.NewFeatureService(factRepo, cacheService, service.FeatureConfig{
		AbsenceRatioLimit: cfg.Risk.AbsenceRatioLimit,
		AbsenceCountLimit: cfg.Risk.AbsenceCountLimit,
		CacheTTL:          cfg.Features.CacheTTL,
	}, logr)

	artifactHolder := service.NewArtifactHolder()
	trainingService := service.NewTrainingService(featureService, modelRepo, artifactHolder, metricsService, service.TrainingConfig{
		MinSamples:     cfg.Training.MinSamples,
		TestFraction:   cfg.Training.TestFraction,
		Seed:           cfg.Training.Seed,
		Epochs:         cfg.Training.Epochs,
		LearningRate:   cfg.Training.LearningRate,
		L2:             cfg.Training.L2,
		TreeDepth:      cfg.Training.TreeMaxDepth,
		TreeMinLeaf:    cfg.Training.TreeMinLeaf,
		SMOTENeighbors: cfg.Training.SMOTENeighbors,
		ThresholdStart: cfg.Training.ThresholdStart,
		ThresholdFloor: cfg.Training.ThresholdFloor,
		ThresholdStep:  cfg.Training.ThresholdStep,
		TargetRecall:   cfg.Training.TargetRecall,
	}, logr)

	// The sweep handler closes over riskService, which itself holds the
	// queue for enqueueing. Jobs only run after Start, by which point the
	// service is assigned.
	var riskService *service.RiskService
	queue := jobs.NewQueue("risk-sweep", func(ctx context.Context, job jobs.Job) error {
		classID, _ := job.Payload.(string)
		_, err := riskService.RunSweep(ctx, classID)
		return err
	}, jobs.QueueConfig{
		Workers:    cfg.Jobs.Workers,
		BufferSize: cfg.Jobs.QueueSize,
		MaxRetries: cfg.Jobs.Retries,
		Logger:     logr,
	})
	riskService = service.NewRiskService(featureService, riskRepo, studentRepo, artifactHolder, queue, metricsService, service.RiskConfig{
		AbsenceRatioLimit:     cfg.Risk.AbsenceRatioLimit,
		AbsenceCountLimit:     cfg.Risk.AbsenceCountLimit,
		HeuristicAbsenceRatio: cfg.Risk.HeuristicAbsenceRatio,
		RedProbability:        cfg.Risk.RedProbability,
		YellowProbability:     cfg.Risk.YellowProbability,
	}, validate, logr)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue.Start(rootCtx)
	defer queue.Stop()

	if err := trainingService.LoadLatest(rootCtx); err != nil {
		logr.Sugar().Warnw("could not load latest model artifact, predictions fall back to heuristics until training runs", "error", err)
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsService))

	metricsHandler := handler.NewMetricsHandler(metricsService)
	r.GET("/health", metricsHandler.Health)

	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "postgres": err.Error()})
			return
		}
		if err := redisClient.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	deviceHandler := handler.NewDeviceHandler(deviceService)
	eventHandler := handler.NewEventHandler(eventService)
	mappingHandler := handler.NewMappingHandler(mappingService)
	attendanceHandler := handler.NewAttendanceHandler(attendanceService)
	riskHandler := handler.NewRiskHandler(riskService)
	mlHandler := handler.NewMLHandler(trainingService)

	authed := internalmiddleware.JWT(cfg.JWT.Secret)
	operator := internalmiddleware.RequireRoles(models.RoleOperator, models.RoleAdmin, models.RoleSuperAdmin)
	admin := internalmiddleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin)

	api := r.Group(cfg.APIPrefix)

	api.GET("/devices", deviceHandler.List)
	api.GET("/devices/:id/users", deviceHandler.ListUsers)
	api.POST("/devices/:id/users/sync", authed, operator, deviceHandler.SyncUsers)

	api.POST("/events/batches", authed, operator, eventHandler.Ingest)
	api.GET("/events/batches", eventHandler.ListBatches)
	api.GET("/events/batches/:id", eventHandler.GetBatch)
	api.DELETE("/events/batches/:id", authed, admin, eventHandler.Rollback)

	api.POST("/mappings/auto", authed, operator, mappingHandler.AutoMap)
	api.GET("/mappings/unmapped", mappingHandler.Unmapped)
	api.GET("/mappings/suggestions", mappingHandler.Suggestions)
	api.GET("/mappings/stats", mappingHandler.Stats)
	api.POST("/mappings/bulk-verify", authed, operator, mappingHandler.BulkVerify)
	api.POST("/mappings/:id/verify", authed, operator, mappingHandler.Verify)
	api.DELETE("/mappings/:id", authed, admin, mappingHandler.Delete)

	api.POST("/attendance/process", authed, operator, attendanceHandler.Process)
	api.POST("/attendance/manual", authed, operator, attendanceHandler.Manual)
	api.GET("/attendance/daily", attendanceHandler.Daily)
	api.GET("/attendance/students/:nis", attendanceHandler.StudentHistory)
	api.GET("/attendance/orphans", attendanceHandler.Orphans)

	api.GET("/risk/students/:nis", riskHandler.Predict)
	api.GET("/risk/students/:nis/history", riskHandler.History)
	api.POST("/risk/predict-batch", authed, operator, riskHandler.PredictBatch)
	api.POST("/risk/recalculate", authed, admin, riskHandler.Recalculate)

	api.POST("/ml/train", authed, admin, mlHandler.Train)
	api.GET("/ml/model", mlHandler.Model)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-rootCtx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("server shutdown", "error", err)
	}
}
