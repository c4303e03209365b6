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
	"go.uber.org/zap"

	intDatabase "vocalq-backend/internal/database"
	adminHandler "vocalq-backend/internal/handler/http/admin"
	callHandler "vocalq-backend/internal/handler/http/call"
	knowledgeHandler "vocalq-backend/internal/handler/http/knowledge"
	pushHandler "vocalq-backend/internal/handler/http/push"
	queueHandler "vocalq-backend/internal/handler/http/queue"
	webhookHandler "vocalq-backend/internal/handler/http/webhook"
	wsHandler "vocalq-backend/internal/handler/ws"
	"vocalq-backend/internal/middleware"
	"vocalq-backend/internal/playback"
	"vocalq-backend/internal/provider/deepgram"
	"vocalq-backend/internal/provider/openai"
	"vocalq-backend/internal/provider/qdrant"
	"vocalq-backend/internal/repository/cassandra"
	"vocalq-backend/internal/repository/cockroach"
	"vocalq-backend/internal/repository/redis"
	"vocalq-backend/internal/service/recording"
	"vocalq-backend/internal/session"
	"vocalq-backend/internal/settings"
	"vocalq-backend/internal/turn"
	"vocalq-backend/internal/vad"
	"vocalq-backend/pkg/audit"
	"vocalq-backend/pkg/config"
	"vocalq-backend/pkg/constants"
	pkgDatabase "vocalq-backend/pkg/database"
	"vocalq-backend/pkg/logger"
	"vocalq-backend/pkg/metrics"
	"vocalq-backend/pkg/push"
	"vocalq-backend/pkg/resilience"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(&logger.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Output:   cfg.Log.Output,
		FilePath: cfg.Log.FilePath,
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appMetrics := metrics.NewMetrics(cfg.Server.ServiceName)

	// 2. Connect to CockroachDB and apply the call-record schema
	cockroachDB, err := pkgDatabase.NewCockroachDB(ctx, &pkgDatabase.CockroachConfig{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: int32(cfg.Database.MaxConns),
		MinConns: int32(cfg.Database.MinConns),
		Observer: appMetrics,
	})
	if err != nil {
		logger.Fatal("Failed to connect to CockroachDB", zap.Error(err))
	}
	defer cockroachDB.Close()

	if cfg.Database.Migrate {
		if err := cockroachDB.Migrate(ctx); err != nil {
			logger.Fatal("Failed to migrate CockroachDB", zap.Error(err))
		}
	}
	logger.Info("Connected to CockroachDB")

	// 3. Connect to Redis with degraded mode support
	redisDB := intDatabase.NewRedisDB(&intDatabase.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
		Timeout:  cfg.Redis.Timeout,
	}, appMetrics)
	defer redisDB.Close()

	if err := redisDB.HealthCheck(ctx); err != nil {
		logger.Warn("Redis unavailable at startup, running degraded", zap.Error(err))
	}
	go redisDB.StartHealthCheck(ctx, 10*time.Second)

	// 4. Connect to Cassandra for the transcript log (optional)
	var transcriptRepo *cassandra.TranscriptRepository
	if cfg.Cassandra.Enabled {
		cassandraDB, err := pkgDatabase.NewCassandraDB(&pkgDatabase.CassandraConfig{
			Hosts:    cfg.Cassandra.Hosts,
			Keyspace: cfg.Cassandra.Keyspace,
			Timeout:  cfg.Cassandra.Timeout,
			Observer: appMetrics,
		})
		if err != nil {
			logger.Fatal("Failed to connect to Cassandra", zap.Error(err))
		}
		defer cassandraDB.Close()

		if err := cassandraDB.EnsureSchema(); err != nil {
			logger.Fatal("Failed to create transcript table", zap.Error(err))
		}
		transcriptRepo = cassandra.NewTranscriptRepository(cassandraDB.Session)
		logger.Info("Connected to Cassandra")
	}

	// 5. Initialize Repositories and the settings store
	callRepo := cockroach.NewCallRepository(cockroachDB.Pool)
	queueRepo := cockroach.NewQueueRepository(cockroachDB.Pool)
	deviceRepo := redis.NewDeviceRepository(redisDB)

	defaults := settings.Defaults()
	defaults.Greeting = cfg.Voice.Greeting
	defaults.InboundEnabled = cfg.Voice.InboundEnabled
	settingsStore := settings.NewStore(defaults, redis.NewSettingsRepository(redisDB), logger.Log)
	settingsStore.Load(ctx)
	go settingsStore.Watch(ctx)

	// 6. Initialize providers behind circuit breakers
	openaiClient := openai.NewClient(cfg.OpenAI,
		resilience.NewBreaker("openai", resilience.RealtimeSettings(cfg.OpenAI.Timeout), appMetrics), logger.Log)
	knowledgeBase := qdrant.NewClient(cfg.Qdrant, openaiClient,
		resilience.NewBreaker("qdrant", resilience.RealtimeSettings(3*time.Second), appMetrics), logger.Log)

	var transcriber turn.Transcriber = openaiClient
	if cfg.Voice.Transcriber == "deepgram" {
		transcriber = deepgram.NewTranscriber(cfg.Deepgram,
			resilience.NewBreaker("deepgram", resilience.RealtimeSettings(10*time.Second), appMetrics), logger.Log)
	}

	pacer := playback.NewPacer(constants.PlaybackChunkBytes, constants.PlaybackChunkInterval, appMetrics)
	newProcessor := processorFactory(cfg, transcriber, openaiClient, knowledgeBase, pacer)

	// 7. Initialize Services
	notifier := push.NewNotifier(push.NewProviders(ctx, cfg.Push, logger.Log), deviceRepo, appMetrics, logger.Log)

	var recordings *recording.Service
	if cfg.MinIO.Enabled {
		minioClient, err := recording.NewMinioClient(cfg.MinIO)
		if err != nil {
			logger.Fatal("Failed to create MinIO client", zap.Error(err))
		}
		recordings = recording.NewService(minioClient, cfg.MinIO.Bucket,
			resilience.NewBreaker("minio", resilience.DefaultSettings(), appMetrics), logger.Log)
		if err := recordings.EnsureBucket(ctx); err != nil {
			logger.Fatal("Failed to prepare recording bucket", zap.Error(err))
		}
		logger.Info("Call recording enabled", zap.String("bucket", cfg.MinIO.Bucket))
	}

	// 8. Initialize the monitor hub and the session manager
	monitorHub := wsHandler.NewMonitorHub(redisDB, appMetrics)
	go monitorHub.Run(ctx)

	model := vad.NewModel()
	model.LoadAsync(ctx, vad.LoadSpectralScorer, logger.Log)

	deps := session.Deps{
		Store:         callRepo,
		Monitor:       monitorHub,
		Notifier:      notifier,
		Completer:     openaiClient,
		Model:         model,
		FrameObserver: appMetrics,
		Observer:      appMetrics,
	}
	if transcriptRepo != nil {
		deps.Log = transcriptRepo
	}
	if recordings != nil {
		deps.Recorder = recordings
	}
	manager := session.NewManager(newProcessor, settingsStore, deps, sessionOptions(cfg))

	// 9. Initialize Handlers
	var recordingLinker callHandler.RecordingLinker
	if recordings != nil {
		recordingLinker = recordings
	}
	var transcriptReader callHandler.TranscriptReader
	if transcriptRepo != nil {
		transcriptReader = transcriptRepo
	}
	callHdlr := callHandler.NewHandler(callRepo, transcriptReader, manager, recordingLinker)
	queueHdlr := queueHandler.NewHandler(queueRepo)
	auditLogger := audit.NewLogger(redisDB)
	adminHdlr := adminHandler.NewHandler(settingsStore, auditLogger)
	pushHdlr := pushHandler.NewHandler(deviceRepo, notifier, auditLogger)
	knowledgeHdlr := knowledgeHandler.NewHandler(knowledgeBase, cfg.OpenAI.EmbeddingModel, auditLogger)
	webhookHdlr := webhookHandler.NewHandler(settingsStore, cfg.Server.TrustedProxies)
	mediaGateway := wsHandler.NewMediaGateway(manager, appMetrics)

	webhookLimiter := middleware.NewRateLimiter(redisDB, "webhook",
		cfg.Voice.WebhookRateLimit, constants.WebhookRateWindow, appMetrics)

	// 10. Setup Gin Router
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		logger.Warn("Failed to configure trusted proxies", zap.Error(err))
	}

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware(cfg.Server.AllowedOrigins))
	router.Use(middleware.NewPrometheusMiddleware(appMetrics).Handler())

	router.GET("/health", middleware.HealthCheck(cfg.Server.ServiceName))
	router.GET("/metrics", middleware.MetricsHandler(appMetrics))

	v1 := router.Group("/api/v1",
		middleware.SecurityHeaders(cfg.Server.Environment == "production"),
		middleware.Timeout(constants.DefaultTimeout, appMetrics))
	{
		dbGuard := middleware.PoolGuard(cockroachDB, appMetrics)

		calls := v1.Group("/calls", dbGuard)
		{
			calls.GET("", callHdlr.ListCalls)
			calls.GET("/active", callHdlr.ActiveCalls)
			calls.GET("/analytics", callHdlr.Analytics)
			calls.GET("/:id", callHdlr.GetCall)
			calls.GET("/:id/transcript", callHdlr.GetTranscript)
			calls.GET("/:id/recording", callHdlr.GetRecording)
		}
		v1.POST("/calls/twilio",
			webhookLimiter.Middleware(middleware.CallerKey, webhookHandler.Reject),
			webhookHdlr.IncomingCall)

		queue := v1.Group("/queue", dbGuard)
		{
			queue.GET("", queueHdlr.GetQueue)
			queue.GET("/stats", queueHdlr.GetQueueStats)
			queue.POST("", queueHdlr.AddToQueue)
			queue.PATCH("/:call_id", queueHdlr.UpdateQueueItem)
			queue.DELETE("/:call_id", queueHdlr.RemoveFromQueue)
		}

		kb := v1.Group("/knowledge-base")
		{
			kb.GET("/list", knowledgeHdlr.ListDocuments)
			kb.GET("/info", knowledgeHdlr.GetInfo)
			kb.DELETE("/:doc_id", knowledgeHdlr.DeleteDocument)
		}

		admin := v1.Group("/admin")
		{
			admin.GET("/settings/greeting", adminHdlr.GetGreeting)
			admin.POST("/settings/greeting", adminHdlr.UpdateGreeting)
			admin.GET("/settings/inbound", adminHdlr.GetInbound)
			admin.POST("/settings/inbound", adminHdlr.UpdateInbound)

			admin.GET("/devices", pushHdlr.ListDevices)
			admin.POST("/devices", pushHdlr.RegisterDevice)
			admin.DELETE("/devices", pushHdlr.UnregisterDevice)
			admin.POST("/devices/test", pushHdlr.TestNotification)

			admin.GET("/audit", adminHdlr.AuditLog)
		}
	}

	router.GET(webhookHandler.StreamPath, mediaGateway.ServeWS)
	router.GET("/api/v1/monitor", monitorHub.ServeWS)

	// 11. Start server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Voice service starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("mode", cfg.Voice.Mode),
			zap.String("environment", cfg.Server.Environment))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 12. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down voice service...", zap.Int("active_calls", manager.Count()))

	sessionCtx, sessionCancel := context.WithTimeout(context.Background(), session.ShutdownGrace)
	if err := manager.Shutdown(sessionCtx); err != nil {
		logger.Warn("Calls still finalizing at shutdown", zap.Error(err), zap.Int("remaining", manager.Count()))
	}
	sessionCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	cancel()
	logger.Info("Voice service exited")
}

// processorFactory returns a factory building one turn processor per call in the configured mode
func processorFactory(cfg *config.Config, stt turn.Transcriber, client *openai.Client, kb turn.KnowledgeBase, pacer *playback.Pacer) turn.Factory {
	if cfg.Voice.Mode == string(turn.ModePipeline) {
		pipelineCfg := turn.DefaultPipelineConfig()
		pipelineCfg.HistoryTurns = cfg.Voice.HistoryTurns
		pipelineCfg.KBLimit = cfg.Qdrant.Limit
		return func() turn.Processor {
			return turn.NewPipeline(pipelineCfg, stt, client, client, kb, pacer, logger.Log)
		}
	}

	relayCfg := turn.DefaultRelayConfig(cfg.OpenAI.RealtimeURL, cfg.OpenAI.APIKey)
	relayCfg.Voice = cfg.OpenAI.Voice
	relayCfg.TranscriptionModel = cfg.OpenAI.TranscriptionModel
	relayCfg.ReadyTimeout = constants.RelaySessionReadyTimeout
	relayCfg.KBLimit = cfg.Qdrant.Limit
	return func() turn.Processor {
		return turn.NewRelay(relayCfg, kb, logger.Log)
	}
}

func sessionOptions(cfg *config.Config) session.Options {
	opts := session.DefaultOptions(settings.Defaults())
	opts.VAD.SpeechThreshold = cfg.Voice.SpeechThreshold
	opts.VAD.FallbackRMS = cfg.Voice.FallbackRMS
	opts.VAD.EnergyFloor = cfg.Voice.EnergyFloor
	opts.VAD.GraceRMS = cfg.Voice.GraceRMS
	opts.VAD.SilenceFrames = cfg.Voice.SilenceFrames
	opts.VAD.MaxSpeechFrames = cfg.Voice.MaxSpeechFrames
	opts.Transliterate = cfg.Voice.Transliterate
	if cfg.MinIO.Enabled {
		opts.MaxRecordingBytes = cfg.MinIO.MaxRecordingBytes
	}
	return opts
}
