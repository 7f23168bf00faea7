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

	"github.com/streamvigil/vigil/config"
	"github.com/streamvigil/vigil/internal/alerts"
	"github.com/streamvigil/vigil/internal/api/handlers"
	"github.com/streamvigil/vigil/internal/api/middleware"
	"github.com/streamvigil/vigil/internal/api/routes"
	"github.com/streamvigil/vigil/internal/cache"
	"github.com/streamvigil/vigil/internal/chatfeed"
	"github.com/streamvigil/vigil/internal/cooldown"
	"github.com/streamvigil/vigil/internal/hub"
	"github.com/streamvigil/vigil/internal/jobs"
	"github.com/streamvigil/vigil/internal/logger"
	"github.com/streamvigil/vigil/internal/media"
	"github.com/streamvigil/vigil/internal/models"
	"github.com/streamvigil/vigil/internal/providers/sentiment"
	"github.com/streamvigil/vigil/internal/providers/stt"
	"github.com/streamvigil/vigil/internal/providers/vision"
	"github.com/streamvigil/vigil/internal/proxy"
	"github.com/streamvigil/vigil/internal/recorder"
	"github.com/streamvigil/vigil/internal/repositories/postgres"
	"github.com/streamvigil/vigil/internal/resolver"
	"github.com/streamvigil/vigil/internal/storage"
	"github.com/streamvigil/vigil/internal/supervisor"
	"github.com/streamvigil/vigil/internal/transcripts"
)

func main() {
	_ = godotenv.Load()
	log := logger.New()

	settings, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	if err := config.InitPostgres(); err != nil {
		log.WithError(err).Fatal("postgres init failed")
	}
	log.Info("postgres connected")

	if err := config.InitRedis(); err != nil {
		log.WithError(err).Fatal("redis init failed")
	}
	log.Info("redis connected")

	db := config.PostgresDB
	rdb := config.RedisClient
	if err := db.AutoMigrate(
		&models.User{}, &models.Stream{}, &models.Assignment{},
		&models.ChatKeyword{}, &models.FlaggedObject{}, &models.DetectionLog{},
	); err != nil {
		log.WithError(err).Fatal("migration failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	streams := postgres.NewStreamRepo(db)
	users := postgres.NewUserRepo(db)
	assignments := postgres.NewAssignmentRepo(db)
	policy := postgres.NewPolicyRepo(db)
	detections := postgres.NewDetectionRepo(db)

	pool := proxy.NewPool(log)
	pool.Refresh(ctx)
	go pool.RunRefresher(ctx, 30*time.Minute)

	res := resolver.New(pool, streams, log)

	realtimeHub := hub.New(rdb, assignments, detections, log)
	go realtimeHub.Run(ctx)

	var telegram alerts.TelegramQueue
	if settings.TelegramToken != "" {
		sender, err := alerts.NewBotSender(settings.TelegramToken)
		if err != nil {
			log.WithError(err).Fatal("telegram bot init failed")
		}
		pool := &alerts.TelegramPool{Redis: rdb, Sender: sender, Logger: log}
		if err := pool.Start(ctx); err != nil {
			log.WithError(err).Fatal("telegram worker pool failed")
		}
		telegram = pool
	}

	var email alerts.EmailSender
	if settings.Mail.Server != "" {
		email = alerts.NewSMTPSender(settings.Mail, log)
	}

	fanout := alerts.NewService(users, realtimeHub, telegram, email,
		alerts.NewDebounce(settings.NotificationDebounce), log)

	var archiver *storage.Archiver
	if settings.ArchiveBucket != "" {
		uploader, err := storage.NewGCSUploader(ctx, settings.ArchiveBucket)
		if err != nil {
			log.WithError(err).Fatal("archive bucket init failed")
		}
		defer uploader.Close()
		archiver = storage.NewArchiver(uploader, log)
	}

	rec := recorder.New(db, assignments, detections, fanout, log).WithUsers(users)
	go rec.RunNameRefresher(ctx, time.Hour)
	if archiver != nil {
		rec.WithArchiver(archiver)
	}

	var visionProvider vision.Provider
	if settings.VisionEndpoint != "" && settings.EnableVideoMonitoring {
		visionProvider = vision.NewYOLOHTTP(settings.VisionEndpoint)
		defer visionProvider.Close()
	}

	var sttProvider stt.Provider
	if settings.EnableAudioMonitoring {
		switch settings.STTProvider {
		case "google":
			sttProvider = stt.NewGoogleSpeech("en-US")
		case "whisper":
			sttProvider = stt.NewWhisperHTTP(settings.STTEndpoint, settings.WhisperModelSize)
		}
		if sttProvider != nil {
			defer sttProvider.Close()
		}
	}

	var scorer sentiment.Analyzer
	if settings.SentimentProvider == "vertex" && settings.VertexProject != "" {
		scorer = sentiment.NewVertexGemini(settings.VertexProject, settings.VertexLocation, "gemini-2.0-flash")
	} else {
		scorer = sentiment.NewLexicon()
	}
	defer scorer.Close()

	var chat supervisor.ChatSource
	if settings.EnableChatMonitoring {
		chat = chatfeed.NewPoller(pool, streams, policy, scorer, settings.NegativeSentimentThreshold, log)
	}

	writer := transcripts.NewWriter(settings.TranscriptionDir, log)
	if archiver != nil {
		writer.WithMirror(archiver)
	}

	registry := supervisor.NewRegistry(supervisor.Deps{
		Settings:  settings,
		Streams:   streams,
		Policy:    policy,
		Resolver:  res,
		Prober:    media.NewProber(),
		Sink:      rec,
		Vision:    visionProvider,
		STT:       sttProvider,
		Chat:      chat,
		Writer:    writer,
		Cooldowns: cooldown.NewTable(),
		Cache:     cache.NewRedisCache(rdb),
		Log:       log,
	})
	if err := registry.StartMonitored(ctx); err != nil {
		log.WithError(err).Fatal("could not start monitored streams")
	}

	tracker := jobs.NewTracker()
	go tracker.RunGC(ctx)

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log))
	routes.RegisterRoutes(r, routes.Deps{
		JWTSecret:   settings.JWTSecret,
		Streams:     handlers.NewStreamHandler(streams, assignments, res, registry, tracker, rec, log),
		Detections:  handlers.NewDetectionHandler(detections, realtimeHub),
		Assignments: handlers.NewAssignmentHandler(assignments, users, realtimeHub),
		SSE:         handlers.NewSSEHandler(tracker),
		WS:          handlers.NewWSHandler(realtimeHub),
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{Addr: ":" + port, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()
	log.WithField("port", port).Info("server listening")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	registry.StopAll()
	cancel()
}
