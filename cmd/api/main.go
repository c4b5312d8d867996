package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"apoyo-citas/internal/config"
	"apoyo-citas/internal/db"
	"apoyo-citas/internal/email"
	"apoyo-citas/internal/escalation"
	apihttp "apoyo-citas/internal/http"
	"apoyo-citas/internal/realtime"
	"apoyo-citas/internal/repository"
	"apoyo-citas/internal/service"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()
	if err := db.Ping(ctx, pool); err != nil {
		logger.Fatal("db ping", zap.Error(err))
	}
	if err := db.EnsureSchema(ctx, pool); err != nil {
		logger.Fatal("db schema", zap.Error(err))
	}

	userRepo := repository.NewPgUserRepository(pool)
	appointmentRepo := repository.NewPgAppointmentRepository(pool)
	messageRepo := repository.NewPgMessageRepository(pool, cfg.TranscriptListen)

	emailSender := email.NewDisabledSender("email sender not configured")
	if cfg.SMTPHost != "" {
		sender, err := email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, cfg.SMTPFromName, cfg.SMTPUseTLS)
		if err != nil {
			logger.Warn("smtp sender init failed", zap.Error(err))
		} else {
			emailSender = sender
		}
	}

	loginWindow := time.Duration(cfg.LoginWindowMinutes) * time.Minute
	var (
		loginLimiter = service.NewLoginRateLimiter(loginWindow, cfg.LoginMaxAttempts)
		tokenStore   service.RefreshTokenStore
		kv           = service.NewMemoryKVStore()
		redisClient  *redis.Client
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed, using in-memory stores", zap.Error(err))
		} else {
			loginLimiter = service.NewRedisLoginRateLimiter(redisClient, loginWindow, cfg.LoginMaxAttempts)
			tokenStore = service.NewRedisRefreshTokenStore(redisClient)
			kv = service.NewRedisKVStore(redisClient)
		}
		cancel()
	}
	jwtSvc := service.NewJWTServiceWithStore(
		cfg.JWTSecret,
		time.Duration(cfg.JWTAccessTTLMinutes)*time.Minute,
		time.Duration(cfg.JWTRefreshTTLMinutes)*time.Minute,
		tokenStore,
	)
	if cfg.JWTSecret == "" {
		logger.Warn("jwt secret not configured")
	}

	var escalations escalation.Publisher = escalation.NoopPublisher{Logger: logger}
	if len(cfg.KafkaBrokers) > 0 {
		escalations = escalation.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaEscalationTopic, logger)
	}
	defer func() {
		if err := escalations.Close(); err != nil {
			logger.Warn("escalation publisher close failed", zap.Error(err))
		}
	}()

	feed := realtime.NewFeed()
	transcriptSvc := service.NewTranscriptService(logger, messageRepo, feed)
	if cfg.TranscriptListen {
		go db.Listen(ctx, pool, repository.TranscriptChannel, logger, transcriptSvc.Notify)
	}

	prefsSvc := service.NewPreferencesService(kv)
	opts := service.DefaultDialogueOptions()
	opts.PurgeOnEnd = cfg.ChatPurgeOnEnd
	opts.ContextTTL = time.Duration(cfg.ChatContextTTLHours) * time.Hour
	dialogueSvc := service.NewDialogueService(logger, transcriptSvc, kv, prefsSvc, escalations, opts)
	registry := service.NewConversationRegistry(logger, dialogueSvc, repository.NewPgChatSessionRepository(pool))
	go registry.RunSweeper(ctx, cfg.ChatIdleTTL, cfg.ChatSweepInterval)

	userSvc := service.NewUserService(logger, userRepo, loginLimiter, cfg.AdminEmails)
	appointmentSvc := service.NewAppointmentService(logger, appointmentRepo, feed, emailSender)

	userHandler := apihttp.NewUserHandler(logger, userSvc, jwtSvc)
	appointmentHandler := apihttp.NewAppointmentHandler(logger, appointmentSvc)
	chatHandler := apihttp.NewChatHandler(logger, registry, prefsSvc)
	router := apihttp.NewRouter(logger, jwtSvc, userHandler, appointmentHandler, chatHandler)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("port", cfg.HTTPPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown failed", zap.Error(err))
	}
	registry.Shutdown(shutdownCtx)
}
