package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"talentchat/internal/broadcast"
	"talentchat/internal/config"
	"talentchat/internal/db"
	apihttp "talentchat/internal/http"
	"talentchat/internal/repository"
	"talentchat/internal/service"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
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

	var (
		messageRepo repository.MessageRepository
		userRepo    repository.UserRepository
	)
	switch cfg.StorageBackend {
	case config.StorageBackendMemory:
		logger.Warn("using in-memory message store; messages are lost on restart")
		messageRepo = repository.NewMemoryMessageRepository()
	default:
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
		messageRepo = repository.NewPgMessageRepository(pool)
		userRepo = repository.NewPgUserRepository(pool)
	}

	sendWindow := time.Duration(cfg.SendRateWindowSeconds) * time.Second
	var (
		sendLimiter                      = service.NewSendRateLimiter(sendWindow, cfg.SendRateLimit)
		hub                              = broadcast.NewHub(logger, cfg.BroadcastBuffer)
		broadcaster  service.Broadcaster = hub
		relayEnabled bool
	)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed; broadcast stays local", zap.Error(err))
		} else {
			sendLimiter = service.NewRedisSendRateLimiter(redisClient, sendWindow, cfg.SendRateLimit)
			relay := broadcast.NewRedisRelay(hub, redisClient, logger)
			broadcaster = relay
			relayEnabled = true
			go func() {
				if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("redis relay stopped", zap.Error(err))
				}
			}()
		}
		cancel()
	}

	jwtSvc := service.NewJWTService(cfg.JWTSecret, time.Duration(cfg.JWTAccessTTLMinutes)*time.Minute)
	if cfg.JWTSecret == "" {
		logger.Warn("jwt secret not configured")
	}

	profileSvc := service.NewProfileService(logger, userRepo)
	messageSvc := service.NewMessageService(logger, messageRepo, broadcaster, sendLimiter)
	directorySvc := service.NewDirectoryService(logger, messageRepo, profileSvc)

	router := apihttp.NewRouter(logger, jwtSvc,
		apihttp.NewUserHandler(logger, profileSvc),
		apihttp.NewChatHandler(logger, messageSvc, directorySvc),
		apihttp.NewWSHandler(logger, hub, messageSvc),
	)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", zap.Error(err))
		}
	}()

	logger.Info("starting server",
		zap.String("port", cfg.HTTPPort),
		zap.String("storage_backend", cfg.StorageBackend),
		zap.Bool("redis_relay", relayEnabled),
	)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
}
