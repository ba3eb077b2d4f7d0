package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Murzuq/Cash-Padi/shared/events"
	"github.com/Murzuq/Cash-Padi/shared/logger"
	"github.com/Murzuq/Cash-Padi/shared/middleware"
	redisClient "github.com/Murzuq/Cash-Padi/shared/redis"
	walletcmd "github.com/Murzuq/Cash-Padi/wallet-service/internal/command"
	"github.com/Murzuq/Cash-Padi/wallet-service/internal/config"
	"github.com/Murzuq/Cash-Padi/wallet-service/internal/engine"
	"github.com/Murzuq/Cash-Padi/wallet-service/internal/handler"
	"github.com/Murzuq/Cash-Padi/wallet-service/internal/metrics"
	walletqry "github.com/Murzuq/Cash-Padi/wallet-service/internal/query"
	"github.com/Murzuq/Cash-Padi/wallet-service/internal/repository"
	"github.com/Murzuq/Cash-Padi/wallet-service/internal/service"
)

type walletStore interface {
	repository.Store
	repository.PinStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	zl, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("wallet service stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, zl)
	if err != nil {
		return err
	}
	defer store.Close()

	// Redis backs the recipient cache, PIN lockout counters and event streams.
	var rdb *redisClient.Client
	if cfg.RedisAddr != "" {
		rdb, err = redisClient.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer rdb.Close()
	}

	var (
		limiter service.AttemptLimiter
		cache   service.RecipientCache
	)
	if rdb != nil {
		limiter = service.NewRedisAttemptLimiter(rdb.Client, "wallet:pin-attempts:", int64(cfg.PinMaxAttempts), cfg.PinLockout)
		cache = redisClient.NewViewCache[service.CachedRecipient](rdb.Client, "wallet:recipient:", cfg.RecipientCacheTTL, zl)
	} else {
		zl.Warn("REDIS_ADDR not set; using in-process PIN limiter and no recipient cache")
		limiter = service.NewMemoryAttemptLimiter(int64(cfg.PinMaxAttempts), cfg.PinLockout)
	}

	publisher, closePublisher, err := newPublisher(cfg, rdb, zl)
	if err != nil {
		return err
	}
	defer closePublisher()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// --- CQRS wiring ---
	pinGate := service.NewPinGate(store, limiter, zl)
	resolver := service.NewRecipientResolver(store, cache, zl)
	eng := engine.New(store, pinGate, resolver, engine.Config{
		LockTimeout:  cfg.LockTimeout,
		WelcomeBonus: cfg.WelcomeBonus,
	}, zl)

	commandSvc := walletcmd.NewWalletCommandService(eng, pinGate, publisher, m, zl)
	querySvc := walletqry.NewWalletQueryService(store, resolver)
	walletHandler := handler.NewWalletHandler(commandSvc, querySvc)

	if cfg.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestIDMiddleware(), middleware.LoggingMiddleware(zl))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "wallet-service"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	v1 := router.Group("/v1/wallet", middleware.AuthMiddleware())
	{
		v1.POST("/accounts", walletHandler.OpenAccount)
		v1.GET("/accounts/me", walletHandler.GetMyAccount)
		v1.PUT("/pin", walletHandler.SetPin)
		v1.POST("/recipients/verify", walletHandler.VerifyRecipient)
		v1.POST("/transfers", walletHandler.Transfer)
		v1.POST("/airtime", walletHandler.BuyAirtime)
		v1.POST("/data", walletHandler.BuyData)
		v1.POST("/bills", walletHandler.PayBill)
		v1.GET("/transactions", walletHandler.ListTransactions)
	}

	if cfg.ServiceToken == "" {
		zl.Warn("SERVICE_TOKEN not set; internal deposit route is disabled")
	}
	internal := router.Group("/internal", middleware.ServiceTokenMiddleware(cfg.ServiceToken))
	internal.POST("/deposits", walletHandler.Deposit)

	if rdb != nil {
		go func() {
			hostname, _ := os.Hostname()
			subscriber := events.NewSubscriber(rdb.Client, events.SubscriberConfig{
				Group:    "wallet-service-group",
				Consumer: "wallet-consumer-" + hostname,
				Stream:   events.UserEventsStream,
				Handler:  commandSvc.HandleUserEvent,
				Logger:   zl,
			})
			if err := subscriber.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				zl.Error("subscriber stopped", zap.Error(err))
			}
		}()
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zl.Info("wallet service starting", zap.String("port", cfg.Port),
			zap.String("store", cfg.StoreDriver), zap.String("broker", cfg.EventBroker))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}

	zl.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg *config.Config, zl *zap.Logger) (walletStore, error) {
	if cfg.StoreDriver == config.StoreMemory {
		zl.Warn("using in-memory store; balances are lost on restart")
		return repository.NewMemoryStore(cfg.LockTimeout), nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := repository.NewPostgresStore(db, cfg.LockTimeout)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func newPublisher(cfg *config.Config, rdb *redisClient.Client, zl *zap.Logger) (events.Publisher, func(), error) {
	switch cfg.EventBroker {
	case config.BrokerRedis:
		if rdb == nil {
			return nil, nil, errors.New("redis event broker needs a redis connection")
		}
		return events.NewRedisPublisher(rdb.Client), func() {}, nil
	case config.BrokerKafka:
		p := events.NewKafkaPublisher(cfg.KafkaBrokers, zl)
		return p, func() {
			if err := p.Close(); err != nil {
				zl.Warn("failed to close kafka writer", zap.Error(err))
			}
		}, nil
	default:
		return events.NopPublisher{}, func() {}, nil
	}
}
