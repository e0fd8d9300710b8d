package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	natsgo "github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"sudooom.im.messaging/internal/config"
	"sudooom.im.messaging/internal/handler"
	"sudooom.im.messaging/internal/health"
	"sudooom.im.messaging/internal/jwt"
	"sudooom.im.messaging/internal/middleware"
	"sudooom.im.messaging/internal/nats"
	"sudooom.im.messaging/internal/realtime"
	"sudooom.im.messaging/internal/repository"
	"sudooom.im.messaging/internal/router"
	"sudooom.im.messaging/internal/service"
	"sudooom.im.messaging/internal/session"
	"sudooom.im.messaging/internal/snowflake"
)

const fetchTimeout = 10 * time.Second

func main() {
	configPath := "configs/config.yaml"
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		configPath = p
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.App.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server exited", "error", err)
		os.Exit(1)
	}
	logger.Info("Server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	sfNode, err := snowflake.NewNode(cfg.Snowflake.NodeID)
	if err != nil {
		return fmt.Errorf("create snowflake node: %w", err)
	}

	// 存储
	var (
		db        *pgxpool.Pool
		convStore service.ConversationStore
		msgStore  service.MessageStore
	)
	switch cfg.Storage.Driver {
	case config.StorageDriverMemory:
		mem := repository.NewMemoryStore()
		convStore, msgStore = mem, mem
		logger.Warn("Using in-memory storage; data is lost on restart")
	default:
		db, err = connectDatabase(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()
		if err := repository.EnsureSchema(ctx, db); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		convStore = repository.NewConversationRepository(db)
		msgStore = repository.NewMessageRepository(db)
		logger.Info("Connected to PostgreSQL", "host", cfg.Database.Host)
	}

	// Token 校验（可选）
	var (
		redisClient *redis.Client
		tokens      middleware.TokenLookup
	)
	if cfg.Redis.Host != "" {
		redisClient = connectRedis(cfg.Redis)
		defer redisClient.Close()
		tokens = repository.NewTokenRepository(redisClient)
		logger.Info("Connected to Redis", "addr", cfg.Redis.Addr())
	}

	// 实时通道
	var (
		feed      realtime.Feed
		publisher service.Publisher
		nc        *natsgo.Conn
		natsCli   *nats.Client
	)
	switch cfg.Realtime.Driver {
	case config.RealtimeDriverLocal:
		hub := realtime.NewHub()
		feed, publisher = hub, hub
		logger.Info("Using in-process realtime hub")
	default:
		natsCli, err = nats.NewClient(cfg.NATS)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer natsCli.Close()
		nc = natsCli.Conn()
		feed = nats.NewFeed(natsCli)
		publisher = nats.NewEventPublisher(nc)
		logger.Info("Connected to NATS", "url", cfg.NATS.URL)
	}

	convService := service.NewConversationService(convStore, publisher, sfNode)
	receiptService := service.NewReadReceiptService(convStore, publisher)
	messageService := service.NewMessageService(msgStore, publisher, sfNode)

	sessions := session.NewManager(feed, convService, session.Config{
		RetryWait:        cfg.Realtime.RetryWait,
		FallbackInterval: cfg.Reconcile.FallbackInterval,
		SafetyInterval:   cfg.Reconcile.SafetyInterval,
		FetchTimeout:     fetchTimeout,
	})
	defer sessions.Shutdown()
	if natsCli != nil {
		removeWake := natsCli.OnReconnect(sessions.WakeAll)
		defer removeWake()
	}

	jwtService := jwt.NewService(cfg.JWT.SecretKey, cfg.JWT.AccessExpire)

	r := router.SetupRouter(cfg, jwtService, tokens, router.Handlers{
		Conversation: handler.NewConversationHandler(convService, receiptService, sessions),
		Message:      handler.NewMessageHandler(messageService, sessions),
		Unread:       handler.NewUnreadHandler(convService, sessions, cfg.CORS.AllowedOrigins),
	})

	checker := health.NewChecker(nc, redisClient, db, sessions)
	healthMux := http.NewServeMux()
	healthMux.Handle("/health", checker)
	healthMux.Handle("/ready", checker)

	apiServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Messaging server started", "addr", apiServer.Addr, "mode", cfg.App.Mode)
		return serve(apiServer)
	})
	g.Go(func() error {
		logger.Info("Health server started", "addr", healthServer.Addr)
		return serve(healthServer)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// WebSocket 连接已被接管，不会阻塞 Shutdown
		sessions.Shutdown()
		return errors.Join(apiServer.Shutdown(shutdownCtx), healthServer.Shutdown(shutdownCtx))
	})

	return g.Wait()
}

func serve(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// connectDatabase 连接 PostgreSQL
func connectDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, err
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = 10 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// connectRedis 连接 Redis
func connectRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
