package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"fx-arena/internal/audit"
	"fx-arena/internal/auth"
	"fx-arena/internal/config"
	"fx-arena/internal/contest"
	"fx-arena/internal/db"
	"fx-arena/internal/health"
	"fx-arena/internal/httpserver"
	"fx-arena/internal/margin"
	"fx-arena/internal/notify"
	"fx-arena/internal/orders"
	"fx-arena/internal/pricing"
	"fx-arena/internal/restrict"
	"fx-arena/internal/risk"
	"fx-arena/internal/sweeper"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load failed", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DBDSN)
	if err != nil {
		logger.Error("database connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	var rdb *redis.Client
	redisMode := "memory"
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, falling back to in-memory throttle and uncached feed", "err", err)
			rdb = nil
		} else {
			redisMode = "redis"
			defer rdb.Close()
		}
	}

	liveFeed := pricing.NewLiveFeed()
	var feed pricing.Feed = liveFeed
	if rdb != nil {
		feed = pricing.NewCachedFeed(liveFeed, rdb, 0)
	}

	contestStore := contest.NewStore(pool)
	orderStore := orders.NewStore(pool)
	riskEval := risk.NewEvaluator(orderStore, contestStore, feed)
	notifier := notify.NewLogNotifier(logger)
	auditLog := audit.NewLog(pool, logger)
	orderSvc := orders.NewService(pool, orderStore, contestStore, feed,
		riskEval, restrict.NewAllowAll(), notifier, auditLog, logger, cfg.LockedQuoteMaxAge)

	var throttle margin.Throttle
	if rdb != nil {
		throttle = margin.NewRedisThrottle(rdb, cfg.MarginCheckInterval)
	} else {
		throttle = margin.NewMemoryThrottle(cfg.MarginCheckInterval)
	}
	monitor := margin.NewMonitor(contestStore, orderStore, feed, orderSvc, notifier, throttle, logger)

	sweep := sweeper.New(contestStore, orderSvc, monitor, cfg.SweepInterval, cfg.MarginCheckInterval, logger)
	sweep.Start(ctx)

	if cfg.QuoteFeedURL != "" {
		consumer := pricing.NewConsumer(cfg.QuoteFeedURL, liveFeed, logger)
		consumer.OnTick(sweep.Kick)
		go consumer.Run(ctx)
	} else {
		logger.Warn("QUOTE_FEED_URL not set, quotes must be injected externally")
	}

	authSvc := auth.NewService(cfg.JWTIssuer, []byte(cfg.JWTSecret))
	healthHandler := health.NewHandler(pool, time.Now(), cfg.HTTPAddr, cfg.QuoteFeedURL, redisMode, cfg.InternalToken)
	router := httpserver.NewRouter(httpserver.RouterDeps{
		OrderHandler:  orders.NewHandler(orderSvc),
		MarginHandler: margin.NewHandler(monitor),
		HealthHandler: healthHandler,
		AuthService:   authSvc,
		InternalToken: cfg.InternalToken,
		QuotesWS:      httpserver.NewQuoteStream(feed, "", time.Second),
	})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	logger.Info("server listening", "addr", cfg.HTTPAddr)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
	sweep.Wait()
}
