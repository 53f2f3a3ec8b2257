package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/careflow/careflow-api/internal/config"
	"github.com/careflow/careflow-api/internal/email"
	"github.com/careflow/careflow-api/internal/handler/health"
	"github.com/careflow/careflow-api/internal/repository/postgres"
	"github.com/careflow/careflow-api/internal/service/notification"
	"github.com/careflow/careflow-api/internal/worker"
	"github.com/careflow/careflow-api/pkg/logger"
	"github.com/careflow/careflow-api/pkg/messaging/redis"
	"github.com/careflow/careflow-api/pkg/metrics"
	outbox "github.com/careflow/careflow-api/pkg/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	lg := logger.NewLogger(&logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, lg); err != nil {
		lg.Fatal(err, "worker failed")
	}
	lg.Info("worker exited properly")
}

func run(ctx context.Context, cfg *config.Config, lg *logger.Logger) error {
	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	store := postgres.NewStore(db, cfg.Database.MaxTxRetries)

	broker, err := redis.NewRedisBroker(ctx, cfg.Redis, lg.ZL)
	if err != nil {
		return fmt.Errorf("failed to create redis broker: %w", err)
	}
	defer broker.Close()

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics("careflow_worker", reg)

	processor := outbox.NewOutboxProcessor(store, broker, outbox.OutboxProcessorConfig{
		Channel:      cfg.Redis.Channel,
		BatchSize:    cfg.Outbox.BatchSize,
		PollInterval: cfg.Outbox.PollInterval,
		MaxRetries:   cfg.Outbox.MaxRetries,
	}, lg.WithFields(map[string]interface{}{"component": "outbox"}), m)

	notifier := notification.NewService(broker, email.NewService(cfg.Mail, lg.ZL), cfg.Redis.Channel, lg.ZL)
	sweeper := worker.NewOutboxSweeper(store, cfg.Outbox.Retention, cfg.Outbox.SweepInterval, lg.ZL)

	srv := healthServer(cfg.Server.HealthPort, reg, map[string]health.Checker{
		"database": store,
		"redis":    broker,
	})
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error(err, "health server failed")
		}
	}()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		processor.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := notifier.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			lg.Error(err, "notification dispatcher stopped")
		}
	}()
	go func() {
		defer wg.Done()
		sweeper.Start(ctx)
	}()

	<-ctx.Done()
	lg.Info("shutting down worker")

	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		lg.Error(err, "health server shutdown")
	}
	wg.Wait()
	return nil
}

func healthServer(port int, gatherer prometheus.Gatherer, checks map[string]health.Checker) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	health.NewHandler(checks).RegisterRoutes(engine)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: engine,
	}
}
