package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/careflow/careflow-api/internal/config"
	appointmenthandler "github.com/careflow/careflow-api/internal/handler/appointment"
	audithandler "github.com/careflow/careflow-api/internal/handler/audit"
	documenthandler "github.com/careflow/careflow-api/internal/handler/document"
	"github.com/careflow/careflow-api/internal/handler/health"
	laborderhandler "github.com/careflow/careflow-api/internal/handler/laborder"
	prescriptionhandler "github.com/careflow/careflow-api/internal/handler/prescription"
	"github.com/careflow/careflow-api/internal/middleware"
	"github.com/careflow/careflow-api/internal/repository"
	"github.com/careflow/careflow-api/internal/repository/memory"
	"github.com/careflow/careflow-api/internal/repository/postgres"
	"github.com/careflow/careflow-api/internal/router"
	"github.com/careflow/careflow-api/internal/service/appointment"
	"github.com/careflow/careflow-api/internal/service/audit"
	"github.com/careflow/careflow-api/internal/service/document"
	"github.com/careflow/careflow-api/internal/service/laborder"
	"github.com/careflow/careflow-api/internal/service/prescription"
	"github.com/careflow/careflow-api/internal/service/txn"
	"github.com/careflow/careflow-api/pkg/auth"
	"github.com/careflow/careflow-api/pkg/circuitbreaker"
	"github.com/careflow/careflow-api/pkg/logger"
	"github.com/careflow/careflow-api/pkg/metrics"
	"github.com/careflow/careflow-api/pkg/storage"
	blobs "github.com/careflow/careflow-api/pkg/storage/memory"
	"github.com/careflow/careflow-api/pkg/storage/minio"
	"github.com/careflow/careflow-api/pkg/tracing"
)

func serveCmd() *cobra.Command {
	var inMemory bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, lg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, lg, inMemory)
		},
	}
	cmd.Flags().BoolVar(&inMemory, "in-memory", false, "use the in-memory store and object storage (local development only)")
	return cmd
}

type backends struct {
	store   repository.Store
	objects storage.ObjectStore
	checks  map[string]health.Checker
	close   func()
}

func openBackends(ctx context.Context, cfg *config.Config, lg *logger.Logger, inMemory bool) (*backends, error) {
	if inMemory {
		lg.Warn("serving from in-memory storage; data is lost on exit")
		store := memory.NewStore()
		return &backends{
			store:   store,
			objects: blobs.NewStore(),
			checks:  map[string]health.Checker{"database": store},
			close:   func() {},
		}, nil
	}

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		return nil, err
	}
	store := postgres.NewStore(db, cfg.Database.MaxTxRetries)

	minioStore, err := minio.NewStore(ctx, cfg.Storage)
	if err != nil {
		db.Close()
		return nil, err
	}
	breaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultSettings("object-storage"))

	return &backends{
		store:   store,
		objects: storage.NewResilient(minioStore, breaker, cfg.Storage.OperationTimeout),
		checks: map[string]health.Checker{
			"database": store,
			"storage":  minioStore,
		},
		close: func() { db.Close() },
	}, nil
}

func serve(ctx context.Context, cfg *config.Config, lg *logger.Logger, inMemory bool) error {
	tp, err := tracing.Init(ctx, cfg.Tracing, version)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			lg.Error(err, "failed to flush traces")
		}
	}()

	b, err := openBackends(ctx, cfg, lg, inMemory)
	if err != nil {
		return err
	}
	defer b.close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics("careflow", reg)

	coord := txn.NewCoordinator(b.store, b.objects, m, lg.ZL, txn.Config{
		UnitTimeout:         cfg.Workflow.UnitTimeout,
		CompensationTimeout: cfg.Workflow.CompensationTimeout,
	})

	uploads := laborder.Config{MaxUploadBytes: cfg.Storage.MaxUploadBytes, PresignTTL: cfg.Storage.PresignTTL}
	handlers := []router.Handler{
		appointmenthandler.NewHandler(appointment.NewService(coord)),
		prescriptionhandler.NewHandler(prescription.NewService(coord, prescription.Config{
			Validity:           cfg.Workflow.PrescriptionValidity,
			AllowInitialStatus: cfg.Workflow.AllowInitialPrescriptionStatus,
		})),
		laborderhandler.NewHandler(laborder.NewService(coord, uploads)),
		documenthandler.NewHandler(document.NewService(coord, document.Config{
			MaxUploadBytes: cfg.Storage.MaxUploadBytes,
			PresignTTL:     cfg.Storage.PresignTTL,
		})),
		audithandler.NewHandler(audit.NewService(b.store)),
	}

	engine, err := router.New(router.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		RequestTimeout: cfg.Server.RequestTimeout,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateBurst:      cfg.Server.RateLimitBurst,
		MaxUploadBytes: cfg.Storage.MaxUploadBytes,
		CORSConfig:     middleware.DefaultCORSConfig(),
	}, router.Deps{
		Auth:     middleware.NewAuthMiddleware(auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer, 0)),
		Health:   health.NewHandler(b.checks),
		Metrics:  m,
		Gatherer: reg,
		Log:      lg.ZL,
		Handlers: handlers,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           engine,
		ReadHeaderTimeout: cfg.Server.RequestTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		lg.Info("http server listening", "addr", srv.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	lg.Info("shutting down server")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	lg.Info("server exited properly")
	return nil
}
