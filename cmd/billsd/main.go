package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/bills-analysis/internal/async"
	"github.com/joseph-ayodele/bills-analysis/internal/common"
	"github.com/joseph-ayodele/bills-analysis/internal/metrics"
	"github.com/joseph-ayodele/bills-analysis/internal/pipeline"
	repo "github.com/joseph-ayodele/bills-analysis/internal/repository"
	"github.com/joseph-ayodele/bills-analysis/internal/server"
	"github.com/joseph-ayodele/bills-analysis/internal/services/batch"
	"github.com/joseph-ayodele/bills-analysis/internal/telemetry"
	"github.com/joseph-ayodele/bills-analysis/internal/worker"
)

const version = "0.1.0"

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Remove time and level attributes, keep message and other variables
			if a.Key == slog.TimeKey || a.Key == slog.LevelKey {
				return slog.Attr{}
			}
			return a
		},
	}))
}

func main() {
	cfg := common.LoadConfig()

	logger := newLogger(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Tracing, version)
	if err != nil {
		logger.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing shutdown", "error", err)
		}
	}()

	batches, closeRepo, err := repo.OpenRepository(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Error("failed to open repository", "driver", cfg.Storage.Driver, "error", err)
		os.Exit(1)
	}
	defer closeRepo()

	backend, err := pipeline.NewFromConfig(cfg, logger)
	if err != nil {
		logger.Error("failed to build processing backend", "error", err)
		os.Exit(1)
	}

	queue := async.NewChannelQueue(logger, async.WithQueueSize(cfg.Queue.Size))
	svc := batch.NewService(batches, queue, cfg.Pipeline.OutputRoot, logger)
	w := worker.New(batches, queue, backend, logger)

	gin.SetMode(gin.ReleaseMode)
	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           server.NewBatchServer(svc, logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsSrv := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: metricsMux, ReadHeaderTimeout: 10 * time.Second}

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", cfg.Server.GRPCAddr, "error", err)
		os.Exit(1)
	}
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	// The worker outlives ctx so the queue can drain on shutdown.
	workerCtx, cancelWorker := context.WithCancel(context.Background())
	defer cancelWorker()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("grpc health listening", "addr", cfg.Server.GRPCAddr)
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		logger.Info("http api listening", "addr", cfg.Server.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("metrics listening", "addr", cfg.Server.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return w.Run(workerCtx)
	})
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	logger.Info("bills-analysis started",
		"version", version,
		"repository", cfg.Storage.Driver,
		"output_root", cfg.Pipeline.OutputRoot,
	)

	// a listener failing also cancels gctx
	<-gctx.Done()
	logger.Info("shutting down")
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), 5*time.Second)
	if err := httpSrv.Shutdown(httpCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	cancelHTTP()

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.Queue.ShutdownTimeout)
	queue.Shutdown(drainCtx)
	cancelDrain()
	cancelWorker()

	metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 2*time.Second)
	_ = metricsSrv.Shutdown(metricsCtx)
	cancelMetrics()
	grpcServer.GracefulStop()

	if err := g.Wait(); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("stopped")
}
