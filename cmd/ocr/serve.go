// cmd/ocr/serve.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/SyedDaiam9101/ocr-service/api/ocrv1"
	"github.com/SyedDaiam9101/ocr-service/internal/handler"
	"github.com/SyedDaiam9101/ocr-service/internal/metrics"
	"github.com/SyedDaiam9101/ocr-service/internal/middleware"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var drain time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gRPC recognition server",
		Long: `Start the gRPC recognition server together with an HTTP server that exposes
Prometheus metrics and health endpoints.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts, drain)
		},
	}

	f := cmd.Flags()
	f.Int("port", 50051, "gRPC server port")
	f.Int("metrics-port", 9100, "Prometheus metrics and health port")
	f.Int("max-batch-size", 16, "maximum images per BatchRecognize call")
	f.String("redis", "", "Redis address for the shared result cache (empty keeps the cache local)")
	f.DurationVar(&drain, "drain", 5*time.Second, "time to report NOT_SERVING before stopping")
	addModelFlags(f)
	return cmd
}

func runServe(cmd *cobra.Command, opts *rootOptions, drain time.Duration) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := setup(cmd, opts)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Info("Starting "+serviceName,
		zap.Int("port", cfg.Port),
		zap.Int("metrics_port", cfg.MetricsPort),
		zap.String("redis", cfg.Cache.RedisAddr),
		zap.Bool("otel", cfg.OTELEnabled),
		zap.Bool("mock", cfg.UseMockInference))

	var tp trace.TracerProvider
	if cfg.OTELEnabled {
		sdkTP, err := initTracer(os.Stderr, cfg.OTELEndpoint, logger)
		if err != nil {
			logger.Warn("Failed to initialize tracer", zap.Error(err))
		} else {
			defer shutdownTracer(sdkTP, logger)
			tp = sdkTP
		}
	}

	st, err := buildStack(ctx, cfg, logger, tp, true)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("Failed to release OCR stack", zap.Error(err))
		}
	}()

	healthServer := health.NewServer()

	interceptors := []grpc.UnaryServerInterceptor{
		middleware.UnaryRequestIDInterceptor(logger),
		middleware.UnaryLoggingInterceptor(logger),
		middleware.UnaryMetricsInterceptor(),
	}
	if cfg.OTELEnabled {
		interceptors = append(interceptors, otelgrpc.UnaryServerInterceptor())
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors...))

	h := handler.New(st.recognizer, st.session, handler.Options{
		MaxBatchSize: cfg.MaxBatchSize,
		Logger:       logger,
	})
	ocrv1.RegisterRecognizerServer(grpcServer, h)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	addr := fmt.Sprintf(":%d", cfg.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           newHTTPHandler(healthServer, st.session.IsReady),
		ReadHeaderTimeout: 5 * time.Second,
	}

	setServing(healthServer, healthpb.HealthCheckResponse_SERVING)
	metrics.SetHealthy()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("gRPC server listening", zap.String("addr", addr))
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("gRPC server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("HTTP server listening (metrics, health)", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down gracefully", zap.Duration("drain", drain))

		setServing(healthServer, healthpb.HealthCheckResponse_NOT_SERVING)
		metrics.SetUnhealthy()

		// Let load balancers observe NOT_SERVING before connections close.
		time.Sleep(drain)

		grpcServer.GracefulStop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	logger.Info(serviceName + " is ready to accept requests")
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server shutdown complete")
	return nil
}

func setServing(hs *health.Server, status healthpb.HealthCheckResponse_ServingStatus) {
	hs.SetServingStatus(ocrv1.ServiceName, status)
	hs.SetServingStatus("", status)
}
