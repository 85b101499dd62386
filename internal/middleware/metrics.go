// internal/middleware/metrics.go
package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/SyedDaiam9101/ocr-service/internal/metrics"
)

// UnaryMetricsInterceptor records Prometheus histogram metrics for gRPC unary calls.
// It measures the duration of each call and records it with method and status code labels.
func UnaryMetricsInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		metrics.RecordGRPCLatency(info.FullMethod, statusCode(err), time.Since(start).Seconds())
		return resp, err
	}
}

// UnaryLoggingInterceptor logs one line per call with the request ID, status
// code and duration. Failures are logged at warn level.
func UnaryLoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		fields := []zap.Field{
			zap.String("request_id", GetRequestID(ctx)),
			zap.String("method", info.FullMethod),
			zap.String("code", statusCode(err)),
			zap.Duration("took", time.Since(start)),
		}
		if err != nil {
			logger.Warn("gRPC call failed", append(fields, zap.Error(err))...)
		} else {
			logger.Info("gRPC call", fields...)
		}
		return resp, err
	}
}

func statusCode(err error) string {
	if err == nil {
		return "OK"
	}
	if st, ok := status.FromError(err); ok {
		return st.Code().String()
	}
	return "Unknown"
}
