// internal/middleware/middleware_test.go
package middleware

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestUnaryRequestIDInterceptor_GeneratesID(t *testing.T) {
	interceptor := UnaryRequestIDInterceptor(nil)

	// Create a mock handler that captures the context
	var capturedCtx context.Context
	mockHandler := func(ctx context.Context, req interface{}) (interface{}, error) {
		capturedCtx = ctx
		return "response", nil
	}

	// Call with empty context (no incoming metadata)
	ctx := context.Background()
	info := &grpc.UnaryServerInfo{FullMethod: "/test.Service/Method"}

	_, err := interceptor(ctx, nil, info, mockHandler)
	if err != nil {
		t.Fatalf("Interceptor failed: %v", err)
	}

	// Verify request ID was generated and added to context
	requestID := GetRequestID(capturedCtx)
	if requestID == "" {
		t.Error("Expected request ID to be generated, got empty string")
	}

	// Verify it looks like a UUID (36 chars with dashes)
	if len(requestID) != 36 {
		t.Errorf("Expected UUID format (36 chars), got %d chars: %s", len(requestID), requestID)
	}
}

func TestUnaryRequestIDInterceptor_PreservesExistingID(t *testing.T) {
	interceptor := UnaryRequestIDInterceptor(nil)

	existingID := "test-request-id-12345"

	var capturedCtx context.Context
	mockHandler := func(ctx context.Context, req interface{}) (interface{}, error) {
		capturedCtx = ctx
		return "response", nil
	}

	// Create context with incoming metadata containing request ID
	md := metadata.Pairs(RequestIDHeader, existingID)
	ctx := metadata.NewIncomingContext(context.Background(), md)
	info := &grpc.UnaryServerInfo{FullMethod: "/test.Service/Method"}

	_, err := interceptor(ctx, nil, info, mockHandler)
	if err != nil {
		t.Fatalf("Interceptor failed: %v", err)
	}

	// Verify the existing request ID was preserved
	requestID := GetRequestID(capturedCtx)
	if requestID != existingID {
		t.Errorf("Expected request ID %s, got %s", existingID, requestID)
	}
}

func TestGetRequestID_EmptyContext(t *testing.T) {
	ctx := context.Background()
	requestID := GetRequestID(ctx)
	if requestID != "" {
		t.Errorf("Expected empty request ID from empty context, got %s", requestID)
	}
}

func TestWithRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "abc")
	if got := GetRequestID(ctx); got != "abc" {
		t.Errorf("Expected request ID abc, got %s", got)
	}
}

func TestUnaryMetricsInterceptor_PassesThrough(t *testing.T) {
	interceptor := UnaryMetricsInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/ocr.v1.Recognizer/Recognize"}

	resp, err := interceptor(context.Background(), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return "response", nil
	})
	if err != nil || resp != "response" {
		t.Fatalf("Expected response to pass through, got %v, %v", resp, err)
	}

	_, err = interceptor(context.Background(), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.InvalidArgument, "bad")
	})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("Expected InvalidArgument to pass through, got %v", err)
	}
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "OK"},
		{status.Error(codes.NotFound, "x"), "NotFound"},
		{context.Canceled, "Unknown"},
	}
	for _, tt := range tests {
		if got := statusCode(tt.err); got != tt.want {
			t.Errorf("statusCode(%v) = %s, expected %s", tt.err, got, tt.want)
		}
	}
}

func TestUnaryLoggingInterceptor(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	interceptor := UnaryLoggingInterceptor(zap.New(core))
	info := &grpc.UnaryServerInfo{FullMethod: "/ocr.v1.Recognizer/Status"}
	ctx := WithRequestID(context.Background(), "req-1")

	_, _ = interceptor(ctx, nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return "ok", nil
	})
	_, _ = interceptor(ctx, nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.Internal, "boom")
	})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("Expected 2 log entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel || entries[1].Level != zapcore.WarnLevel {
		t.Errorf("Unexpected levels: %v, %v", entries[0].Level, entries[1].Level)
	}
	fields := entries[1].ContextMap()
	if fields["request_id"] != "req-1" || fields["code"] != "Internal" {
		t.Errorf("Unexpected fields: %v", fields)
	}
}
