// internal/handler/errors.go
package handler

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/SyedDaiam9101/ocr-service/internal/ocr"
	"github.com/SyedDaiam9101/ocr-service/internal/session"
)

// grpcError maps recognition errors to gRPC status errors
func grpcError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	if errors.Is(err, ocr.ErrInvalidImage) {
		return status.Errorf(codes.InvalidArgument, "image could not be decoded: %v", err)
	}

	switch session.KindOf(err) {
	case session.KindConfiguration:
		return status.Errorf(codes.InvalidArgument, "invalid input: %v", err)

	case session.KindNotReady:
		return status.Errorf(codes.FailedPrecondition, "session not initialized: %v", err)

	case session.KindAccelerationUnavailable:
		return status.Errorf(codes.FailedPrecondition, "GPU acceleration unavailable: %v", err)

	case session.KindBuffer:
		return status.Errorf(codes.Internal, "tensor buffer failure: %v", err)

	case session.KindRuntime:
		return status.Errorf(codes.Internal, "inference execution failed: %v", err)

	default:
		return status.Errorf(codes.Internal, "internal error: %v", err)
	}
}

// invalidArgumentError creates an InvalidArgument gRPC error
func invalidArgumentError(format string, args ...interface{}) error {
	return status.Errorf(codes.InvalidArgument, format, args...)
}

// failedPreconditionError creates a FailedPrecondition gRPC error
func failedPreconditionError(format string, args ...interface{}) error {
	return status.Errorf(codes.FailedPrecondition, format, args...)
}

// internalError creates an Internal gRPC error
func internalError(format string, args ...interface{}) error {
	return status.Errorf(codes.Internal, format, args...)
}
