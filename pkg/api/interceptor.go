package api

import (
	"context"
	"strings"

	"github.com/cuemby/sdpcontroller/pkg/metrics"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// readOnlyMethods are the methods allowed on the unix socket
var readOnlyMethods = map[string]bool{
	"Status": true,
	"List":   true,
	"Events": true,
	"Check":  true,
	"Watch":  true,
}

// ReadOnlyInterceptor creates a gRPC unary interceptor that only allows read-only operations.
// This is used for the Unix socket listener so local tools can query but not activate.
func ReadOnlyInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if !isReadOnlyMethod(info.FullMethod) {
			return nil, errReadOnly()
		}
		return handler(ctx, req)
	}
}

// ReadOnlyStreamInterceptor is the streaming counterpart of ReadOnlyInterceptor
func ReadOnlyStreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if !isReadOnlyMethod(info.FullMethod) {
			return errReadOnly()
		}
		return handler(srv, ss)
	}
}

func errReadOnly() error {
	return status.Error(
		codes.PermissionDenied,
		"write operations not allowed on Unix socket - use the TCP API address (--api-addr)",
	)
}

// isReadOnlyMethod checks if a gRPC method is read-only
func isReadOnlyMethod(fullMethod string) bool {
	return readOnlyMethods[methodName(fullMethod)]
}

// methodName extracts the method from a full path
// ("/sdpcontroller.v1.PipelineController/Status" -> "Status")
func methodName(fullMethod string) string {
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-1]
}

// MetricsInterceptor counts and times unary calls by method and status code
func MetricsInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		method := methodName(info.FullMethod)
		timer := metrics.NewTimer()
		resp, err := handler(ctx, req)
		timer.ObserveDurationVec(metrics.APIRequestDuration, method)
		metrics.APIRequestsTotal.WithLabelValues(method, status.Code(err).String()).Inc()
		return resp, err
	}
}

// MetricsStreamInterceptor counts streaming calls when they end
func MetricsStreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		err := handler(srv, ss)
		metrics.APIRequestsTotal.WithLabelValues(methodName(info.FullMethod), status.Code(err).String()).Inc()
		return err
	}
}
