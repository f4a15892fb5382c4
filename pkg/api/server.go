package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/cuemby/sdpcontroller/pkg/events"
	"github.com/cuemby/sdpcontroller/pkg/log"
	"github.com/cuemby/sdpcontroller/pkg/manager"
	"github.com/cuemby/sdpcontroller/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Lifecycle is the part of the lifecycle manager the API exposes
type Lifecycle interface {
	Activate(ctx context.Context, name string) (string, error)
	Deactivate(ctx context.Context, name string) error
	Status(name string) (*types.StatusReport, error)
	List() []*types.StatusReport
	Receptors() []string
}

var _ Lifecycle = (*manager.Manager)(nil)

// Server implements the PipelineController gRPC service
type Server struct {
	lifecycle Lifecycle
	broker    *events.Broker
	grpc      *grpc.Server
	unix      *grpc.Server
	health    *health.Server
	logger    zerolog.Logger
	stopOnce  sync.Once
	stopCh    chan struct{}
}

var _ PipelineControllerServer = (*Server)(nil)

// NewServer creates a new API server. broker may be nil, in which case the
// Events stream is unavailable.
func NewServer(lc Lifecycle, broker *events.Broker) *Server {
	s := &Server{
		lifecycle: lc,
		broker:    broker,
		health:    health.NewServer(),
		logger:    log.WithComponent("api"),
		stopCh:    make(chan struct{}),
	}
	s.grpc = grpc.NewServer(
		grpc.ChainUnaryInterceptor(MetricsInterceptor()),
		grpc.ChainStreamInterceptor(MetricsStreamInterceptor()),
	)
	s.unix = grpc.NewServer(
		grpc.ChainUnaryInterceptor(ReadOnlyInterceptor(), MetricsInterceptor()),
		grpc.ChainStreamInterceptor(ReadOnlyStreamInterceptor(), MetricsStreamInterceptor()),
	)
	s.register(s.grpc)
	s.register(s.unix)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

func (s *Server) register(g *grpc.Server) {
	g.RegisterService(&ServiceDesc, s)
	healthpb.RegisterHealthServer(g, s.health)
}

// Start listens on addr and serves until Stop
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC API listening")
	return s.Serve(lis)
}

// Serve serves the full API on an existing listener
func (s *Server) Serve(lis net.Listener) error {
	return serve(s.grpc, lis)
}

// StartUnix serves the read-only API on a unix socket. A stale socket file
// from an earlier run is replaced.
func (s *Server) StartUnix(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove stale socket: %w", err)
	}
	lis, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.logger.Info().Str("socket", path).Msg("read-only API listening")
	return s.ServeReadOnly(lis)
}

// ServeReadOnly serves only the query methods on an existing listener
func (s *Server) ServeReadOnly(lis net.Listener) error {
	return serve(s.unix, lis)
}

func serve(g *grpc.Server, lis net.Listener) error {
	if err := g.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop marks the service as not serving, ends open event streams and
// gracefully stops both servers
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.health.Shutdown()
		close(s.stopCh)
		s.unix.GracefulStop()
		s.grpc.GracefulStop()
	})
}

// Activate starts a pipeline for the named subarray and returns the instance ID
func (s *Server) Activate(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	id, err := s.lifecycle.Activate(ctx, req.GetValue())
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return wrapperspb.String(id), nil
}

// Deactivate stops the named subarray's pipeline
func (s *Server) Deactivate(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if err := s.lifecycle.Deactivate(ctx, req.GetValue()); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &emptypb.Empty{}, nil
}

// Status reports the named subarray's lifecycle state
func (s *Server) Status(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	report, err := s.lifecycle.Status(req.GetValue())
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	out, err := EncodeStruct(report)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return out, nil
}

// List reports the receptor pool and every configured subarray
func (s *Server) List(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	out, err := EncodeStruct(&Overview{
		Receptors: s.lifecycle.Receptors(),
		Subarrays: s.lifecycle.List(),
	})
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return out, nil
}

// Events streams lifecycle events until the client goes away or the
// broker stops
func (s *Server) Events(_ *emptypb.Empty, stream grpc.ServerStream) error {
	if s.broker == nil {
		return status.Error(codes.Unavailable, "event stream not enabled")
	}
	sub := s.broker.Subscribe()
	defer s.broker.Unsubscribe(sub)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stopCh:
			return nil
		case event, ok := <-sub:
			if !ok {
				return nil
			}
			msg, err := EncodeStruct(event)
			if err != nil {
				s.logger.Error().Err(err).Str("event_id", event.ID).Msg("dropping unencodable event")
				continue
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

// toStatus maps an error onto a gRPC status and attaches its reason code
// as a trailer
func (s *Server) toStatus(ctx context.Context, err error) error {
	reason := types.ReasonOf(err)
	_ = grpc.SetTrailer(ctx, metadata.Pairs(ReasonTrailer, reason))

	code := CodeFor(reason)
	switch {
	case errors.Is(err, manager.ErrClosed):
		code = codes.Unavailable
	case code == codes.Internal:
		s.logger.Error().Err(err).Msg("request failed")
	}
	return status.Error(code, err.Error())
}

// CodeFor returns the gRPC code used for a reason code
func CodeFor(reason string) codes.Code {
	switch reason {
	case types.ReasonNotFound, types.ReasonUnknownSubarray:
		return codes.NotFound
	case types.ReasonAlreadyActive:
		return codes.AlreadyExists
	case types.ReasonReceptorConflict:
		return codes.FailedPrecondition
	case types.ReasonResourceExhausted:
		return codes.ResourceExhausted
	case types.ReasonInvalid:
		return codes.InvalidArgument
	case types.ReasonDispatchError:
		return codes.Unavailable
	case types.ReasonTimeout:
		return codes.DeadlineExceeded
	}
	return codes.Internal
}
