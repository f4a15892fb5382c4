package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cuemby/sdpcontroller/pkg/api"
	"github.com/cuemby/sdpcontroller/pkg/events"
	"github.com/cuemby/sdpcontroller/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// DefaultTimeout bounds each unary call
const DefaultTimeout = 10 * time.Second

// Client wraps the PipelineController gRPC service for CLI usage
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// Error is a failed API call with its reason code
type Error struct {
	Code    codes.Code
	Reason  string
	Message string
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Reason)
}

// Is matches the sentinel errors of pkg/types by reason code
func (e *Error) Is(target error) bool {
	switch e.Reason {
	case types.ReasonNotFound, types.ReasonUnknownSubarray:
		return target == types.ErrNotFound
	case types.ReasonAlreadyActive:
		return target == types.ErrAlreadyActive
	case types.ReasonReceptorConflict:
		return target == types.ErrReceptorConflict
	case types.ReasonResourceExhausted:
		return target == types.ErrResourceExhausted
	case types.ReasonDispatchError:
		return target == types.ErrDispatch
	case types.ReasonTimeout:
		return target == types.ErrTimeout
	}
	return false
}

// NewClient connects to the API at addr: host:port for TCP, or
// unix:///path/to/socket for the read-only local socket
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return &Client{conn: conn, timeout: DefaultTimeout}, nil
}

// Close closes the client connection
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) invoke(method string, in, out interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	var trailer metadata.MD
	if err := c.conn.Invoke(ctx, method, in, out, grpc.Trailer(&trailer)); err != nil {
		return fromStatus(err, trailer)
	}
	return nil
}

func fromStatus(err error, trailer metadata.MD) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	e := &Error{Code: st.Code(), Message: st.Message()}
	if v := trailer.Get(api.ReasonTrailer); len(v) > 0 {
		e.Reason = v[0]
	}
	return e
}

// Activate starts a pipeline for the subarray and returns the instance ID
func (c *Client) Activate(subarray string) (string, error) {
	out := &wrapperspb.StringValue{}
	if err := c.invoke(api.MethodActivate, wrapperspb.String(subarray), out); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

// Deactivate stops the subarray's pipeline
func (c *Client) Deactivate(subarray string) error {
	return c.invoke(api.MethodDeactivate, wrapperspb.String(subarray), &emptypb.Empty{})
}

// Status returns the subarray's lifecycle state
func (c *Client) Status(subarray string) (*types.StatusReport, error) {
	out := &structpb.Struct{}
	if err := c.invoke(api.MethodStatus, wrapperspb.String(subarray), out); err != nil {
		return nil, err
	}
	return api.DecodeReport(out)
}

// List returns the receptor pool and every subarray's status
func (c *Client) List() (*api.Overview, error) {
	out := &structpb.Struct{}
	if err := c.invoke(api.MethodList, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return api.DecodeOverview(out)
}

// Events calls fn for every lifecycle event until ctx is cancelled, the
// server ends the stream, or fn returns an error
func (c *Client) Events(ctx context.Context, fn func(*events.Event) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.conn.NewStream(ctx, api.EventsStreamDesc, api.MethodEvents)
	if err != nil {
		return fromStatus(err, nil)
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return fromStatus(err, nil)
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}

	for {
		msg := &structpb.Struct{}
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fromStatus(err, stream.Trailer())
		}
		event, err := api.DecodeEvent(msg)
		if err != nil {
			return err
		}
		if err := fn(event); err != nil {
			return err
		}
	}
}
