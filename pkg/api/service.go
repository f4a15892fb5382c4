package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cuemby/sdpcontroller/pkg/events"
	"github.com/cuemby/sdpcontroller/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "sdpcontroller.v1.PipelineController"

// Full method names
const (
	MethodActivate   = "/" + ServiceName + "/Activate"
	MethodDeactivate = "/" + ServiceName + "/Deactivate"
	MethodStatus     = "/" + ServiceName + "/Status"
	MethodList       = "/" + ServiceName + "/List"
	MethodEvents     = "/" + ServiceName + "/Events"
)

// ReasonTrailer carries the reason code of a failed call
const ReasonTrailer = "sdp-reason"

// PipelineControllerServer is the server side of the activation API.
//
// Requests and responses are protobuf well-known types: subarray names and
// instance IDs travel as StringValue, reports and events as Struct holding
// their JSON form.
type PipelineControllerServer interface {
	Activate(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
	Deactivate(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	Status(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	List(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Events(*emptypb.Empty, grpc.ServerStream) error
}

// ServiceDesc describes the PipelineController service for grpc.Server
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PipelineControllerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Activate", Handler: activateHandler},
		{MethodName: "Deactivate", Handler: deactivateHandler},
		{MethodName: "Status", Handler: statusHandler},
		{MethodName: "List", Handler: listHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Events", Handler: eventsHandler, ServerStreams: true},
	},
}

// EventsStreamDesc is the client-side description of the Events stream
var EventsStreamDesc = &ServiceDesc.Streams[0]

func activateHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PipelineControllerServer).Activate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodActivate}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PipelineControllerServer).Activate(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func deactivateHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PipelineControllerServer).Deactivate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodDeactivate}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PipelineControllerServer).Deactivate(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func statusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PipelineControllerServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodStatus}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PipelineControllerServer).Status(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func listHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PipelineControllerServer).List(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodList}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PipelineControllerServer).List(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func eventsHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(PipelineControllerServer).Events(in, stream)
}

// Overview is the List response: the receptor pool and every configured
// subarray's status
type Overview struct {
	Receptors []string              `json:"receptors"`
	Subarrays []*types.StatusReport `json:"subarrays"`
}

// Active returns the reports of subarrays with an active instance
func (o *Overview) Active() []*types.StatusReport {
	var out []*types.StatusReport
	for _, r := range o.Subarrays {
		if r.State.Active() {
			out = append(out, r)
		}
	}
	return out
}

// EncodeStruct converts a JSON-tagged value to a Struct
func EncodeStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T: %w", v, err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("failed to encode %T: %w", v, err)
	}
	return out, nil
}

// DecodeStruct fills a JSON-tagged value from a Struct
func DecodeStruct(s *structpb.Struct, v interface{}) error {
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to decode %T: %w", v, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %T: %w", v, err)
	}
	return nil
}

// DecodeReport decodes a Status response
func DecodeReport(s *structpb.Struct) (*types.StatusReport, error) {
	var report types.StatusReport
	if err := DecodeStruct(s, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// DecodeOverview decodes a List response
func DecodeOverview(s *structpb.Struct) (*Overview, error) {
	var overview Overview
	if err := DecodeStruct(s, &overview); err != nil {
		return nil, err
	}
	return &overview, nil
}

// DecodeEvent decodes one Events stream message
func DecodeEvent(s *structpb.Struct) (*events.Event, error) {
	var event events.Event
	if err := DecodeStruct(s, &event); err != nil {
		return nil, err
	}
	return &event, nil
}
