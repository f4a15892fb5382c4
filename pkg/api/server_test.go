package api

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/sdpcontroller/pkg/events"
	"github.com/cuemby/sdpcontroller/pkg/manager"
	"github.com/cuemby/sdpcontroller/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const bufSize = 1024 * 1024

// fakeLifecycle serves fixed reports; subarray1 is Running, subarray2 inactive
type fakeLifecycle struct {
	mu          sync.Mutex
	reports     map[string]*types.StatusReport
	activateErr error
	activated   []string
	deactivated []string
}

func newFakeLifecycle() *fakeLifecycle {
	created := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	return &fakeLifecycle{reports: map[string]*types.StatusReport{
		"subarray1": {
			Subarray:  "subarray1",
			Namespace: "sdparray1",
			State:     types.InstanceStateRunning,
			Instance: &types.PipelineInstance{
				ID:           "inst-1",
				Subarray:     "subarray1",
				Namespace:    "sdparray1",
				Receptors:    []string{"m000", "m001"},
				State:        types.InstanceStateRunning,
				WorkflowName: "subarray1-20261016120000",
				Template:     &types.PipelineTemplate{Name: "default", TTL: 6000 * time.Second},
				CreatedAt:    created,
			},
		},
		"subarray2": {Subarray: "subarray2", Namespace: "sdparray2", State: types.InstanceStateInactive},
	}}
}

func (f *fakeLifecycle) Activate(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.activateErr != nil {
		return "", f.activateErr
	}
	if _, ok := f.reports[name]; !ok {
		return "", &types.DenialError{Reason: types.ReasonUnknownSubarray, Subarray: name}
	}
	f.activated = append(f.activated, name)
	return "inst-new", nil
}

func (f *fakeLifecycle) Deactivate(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.reports[name]; !ok {
		return &types.DenialError{Reason: types.ReasonUnknownSubarray, Subarray: name}
	}
	f.deactivated = append(f.deactivated, name)
	return nil
}

func (f *fakeLifecycle) Status(name string) (*types.StatusReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reports[name]
	if !ok {
		return nil, types.ErrNotFound
	}
	return r, nil
}

func (f *fakeLifecycle) List() []*types.StatusReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return []*types.StatusReport{f.reports["subarray1"], f.reports["subarray2"]}
}

func (f *fakeLifecycle) Receptors() []string {
	return []string{"m000", "m001", "m002"}
}

type testEnv struct {
	lc     *fakeLifecycle
	broker *events.Broker
	conn   *grpc.ClientConn
	ro     *grpc.ClientConn
}

func dial(t *testing.T, lis *bufconn.Listener) *grpc.ClientConn {
	t.Helper()
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	lc := newFakeLifecycle()
	broker := events.NewBroker()
	broker.Start()

	srv := NewServer(lc, broker)
	tcp := bufconn.Listen(bufSize)
	local := bufconn.Listen(bufSize)
	go func() { _ = srv.Serve(tcp) }()
	go func() { _ = srv.ServeReadOnly(local) }()
	t.Cleanup(func() {
		srv.Stop()
		broker.Stop()
	})

	return &testEnv{lc: lc, broker: broker, conn: dial(t, tcp), ro: dial(t, local)}
}

func invokeErr(t *testing.T, conn *grpc.ClientConn, method string, in, out interface{}) (codes.Code, string) {
	t.Helper()
	var trailer metadata.MD
	err := conn.Invoke(context.Background(), method, in, out, grpc.Trailer(&trailer))
	require.Error(t, err)
	reason := ""
	if v := trailer.Get(ReasonTrailer); len(v) > 0 {
		reason = v[0]
	}
	return status.Code(err), reason
}

func TestActivate(t *testing.T) {
	env := newTestEnv(t)

	out := &wrapperspb.StringValue{}
	require.NoError(t, env.conn.Invoke(context.Background(), MethodActivate, wrapperspb.String("subarray2"), out))
	assert.Equal(t, "inst-new", out.GetValue())
	assert.Equal(t, []string{"subarray2"}, env.lc.activated)
}

func TestActivateDenials(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   codes.Code
		reason string
	}{
		{
			name:   "receptor conflict",
			err:    &types.DenialError{Reason: types.ReasonReceptorConflict, Subarray: "subarray2", Receptors: []string{"m000"}},
			code:   codes.FailedPrecondition,
			reason: types.ReasonReceptorConflict,
		},
		{
			name:   "resource exhausted",
			err:    &types.DenialError{Reason: types.ReasonResourceExhausted, Subarray: "subarray2", Resource: "gpu"},
			code:   codes.ResourceExhausted,
			reason: types.ReasonResourceExhausted,
		},
		{
			name:   "already active",
			err:    &types.DenialError{Reason: types.ReasonAlreadyActive, Subarray: "subarray1"},
			code:   codes.AlreadyExists,
			reason: types.ReasonAlreadyActive,
		},
		{
			name:   "manager closed",
			err:    manager.ErrClosed,
			code:   codes.Unavailable,
			reason: types.ReasonInternal,
		},
		{
			name:   "unexpected",
			err:    errors.New("boom"),
			code:   codes.Internal,
			reason: types.ReasonInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.lc.activateErr = tt.err

			code, reason := invokeErr(t, env.conn, MethodActivate, wrapperspb.String("subarray2"), &wrapperspb.StringValue{})
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestUnknownSubarrayIsNotFound(t *testing.T) {
	env := newTestEnv(t)

	code, reason := invokeErr(t, env.conn, MethodActivate, wrapperspb.String("nope"), &wrapperspb.StringValue{})
	assert.Equal(t, codes.NotFound, code)
	assert.Equal(t, types.ReasonNotFound, reason)

	code, reason = invokeErr(t, env.conn, MethodStatus, wrapperspb.String("nope"), &structpb.Struct{})
	assert.Equal(t, codes.NotFound, code)
	assert.Equal(t, types.ReasonNotFound, reason)
}

func TestDeactivate(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.conn.Invoke(context.Background(), MethodDeactivate, wrapperspb.String("subarray1"), &emptypb.Empty{}))
	assert.Equal(t, []string{"subarray1"}, env.lc.deactivated)
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)

	out := &structpb.Struct{}
	require.NoError(t, env.conn.Invoke(context.Background(), MethodStatus, wrapperspb.String("subarray1"), out))

	report, err := DecodeReport(out)
	require.NoError(t, err)
	assert.Equal(t, types.InstanceStateRunning, report.State)
	require.NotNil(t, report.Instance)
	assert.Equal(t, "inst-1", report.Instance.ID)
	assert.Equal(t, []string{"m000", "m001"}, report.Instance.Receptors)
	assert.Equal(t, 6000*time.Second, report.Instance.TTL())
	assert.True(t, report.Instance.CreatedAt.Equal(time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)))

	require.NoError(t, env.conn.Invoke(context.Background(), MethodStatus, wrapperspb.String("subarray2"), out))
	report, err = DecodeReport(out)
	require.NoError(t, err)
	assert.Equal(t, types.InstanceStateInactive, report.State)
	assert.Nil(t, report.Instance)
}

func TestList(t *testing.T) {
	env := newTestEnv(t)

	out := &structpb.Struct{}
	require.NoError(t, env.conn.Invoke(context.Background(), MethodList, &emptypb.Empty{}, out))

	overview, err := DecodeOverview(out)
	require.NoError(t, err)
	assert.Equal(t, []string{"m000", "m001", "m002"}, overview.Receptors)
	require.Len(t, overview.Subarrays, 2)
	active := overview.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "subarray1", active[0].Subarray)
}

func TestEventsStream(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := env.conn.NewStream(ctx, EventsStreamDesc, MethodEvents)
	require.NoError(t, err)
	require.NoError(t, stream.SendMsg(&emptypb.Empty{}))
	require.NoError(t, stream.CloseSend())

	require.Eventually(t, func() bool { return env.broker.SubscriberCount() == 1 }, 2*time.Second, time.Millisecond)
	env.broker.Publish(&events.Event{
		Type:     events.EventInstanceRunning,
		Subarray: "subarray1",
		Message:  "Starting → Running",
		Metadata: map[string]string{"instance_id": "inst-1"},
	})

	msg := &structpb.Struct{}
	require.NoError(t, stream.RecvMsg(msg))
	event, err := DecodeEvent(msg)
	require.NoError(t, err)
	assert.Equal(t, events.EventInstanceRunning, event.Type)
	assert.Equal(t, "subarray1", event.Subarray)
	assert.Equal(t, "inst-1", event.Metadata["instance_id"])
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.Timestamp.IsZero())

	cancel()
	require.Eventually(t, func() bool { return env.broker.SubscriberCount() == 0 }, 2*time.Second, time.Millisecond)
}

func TestReadOnlyListener(t *testing.T) {
	env := newTestEnv(t)

	code, _ := invokeErr(t, env.ro, MethodActivate, wrapperspb.String("subarray2"), &wrapperspb.StringValue{})
	assert.Equal(t, codes.PermissionDenied, code)
	code, _ = invokeErr(t, env.ro, MethodDeactivate, wrapperspb.String("subarray1"), &emptypb.Empty{})
	assert.Equal(t, codes.PermissionDenied, code)
	assert.Empty(t, env.lc.activated)
	assert.Empty(t, env.lc.deactivated)

	require.NoError(t, env.ro.Invoke(context.Background(), MethodStatus, wrapperspb.String("subarray1"), &structpb.Struct{}))
	require.NoError(t, env.ro.Invoke(context.Background(), MethodList, &emptypb.Empty{}, &structpb.Struct{}))
}

func TestGRPCHealth(t *testing.T) {
	env := newTestEnv(t)

	resp, err := healthpb.NewHealthClient(env.conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestIsReadOnlyMethod(t *testing.T) {
	tests := []struct {
		method string
		want   bool
	}{
		{MethodStatus, true},
		{MethodList, true},
		{MethodEvents, true},
		{"/grpc.health.v1.Health/Check", true},
		{MethodActivate, false},
		{MethodDeactivate, false},
		{"garbage", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			assert.Equal(t, tt.want, isReadOnlyMethod(tt.method))
		})
	}
}

func TestCodeFor(t *testing.T) {
	assert.Equal(t, codes.NotFound, CodeFor(types.ReasonUnknownSubarray))
	assert.Equal(t, codes.InvalidArgument, CodeFor(types.ReasonInvalid))
	assert.Equal(t, codes.Unavailable, CodeFor(types.ReasonDispatchError))
	assert.Equal(t, codes.DeadlineExceeded, CodeFor(types.ReasonTimeout))
	assert.Equal(t, codes.Internal, CodeFor("whatever"))
}
