package client

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/cuemby/sdpcontroller/pkg/api"
	"github.com/cuemby/sdpcontroller/pkg/events"
	"github.com/cuemby/sdpcontroller/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/test/bufconn"
)

// stubLifecycle activates subarray1 only; subarray2 always conflicts
type stubLifecycle struct{}

func (stubLifecycle) Activate(_ context.Context, name string) (string, error) {
	switch name {
	case "subarray1":
		return "inst-1", nil
	case "subarray2":
		return "", &types.DenialError{Reason: types.ReasonReceptorConflict, Subarray: name, Receptors: []string{"m000"}}
	}
	return "", &types.DenialError{Reason: types.ReasonUnknownSubarray, Subarray: name}
}

func (stubLifecycle) Deactivate(_ context.Context, name string) error {
	if name != "subarray1" && name != "subarray2" {
		return &types.DenialError{Reason: types.ReasonUnknownSubarray, Subarray: name}
	}
	return nil
}

func (stubLifecycle) Status(name string) (*types.StatusReport, error) {
	if name != "subarray1" {
		return nil, types.ErrNotFound
	}
	return &types.StatusReport{Subarray: name, Namespace: "sdparray1", State: types.InstanceStateStarting}, nil
}

func (s stubLifecycle) List() []*types.StatusReport {
	r, _ := s.Status("subarray1")
	return []*types.StatusReport{r}
}

func (stubLifecycle) Receptors() []string { return []string{"m000", "m001"} }

func newTestClient(t *testing.T) (*Client, *events.Broker) {
	t.Helper()
	broker := events.NewBroker()
	broker.Start()
	srv := api.NewServer(stubLifecycle{}, broker)
	lis := bufconn.Listen(1024 * 1024)
	go func() { _ = srv.Serve(lis) }()

	c, err := NewClient("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.Close()
		srv.Stop()
		broker.Stop()
	})
	return c, broker
}

func TestClientActivate(t *testing.T) {
	c, _ := newTestClient(t)

	id, err := c.Activate("subarray1")
	require.NoError(t, err)
	assert.Equal(t, "inst-1", id)

	_, err = c.Activate("subarray2")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrReceptorConflict)
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, codes.FailedPrecondition, apiErr.Code)
	assert.Equal(t, types.ReasonReceptorConflict, apiErr.Reason)
	assert.Contains(t, err.Error(), "(ReceptorConflict)")

	_, err = c.Activate("nope")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestClientDeactivateAndStatus(t *testing.T) {
	c, _ := newTestClient(t)

	require.NoError(t, c.Deactivate("subarray1"))
	assert.ErrorIs(t, c.Deactivate("nope"), types.ErrNotFound)

	report, err := c.Status("subarray1")
	require.NoError(t, err)
	assert.Equal(t, types.InstanceStateStarting, report.State)
	assert.Equal(t, "sdparray1", report.Namespace)

	_, err = c.Status("nope")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestClientList(t *testing.T) {
	c, _ := newTestClient(t)

	overview, err := c.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"m000", "m001"}, overview.Receptors)
	require.Len(t, overview.Active(), 1)
}

func TestClientEvents(t *testing.T) {
	c, broker := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *events.Event, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.Events(ctx, func(e *events.Event) error {
			received <- e
			return errors.New("stop")
		})
	}()

	require.Eventually(t, func() bool { return broker.SubscriberCount() == 1 }, 2*time.Second, time.Millisecond)
	broker.Publish(&events.Event{Type: events.EventActivationDenied, Subarray: "subarray2", Message: "ReceptorConflict"})

	select {
	case e := <-received:
		assert.Equal(t, events.EventActivationDenied, e.Type)
		assert.Equal(t, "subarray2", e.Subarray)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
	assert.EqualError(t, <-done, "stop")
}

func TestErrorIs(t *testing.T) {
	tests := []struct {
		reason string
		target error
	}{
		{types.ReasonNotFound, types.ErrNotFound},
		{types.ReasonAlreadyActive, types.ErrAlreadyActive},
		{types.ReasonResourceExhausted, types.ErrResourceExhausted},
		{types.ReasonDispatchError, types.ErrDispatch},
		{types.ReasonTimeout, types.ErrTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			err := &Error{Reason: tt.reason, Message: "x"}
			assert.ErrorIs(t, err, tt.target)
			assert.NotErrorIs(t, err, errors.New("other"))
		})
	}
	assert.Equal(t, "plain", (&Error{Message: "plain"}).Error())
}
