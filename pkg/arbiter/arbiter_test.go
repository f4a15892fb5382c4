package arbiter

import (
	"errors"
	"testing"
	"time"

	"github.com/cuemby/sdpcontroller/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jellybeans = "sdp.kat.ac.za/jellybeans"

var (
	plainTemplate = &types.PipelineTemplate{
		Name: "plain",
		TTL:  time.Hour,
		Components: []*types.PipelineComponent{
			{Name: "head", Image: "head:1", Replicas: 1},
			{Name: "ingest", Image: "ingest:1", Replicas: 1},
			{Name: "telstate", Image: "redis:latest", Replicas: 1},
		},
	}
	jellyTemplate = &types.PipelineTemplate{
		Name: "jelly",
		TTL:  time.Hour,
		Components: []*types.PipelineComponent{
			{Name: "head", Image: "head:1", Replicas: 1},
			{
				Name:      "calibrator",
				Image:     "cal:1",
				Replicas:  1,
				Resources: types.ResourceRequirements{Custom: map[string]int64{jellybeans: 1}},
			},
		},
	}
)

func subarray(name string, receptors ...string) *types.Subarray {
	return &types.Subarray{Name: name, Namespace: "ns-" + name, Receptors: receptors}
}

func instance(sub string, state types.InstanceState, tmpl *types.PipelineTemplate, receptors ...string) *types.PipelineInstance {
	return &types.PipelineInstance{
		ID:        "id-" + sub,
		Subarray:  sub,
		Template:  tmpl,
		Receptors: receptors,
		State:     state,
	}
}

func reasonOf(t *testing.T, err error) *types.DenialError {
	t.Helper()
	var denial *types.DenialError
	require.True(t, errors.As(err, &denial), "expected DenialError, got %v", err)
	return denial
}

func TestCheckAdmitsIdleCluster(t *testing.T) {
	a := New(nil)
	err := a.Check(Request{Name: "subarray1", Subarray: subarray("subarray1", "m000", "m001"), Template: plainTemplate}, nil)
	assert.NoError(t, err)
}

func TestCheckUnknownSubarray(t *testing.T) {
	a := New(nil)
	err := a.Check(Request{Name: "subarray9", Template: plainTemplate}, nil)
	denial := reasonOf(t, err)
	assert.Equal(t, types.ReasonUnknownSubarray, denial.Reason)
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestCheckReceptorExclusivity(t *testing.T) {
	a := New(nil)

	tests := []struct {
		name      string
		active    []*types.PipelineInstance
		request   *types.Subarray
		conflicts []string
	}{
		{
			name:      "overlap with running instance",
			active:    []*types.PipelineInstance{instance("subarray1", types.InstanceStateRunning, plainTemplate, "m000", "m001")},
			request:   subarray("subarray2", "m000"),
			conflicts: []string{"m000"},
		},
		{
			name:      "overlap with starting instance",
			active:    []*types.PipelineInstance{instance("subarray1", types.InstanceStateStarting, plainTemplate, "m000", "m001")},
			request:   subarray("subarray2", "m001", "m000"),
			conflicts: []string{"m000", "m001"},
		},
		{
			name:      "overlap with stopping instance",
			active:    []*types.PipelineInstance{instance("subarray1", types.InstanceStateStopping, plainTemplate, "m000")},
			request:   subarray("subarray2", "m000"),
			conflicts: []string{"m000"},
		},
		{
			name:    "disjoint receptors",
			active:  []*types.PipelineInstance{instance("subarray1", types.InstanceStateRunning, plainTemplate, "m000", "m001")},
			request: subarray("subarray2", "m002", "m003"),
		},
		{
			name:    "terminated instance does not hold receptors",
			active:  []*types.PipelineInstance{instance("subarray1", types.InstanceStateTerminated, plainTemplate, "m000")},
			request: subarray("subarray2", "m000"),
		},
		{
			name:    "failed instance does not hold receptors",
			active:  []*types.PipelineInstance{instance("subarray1", types.InstanceStateFailed, plainTemplate, "m000")},
			request: subarray("subarray2", "m000"),
		},
		{
			name:    "own terminated instance is not a conflict",
			active:  []*types.PipelineInstance{instance("subarray1", types.InstanceStateTerminated, plainTemplate, "m000")},
			request: subarray("subarray1", "m000"),
		},
		{
			name: "provisionally released instance does not hold receptors",
			active: []*types.PipelineInstance{func() *types.PipelineInstance {
				inst := instance("subarray1", types.InstanceStateStopping, plainTemplate, "m000")
				inst.Released = true
				return inst
			}()},
			request: subarray("subarray2", "m000"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.Check(Request{Name: tt.request.Name, Subarray: tt.request, Template: plainTemplate}, tt.active)
			if tt.conflicts == nil {
				assert.NoError(t, err)
				return
			}
			denial := reasonOf(t, err)
			assert.Equal(t, types.ReasonReceptorConflict, denial.Reason)
			assert.Equal(t, tt.conflicts, denial.Receptors)
			assert.True(t, errors.Is(err, types.ErrReceptorConflict))
		})
	}
}

func TestCheckAlreadyActive(t *testing.T) {
	a := New(nil)
	active := []*types.PipelineInstance{instance("subarray1", types.InstanceStateRunning, plainTemplate, "m000")}

	err := a.Check(Request{Name: "subarray1", Subarray: subarray("subarray1", "m000"), Template: plainTemplate}, active)
	denial := reasonOf(t, err)
	assert.Equal(t, types.ReasonAlreadyActive, denial.Reason)
	assert.True(t, errors.Is(err, types.ErrAlreadyActive))
}

func TestCheckCustomResourceCapacity(t *testing.T) {
	a := New(map[string]int64{jellybeans: 1})

	// First activation fits
	err := a.Check(Request{Name: "subarray1", Subarray: subarray("subarray1", "m000"), Template: jellyTemplate}, nil)
	require.NoError(t, err)

	active := []*types.PipelineInstance{instance("subarray1", types.InstanceStateRunning, jellyTemplate, "m000")}
	err = a.Check(Request{Name: "subarray2", Subarray: subarray("subarray2", "m001"), Template: jellyTemplate}, active)
	denial := reasonOf(t, err)
	assert.Equal(t, types.ReasonResourceExhausted, denial.Reason)
	assert.Equal(t, jellybeans, denial.Resource)
	assert.True(t, errors.Is(err, types.ErrResourceExhausted))

	// Once the first is gone the second fits
	active[0].State = types.InstanceStateTerminated
	err = a.Check(Request{Name: "subarray2", Subarray: subarray("subarray2", "m001"), Template: jellyTemplate}, active)
	assert.NoError(t, err)
}

func TestCheckUnconstrainedResource(t *testing.T) {
	a := New(nil)
	active := []*types.PipelineInstance{
		instance("subarray1", types.InstanceStateRunning, jellyTemplate, "m000"),
		instance("subarray2", types.InstanceStateRunning, jellyTemplate, "m001"),
	}
	err := a.Check(Request{Name: "subarray3", Subarray: subarray("subarray3", "m002"), Template: jellyTemplate}, active)
	assert.NoError(t, err, "resources without capacity are soft")
}

func TestCheckCountsReplicas(t *testing.T) {
	tmpl := &types.PipelineTemplate{
		Name: "wide",
		Components: []*types.PipelineComponent{
			{Name: "gpu", Image: "x", Replicas: 3, Resources: types.ResourceRequirements{Custom: map[string]int64{"nvidia.com/gpu": 1}}},
		},
	}
	a := New(map[string]int64{"nvidia.com/gpu": 2})
	err := a.Check(Request{Name: "subarray1", Subarray: subarray("subarray1", "m000"), Template: tmpl}, nil)
	denial := reasonOf(t, err)
	assert.Equal(t, "nvidia.com/gpu", denial.Resource)
}

func TestCheckDoesNotMutate(t *testing.T) {
	a := New(map[string]int64{jellybeans: 1})
	active := []*types.PipelineInstance{instance("subarray1", types.InstanceStateRunning, jellyTemplate, "m000")}
	before := *active[0]

	_ = a.Check(Request{Name: "subarray2", Subarray: subarray("subarray2", "m000"), Template: jellyTemplate}, active)
	assert.Equal(t, before, *active[0])
	assert.Equal(t, map[string]int64{jellybeans: 1}, Committed(active))
}
