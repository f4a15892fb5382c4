package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/cuemby/sdpcontroller/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testInstance(id, subarray string, state types.InstanceState, at time.Time) *types.PipelineInstance {
	return &types.PipelineInstance{
		ID:        id,
		Subarray:  subarray,
		Namespace: "sdp" + subarray,
		Receptors: []string{"m000", "m001"},
		State:     state,
		CreatedAt: at,
		UpdatedAt: at,
		Template: &types.PipelineTemplate{
			Name: "default",
			TTL:  time.Hour,
			Components: []*types.PipelineComponent{
				{Name: "ingest", Image: "ingest:1", Replicas: 2, Resources: types.ResourceRequirements{
					CPU: "2", Memory: "4Gi", Custom: map[string]int64{"gpu": 1},
				}},
			},
		},
	}
}

func TestInstanceCRUD(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	inst := testInstance("id-1", "subarray1", types.InstanceStateStarting, now)
	require.NoError(t, store.SaveInstance(inst))

	got, err := store.GetInstance("id-1")
	require.NoError(t, err)
	assert.Equal(t, "subarray1", got.Subarray)
	assert.Equal(t, time.Hour, got.TTL())
	assert.Equal(t, map[string]int64{"gpu": 2}, got.Template.CustomTotals())
	assert.True(t, got.CreatedAt.Equal(now))

	inst.State = types.InstanceStateRunning
	require.NoError(t, store.SaveInstance(inst))
	got, err = store.GetInstance("id-1")
	require.NoError(t, err)
	assert.Equal(t, types.InstanceStateRunning, got.State)

	require.NoError(t, store.DeleteInstance("id-1"))
	_, err = store.GetInstance("id-1")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestListInstancesSorted(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	require.NoError(t, store.SaveInstance(testInstance("b", "subarray2", types.InstanceStateRunning, now)))
	require.NoError(t, store.SaveInstance(testInstance("a", "subarray1", types.InstanceStateStarting, now)))

	list, err := store.ListInstances()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "subarray1", list[0].Subarray)
	assert.Equal(t, "subarray2", list[1].Subarray)
}

func TestArchiveInstance(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		inst := testInstance(fmt.Sprintf("id-%d", i), "subarray1", types.InstanceStateRunning, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.SaveInstance(inst))
		inst.State = types.InstanceStateTerminated
		require.NoError(t, store.ArchiveInstance(inst, 3))
	}

	active, err := store.ListInstances()
	require.NoError(t, err)
	assert.Empty(t, active)

	history, err := store.ListHistory()
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "id-2", history[0].ID)
	assert.Equal(t, "id-4", history[2].ID)
	assert.Equal(t, types.InstanceStateTerminated, history[2].State)
}

func TestArchiveUnbounded(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	for i := 0; i < 4; i++ {
		inst := testInstance(fmt.Sprintf("id-%d", i), "subarray1", types.InstanceStateFailed, now.Add(time.Duration(i)))
		require.NoError(t, store.ArchiveInstance(inst, 0))
	}
	history, err := store.ListHistory()
	require.NoError(t, err)
	assert.Len(t, history, 4)
}

func TestReopenRestoresState(t *testing.T) {
	dir := t.TempDir()
	store, err := NewBoltStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.SaveInstance(testInstance("id-1", "subarray1", types.InstanceStateStopping, time.Now())))
	require.NoError(t, store.Close())

	store, err = NewBoltStore(dir)
	require.NoError(t, err)
	defer store.Close()

	list, err := store.ListInstances()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, types.InstanceStateStopping, list[0].State)
}
