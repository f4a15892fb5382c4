package manager

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/sdpcontroller/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitRetriesExhausted(t *testing.T) {
	h := newHarness(t, nil)
	cancelGate := make(chan struct{})
	h.eng.set(func(f *fakeEngine) {
		f.submitErr = errors.New("admission webhook unavailable")
		f.cancelGate = cancelGate
	})

	h.activate(t, "subarray1")
	eventually(t, func() bool { return h.state(t, "subarray1") == types.InstanceStateFailed })
	assert.Equal(t, 3, h.eng.submitCount())

	report, err := h.mgr.Status("subarray1")
	require.NoError(t, err)
	assert.Contains(t, report.Instance.Reason, "admission webhook unavailable")
	assert.Empty(t, h.mgr.Snapshot(), "failed instance frees its receptors")

	// The same subarray waits for the cleanup cancel of the failed workflow
	_, err = h.mgr.Activate(context.Background(), "subarray1")
	assert.ErrorIs(t, err, types.ErrAlreadyActive)
	assert.Contains(t, err.Error(), "cleanup pending")

	h.eng.set(func(f *fakeEngine) { f.submitErr = nil })
	close(cancelGate)
	eventually(t, func() bool {
		_, err := h.mgr.Activate(context.Background(), "subarray1")
		return err == nil
	})
	assert.Equal(t, types.InstanceStateStarting, h.state(t, "subarray1"))
}

func TestProvisionalReleaseOnStuckTeardown(t *testing.T) {
	h := newHarness(t, nil)
	id := h.running(t, "subarray1")
	handle := h.handle(t, "subarray1")
	h.eng.set(func(f *fakeEngine) { f.cancelErr = errors.New("apiserver timeout") })

	require.NoError(t, h.mgr.Deactivate(context.Background(), "subarray1"))
	eventually(t, func() bool {
		snap := h.mgr.Snapshot()
		return len(snap) == 1 && snap[0].Released
	})

	// Still Stopping and still owning its subarray
	assert.Equal(t, types.InstanceStateStopping, h.state(t, "subarray1"))
	_, err := h.mgr.Activate(context.Background(), "subarray1")
	assert.ErrorIs(t, err, types.ErrAlreadyActive)

	// but receptor m000 is available to others
	h.activate(t, "subarray2")

	h.eng.set(func(f *fakeEngine) { f.cancelErr = nil })
	eventually(t, func() bool { return h.eng.wasCancelled(handle) })
	h.mgr.OnExternalStatus(types.StatusUpdate{InstanceID: id, Handle: handle, Phase: types.WorkflowPhaseEnded})
	assert.Equal(t, types.InstanceStateTerminated, h.state(t, "subarray1"))
}

func TestTeardownEscalation(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Config.TeardownEscalation = 4 })
	h.running(t, "subarray1")
	h.eng.set(func(f *fakeEngine) { f.cancelErr = errors.New("forbidden") })

	require.NoError(t, h.mgr.Deactivate(context.Background(), "subarray1"))
	eventually(t, func() bool { return h.state(t, "subarray1") == types.InstanceStateFailed })

	report, err := h.mgr.Status("subarray1")
	require.NoError(t, err)
	assert.Equal(t, 4, report.Instance.TeardownFailures)
	assert.True(t, report.Instance.Released)
	assert.Contains(t, report.Instance.Reason, "forbidden")

	// Cleanup gives up after its bounded attempts and the subarray is usable again
	h.eng.set(func(f *fakeEngine) { f.cancelErr = nil })
	eventually(t, func() bool {
		_, err := h.mgr.Activate(context.Background(), "subarray1")
		return err == nil
	})
}

func TestSweepResubmitsSilentSubmission(t *testing.T) {
	h := newHarness(t, nil)
	h.activate(t, "subarray1")
	eventually(t, func() bool { return h.eng.submitCount() == 1 })

	late := base.Add(time.Minute)
	eventually(t, func() bool {
		h.mgr.Sweep(late)
		return h.state(t, "subarray1") == types.InstanceStateFailed
	})
	assert.Equal(t, 3, h.eng.submitCount())

	report, err := h.mgr.Status("subarray1")
	require.NoError(t, err)
	assert.Contains(t, report.Instance.Reason, types.ErrTimeout.Error())
}

func TestSweepRecancelsSilentTeardown(t *testing.T) {
	h := newHarness(t, nil)
	h.running(t, "subarray1")
	require.NoError(t, h.mgr.Deactivate(context.Background(), "subarray1"))
	eventually(t, func() bool { return h.eng.cancelCount() == 1 })

	// Within the status timeout nothing is re-sent
	h.mgr.Sweep(base.Add(30 * time.Second))
	assert.Equal(t, 1, h.eng.cancelCount())

	late := base.Add(time.Minute)
	eventually(t, func() bool {
		h.mgr.Sweep(late)
		return h.eng.cancelCount() >= 2
	})
	assert.Equal(t, types.InstanceStateStopping, h.state(t, "subarray1"))
}

func TestSweepIgnoresStartingForTTL(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Config.StatusTimeout = 0 })
	h.activate(t, "subarray1")
	eventually(t, func() bool { return h.eng.submitCount() == 1 })

	h.mgr.Sweep(base.Add(24 * time.Hour))
	assert.Equal(t, types.InstanceStateStarting, h.state(t, "subarray1"))
}

func TestConcurrentActivationsNeverDoubleBook(t *testing.T) {
	h := newHarness(t, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := map[string]int{}
	for i := 0; i < 40; i++ {
		name := "subarray1"
		if i%2 == 1 {
			name = "subarray2"
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.mgr.Activate(context.Background(), name); err == nil {
				mu.Lock()
				admitted[name]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	total := 0
	for _, n := range admitted {
		assert.Equal(t, 1, n)
		total += n
	}
	assert.Equal(t, 1, total, "subarray1 and subarray2 share m000")
	assertLedger(t, h.mgr.Snapshot())
}

// assertLedger checks the ledger invariants over a snapshot
func assertLedger(t *testing.T, active []*types.PipelineInstance) {
	t.Helper()
	perSubarray := map[string]int{}
	receptors := map[string]string{}
	custom := map[string]int64{}

	for _, inst := range active {
		require.True(t, inst.State.Active())
		perSubarray[inst.Subarray]++
		assert.Equal(t, 1, perSubarray[inst.Subarray], "second active instance for %s", inst.Subarray)
		if !inst.Holds() {
			continue
		}
		for _, r := range inst.Receptors {
			owner, taken := receptors[r]
			assert.False(t, taken, "receptor %s held by %s and %s", r, owner, inst.Subarray)
			receptors[r] = inst.Subarray
		}
		for name, qty := range inst.Template.CustomTotals() {
			custom[name] += qty
		}
	}
	assert.LessOrEqual(t, custom[jellybeans], int64(1))
}

func TestRandomOperationsKeepInvariants(t *testing.T) {
	h := newHarness(t, nil)
	rng := rand.New(rand.NewSource(42))
	names := []string{"subarray1", "subarray2", "subarray3", "subarray4", "subarray5"}
	now := base

	for step := 0; step < 300; step++ {
		name := names[rng.Intn(len(names))]
		switch op := rng.Intn(5); op {
		case 0:
			_, _ = h.mgr.Activate(context.Background(), name)
		case 1:
			require.NoError(t, h.mgr.Deactivate(context.Background(), name))
		case 2, 3:
			report, err := h.mgr.Status(name)
			require.NoError(t, err)
			if report.Instance == nil || !report.State.Active() {
				continue
			}
			phase := types.WorkflowPhaseRunning
			if op == 3 {
				phase = types.WorkflowPhaseEnded
			}
			h.mgr.OnExternalStatus(types.StatusUpdate{InstanceID: report.Instance.ID, Handle: report.Instance.Handle, Phase: phase})
		case 4:
			now = now.Add(time.Duration(rng.Intn(4000)) * time.Second)
			h.mgr.Sweep(now)
		}
		assertLedger(t, h.mgr.Snapshot())
		if t.Failed() {
			t.Fatalf("invariant broken at step %d", step)
		}
	}
	t.Logf("active at end: %d", len(h.mgr.Snapshot()))
}
