package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/sdpcontroller/pkg/events"
	"github.com/cuemby/sdpcontroller/pkg/metrics"
	"github.com/cuemby/sdpcontroller/pkg/types"
)

// OnExternalStatus applies a workflow engine notification. Notifications for
// unknown instances, or for a workflow the instance no longer points at, are
// ignored.
func (m *Manager) OnExternalStatus(update types.StatusUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.byID[update.InstanceID]
	if !ok {
		m.logger.Debug().
			Str("instance_id", update.InstanceID).
			Str("phase", string(update.Phase)).
			Msg("ignoring status for unknown instance")
		return
	}
	if update.Handle != "" && update.Handle != rec.inst.Handle {
		m.instanceLogger(rec.inst).Debug().
			Str("workflow", update.Handle).
			Msg("ignoring status for stale workflow")
		return
	}

	state := rec.inst.State
	switch update.Phase {
	case types.WorkflowPhaseRunning:
		if state == types.InstanceStateStarting {
			m.transition(rec, types.InstanceStateRunning, "")
		}

	case types.WorkflowPhaseFailed:
		if state == types.InstanceStateStarting || state == types.InstanceStateRunning {
			m.transition(rec, types.InstanceStateStopping, message("workflow failed", update.Message))
			m.startTeardown(rec)
		}

	case types.WorkflowPhaseEnded:
		if state != types.InstanceStateStopping {
			m.transition(rec, types.InstanceStateStopping, message("workflow ended", update.Message))
		}
		m.finish(rec, types.InstanceStateTerminated, message("workflow ended", update.Message))

	case types.WorkflowPhaseRejected:
		if state == types.InstanceStateStopping {
			m.finish(rec, types.InstanceStateTerminated, message("workflow rejected", update.Message))
			return
		}
		m.fail(rec, errors.New(message("workflow rejected", update.Message)))

	default:
		m.instanceLogger(rec.inst).Warn().Str("phase", string(update.Phase)).Msg("unknown workflow phase")
	}
}

func message(prefix, detail string) string {
	if detail == "" {
		return prefix
	}
	return prefix + ": " + detail
}

// Run feeds status notifications into OnExternalStatus until ctx is
// cancelled or updates is closed
func (m *Manager) Run(ctx context.Context, updates <-chan types.StatusUpdate) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			m.OnExternalStatus(update)
		}
	}
}

// Sweep stops Running instances whose TTL has elapsed at now and
// re-dispatches submissions and teardowns that have gone without a status
// notification for longer than the status timeout
func (m *Manager) Sweep(now time.Time) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SweepDuration)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	for _, rec := range m.sortedRecords() {
		inst := rec.inst
		switch inst.State {
		case types.InstanceStateRunning:
			if ttl := inst.TTL(); ttl > 0 && now.Sub(inst.CreatedAt) >= ttl {
				metrics.TTLExpiries.Inc()
				m.publish(events.EventInstanceExpired, inst, fmt.Sprintf("ttl %s elapsed", ttl))
				m.transition(rec, types.InstanceStateStopping, "ttl expired")
				m.startTeardown(rec)
			}

		case types.InstanceStateStarting:
			if rec.submitting || !m.statusOverdue(inst, now) {
				continue
			}
			if inst.SubmitAttempts >= m.cfg.SubmitAttempts {
				m.fail(rec, &types.DispatchError{Op: "submit", Handle: inst.Handle, Err: types.ErrTimeout})
				continue
			}
			m.instanceLogger(inst).Warn().
				Int("attempts", inst.SubmitAttempts).
				Msg("no status since submit, resubmitting")
			m.startSubmit(rec)

		case types.InstanceStateStopping:
			if rec.tearingDown || !m.statusOverdue(inst, now) {
				continue
			}
			m.instanceLogger(inst).Warn().Msg("no status since cancel, cancelling again")
			m.startTeardown(rec)
		}
	}
}

func (m *Manager) statusOverdue(inst *types.PipelineInstance, now time.Time) bool {
	if m.cfg.StatusTimeout <= 0 {
		return false
	}
	return now.Sub(inst.DispatchedAt) >= m.cfg.StatusTimeout
}
