package manager

import (
	"context"
	"fmt"

	"github.com/cuemby/sdpcontroller/pkg/types"
)

// Restore loads persisted instances and resumes their dispatches: Starting
// instances are resubmitted (submission is idempotent), Stopping instances
// get their teardown re-issued, Running instances wait for the engine's next
// status. Call it once, before Run.
func (m *Manager) Restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}

	history, err := m.store.ListHistory()
	if err != nil {
		return fmt.Errorf("failed to load instance history: %w", err)
	}
	instances, err := m.store.ListInstances()
	if err != nil {
		return fmt.Errorf("failed to load instances: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, inst := range history {
		m.lastTerminal[inst.Subarray] = inst
		m.history = append(m.history, inst)
	}
	if over := len(m.history) - m.cfg.HistoryLimit; over > 0 {
		m.history = m.history[over:]
	}

	restored := 0
	for _, inst := range instances {
		logger := m.instanceLogger(inst)
		if !inst.State.Active() {
			logger.Warn().Str("state", string(inst.State)).Msg("skipping persisted instance in terminal state")
			continue
		}
		if _, exists := m.bySubarray[inst.Subarray]; exists {
			logger.Error().Msg("skipping second active instance for subarray")
			continue
		}
		if _, err := m.registry.Lookup(inst.Subarray); err != nil {
			// Still tracked so its receptors stay booked until the workflow is gone
			logger.Warn().Msg("subarray no longer configured, tearing down its instance")
			if inst.State != types.InstanceStateStopping {
				inst.State = types.InstanceStateStopping
				inst.Reason = "subarray removed from configuration"
			}
		}

		sub, err := m.translator.Translate(inst)
		if err != nil {
			return fmt.Errorf("failed to translate restored instance %s: %w", inst.ID, err)
		}
		rec := &record{inst: inst, sub: sub}
		m.bySubarray[inst.Subarray] = rec
		m.byID[inst.ID] = rec
		restored++

		switch inst.State {
		case types.InstanceStateStarting:
			m.startSubmit(rec)
		case types.InstanceStateStopping:
			m.startTeardown(rec)
		}
		logger.Info().Str("state", string(inst.State)).Msg("instance restored")
	}

	m.logger.Info().
		Int("active", restored).
		Int("history", len(m.history)).
		Msg("lifecycle state restored")
	return nil
}
