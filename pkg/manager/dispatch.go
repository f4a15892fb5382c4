package manager

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/cuemby/sdpcontroller/pkg/engine"
	"github.com/cuemby/sdpcontroller/pkg/events"
	"github.com/cuemby/sdpcontroller/pkg/metrics"
	"github.com/cuemby/sdpcontroller/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
)

func (m *Manager) backoff() *wait.Backoff {
	return &wait.Backoff{
		Duration: m.cfg.RetryBackoff,
		Factor:   2.0,
		Jitter:   0.1,
		Steps:    math.MaxInt32,
		Cap:      m.cfg.MaxBackoff,
	}
}

// sleep waits for d or until the manager is closed
func (m *Manager) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-m.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (m *Manager) startSubmit(rec *record) {
	if rec.submitting || m.closed {
		return
	}
	rec.submitting = true
	m.wg.Add(1)
	go m.submitLoop(rec.inst.ID, rec.sub)
}

func (m *Manager) startTeardown(rec *record) {
	if rec.tearingDown || m.closed {
		return
	}
	rec.tearingDown = true
	m.wg.Add(1)
	go m.teardownLoop(rec.inst.ID)
}

// submitLoop submits the workflow until it is accepted, the instance leaves
// Starting, or the attempt budget is spent
func (m *Manager) submitLoop(id string, sub *types.WorkflowSubmission) {
	defer m.wg.Done()
	backoff := m.backoff()

	for {
		m.mu.Lock()
		rec, ok := m.byID[id]
		if !ok {
			m.mu.Unlock()
			return
		}
		if rec.inst.State != types.InstanceStateStarting {
			rec.submitting = false
			m.mu.Unlock()
			return
		}
		rec.inst.SubmitAttempts++
		rec.inst.DispatchedAt = m.cfg.Now()
		attempt := rec.inst.SubmitAttempts
		m.persist(rec)
		logger := m.instanceLogger(rec.inst)
		m.mu.Unlock()

		logger.Debug().Int("attempt", attempt).Str("workflow", sub.Handle()).Msg("submitting workflow")
		ctx, cancel := context.WithTimeout(m.ctx, m.cfg.DispatchTimeout)
		handle, err := m.client.Submit(ctx, sub)
		cancel()

		m.mu.Lock()
		rec, ok = m.byID[id]
		if !ok {
			m.mu.Unlock()
			return
		}
		if err == nil {
			metrics.DispatchTotal.WithLabelValues("submit", "ok").Inc()
			rec.submitting = false
			if handle != "" && handle != rec.inst.Handle {
				rec.inst.Handle = handle
				m.persist(rec)
			}
			m.mu.Unlock()
			return
		}

		metrics.DispatchTotal.WithLabelValues("submit", "error").Inc()
		if m.ctx.Err() != nil || rec.inst.State != types.InstanceStateStarting {
			rec.submitting = false
			m.mu.Unlock()
			return
		}
		if attempt >= m.cfg.SubmitAttempts {
			m.fail(rec, &types.DispatchError{Op: "submit", Handle: sub.Handle(), Err: err})
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		delay := backoff.Step()
		logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("workflow submit failed")
		if !m.sleep(delay) {
			return
		}
	}
}

// teardownLoop cancels the workflow until the engine accepts the cancel or
// reports it gone. It never gives up on its own; after enough failures the
// ledger slot is released provisionally and, with escalation configured,
// the instance is failed.
func (m *Manager) teardownLoop(id string) {
	defer m.wg.Done()
	backoff := m.backoff()

	for {
		m.mu.Lock()
		rec, ok := m.byID[id]
		if !ok {
			m.mu.Unlock()
			return
		}
		if rec.inst.State != types.InstanceStateStopping {
			rec.tearingDown = false
			m.mu.Unlock()
			return
		}
		rec.inst.DispatchedAt = m.cfg.Now()
		handle := rec.inst.Handle
		logger := m.instanceLogger(rec.inst)
		m.mu.Unlock()

		logger.Debug().Str("workflow", handle).Msg("cancelling workflow")
		ctx, cancel := context.WithTimeout(m.ctx, m.cfg.DispatchTimeout)
		err := m.client.Cancel(ctx, handle)
		cancel()

		m.mu.Lock()
		rec, ok = m.byID[id]
		if !ok {
			m.mu.Unlock()
			return
		}
		if rec.inst.State != types.InstanceStateStopping {
			rec.tearingDown = false
			m.mu.Unlock()
			return
		}

		switch {
		case err == nil:
			// Terminate accepted; the engine confirms with an ended status
			metrics.DispatchTotal.WithLabelValues("cancel", "ok").Inc()
			rec.tearingDown = false
			m.persist(rec)
			m.mu.Unlock()
			return

		case errors.Is(err, engine.ErrGone):
			metrics.DispatchTotal.WithLabelValues("cancel", "gone").Inc()
			if !rec.submitting {
				m.finish(rec, types.InstanceStateTerminated, "workflow gone")
				m.mu.Unlock()
				return
			}
			// The submit call may still create the workflow; try again once it settles
			m.mu.Unlock()

		default:
			metrics.DispatchTotal.WithLabelValues("cancel", "error").Inc()
			if m.ctx.Err() != nil {
				rec.tearingDown = false
				m.mu.Unlock()
				return
			}
			rec.inst.TeardownFailures++
			failures := rec.inst.TeardownFailures
			cause := &types.DispatchError{Op: "cancel", Handle: handle, Err: err}

			if !rec.inst.Released && failures >= m.cfg.TeardownAttempts {
				m.release(rec, cause)
			}
			if m.cfg.TeardownEscalation > 0 && failures >= m.cfg.TeardownEscalation {
				m.fail(rec, cause)
				m.mu.Unlock()
				return
			}
			m.persist(rec)
			m.mu.Unlock()
			logger.Warn().Err(err).Int("failures", failures).Msg("workflow cancel failed")
		}

		if !m.sleep(backoff.Step()) {
			return
		}
	}
}

// release gives back a stuck instance's receptors and resources while its
// teardown keeps retrying
func (m *Manager) release(rec *record, cause error) {
	rec.inst.Released = true
	rec.inst.UpdatedAt = m.cfg.Now()
	metrics.ProvisionalReleases.Inc()

	m.instanceLogger(rec.inst).Error().
		Err(cause).
		Int("failures", rec.inst.TeardownFailures).
		Strs("receptors", rec.inst.Receptors).
		Msg("teardown stuck, releasing receptors and resources provisionally")
	m.publish(events.EventInstanceReleased, rec.inst, cause.Error())
}

// cleanupLoop cancels a failed instance's workflow. The subarray cannot be
// activated again until this finishes.
func (m *Manager) cleanupLoop(subarray, id, handle string) {
	defer m.wg.Done()
	backoff := m.backoff()
	logger := m.logger.With().Str("subarray", subarray).Str("instance_id", id).Logger()

	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(m.ctx, m.cfg.DispatchTimeout)
		err := m.client.Cancel(ctx, handle)
		cancel()

		if err == nil || errors.Is(err, engine.ErrGone) {
			metrics.DispatchTotal.WithLabelValues("cancel", resultLabel(err)).Inc()
			logger.Info().Str("workflow", handle).Msg("failed instance cleaned up")
			break
		}
		metrics.DispatchTotal.WithLabelValues("cancel", "error").Inc()
		if attempt >= m.cfg.TeardownAttempts {
			logger.Error().Err(err).Str("workflow", handle).Msg("giving up on cleanup of failed instance")
			break
		}
		if !m.sleep(backoff.Step()) {
			return
		}
	}

	m.mu.Lock()
	if m.cleanup[subarray] == id {
		delete(m.cleanup, subarray)
	}
	m.mu.Unlock()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, engine.ErrGone):
		return "gone"
	}
	return "error"
}
