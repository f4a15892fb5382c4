package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/sdpcontroller/pkg/arbiter"
	"github.com/cuemby/sdpcontroller/pkg/engine"
	"github.com/cuemby/sdpcontroller/pkg/events"
	"github.com/cuemby/sdpcontroller/pkg/log"
	"github.com/cuemby/sdpcontroller/pkg/metrics"
	"github.com/cuemby/sdpcontroller/pkg/registry"
	"github.com/cuemby/sdpcontroller/pkg/storage"
	"github.com/cuemby/sdpcontroller/pkg/types"
	"github.com/cuemby/sdpcontroller/pkg/workflow"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrClosed is returned by mutating calls after Close
var ErrClosed = errors.New("manager closed")

// Config holds lifecycle tuning
type Config struct {
	// SubmitAttempts bounds submit calls per instance before it moves to Failed
	SubmitAttempts int
	// TeardownAttempts is the number of failed cancel calls after which the
	// instance's receptors and resources are released provisionally
	TeardownAttempts int
	// TeardownEscalation moves a stuck Stopping instance to Failed after this
	// many failed cancel calls; 0 retries forever
	TeardownEscalation int
	// RetryBackoff and MaxBackoff shape the delay between dispatch retries
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
	// DispatchTimeout bounds a single submit or cancel call
	DispatchTimeout time.Duration
	// StatusTimeout is how long a dispatch may go without a status
	// notification before the sweep re-dispatches it
	StatusTimeout time.Duration
	// HistoryLimit bounds the terminal instances kept for status queries
	HistoryLimit int
	// Now returns the current time; tests replace it
	Now func() time.Time
}

// DefaultConfig returns the lifecycle defaults
func DefaultConfig() Config {
	return Config{
		SubmitAttempts:     3,
		TeardownAttempts:   5,
		TeardownEscalation: 0,
		RetryBackoff:       time.Second,
		MaxBackoff:         30 * time.Second,
		DispatchTimeout:    30 * time.Second,
		StatusTimeout:      2 * time.Minute,
		HistoryLimit:       100,
		Now:                time.Now,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SubmitAttempts <= 0 {
		c.SubmitAttempts = d.SubmitAttempts
	}
	if c.TeardownAttempts <= 0 {
		c.TeardownAttempts = d.TeardownAttempts
	}
	if c.TeardownEscalation < 0 {
		c.TeardownEscalation = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.MaxBackoff < c.RetryBackoff {
		c.MaxBackoff = c.RetryBackoff
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = d.DispatchTimeout
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = d.HistoryLimit
	}
	if c.Now == nil {
		c.Now = d.Now
	}
	return c
}

// Options wires a Manager to its collaborators. Store and Broker are optional.
type Options struct {
	Registry   *registry.Registry
	Templates  map[string]*types.PipelineTemplate
	Capacity   map[string]int64
	Translator *workflow.Translator
	Client     engine.Client
	Store      storage.Store
	Broker     *events.Broker
	Config     Config
}

// record is the manager's view of one active instance
type record struct {
	inst *types.PipelineInstance
	sub  *types.WorkflowSubmission

	submitting  bool // a submit loop owns this instance
	tearingDown bool // a teardown loop owns this instance
}

// Manager owns every pipeline instance and drives it through
// Starting → Running → Stopping → Terminated (or Failed).
//
// All mutations happen under mu. Calls to the workflow engine run in
// goroutines that take mu only to read and record state, never while the
// call is in flight.
type Manager struct {
	mu sync.Mutex

	registry   *registry.Registry
	templates  map[string]*types.PipelineTemplate
	arbiter    *arbiter.Arbiter
	translator *workflow.Translator
	client     engine.Client
	store      storage.Store
	broker     *events.Broker
	cfg        Config
	logger     zerolog.Logger

	bySubarray   map[string]*record
	byID         map[string]*record
	lastTerminal map[string]*types.PipelineInstance
	history      []*types.PipelineInstance
	cleanup      map[string]string // subarray → failed instance ID awaiting cancel

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// New creates a Manager
func New(opts Options) (*Manager, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("workflow engine client is required")
	}
	for _, sa := range opts.Registry.Subarrays() {
		if _, ok := opts.Templates[sa.Template]; !ok {
			return nil, types.Invalid("subarray", sa.Name, "template", "unknown template %q", sa.Template)
		}
	}
	translator := opts.Translator
	if translator == nil {
		translator = workflow.NewTranslator(workflow.Options{})
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		registry:     opts.Registry,
		templates:    opts.Templates,
		arbiter:      arbiter.New(opts.Capacity),
		translator:   translator,
		client:       opts.Client,
		store:        opts.Store,
		broker:       opts.Broker,
		cfg:          opts.Config.withDefaults(),
		logger:       log.WithComponent("manager"),
		bySubarray:   make(map[string]*record),
		byID:         make(map[string]*record),
		lastTerminal: make(map[string]*types.PipelineInstance),
		cleanup:      make(map[string]string),
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Activate admits and starts a pipeline instance for the named subarray.
// The instance is recorded as Starting before the workflow is submitted;
// the returned ID identifies it in status notifications.
func (m *Manager) Activate(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return "", ErrClosed
	}

	req := arbiter.Request{Name: name}
	sa, err := m.registry.Lookup(name)
	if err == nil {
		req.Subarray = sa
		req.Template = m.templates[sa.Template]
	}

	if failedID, pending := m.cleanup[name]; pending {
		return "", m.deny(&types.DenialError{
			Reason:   types.ReasonAlreadyActive,
			Subarray: name,
			Detail:   fmt.Sprintf("cleanup pending for failed instance %s", failedID),
		})
	}

	if err := m.arbiter.Check(req, m.activeLocked()); err != nil {
		return "", m.deny(err)
	}

	now := m.cfg.Now()
	inst := &types.PipelineInstance{
		ID:           uuid.New().String(),
		Subarray:     sa.Name,
		Namespace:    sa.Namespace,
		Template:     req.Template,
		Receptors:    append([]string(nil), sa.Receptors...),
		State:        types.InstanceStateStarting,
		WorkflowName: workflow.WorkflowName(sa.Name, now),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	sub, err := m.translator.Translate(inst)
	if err != nil {
		return "", fmt.Errorf("failed to translate instance for subarray %s: %w", name, err)
	}
	inst.Handle = sub.Handle()

	rec := &record{inst: inst, sub: sub}
	m.bySubarray[inst.Subarray] = rec
	m.byID[inst.ID] = rec
	m.persist(rec)

	metrics.ActivationsTotal.WithLabelValues("admitted").Inc()
	m.instanceLogger(inst).Info().
		Str("to", string(inst.State)).
		Strs("receptors", inst.Receptors).
		Str("workflow", inst.Handle).
		Msg("instance activated")
	m.publish(events.EventInstanceStarting, inst, "activated")

	m.startSubmit(rec)
	return inst.ID, nil
}

// Deactivate stops the subarray's instance. Deactivating a subarray with no
// active instance, or one already Stopping, succeeds without doing anything.
func (m *Manager) Deactivate(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if _, err := m.registry.Lookup(name); err != nil {
		return &types.DenialError{Reason: types.ReasonUnknownSubarray, Subarray: name}
	}

	rec, ok := m.bySubarray[name]
	if !ok {
		m.logger.Debug().Str("subarray", name).Msg("deactivate: no active instance")
		return nil
	}

	switch rec.inst.State {
	case types.InstanceStateStarting, types.InstanceStateRunning:
		m.transition(rec, types.InstanceStateStopping, "deactivated")
		m.startTeardown(rec)
	}
	return nil
}

// Status reports the subarray's active instance, or its most recent terminal
// instance, or inactive when it has never been activated
func (m *Manager) Status(name string) (*types.StatusReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sa, err := m.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	return m.statusLocked(sa), nil
}

// List reports every configured subarray, sorted by name
func (m *Manager) List() []*types.StatusReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	subarrays := m.registry.Subarrays()
	reports := make([]*types.StatusReport, 0, len(subarrays))
	for _, sa := range subarrays {
		reports = append(reports, m.statusLocked(sa))
	}
	return reports
}

// Snapshot returns copies of all active instances
func (m *Manager) Snapshot() []*types.PipelineInstance {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := m.activeLocked()
	out := make([]*types.PipelineInstance, len(active))
	for i, inst := range active {
		out[i] = inst.Clone()
	}
	return out
}

// History returns copies of the retained terminal instances, oldest first
func (m *Manager) History() []*types.PipelineInstance {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*types.PipelineInstance, len(m.history))
	for i, inst := range m.history {
		out[i] = inst.Clone()
	}
	return out
}

// Receptors returns the configured receptor pool
func (m *Manager) Receptors() []string {
	return m.registry.Receptors()
}

// Close stops all dispatch goroutines and waits for them to exit.
// Instances keep their recorded state; Restore resumes them.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

func (m *Manager) statusLocked(sa *types.Subarray) *types.StatusReport {
	report := &types.StatusReport{
		Subarray:  sa.Name,
		Namespace: sa.Namespace,
		State:     types.InstanceStateInactive,
	}
	if rec, ok := m.bySubarray[sa.Name]; ok {
		report.State = rec.inst.State
		report.Instance = rec.inst.Clone()
	} else if last, ok := m.lastTerminal[sa.Name]; ok {
		report.State = last.State
		report.Instance = last.Clone()
	}
	return report
}

// activeLocked returns the live instance pointers sorted by subarray
func (m *Manager) activeLocked() []*types.PipelineInstance {
	active := make([]*types.PipelineInstance, 0, len(m.bySubarray))
	for _, rec := range m.bySubarray {
		active = append(active, rec.inst)
	}
	types.SortInstances(active)
	return active
}

func (m *Manager) sortedRecords() []*record {
	recs := make([]*record, 0, len(m.bySubarray))
	for _, rec := range m.bySubarray {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].inst.Subarray < recs[j].inst.Subarray })
	return recs
}

func (m *Manager) deny(err error) error {
	reason := types.ReasonOf(err)
	metrics.ActivationsTotal.WithLabelValues(reason).Inc()

	var denial *types.DenialError
	if errors.As(err, &denial) {
		m.logger.Warn().Str("subarray", denial.Subarray).Str("reason", reason).Msg(denial.Error())
		if m.broker != nil {
			m.broker.Publish(&events.Event{
				Type:     events.EventActivationDenied,
				Subarray: denial.Subarray,
				Message:  denial.Error(),
				Metadata: map[string]string{"reason": reason},
			})
		}
	}
	return err
}

var stateEvents = map[types.InstanceState]events.EventType{
	types.InstanceStateStarting:   events.EventInstanceStarting,
	types.InstanceStateRunning:    events.EventInstanceRunning,
	types.InstanceStateStopping:   events.EventInstanceStopping,
	types.InstanceStateTerminated: events.EventInstanceTerminated,
	types.InstanceStateFailed:     events.EventInstanceFailed,
}

// transition moves an active instance to another active state
func (m *Manager) transition(rec *record, to types.InstanceState, reason string) {
	from := rec.inst.State
	rec.inst.State = to
	rec.inst.UpdatedAt = m.cfg.Now()
	if reason != "" {
		rec.inst.Reason = reason
	}
	m.persist(rec)

	m.instanceLogger(rec.inst).Info().
		Str("from", string(from)).
		Str("to", string(to)).
		Str("reason", reason).
		Msg("instance state changed")
	m.publish(stateEvents[to], rec.inst, reason)
}

// finish moves an instance to Terminated or Failed and drops it from the
// active set, which frees its receptors and resources
func (m *Manager) finish(rec *record, to types.InstanceState, reason string) {
	from := rec.inst.State
	rec.inst.State = to
	rec.inst.UpdatedAt = m.cfg.Now()
	rec.inst.Reason = reason
	rec.submitting = false
	rec.tearingDown = false

	delete(m.byID, rec.inst.ID)
	if cur, ok := m.bySubarray[rec.inst.Subarray]; ok && cur == rec {
		delete(m.bySubarray, rec.inst.Subarray)
	}
	m.archive(rec.inst)

	level := zerolog.InfoLevel
	if to == types.InstanceStateFailed {
		level = zerolog.ErrorLevel
	}
	logger := m.instanceLogger(rec.inst)
	logger.WithLevel(level).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("reason", reason).
		Msg("instance state changed")
	m.publish(stateEvents[to], rec.inst, reason)
}

// fail moves the instance to Failed and starts a best-effort cancel of
// whatever the engine may still be running for it
func (m *Manager) fail(rec *record, cause error) {
	inst := rec.inst
	m.finish(rec, types.InstanceStateFailed, cause.Error())

	if inst.SubmitAttempts > 0 && inst.Handle != "" && !m.closed {
		m.cleanup[inst.Subarray] = inst.ID
		m.wg.Add(1)
		go m.cleanupLoop(inst.Subarray, inst.ID, inst.Handle)
	}
}

func (m *Manager) archive(inst *types.PipelineInstance) {
	m.lastTerminal[inst.Subarray] = inst
	m.history = append(m.history, inst)
	if over := len(m.history) - m.cfg.HistoryLimit; over > 0 {
		m.history = append([]*types.PipelineInstance(nil), m.history[over:]...)
	}

	if m.store == nil {
		return
	}
	if err := m.store.ArchiveInstance(inst, m.cfg.HistoryLimit); err != nil {
		m.instanceLogger(inst).Error().Err(err).Msg("failed to archive instance")
	}
}

func (m *Manager) persist(rec *record) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveInstance(rec.inst); err != nil {
		m.instanceLogger(rec.inst).Error().Err(err).Msg("failed to persist instance")
	}
}

func (m *Manager) publish(typ events.EventType, inst *types.PipelineInstance, message string) {
	if m.broker == nil {
		return
	}
	m.broker.Publish(&events.Event{
		Type:     typ,
		Subarray: inst.Subarray,
		Message:  message,
		Metadata: map[string]string{
			"instance_id": inst.ID,
			"state":       string(inst.State),
			"workflow":    inst.Handle,
		},
	})
}

func (m *Manager) instanceLogger(inst *types.PipelineInstance) *zerolog.Logger {
	return log.WithInstance(m.logger, inst.Subarray, inst.ID)
}
