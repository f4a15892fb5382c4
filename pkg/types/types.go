package types

import (
	"sort"
	"strconv"
	"time"
)

// ResourceRequirements describes what one replica of a pipeline component needs
type ResourceRequirements struct {
	CPU    string           `json:"cpu,omitempty"`    // Canonical quantity, e.g. "500m"
	Memory string           `json:"memory,omitempty"` // Canonical quantity, e.g. "1Gi"
	Custom map[string]int64 `json:"custom,omitempty"` // Named schedulable resources
}

// PipelineComponent is one process of a subarray pipeline (head, ingest, telstate, ...)
type PipelineComponent struct {
	Name         string               `json:"name"`
	Image        string               `json:"image"`
	Command      []string             `json:"command,omitempty"`
	Args         []string             `json:"args,omitempty"`
	Env          map[string]string    `json:"env,omitempty"`
	Dependencies []string             `json:"dependencies,omitempty"`
	Daemon       bool                 `json:"daemon,omitempty"`
	Replicas     int                  `json:"replicas"`
	Resources    ResourceRequirements `json:"resources"`
	// Parameters are passed to every task of the component as workflow
	// arguments; values may reference other tasks, e.g. "{{tasks.telstate.ip}}"
	Parameters map[string]string `json:"parameters,omitempty"`
	// When is an optional workflow condition gating the component's tasks
	When string `json:"when,omitempty"`
}

// TaskNames returns one workflow task name per replica: "ingest" for a single
// replica, "ingest1".."ingestN" otherwise
func (c *PipelineComponent) TaskNames() []string {
	if c.Replicas <= 1 {
		return []string{c.Name}
	}
	names := make([]string, 0, c.Replicas)
	for i := 1; i <= c.Replicas; i++ {
		names = append(names, c.Name+strconv.Itoa(i))
	}
	return names
}

// PipelineTemplate is the immutable set of components making up a pipeline
type PipelineTemplate struct {
	Name       string               `json:"name"`
	Components []*PipelineComponent `json:"components"`
	TTL        time.Duration        `json:"ttl"`
}

// CustomTotals sums the custom resource requirements of every replica of every component
func (t *PipelineTemplate) CustomTotals() map[string]int64 {
	totals := make(map[string]int64)
	if t == nil {
		return totals
	}
	for _, c := range t.Components {
		replicas := int64(c.Replicas)
		if replicas < 1 {
			replicas = 1
		}
		for name, qty := range c.Resources.Custom {
			totals[name] += qty * replicas
		}
	}
	return totals
}

// Component returns the named component, or nil
func (t *PipelineTemplate) Component(name string) *PipelineComponent {
	for _, c := range t.Components {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Subarray is a configured grouping of receptors with its own namespace
type Subarray struct {
	Name      string   `json:"name"`
	Namespace string   `json:"namespace"`
	Receptors []string `json:"receptors"`
	Template  string   `json:"template"`
}

// InstanceState is the lifecycle state of a pipeline instance
type InstanceState string

const (
	InstanceStateStarting   InstanceState = "Starting"
	InstanceStateRunning    InstanceState = "Running"
	InstanceStateStopping   InstanceState = "Stopping"
	InstanceStateTerminated InstanceState = "Terminated"
	InstanceStateFailed     InstanceState = "Failed"

	// InstanceStateInactive is reported for subarrays that never had an instance
	InstanceStateInactive InstanceState = "inactive"
)

// Active reports whether instances in this state hold receptors and resources
func (s InstanceState) Active() bool {
	switch s {
	case InstanceStateStarting, InstanceStateRunning, InstanceStateStopping:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible
func (s InstanceState) Terminal() bool {
	return s == InstanceStateTerminated || s == InstanceStateFailed
}

// PipelineInstance is one activation of a template for a subarray
type PipelineInstance struct {
	ID           string            `json:"id"`
	Subarray     string            `json:"subarray"`
	Namespace    string            `json:"namespace"`
	Template     *PipelineTemplate `json:"template"`
	Receptors    []string          `json:"receptors"`
	State        InstanceState     `json:"state"`
	WorkflowName string            `json:"workflowName"`
	Handle       string            `json:"handle,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`

	// DispatchedAt is the time of the last submit or cancel call, used for status timeouts
	DispatchedAt     time.Time `json:"dispatchedAt,omitempty"`
	SubmitAttempts   int       `json:"submitAttempts"`   // submit calls made
	TeardownFailures int       `json:"teardownFailures"` // cancel calls that errored

	// Released is set once a stuck teardown has provisionally given back its
	// receptors and custom resources
	Released bool `json:"released,omitempty"`
}

// Holds reports whether the instance still counts against the resource ledger
func (i *PipelineInstance) Holds() bool {
	return i.State.Active() && !i.Released
}

// TTL returns the template TTL
func (i *PipelineInstance) TTL() time.Duration {
	if i.Template == nil {
		return 0
	}
	return i.Template.TTL
}

// Clone returns a deep copy safe to hand out of the manager
func (i *PipelineInstance) Clone() *PipelineInstance {
	if i == nil {
		return nil
	}
	c := *i
	c.Receptors = append([]string(nil), i.Receptors...)
	return &c
}

// WorkflowSubmission is the document handed to the external workflow engine
type WorkflowSubmission struct {
	InstanceID string `json:"instanceId"`
	Subarray   string `json:"subarray"`
	Namespace  string `json:"namespace"`
	Name       string `json:"name"`
	Manifest   []byte `json:"manifest"`
}

// Handle is the external reference used to cancel the workflow
func (s *WorkflowSubmission) Handle() string {
	return WorkflowHandle(s.Namespace, s.Name)
}

// WorkflowHandle joins a namespace and workflow name into an external handle
func WorkflowHandle(namespace, name string) string {
	return namespace + "/" + name
}

// WorkflowPhase is a status reported by the external engine
type WorkflowPhase string

const (
	// WorkflowPhaseRunning means the engine accepted the workflow and it is executing
	WorkflowPhaseRunning WorkflowPhase = "running"
	// WorkflowPhaseFailed means the workflow hit a fatal error
	WorkflowPhaseFailed WorkflowPhase = "failed"
	// WorkflowPhaseEnded means the workflow finished or was removed
	WorkflowPhaseEnded WorkflowPhase = "ended"
	// WorkflowPhaseRejected means the engine refused the submission
	WorkflowPhaseRejected WorkflowPhase = "rejected"
)

// StatusUpdate is an inbound notification from the workflow engine
type StatusUpdate struct {
	InstanceID string
	Handle     string
	Phase      WorkflowPhase
	Message    string
	Timestamp  time.Time
}

// StatusReport answers a status query for one subarray
type StatusReport struct {
	Subarray  string            `json:"subarray"`
	Namespace string            `json:"namespace"`
	State     InstanceState     `json:"state"`
	Instance  *PipelineInstance `json:"instance,omitempty"`
}

// SortInstances orders instances by subarray name, then creation time
func SortInstances(instances []*PipelineInstance) {
	sort.Slice(instances, func(a, b int) bool {
		if instances[a].Subarray != instances[b].Subarray {
			return instances[a].Subarray < instances[b].Subarray
		}
		return instances[a].CreatedAt.Before(instances[b].CreatedAt)
	})
}
