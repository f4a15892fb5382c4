package workflow

import (
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// The subset of the argoproj.io/v1alpha1 Workflow schema the translator emits.
// Field order and omitempty tags are part of the output format: changing them
// changes the bytes of every submission.

const (
	APIVersion = "argoproj.io/v1alpha1"
	Kind       = "Workflow"
)

// Workflow is an Argo Workflow manifest
type Workflow struct {
	APIVersion string            `json:"apiVersion"`
	Kind       string            `json:"kind"`
	Metadata   metav1.ObjectMeta `json:"metadata"`
	Spec       WorkflowSpec      `json:"spec"`
}

// WorkflowSpec is the workflow body
type WorkflowSpec struct {
	Entrypoint         string       `json:"entrypoint"`
	ServiceAccountName string       `json:"serviceAccountName,omitempty"`
	Arguments          *Arguments   `json:"arguments,omitempty"`
	TTLStrategy        *TTLStrategy `json:"ttlStrategy,omitempty"`
	Templates          []Template   `json:"templates"`
}

// TTLStrategy controls garbage collection of finished workflows
type TTLStrategy struct {
	SecondsAfterCompletion *int32 `json:"secondsAfterCompletion,omitempty"`
	SecondsAfterSuccess    *int32 `json:"secondsAfterSuccess,omitempty"`
	SecondsAfterFailure    *int32 `json:"secondsAfterFailure,omitempty"`
}

// Arguments holds workflow or task parameters
type Arguments struct {
	Parameters []Parameter `json:"parameters,omitempty"`
}

// Parameter is a named string value
type Parameter struct {
	Name  string `json:"name"`
	Value string `json:"value,omitempty"`
}

// Inputs declares the parameters a template accepts
type Inputs struct {
	Parameters []Parameter `json:"parameters,omitempty"`
}

// Template is either the DAG entrypoint or a container template
type Template struct {
	Name      string            `json:"name"`
	Inputs    *Inputs           `json:"inputs,omitempty"`
	DAG       *DAGTemplate      `json:"dag,omitempty"`
	Container *corev1.Container `json:"container,omitempty"`
	Daemon    *bool             `json:"daemon,omitempty"`
}

// DAGTemplate lists the tasks of the pipeline
type DAGTemplate struct {
	Tasks []DAGTask `json:"tasks"`
}

// DAGTask runs one replica of a component
type DAGTask struct {
	Name         string     `json:"name"`
	Template     string     `json:"template"`
	Dependencies []string   `json:"dependencies,omitempty"`
	Arguments    *Arguments `json:"arguments,omitempty"`
	When         string     `json:"when,omitempty"`
}
