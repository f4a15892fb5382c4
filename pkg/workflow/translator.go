package workflow

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/sdpcontroller/pkg/types"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Labels stamped on every workflow so status notifications can be routed back
const (
	LabelManagedBy  = "app.kubernetes.io/managed-by"
	ManagedByValue  = "sdpcontroller"
	LabelSubarray   = "sdp.kat.ac.za/subarray"
	LabelInstanceID = "sdp.kat.ac.za/instance-id"

	AnnotationReceptors = "sdp.kat.ac.za/receptors"
)

// Environment variables injected into every component container
const (
	EnvSubarray   = "SDP_SUBARRAY"
	EnvReceptors  = "SDP_RECEPTORS"
	EnvInstanceID = "SDP_INSTANCE_ID"
)

const (
	entrypoint            = "pipeline"
	defaultServiceAccount = "workflow"
	maxNameBase           = 40
)

// Options tune the generated workflow
type Options struct {
	ServiceAccount string
	// TTLAfterCompletion is how long Argo keeps a finished workflow; zero omits the strategy
	TTLAfterCompletion time.Duration
}

// Translator turns pipeline instances into Argo workflow submissions
type Translator struct {
	opts Options
}

// NewTranslator creates a translator
func NewTranslator(opts Options) *Translator {
	if opts.ServiceAccount == "" {
		opts.ServiceAccount = defaultServiceAccount
	}
	return &Translator{opts: opts}
}

// WorkflowName derives the workflow name from the subarray name and the
// instance creation time, so successive activations never collide
func WorkflowName(subarray string, createdAt time.Time) string {
	var b strings.Builder
	for _, r := range strings.ToLower(subarray) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	base := strings.Trim(b.String(), "-")
	if len(base) > maxNameBase {
		base = strings.TrimRight(base[:maxNameBase], "-")
	}
	if base == "" {
		base = "subarray"
	}
	return base + "-" + strconv.FormatInt(createdAt.UTC().UnixMilli(), 10)
}

// Translate builds the submission for an instance. The output depends only on
// the instance value: the same instance always yields the same bytes.
func (t *Translator) Translate(inst *types.PipelineInstance) (*types.WorkflowSubmission, error) {
	if inst.Template == nil {
		return nil, fmt.Errorf("instance %s has no template", inst.ID)
	}

	name := inst.WorkflowName
	if name == "" {
		name = WorkflowName(inst.Subarray, inst.CreatedAt)
	}
	receptors := strings.Join(inst.Receptors, ",")

	wf := Workflow{
		APIVersion: APIVersion,
		Kind:       Kind,
		Metadata: metav1.ObjectMeta{
			Name:      name,
			Namespace: inst.Namespace,
			Labels: map[string]string{
				LabelManagedBy:  ManagedByValue,
				LabelSubarray:   inst.Subarray,
				LabelInstanceID: inst.ID,
			},
			Annotations: map[string]string{
				AnnotationReceptors: receptors,
			},
		},
		Spec: WorkflowSpec{
			Entrypoint:         entrypoint,
			ServiceAccountName: t.opts.ServiceAccount,
			Arguments: &Arguments{Parameters: []Parameter{
				{Name: "receptors", Value: receptors},
				{Name: "subarray", Value: inst.Subarray},
			}},
			TTLStrategy: t.ttlStrategy(),
		},
	}

	dag := &DAGTemplate{}
	containers := make([]Template, 0, len(inst.Template.Components))
	for _, c := range inst.Template.Components {
		tmplName := c.Name + "-template"

		var deps []string
		for _, dep := range c.Dependencies {
			if d := inst.Template.Component(dep); d != nil {
				deps = append(deps, d.TaskNames()...)
			}
		}
		inputs, args := parameters(c)
		for _, task := range c.TaskNames() {
			dag.Tasks = append(dag.Tasks, DAGTask{
				Name:         task,
				Template:     tmplName,
				Dependencies: deps,
				Arguments:    args,
				When:         c.When,
			})
		}

		container, err := t.container(inst, c, receptors)
		if err != nil {
			return nil, err
		}
		tmpl := Template{Name: tmplName, Inputs: inputs, Container: container}
		if c.Daemon {
			daemon := true
			tmpl.Daemon = &daemon
		}
		containers = append(containers, tmpl)
	}

	wf.Spec.Templates = append([]Template{{Name: entrypoint, DAG: dag}}, containers...)

	manifest, err := json.Marshal(&wf)
	if err != nil {
		return nil, fmt.Errorf("failed to encode workflow %s: %w", name, err)
	}

	return &types.WorkflowSubmission{
		InstanceID: inst.ID,
		Subarray:   inst.Subarray,
		Namespace:  inst.Namespace,
		Name:       name,
		Manifest:   manifest,
	}, nil
}

func (t *Translator) ttlStrategy() *TTLStrategy {
	if t.opts.TTLAfterCompletion <= 0 {
		return nil
	}
	secs := int32(t.opts.TTLAfterCompletion / time.Second)
	return &TTLStrategy{
		SecondsAfterCompletion: &secs,
		SecondsAfterSuccess:    &secs,
		SecondsAfterFailure:    &secs,
	}
}

func (t *Translator) container(inst *types.PipelineInstance, c *types.PipelineComponent, receptors string) (*corev1.Container, error) {
	env := []corev1.EnvVar{
		{Name: EnvSubarray, Value: inst.Subarray},
		{Name: EnvReceptors, Value: receptors},
		{Name: EnvInstanceID, Value: inst.ID},
	}
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, corev1.EnvVar{Name: k, Value: c.Env[k]})
	}

	list, err := resourceList(c)
	if err != nil {
		return nil, err
	}

	container := &corev1.Container{
		Name:    "main",
		Image:   c.Image,
		Command: c.Command,
		Args:    c.Args,
		Env:     env,
	}
	if len(list) > 0 {
		container.Resources = corev1.ResourceRequirements{
			Limits:   list,
			Requests: list.DeepCopy(),
		}
	}
	return container, nil
}

// resourceList converts component requirements into a Kubernetes resource list
func resourceList(c *types.PipelineComponent) (corev1.ResourceList, error) {
	list := corev1.ResourceList{}
	if c.Resources.CPU != "" {
		q, err := resource.ParseQuantity(c.Resources.CPU)
		if err != nil {
			return nil, fmt.Errorf("component %s cpu: %w", c.Name, err)
		}
		list[corev1.ResourceCPU] = q
	}
	if c.Resources.Memory != "" {
		q, err := resource.ParseQuantity(c.Resources.Memory)
		if err != nil {
			return nil, fmt.Errorf("component %s memory: %w", c.Name, err)
		}
		list[corev1.ResourceMemory] = q
	}
	for name, qty := range c.Resources.Custom {
		list[corev1.ResourceName(name)] = *resource.NewQuantity(qty, resource.DecimalSI)
	}
	return list, nil
}

// parameters declares the component's parameters on its template and binds
// their values on each task, in name order
func parameters(c *types.PipelineComponent) (*Inputs, *Arguments) {
	if len(c.Parameters) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(c.Parameters))
	for name := range c.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)

	inputs := &Inputs{Parameters: make([]Parameter, 0, len(names))}
	args := &Arguments{Parameters: make([]Parameter, 0, len(names))}
	for _, name := range names {
		inputs.Parameters = append(inputs.Parameters, Parameter{Name: name})
		args.Parameters = append(args.Parameters, Parameter{Name: name, Value: c.Parameters[name]})
	}
	return inputs, args
}
