package pipeline

import (
	"regexp"
	"sort"
	"time"

	"github.com/cuemby/sdpcontroller/pkg/types"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/util/validation"
)

// ResourceSpec is the configuration form of a component's requirements
type ResourceSpec struct {
	CPU    string           `yaml:"cpu"`
	Memory string           `yaml:"memory"`
	Custom map[string]int64 `yaml:"custom"`
}

// ComponentSpec is the configuration form of a pipeline component
type ComponentSpec struct {
	Name         string            `yaml:"name"`
	Image        string            `yaml:"image"`
	Command      []string          `yaml:"command"`
	Args         []string          `yaml:"args"`
	Env          map[string]string `yaml:"env"`
	Dependencies []string          `yaml:"dependencies"`
	Daemon       bool              `yaml:"daemon"`
	Replicas     int               `yaml:"replicas"`
	Resources    ResourceSpec      `yaml:"resources"`
	Parameters   map[string]string `yaml:"parameters"`
	When         string            `yaml:"when"`
}

// TemplateSpec is the configuration form of a pipeline template
type TemplateSpec struct {
	// TTL in seconds; zero means use the global default
	TTL        int             `yaml:"ttl"`
	Components []ComponentSpec `yaml:"components"`
}

// Load validates a template spec and returns the immutable template.
// defaultTTL applies when the spec does not set its own.
func Load(name string, spec TemplateSpec, defaultTTL time.Duration) (*types.PipelineTemplate, error) {
	if name == "" {
		return nil, types.Invalid("template", name, "name", "must not be empty")
	}
	if len(spec.Components) == 0 {
		return nil, types.Invalid("template", name, "components", "at least one component is required")
	}

	ttl := defaultTTL
	if spec.TTL < 0 {
		return nil, types.Invalid("template", name, "ttl", "must be positive, got %d", spec.TTL)
	}
	if spec.TTL > 0 {
		ttl = time.Duration(spec.TTL) * time.Second
	}
	if ttl <= 0 {
		return nil, types.Invalid("template", name, "ttl", "no ttl set and no global default")
	}

	tmpl := &types.PipelineTemplate{Name: name, TTL: ttl}
	seen := make(map[string]bool, len(spec.Components))
	for i := range spec.Components {
		c, err := loadComponent(&spec.Components[i])
		if err != nil {
			return nil, err
		}
		if seen[c.Name] {
			return nil, types.Invalid("component", c.Name, "name", "duplicated in template %s", name)
		}
		seen[c.Name] = true
		tmpl.Components = append(tmpl.Components, c)
	}

	// Dependencies must point inside the template and must not form a cycle
	for _, c := range tmpl.Components {
		for _, dep := range c.Dependencies {
			if !seen[dep] {
				return nil, types.Invalid("component", c.Name, "dependencies", "unknown component %q", dep)
			}
			if dep == c.Name {
				return nil, types.Invalid("component", c.Name, "dependencies", "depends on itself")
			}
		}
	}
	if cycle := findCycle(tmpl); cycle != "" {
		return nil, types.Invalid("template", name, "dependencies", "cycle through %s", cycle)
	}

	// Replica expansion must not produce the same workflow task twice,
	// e.g. "ingest" with two replicas next to a component named "ingest1"
	owners := make(map[string]string)
	for _, c := range tmpl.Components {
		for _, task := range c.TaskNames() {
			if owner, dup := owners[task]; dup {
				return nil, types.Invalid("component", c.Name, "name", "task %s collides with component %s in template %s", task, owner, name)
			}
			owners[task] = c.Name
		}
	}

	for _, c := range tmpl.Components {
		if err := checkTaskRefs(tmpl, c, owners); err != nil {
			return nil, err
		}
	}

	return tmpl, nil
}

var taskRef = regexp.MustCompile(`\{\{\s*tasks\.([^.}\s]+)\.`)

// checkTaskRefs rejects parameter values and conditions that read the
// outputs of a task outside the component's dependency chain; the workflow
// engine only resolves those once the referenced task has run
func checkTaskRefs(tmpl *types.PipelineTemplate, c *types.PipelineComponent, owners map[string]string) error {
	deps := make(map[string]bool)
	var walk func(*types.PipelineComponent)
	walk = func(from *types.PipelineComponent) {
		for _, dep := range from.Dependencies {
			if !deps[dep] {
				deps[dep] = true
				walk(tmpl.Component(dep))
			}
		}
	}
	walk(c)
	check := func(field, value string) error {
		for _, m := range taskRef.FindAllStringSubmatch(value, -1) {
			owner, ok := owners[m[1]]
			if !ok {
				return types.Invalid("component", c.Name, field, "unknown task %q", m[1])
			}
			if !deps[owner] {
				return types.Invalid("component", c.Name, field, "task %s belongs to %s, which %s does not depend on", m[1], owner, c.Name)
			}
		}
		return nil
	}

	names := make([]string, 0, len(c.Parameters))
	for k := range c.Parameters {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		if err := check("parameters", c.Parameters[k]); err != nil {
			return err
		}
	}
	return check("when", c.When)
}

func loadComponent(spec *ComponentSpec) (*types.PipelineComponent, error) {
	if spec.Name == "" {
		return nil, types.Invalid("component", "", "name", "must not be empty")
	}
	if errs := validation.IsDNS1123Label(spec.Name); len(errs) > 0 {
		return nil, types.Invalid("component", spec.Name, "name", "%s", errs[0])
	}
	if spec.Image == "" {
		return nil, types.Invalid("component", spec.Name, "image", "must not be empty")
	}
	if spec.Replicas < 0 {
		return nil, types.Invalid("component", spec.Name, "replicas", "must not be negative")
	}

	cpu, err := positiveQuantity(spec.Name, "resources.cpu", spec.Resources.CPU)
	if err != nil {
		return nil, err
	}
	memory, err := positiveQuantity(spec.Name, "resources.memory", spec.Resources.Memory)
	if err != nil {
		return nil, err
	}

	var custom map[string]int64
	if len(spec.Resources.Custom) > 0 {
		custom = make(map[string]int64, len(spec.Resources.Custom))
		for res, qty := range spec.Resources.Custom {
			if errs := validation.IsQualifiedName(res); len(errs) > 0 {
				return nil, types.Invalid("component", spec.Name, "resources.custom", "%q: %s", res, errs[0])
			}
			if qty <= 0 {
				return nil, types.Invalid("component", spec.Name, "resources.custom", "%s must be positive, got %d", res, qty)
			}
			custom[res] = qty
		}
	}

	replicas := spec.Replicas
	if replicas == 0 {
		replicas = 1
	}

	var params map[string]string
	if len(spec.Parameters) > 0 {
		params = make(map[string]string, len(spec.Parameters))
		for k, v := range spec.Parameters {
			if errs := validation.IsConfigMapKey(k); len(errs) > 0 {
				return nil, types.Invalid("component", spec.Name, "parameters", "%q: %s", k, errs[0])
			}
			params[k] = v
		}
	}

	var env map[string]string
	if len(spec.Env) > 0 {
		env = make(map[string]string, len(spec.Env))
		for k, v := range spec.Env {
			env[k] = v
		}
	}

	return &types.PipelineComponent{
		Name:         spec.Name,
		Image:        spec.Image,
		Command:      append([]string(nil), spec.Command...),
		Args:         append([]string(nil), spec.Args...),
		Env:          env,
		Dependencies: append([]string(nil), spec.Dependencies...),
		Daemon:       spec.Daemon,
		Replicas:     replicas,
		Resources: types.ResourceRequirements{
			CPU:    cpu,
			Memory: memory,
			Custom: custom,
		},
		Parameters: params,
		When:       spec.When,
	}, nil
}

// positiveQuantity parses an optional quantity and returns its canonical form
func positiveQuantity(component, field, value string) (string, error) {
	if value == "" {
		return "", nil
	}
	q, err := resource.ParseQuantity(value)
	if err != nil {
		return "", types.Invalid("component", component, field, "%v", err)
	}
	if q.Sign() <= 0 {
		return "", types.Invalid("component", component, field, "must be positive, got %s", value)
	}
	return q.String(), nil
}

// findCycle returns the name of a component on a dependency cycle, or ""
func findCycle(tmpl *types.PipelineTemplate) string {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(tmpl.Components))
	var visit func(name string) string
	visit = func(name string) string {
		switch state[name] {
		case visiting:
			return name
		case done:
			return ""
		}
		state[name] = visiting
		c := tmpl.Component(name)
		deps := append([]string(nil), c.Dependencies...)
		sort.Strings(deps)
		for _, dep := range deps {
			if found := visit(dep); found != "" {
				return found
			}
		}
		state[name] = done
		return ""
	}
	for _, c := range tmpl.Components {
		if found := visit(c.Name); found != "" {
			return found
		}
	}
	return ""
}
