package registry

import (
	"fmt"
	"sort"

	"github.com/cuemby/sdpcontroller/pkg/types"
	"k8s.io/apimachinery/pkg/util/validation"
)

// DefaultTemplate is used by subarrays that do not name a template
const DefaultTemplate = "default"

// SubarraySpec is the configuration form of a subarray
type SubarraySpec struct {
	Name      string   `yaml:"name"`
	Namespace string   `yaml:"namespace"`
	Receptors []string `yaml:"receptors"`
	Template  string   `yaml:"template"`
}

// Registry holds the configured subarrays and the global receptor pool
type Registry struct {
	subarrays map[string]*types.Subarray
	names     []string
	receptors []string
}

// Load validates the subarray configuration against the receptor pool
func Load(pool []string, specs []SubarraySpec) (*Registry, error) {
	r := &Registry{
		subarrays: make(map[string]*types.Subarray, len(specs)),
	}

	inPool := make(map[string]bool, len(pool))
	for _, id := range pool {
		if id == "" {
			return nil, types.Invalid("receptor", id, "receptors", "empty receptor identifier")
		}
		if inPool[id] {
			return nil, types.Invalid("receptor", id, "receptors", "duplicated in receptor pool")
		}
		inPool[id] = true
		r.receptors = append(r.receptors, id)
	}

	namespaces := make(map[string]string, len(specs))
	for _, spec := range specs {
		if spec.Name == "" {
			return nil, types.Invalid("subarray", "", "name", "must not be empty")
		}
		if _, dup := r.subarrays[spec.Name]; dup {
			return nil, types.Invalid("subarray", spec.Name, "name", "duplicated")
		}
		if errs := validation.IsDNS1123Label(spec.Namespace); len(errs) > 0 {
			return nil, types.Invalid("subarray", spec.Name, "namespace", "%q: %s", spec.Namespace, errs[0])
		}
		if other, dup := namespaces[spec.Namespace]; dup {
			return nil, types.Invalid("subarray", spec.Name, "namespace", "%s already used by subarray %s", spec.Namespace, other)
		}
		namespaces[spec.Namespace] = spec.Name

		if len(spec.Receptors) == 0 {
			return nil, types.Invalid("subarray", spec.Name, "receptors", "at least one receptor is required")
		}
		seen := make(map[string]bool, len(spec.Receptors))
		for _, id := range spec.Receptors {
			if !inPool[id] {
				return nil, types.Invalid("subarray", spec.Name, "receptors", "%s is not in the receptor pool", id)
			}
			if seen[id] {
				return nil, types.Invalid("subarray", spec.Name, "receptors", "%s listed twice", id)
			}
			seen[id] = true
		}

		template := spec.Template
		if template == "" {
			template = DefaultTemplate
		}

		r.subarrays[spec.Name] = &types.Subarray{
			Name:      spec.Name,
			Namespace: spec.Namespace,
			Receptors: append([]string(nil), spec.Receptors...),
			Template:  template,
		}
		r.names = append(r.names, spec.Name)
	}
	sort.Strings(r.names)

	return r, nil
}

// Lookup returns the named subarray or an error matching types.ErrNotFound
func (r *Registry) Lookup(name string) (*types.Subarray, error) {
	s, ok := r.subarrays[name]
	if !ok {
		return nil, fmt.Errorf("subarray %q: %w", name, types.ErrNotFound)
	}
	return s, nil
}

// Subarrays returns all configured subarrays sorted by name
func (r *Registry) Subarrays() []*types.Subarray {
	out := make([]*types.Subarray, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.subarrays[name])
	}
	return out
}

// Receptors returns the receptor pool in configuration order
func (r *Registry) Receptors() []string {
	return append([]string(nil), r.receptors...)
}
