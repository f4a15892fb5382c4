package arbiter

import (
	"sort"

	"github.com/cuemby/sdpcontroller/pkg/types"
)

// Request is a candidate activation
type Request struct {
	// Name is the requested subarray name; Subarray is nil when it is unknown
	Name     string
	Subarray *types.Subarray
	Template *types.PipelineTemplate
}

// Arbiter decides whether an activation can proceed without double-booking
// receptors or exceeding custom resource capacity
type Arbiter struct {
	capacity map[string]int64
}

// New creates an arbiter. Resources missing from capacity are unconstrained.
func New(capacity map[string]int64) *Arbiter {
	c := make(map[string]int64, len(capacity))
	for name, qty := range capacity {
		c[name] = qty
	}
	return &Arbiter{capacity: c}
}

// Capacity returns the configured capacity for a resource and whether one is set
func (a *Arbiter) Capacity(name string) (int64, bool) {
	qty, ok := a.capacity[name]
	return qty, ok
}

// Check returns nil to admit the request or a *types.DenialError.
// It never mutates its inputs.
func (a *Arbiter) Check(req Request, active []*types.PipelineInstance) error {
	if req.Subarray == nil {
		return &types.DenialError{Reason: types.ReasonUnknownSubarray, Subarray: req.Name}
	}
	name := req.Subarray.Name

	holding := filterHolding(active)

	for _, inst := range active {
		if inst.Subarray == name && inst.State.Active() {
			return &types.DenialError{Reason: types.ReasonAlreadyActive, Subarray: name}
		}
	}

	if conflicts := receptorConflicts(req.Subarray.Receptors, holding); len(conflicts) > 0 {
		return &types.DenialError{
			Reason:    types.ReasonReceptorConflict,
			Subarray:  name,
			Receptors: conflicts,
		}
	}

	if res := a.exhausted(req.Template, holding); res != "" {
		return &types.DenialError{
			Reason:   types.ReasonResourceExhausted,
			Subarray: name,
			Resource: res,
		}
	}

	return nil
}

// Committed sums custom resources held by the given instances
func Committed(active []*types.PipelineInstance) map[string]int64 {
	totals := make(map[string]int64)
	for _, inst := range filterHolding(active) {
		for res, qty := range inst.Template.CustomTotals() {
			totals[res] += qty
		}
	}
	return totals
}

// exhausted returns the first resource (by name) that the template would push
// over capacity
func (a *Arbiter) exhausted(tmpl *types.PipelineTemplate, holding []*types.PipelineInstance) string {
	wanted := tmpl.CustomTotals()
	if len(wanted) == 0 {
		return ""
	}
	committed := Committed(holding)

	names := make([]string, 0, len(wanted))
	for res := range wanted {
		names = append(names, res)
	}
	sort.Strings(names)

	for _, res := range names {
		limit, constrained := a.capacity[res]
		if !constrained {
			continue
		}
		if committed[res]+wanted[res] > limit {
			return res
		}
	}
	return ""
}

// receptorConflicts returns the requested receptors already held elsewhere, sorted
func receptorConflicts(requested []string, holding []*types.PipelineInstance) []string {
	held := make(map[string]bool)
	for _, inst := range holding {
		for _, id := range inst.Receptors {
			held[id] = true
		}
	}
	var conflicts []string
	for _, id := range requested {
		if held[id] {
			conflicts = append(conflicts, id)
		}
	}
	sort.Strings(conflicts)
	return conflicts
}

// filterHolding keeps instances that still count against the ledger
func filterHolding(instances []*types.PipelineInstance) []*types.PipelineInstance {
	var out []*types.PipelineInstance
	for _, inst := range instances {
		if inst.Holds() {
			out = append(out, inst)
		}
	}
	return out
}
