package metrics

import (
	"time"

	"github.com/cuemby/sdpcontroller/pkg/types"
)

// InstanceLister is the part of the lifecycle manager the collector reads
type InstanceLister interface {
	Snapshot() []*types.PipelineInstance
}

// trackedStates are always exported, so a state that empties drops to zero
var trackedStates = []types.InstanceState{
	types.InstanceStateStarting,
	types.InstanceStateRunning,
	types.InstanceStateStopping,
}

// Collector periodically refreshes the instance gauges
type Collector struct {
	source   InstanceLister
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source InstanceLister, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		source:   source,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.Collect()

		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

// Collect refreshes the gauges once
func (c *Collector) Collect() {
	counts := make(map[types.InstanceState]int)
	for _, inst := range c.source.Snapshot() {
		counts[inst.State]++
	}

	for _, state := range trackedStates {
		InstancesTotal.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}
