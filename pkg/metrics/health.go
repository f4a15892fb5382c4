package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Component is the last reported health of one part of the controller
type Component struct {
	Name    string    `json:"name"`
	Healthy bool      `json:"healthy"`
	Message string    `json:"message,omitempty"`
	Updated time.Time `json:"updated"`
}

// ReadinessReport aggregates the critical components
type ReadinessReport struct {
	Ready      bool        `json:"ready"`
	Waiting    []string    `json:"waiting,omitempty"` // critical components missing or unhealthy
	Components []Component `json:"components"`
	Version    string      `json:"version,omitempty"`
	Uptime     string      `json:"uptime"`
}

// ComponentHealthy mirrors every reported component as a gauge (1 healthy, 0 not)
var ComponentHealthy = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "sdp_component_healthy",
		Help: "Whether a controller component last reported healthy",
	},
	[]string{"component"},
)

type componentRegistry struct {
	mu         sync.RWMutex
	components map[string]Component
	critical   []string
	started    time.Time
	version    string
}

// DefaultCriticalComponents must all report healthy before the controller is ready
var DefaultCriticalComponents = []string{"store", "engine", "api"}

var components = newComponentRegistry()

func newComponentRegistry() *componentRegistry {
	return &componentRegistry{
		components: make(map[string]Component),
		critical:   append([]string(nil), DefaultCriticalComponents...),
		started:    time.Now(),
	}
}

// SetVersion sets the version reported with readiness and liveness
func SetVersion(version string) {
	components.mu.Lock()
	defer components.mu.Unlock()
	components.version = version
}

// ReportComponent records the current health of a component
func ReportComponent(name string, healthy bool, message string) {
	components.mu.Lock()
	components.components[name] = Component{
		Name:    name,
		Healthy: healthy,
		Message: message,
		Updated: time.Now(),
	}
	components.mu.Unlock()

	v := 0.0
	if healthy {
		v = 1
	}
	ComponentHealthy.WithLabelValues(name).Set(v)
}

// SetCriticalComponents replaces the set of components readiness waits for
func SetCriticalComponents(names ...string) {
	components.mu.Lock()
	defer components.mu.Unlock()
	components.critical = append([]string(nil), names...)
}

// Readiness reports whether every critical component is registered and healthy
func Readiness() ReadinessReport {
	components.mu.RLock()
	defer components.mu.RUnlock()

	report := ReadinessReport{
		Version: components.version,
		Uptime:  time.Since(components.started).Truncate(time.Second).String(),
	}
	for _, name := range components.critical {
		if c, ok := components.components[name]; !ok || !c.Healthy {
			report.Waiting = append(report.Waiting, name)
		}
	}
	report.Ready = len(report.Waiting) == 0

	for _, c := range components.components {
		report.Components = append(report.Components, c)
	}
	sort.Slice(report.Components, func(i, j int) bool {
		return report.Components[i].Name < report.Components[j].Name
	})
	return report
}

// LivenessHandler answers 200 for as long as the process can serve HTTP
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		components.mu.RLock()
		body := map[string]string{
			"status":  "alive",
			"uptime":  time.Since(components.started).Truncate(time.Second).String(),
			"version": components.version,
		}
		components.mu.RUnlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(body)
	}
}
