package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetComponents(t *testing.T) {
	t.Helper()
	components = newComponentRegistry()
	ComponentHealthy.Reset()
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name        string
		components  map[string]bool
		wantReady   bool
		wantWaiting []string
	}{
		{"all ready", map[string]bool{"store": true, "engine": true, "api": true}, true, nil},
		{"engine missing", map[string]bool{"store": true, "api": true}, false, []string{"engine"}},
		{"store unhealthy", map[string]bool{"store": false, "engine": true, "api": true}, false, []string{"store"}},
		{"nothing reported", nil, false, []string{"store", "engine", "api"}},
		{"extra components ignored", map[string]bool{"store": true, "engine": true, "api": true, "sweeper": false}, true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetComponents(t)
			for name, healthy := range tt.components {
				ReportComponent(name, healthy, "")
			}

			report := Readiness()
			assert.Equal(t, tt.wantReady, report.Ready)
			assert.Equal(t, tt.wantWaiting, report.Waiting)
			assert.Len(t, report.Components, len(tt.components))
		})
	}
}

func TestReportComponentUpdatesGauge(t *testing.T) {
	resetComponents(t)

	ReportComponent("engine", true, "https://10.0.0.1:6443")
	assert.Equal(t, 1.0, testutil.ToFloat64(ComponentHealthy.WithLabelValues("engine")))

	ReportComponent("engine", false, "workflow API unavailable")
	assert.Equal(t, 0.0, testutil.ToFloat64(ComponentHealthy.WithLabelValues("engine")))

	report := Readiness()
	require.Len(t, report.Components, 1)
	assert.Equal(t, "workflow API unavailable", report.Components[0].Message)
	assert.False(t, report.Components[0].Healthy)
}

func TestSetCriticalComponents(t *testing.T) {
	resetComponents(t)
	SetCriticalComponents("api")
	ReportComponent("api", true, "")

	assert.True(t, Readiness().Ready)
}

func TestLivenessHandler(t *testing.T) {
	resetComponents(t)
	SetVersion("1.2.0")

	w := httptest.NewRecorder()
	LivenessHandler()(w, httptest.NewRequest("GET", "/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "alive", response["status"])
	assert.Equal(t, "1.2.0", response["version"])
	assert.NotEmpty(t, response["uptime"])
}
