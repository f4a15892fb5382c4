/*
Package metrics provides Prometheus metrics and health endpoints for
sdpcontroller.

All metrics are registered with the default registry in init and served by
Handler on the health listener at /metrics.

# Metrics

	sdp_pipeline_instances{state}              gauge, refreshed by Collector
	sdp_activations_total{result}              admitted | AlreadyActive | ReceptorConflict | ...
	sdp_dispatch_total{op,result}              op: submit|cancel, result: ok|error|gone
	sdp_ttl_expiries_total                     instances stopped by the sweeper
	sdp_provisional_releases_total             stuck teardowns released early
	sdp_sweep_duration_seconds                 histogram
	sdp_api_requests_total{method,code}        gRPC method and status code
	sdp_api_request_duration_seconds{method}   histogram

Counters are incremented at the point of the event by the lifecycle manager
and the API server. The instance gauge is recomputed from a manager snapshot
every collection interval:

	collector := metrics.NewCollector(mgr, 15*time.Second)
	collector.Start()
	defer collector.Stop()

# Health

Components report their state with ReportComponent, which also sets the
sdp_component_healthy gauge. Readiness waits for the critical components
(store, engine and api by default) to report healthy.

	metrics.ReportComponent("store", true, "/var/lib/sdpcontroller")
	metrics.ReportComponent("engine", false, "workflow API unavailable")

Timer is a small helper for histograms:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SweepDuration)
*/
package metrics
