/*
Package health probes the controller's external dependencies and reports
whether they are usable.

The controller cannot start or stop pipelines without the Kubernetes API
server and the Argo workflow CRDs behind it. A Monitor pings them on an
interval and feeds the result into the readiness report served on /ready.

# Check Loop

	┌───────────── Monitor ─────────────┐
	│  every Interval, per Checker:     │
	│    Check(ctx with Timeout)        │
	│    Status.Update(result)          │
	│    report(name, healthy, msg)     │──▶ metrics.ReportComponent
	└───────────────────────────────────┘

A single failed check does not flip a dependency to unhealthy. Only Retries
consecutive failures do; one success restores it.

# Usage

	mon := health.NewMonitor(health.DefaultConfig(), metrics.ReportComponent,
		health.NewFuncChecker("engine", engine.Ping))
	mon.Start()
	defer mon.Stop()
*/
package health
