/*
Package reconciler drives the lifecycle manager's periodic sweep.

Nothing else in the controller notices that a pipeline has outlived its TTL
or that the workflow engine has gone quiet about a submission. The reconciler
is the clock: on a fixed interval it calls Sweep on the manager, which does
the actual work under its own lock.

# Architecture

	┌────────────────────────────────────────────────────────────┐
	│                      Sweep Loop                            │
	│            (every sweepInterval, default 10s)              │
	└────────────────┬───────────────────────────────────────────┘
	                 │ Sweep(now)
	                 ▼
	┌────────────────────────────────────────────────────────────┐
	│                   Lifecycle Manager                        │
	├──────────────────┬─────────────────┬───────────────────────┤
	│ Running          │ Starting        │ Stopping              │
	│ past TTL         │ no status past  │ no status past        │
	│                  │ statusTimeout   │ statusTimeout         │
	│       │          │       │         │       │               │
	│       ▼          │       ▼         │       ▼               │
	│ → Stopping,      │ resubmit, or    │ re-issue cancel       │
	│   cancel         │ Failed when     │                       │
	│                  │ attempts spent  │                       │
	└──────────────────┴─────────────────┴───────────────────────┘

TTL is measured from the instance's creation time, so a pipeline that took
long to start does not get extra lifetime. Starting instances are never
expired by TTL.

# Usage

	rec := reconciler.NewReconciler(mgr, cfg.Lifecycle.SweepInterval)
	rec.Start()
	defer rec.Stop()

Tests usually skip the reconciler and call Sweep with a chosen time.
*/
package reconciler
