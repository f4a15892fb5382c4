/*
Package manager implements the subarray pipeline lifecycle manager.

The manager is the single owner of every pipeline instance. It admits
activations through the resource arbiter, submits the translated workflow to
the external engine, follows engine status notifications and tears instances
down on request or when their TTL elapses.

# Architecture

	┌──────────────────────── MANAGER ─────────────────────────┐
	│                                                           │
	│  Activate ─┐                                              │
	│  Deactivate┤                                              │
	│  Sweep ────┼──► mu ──► instance table ──► arbiter.Check   │
	│  OnExternal┘     │     (bySubarray, byID)                 │
	│  Status          │                                        │
	│                  ├──► submitLoop ───► engine.Submit       │
	│                  ├──► teardownLoop ─► engine.Cancel       │
	│                  └──► cleanupLoop ──► engine.Cancel       │
	│                                                           │
	│  storage.Store ◄── persist/archive on every transition    │
	│  events.Broker ◄── one event per transition               │
	└───────────────────────────────────────────────────────────┘

Every mutation of the instance table happens under one mutex, so the
arbiter's admission check and the insert of the new instance are atomic.
Engine calls run in goroutines and never hold the lock while in flight.

# State Machine

	            activate
	               │
	               ▼
	           Starting ──── engine running ────► Running
	               │                                 │
	               │ deactivate, engine failed,      │ deactivate, TTL,
	               │ engine ended                    │ engine failed or ended
	               ▼                                 ▼
	           Stopping ◄────────────────────────────┘
	               │
	               │ engine ended, cancel finds nothing
	               ▼
	          Terminated

	Starting ── submit retries exhausted, engine rejected ──► Failed
	Stopping ── teardown escalation (when configured) ──────► Failed

Terminated and Failed instances leave the active set immediately, freeing
their receptors and custom resources. The last one per subarray is kept for
Status.

# Dispatch

Submission retries up to SubmitAttempts times with capped exponential
backoff. A submission that never produces a status is resubmitted by Sweep
after StatusTimeout; the workflow name is derived from the subarray and
creation time, so a resubmission of an already created workflow is a no-op.

Teardown retries forever. After TeardownAttempts failed cancels the instance
is marked Released: it stays Stopping and keeps retrying, but no longer
counts against the receptor and resource ledger. This is logged at error
level and counted in sdp_provisional_releases_total.

A Failed instance gets one bounded round of cancels for whatever the engine
may still run. Until that finishes, activating the same subarray is denied
with AlreadyActive.

# Sweep

Sweep runs on the reconciler's interval and walks the active instances in
creation order:

  - Running instances older than their template TTL are moved to Stopping
    and torn down; an instance.expired event is published first.
  - Starting instances with no status for StatusTimeout are resubmitted,
    or failed with a Timeout once SubmitAttempts is used up.
  - Stopping instances with no status for StatusTimeout get another cancel.

Dispatches already in flight are never started twice.

# Restore

Restore loads the store before Run starts. Terminal instances fill the
history, bounded by HistoryLimit. Active instances are put back into the
table so their receptors stay booked, and their dispatch resumes: Starting
is resubmitted, Stopping is cancelled again, Running waits for the engine.
An instance whose subarray is no longer configured is kept and torn down.

# Configuration

	SubmitAttempts      submit calls before Starting moves to Failed   (3)
	TeardownAttempts    failed cancels before provisional release      (5)
	TeardownEscalation  failed cancels before Stopping moves to Failed (0, off)
	RetryBackoff        first retry delay, doubled per attempt         (1s)
	MaxBackoff          retry delay cap                                (30s)
	DispatchTimeout     bound on one submit or cancel call             (30s)
	StatusTimeout       silence before Sweep re-dispatches             (2m)
	HistoryLimit        terminal instances kept for Status             (100)

Zero values fall back to these defaults. A zero TeardownEscalation or
StatusTimeout turns that behaviour off, and MaxBackoff is never lower than
RetryBackoff.

# Usage

	mgr, err := manager.New(manager.Options{
		Registry:  reg,
		Templates: templates,
		Capacity:  map[string]int64{"sdp.kat.ac.za/jellybeans": 1},
		Client:    argoClient,
		Store:     store,
		Broker:    broker,
		Config:    manager.DefaultConfig(),
	})
	if err != nil {
		return err
	}
	defer mgr.Close()

	if err := mgr.Restore(ctx); err != nil {
		return err
	}
	go mgr.Run(ctx, updates)

	id, err := mgr.Activate(ctx, "subarray1")
	switch types.ReasonOf(err) {
	case types.ReasonReceptorConflict, types.ReasonResourceExhausted:
		// busy, try later
	}
*/
package manager
