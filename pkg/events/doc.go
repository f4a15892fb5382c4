/*
Package events provides an in-memory event broker for pipeline lifecycle
notifications.

The lifecycle manager publishes one event per state transition, per denied
activation and per provisional release. The API server forwards them to
clients of the Events stream so operators can follow a subarray from
activation to teardown without polling Status.

# Architecture

	┌──────────────────── EVENT BROKER ─────────────────────┐
	│                                                        │
	│  Manager.transition ──► Publish (never blocks)         │
	│                             │                          │
	│                             ▼                          │
	│                  event queue (buffer: 256)             │
	│                             │                          │
	│                       broadcast loop                   │
	│                             │                          │
	│              ┌──────────────┼──────────────┐           │
	│              ▼              ▼              ▼           │
	│        subscriber     subscriber     subscriber        │
	│        (buffer: 64)   (buffer: 64)   (buffer: 64)      │
	│                                                        │
	└────────────────────────────────────────────────────────┘

Publish is called while the manager holds its lock, so it drops the event
instead of waiting when the queue is full. Slow subscribers lose events the
same way. Dropped reports the queue-side losses.

# Event Types

	instance.starting     activation admitted, workflow submission pending
	instance.running      workflow engine reported the workflow running
	instance.stopping     deactivation, TTL expiry or workflow failure
	instance.terminated   workflow gone, receptors and resources freed
	instance.failed       submission rejected or retries exhausted
	instance.released     stuck teardown gave back its ledger entries
	instance.expired      TTL reached, teardown started
	activation.denied     AlreadyActive, ReceptorConflict or ResourceExhausted

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	for ev := range sub {
		fmt.Printf("%s %s %s\n", ev.Timestamp.Format(time.RFC3339), ev.Subarray, ev.Type)
	}

Stop closes every subscriber channel, so range loops end on shutdown.
*/
package events
