/*
Package log provides structured logging for sdpcontroller using zerolog.

A single global Logger is configured once at startup with Init. Packages derive
child loggers that carry a fixed field:

	logger := log.WithComponent("manager")
	logger.Info().Str("subarray", "subarray1").Msg("instance starting")

	log.WithInstance(logger, "subarray1", id).Warn().Msg("teardown retry")

WithComponent returns a value; bind it to a variable before logging, since
zerolog's event methods have pointer receivers. WithInstance returns a
pointer and can be chained.

# Levels

	debug  stale notifications, dispatch attempts
	info   state transitions, activations, TTL expiry
	warn   dispatch retries, denied activations
	error  provisional ledger release, teardown escalation, Failed instances

# Output

Console output (default) is meant for operators watching a terminal. JSONOutput
switches to one JSON object per line for log shippers:

	{"level":"info","component":"manager","subarray":"subarray1",
	 "instance_id":"5d1c...","from":"Starting","to":"Running",
	 "time":"2026-10-16T12:00:03Z","message":"instance state changed"}
*/
package log
