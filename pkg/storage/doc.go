/*
Package storage provides BoltDB-backed persistence for pipeline instances.

The lifecycle manager is the only writer. It saves an instance on every state
transition and archives it once it reaches Terminated or Failed, so a restarted
controller can rebuild its in-memory ledger with Restore and resume any
teardown or submission that was in flight.

# Layout

	<dataDir>/sdpcontroller.db
	  instances   instance ID → JSON PipelineInstance (Starting, Running, Stopping)
	  history     <updatedAt ns>-<instance ID> → JSON PipelineInstance (terminal)

History keys sort chronologically, so ListHistory returns the oldest entry
first and ArchiveInstance trims from the front when a limit is given.

# Usage

	store, err := storage.NewBoltStore("/var/lib/sdpcontroller")
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.SaveInstance(inst); err != nil {
		return err
	}

	// Once the instance is terminal
	if err := store.ArchiveInstance(inst, 100); err != nil {
		return err
	}

All writes go through db.Update and are fsynced before returning. The file is
opened with a lock timeout, so a second controller pointed at the same data
directory fails at startup instead of hanging.
*/
package storage
