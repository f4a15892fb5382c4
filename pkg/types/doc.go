/*
Package types defines the data model shared by every sdpcontroller package.

# Configuration Types

PipelineComponent, PipelineTemplate and Subarray are loaded once at startup
and never mutated afterwards. A template may be shared by several subarrays.

# Runtime Types

PipelineInstance is the only entity the controller creates at runtime. It moves
through the lifecycle

	Starting ──▶ Running ──▶ Stopping ──▶ Terminated
	    │           │           │
	    └───────────┴───────────┴──────▶ Failed

Instances in Starting, Running or Stopping hold their receptors and custom
resources. Released is set when a teardown has been retrying long enough that
its holdings were given back provisionally.

# Errors

Configuration problems are reported as *ValidationError. Admission denials are
*DenialError values that match ErrNotFound, ErrAlreadyActive,
ErrReceptorConflict and ErrResourceExhausted with errors.Is. External client
failures are *DispatchError and match ErrDispatch. ReasonOf turns any of them
into the reason code returned by the API.
*/
package types
