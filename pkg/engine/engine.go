// Package engine defines the contract between the lifecycle manager and the
// external workflow engine that actually places and runs containers.
package engine

import (
	"context"
	"errors"

	"github.com/cuemby/sdpcontroller/pkg/types"
)

// ErrGone is returned by Cancel when the workflow does not exist or has
// already finished. Callers treat it as a successful teardown.
var ErrGone = errors.New("workflow not found or already finished")

// Client submits and cancels workflows
type Client interface {
	// Submit hands the workflow to the engine and returns its external handle.
	// Submitting a workflow that already exists is not an error.
	Submit(ctx context.Context, sub *types.WorkflowSubmission) (string, error)

	// Cancel asks the engine to stop the workflow behind handle
	Cancel(ctx context.Context, handle string) error
}

// Watcher delivers engine status notifications until ctx is cancelled
type Watcher interface {
	Watch(ctx context.Context, updates chan<- types.StatusUpdate) error
}
