package storage

import (
	"github.com/cuemby/sdpcontroller/pkg/types"
)

// Store defines the interface for pipeline instance persistence.
// The lifecycle manager writes through it on every transition and reads it
// back once at startup.
type Store interface {
	// Active instances
	SaveInstance(inst *types.PipelineInstance) error
	GetInstance(id string) (*types.PipelineInstance, error)
	ListInstances() ([]*types.PipelineInstance, error)
	DeleteInstance(id string) error

	// History of terminal instances, oldest first
	ArchiveInstance(inst *types.PipelineInstance, keep int) error
	ListHistory() ([]*types.PipelineInstance, error)

	// Utility
	Close() error
}
