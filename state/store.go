package state

import (
	"context"
)

// Store is the authoritative record of every infrastructure.
type Store interface {
	// Load returns the whole state. A missing or empty state yields an empty State.
	Load(ctx context.Context) (State, error)
	// MergeInfrastructure merges patch into the infrastructure named name, creating it if absent.
	// If bumpModifiedTime is set, last_modified_at is set to the current time.
	MergeInfrastructure(ctx context.Context, name string, patch InfrastructurePatch, bumpModifiedTime bool) error
	// RemoveInfrastructure deletes the infrastructure named name.
	RemoveInfrastructure(ctx context.Context, name string) error
	// RemoveMoodle deletes one moodle instance of an infrastructure.
	RemoveMoodle(ctx context.Context, name, version string) error
	// InfrastructureInfo returns the infrastructure named name.
	InfrastructureInfo(ctx context.Context, name string) (*Infrastructure, error)
}

// NewStore returns the YAML file store at path.
func NewStore(path string) Store {
	return &YAMLFileStore{
		Path: path,
	}
}

type datastore interface {
	getState(context.Context) (State, error)
	setState(context.Context, State) error
}
