package state

import (
	"context"
	"os"
	"time"

	"github.com/mumoshu/mtenv/errdefs"
)

type YAMLFileStore struct {
	// Path is the path to the YAML file that stores the state.
	//
	// Every function that modifies the state rewrites the whole file while
	// holding an exclusive advisory lock on Path + ".lock", so that two mtenv
	// processes never interleave their load-modify-save cycles.
	//
	// A missing file is read as an empty state.
	Path string

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

var _ Store = &YAMLFileStore{}

func (s *YAMLFileStore) Load(ctx context.Context) (State, error) {
	var state State

	err := s.withLock(false, func() error {
		var err error
		state, err = s.getState(ctx)
		return err
	})

	return state, err
}

func (s *YAMLFileStore) MergeInfrastructure(ctx context.Context, name string, patch InfrastructurePatch, bumpModifiedTime bool) error {
	return s.modify(ctx, func(state State) error {
		infra, ok := state[name]
		if !ok {
			infra = &Infrastructure{Moodles: map[string]*Moodle{}}
			state[name] = infra
		}

		infra.apply(patch)

		if bumpModifiedTime {
			infra.LastModifiedAt = s.now()
		}

		return nil
	})
}

func (s *YAMLFileStore) RemoveInfrastructure(ctx context.Context, name string) error {
	return s.modify(ctx, func(state State) error {
		delete(state, name)
		return nil
	})
}

func (s *YAMLFileStore) RemoveMoodle(ctx context.Context, name, version string) error {
	return s.modify(ctx, func(state State) error {
		infra, ok := state[name]
		if !ok {
			return errdefs.New(errdefs.KindInfrastructureDoesNotExistYet, name)
		}

		if _, ok := infra.Moodles[version]; !ok {
			return errdefs.New(errdefs.KindMoodleTestEnvironmentDoesNotExistYet, version)
		}

		delete(infra.Moodles, version)
		infra.LastModifiedAt = s.now()

		return nil
	})
}

func (s *YAMLFileStore) InfrastructureInfo(ctx context.Context, name string) (*Infrastructure, error) {
	state, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}

	infra, ok := state[name]
	if !ok {
		return nil, errdefs.New(errdefs.KindInfrastructureDoesNotExistYet, name)
	}

	return infra, nil
}

func (s *YAMLFileStore) modify(ctx context.Context, fn func(State) error) error {
	return s.withLock(true, func() error {
		state, err := s.getState(ctx)
		if err != nil {
			return err
		}

		if err := fn(state); err != nil {
			return err
		}

		return s.setState(ctx, state)
	})
}

func (s *YAMLFileStore) getState(ctx context.Context) (State, error) {
	yamlData, err := os.ReadFile(s.Path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	ds := &yamlDataStore{Data: yamlData}
	return ds.getState(ctx)
}

func (s *YAMLFileStore) setState(ctx context.Context, state State) error {
	ds := &yamlDataStore{}
	if err := ds.setState(ctx, state); err != nil {
		return err
	}

	return os.WriteFile(s.Path, ds.Data, 0644)
}

func (s *YAMLFileStore) withLock(exclusive bool, fn func() error) error {
	l, err := acquireLock(s.Path+".lock", exclusive)
	if err != nil {
		return err
	}
	defer l.Release()

	return fn()
}

func (s *YAMLFileStore) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
