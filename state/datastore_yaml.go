package state

import (
	"bytes"
	"context"
	"fmt"

	yaml "github.com/goccy/go-yaml"
)

type yamlDataStore struct {
	Data []byte
}

var _ datastore = &yamlDataStore{}

func (s *yamlDataStore) getState(ctx context.Context) (State, error) {
	state := State{}

	// A freshly initialized testbed has an empty state file.
	if len(bytes.TrimSpace(s.Data)) == 0 {
		return state, nil
	}

	if err := yaml.Unmarshal(s.Data, &state); err != nil {
		return nil, fmt.Errorf("unable to parse state: %w", err)
	}

	if state == nil {
		state = State{}
	}

	for name, infra := range state {
		if infra == nil {
			delete(state, name)
			continue
		}
		if infra.Moodles == nil {
			infra.Moodles = map[string]*Moodle{}
		}
	}

	return state, nil
}

func (s *yamlDataStore) setState(ctx context.Context, state State) error {
	yamlData, err := yaml.Marshal(state)
	if err != nil {
		return err
	}

	s.Data = yamlData

	return nil
}
