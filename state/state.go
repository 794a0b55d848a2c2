// Package state provides the state store of mtenv.
//
// The state is a single YAML document mapping infrastructure names to the
// infrastructure records, including every moodle instance provisioned under them.
// The document is always read and written as a whole.
package state

import (
	"time"

	"github.com/mumoshu/mtenv/source"
)

// Status is the lifecycle status of a moodle instance.
type Status string

const (
	StatusCreated Status = "created"
	StatusStarted Status = "started"
	StatusStopped Status = "stopped"
)

// State maps infrastructure names to infrastructures.
type State map[string]*Infrastructure

// Infrastructure is a named checkout of a plugin at a git reference, with the
// moodle instances built for it.
type Infrastructure struct {
	CreatedAt      time.Time          `yaml:"created_at"`
	LastModifiedAt time.Time          `yaml:"last_modified_at"`
	Plugin         string             `yaml:"plugin"`
	GitRef         source.Reference   `yaml:"git_ref"`
	Moodles        map[string]*Moodle `yaml:"moodles"`
}

// Moodle is one provisioned moodle instance inside an infrastructure.
type Moodle struct {
	Status        Status `yaml:"status"`
	URL           string `yaml:"url"`
	AdminPassword string `yaml:"admin_password"`
	WWWPort       int    `yaml:"www_port"`
	DBPort        int    `yaml:"db_port"`
}

// InfrastructurePatch describes a partial update of an infrastructure.
// Nil fields are left untouched. Moodles are merged per version and per field,
// so patching one field of one version keeps every other field and version.
type InfrastructurePatch struct {
	CreatedAt      *time.Time
	LastModifiedAt *time.Time
	Plugin         *string
	GitRef         *source.Reference
	Moodles        map[string]MoodlePatch
}

// MoodlePatch describes a partial update of a moodle instance.
type MoodlePatch struct {
	Status        *Status
	URL           *string
	AdminPassword *string
	WWWPort       *int
	DBPort        *int
}

// FullMoodlePatch returns a patch that sets every field of m.
func FullMoodlePatch(m Moodle) MoodlePatch {
	return MoodlePatch{
		Status:        &m.Status,
		URL:           &m.URL,
		AdminPassword: &m.AdminPassword,
		WWWPort:       &m.WWWPort,
		DBPort:        &m.DBPort,
	}
}

// StatusPatch returns a patch that only sets the status.
func StatusPatch(s Status) MoodlePatch {
	return MoodlePatch{Status: &s}
}

func (i *Infrastructure) apply(p InfrastructurePatch) {
	if p.CreatedAt != nil {
		i.CreatedAt = *p.CreatedAt
	}
	if p.LastModifiedAt != nil {
		i.LastModifiedAt = *p.LastModifiedAt
	}
	if p.Plugin != nil {
		i.Plugin = *p.Plugin
	}
	if p.GitRef != nil {
		i.GitRef = *p.GitRef
	}

	if i.Moodles == nil {
		i.Moodles = map[string]*Moodle{}
	}

	for version, mp := range p.Moodles {
		m, ok := i.Moodles[version]
		if !ok || m == nil {
			m = &Moodle{}
			i.Moodles[version] = m
		}
		m.apply(mp)
	}
}

func (m *Moodle) apply(p MoodlePatch) {
	if p.Status != nil {
		m.Status = *p.Status
	}
	if p.URL != nil {
		m.URL = *p.URL
	}
	if p.AdminPassword != nil {
		m.AdminPassword = *p.AdminPassword
	}
	if p.WWWPort != nil {
		m.WWWPort = *p.WWWPort
	}
	if p.DBPort != nil {
		m.DBPort = *p.DBPort
	}
}

// UsedPorts returns every www and db port recorded in s.
func (s State) UsedPorts() []int {
	var ports []int
	for _, infra := range s {
		if infra == nil {
			continue
		}
		for _, m := range infra.Moodles {
			if m == nil {
				continue
			}
			if m.WWWPort > 0 {
				ports = append(ports, m.WWWPort)
			}
			if m.DBPort > 0 {
				ports = append(ports, m.DBPort)
			}
		}
	}
	return ports
}
