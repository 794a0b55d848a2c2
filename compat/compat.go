// Package compat selects the PHP runtime image for a moodle version.
package compat

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/mumoshu/mtenv/errdefs"
)

// DevTag is selected for moodle versions newer than every known breakpoint.
const DevTag = "dev"

// Range is the oldest and newest PHP version compatible with a moodle version.
type Range []string

func (r Range) Oldest() string { return r[0] }
func (r Range) Newest() string { return r[1] }

// Table maps a moodle version breakpoint to the PHP versions supported from
// that moodle version on.
type Table map[string]Range

// DefaultTable follows the PHP requirements of the moodle releases.
func DefaultTable() Table {
	return Table{
		"3.9":  {"7.2", "7.4"},
		"3.11": {"7.3", "8.0"},
		"4.0":  {"7.3", "8.0"},
		"4.1":  {"7.4", "8.1"},
		"4.2":  {"8.0", "8.2"},
		"4.3":  {"8.0", "8.2"},
		"4.4":  {"8.1", "8.3"},
		"4.5":  {"8.1", "8.3"},
	}
}

type breakpoint struct {
	version string
	r       Range
}

// Select returns the newest PHP version compatible with the given moodle version.
//
// Breakpoints are scanned in ascending order and the last one that the version
// is greater than or equal to wins. A version whose major.minor is above every
// breakpoint gets DevTag. A version older than every breakpoint is unsupported.
func (t Table) Select(version string) (string, error) {
	v, ok := canonical(version)
	if !ok {
		return "", errdefs.New(errdefs.KindInvalidMoodleVersion, version)
	}

	bps, err := t.sorted()
	if err != nil {
		return "", err
	}

	if len(bps) == 0 {
		return "", errdefs.New(errdefs.KindUnsupportedMoodleVersion, version)
	}

	newest := bps[len(bps)-1].version
	if semver.Compare(semver.MajorMinor(v), semver.MajorMinor(newest)) > 0 {
		return DevTag, nil
	}

	var (
		selected string
		found    bool
	)
	for _, bp := range bps {
		if semver.Compare(v, bp.version) >= 0 {
			selected = bp.r.Newest()
			found = true
		}
	}

	if !found {
		return "", errdefs.New(errdefs.KindUnsupportedMoodleVersion, version)
	}

	return selected, nil
}

// Validate reports breakpoints that are not versions or have an empty range.
func (t Table) Validate() error {
	_, err := t.sorted()
	return err
}

func (t Table) sorted() ([]breakpoint, error) {
	bps := make([]breakpoint, 0, len(t))
	for k, r := range t {
		v, ok := canonical(k)
		if !ok {
			return nil, fmt.Errorf("invalid compatibility breakpoint %q", k)
		}
		if len(r) != 2 || r.Oldest() == "" || r.Newest() == "" {
			return nil, fmt.Errorf("compatibility breakpoint %q needs both an oldest and a newest PHP version", k)
		}
		bps = append(bps, breakpoint{version: v, r: r})
	}

	sort.Slice(bps, func(i, j int) bool {
		return semver.Compare(bps[i].version, bps[j].version) < 0
	})

	return bps, nil
}

func canonical(version string) (string, bool) {
	v := version
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return "", false
	}
	return semver.Canonical(v), true
}

// SortVersions sorts moodle versions in ascending version order.
// Strings that are not versions sort first, in lexical order.
func SortVersions(versions []string) {
	sort.SliceStable(versions, func(i, j int) bool {
		vi, iok := canonical(versions[i])
		vj, jok := canonical(versions[j])
		switch {
		case iok && jok:
			if c := semver.Compare(vi, vj); c != 0 {
				return c < 0
			}
			return versions[i] < versions[j]
		case iok != jok:
			return jok
		default:
			return versions[i] < versions[j]
		}
	})
}
