package testbed

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mumoshu/mtenv/errdefs"
	"github.com/mumoshu/mtenv/naming"
	"github.com/mumoshu/mtenv/render"
)

const (
	CacheDirName    = "cache"
	ProxyDirName    = "nginx"
	ScaffoldDirName = "moodle-docker"
	StateFileName   = "infrastructures.yaml"
	MoodlesDirName  = "moodles"
	SourceDirName   = "moodle"

	locationsDirName = "locations"
	serverConfigName = "mtenv.conf"
)

// Layout resolves every path of a testbed.
//
//	<working dir>/
//	  cache/                   moodle release archives
//	  nginx/mtenv.conf         reverse-proxy virtual host (proxied mode)
//	  nginx/locations/*.conf   one location per moodle instance
//	  moodle-docker/           scaffold copied into every moodle instance
//	  infrastructures.yaml     state
//	  index.html               overview page
//	  <infrastructure>/
//	    <plugin type>/<plugin name>/
//	    moodles/<version>/moodle/
type Layout struct {
	WorkingDir string
	// ProxyDir overrides <working dir>/nginx.
	ProxyDir string
}

func NewLayout(workingDir, proxyDir string) Layout {
	return Layout{WorkingDir: workingDir, ProxyDir: proxyDir}
}

func (l Layout) CacheDir() string {
	return filepath.Join(l.WorkingDir, CacheDirName)
}

func (l Layout) ScaffoldDir() string {
	return filepath.Join(l.WorkingDir, ScaffoldDirName)
}

func (l Layout) StateFile() string {
	return filepath.Join(l.WorkingDir, StateFileName)
}

func (l Layout) OverviewFile() string {
	return filepath.Join(l.WorkingDir, render.OverviewFileName)
}

func (l Layout) ProxyConfigDir() string {
	if l.ProxyDir != "" {
		return l.ProxyDir
	}
	return filepath.Join(l.WorkingDir, ProxyDirName)
}

func (l Layout) ProxyLocationsDir() string {
	return filepath.Join(l.ProxyConfigDir(), locationsDirName)
}

func (l Layout) ProxyServerConfig() string {
	return filepath.Join(l.ProxyConfigDir(), serverConfigName)
}

// ProxyLocationConfig is the reverse-proxy location file of a moodle instance.
func (l Layout) ProxyLocationConfig(infrastructure, version string) string {
	return filepath.Join(l.ProxyLocationsDir(), naming.ProxyConfigFileName(infrastructure, version))
}

func (l Layout) InfrastructureDir(name string) string {
	return filepath.Join(l.WorkingDir, name)
}

func (l Layout) MoodlesDir(name string) string {
	return filepath.Join(l.InfrastructureDir(name), MoodlesDirName)
}

func (l Layout) MoodleDir(name, version string) string {
	return filepath.Join(l.MoodlesDir(name), version)
}

func (l Layout) MoodleSourceDir(name, version string) string {
	return filepath.Join(l.MoodleDir(name, version), SourceDirName)
}

// Exists fails with TestbedDoesNotExistYet unless the testbed was initialized.
func (l Layout) Exists() error {
	for _, p := range []string{l.WorkingDir, l.StateFile(), l.ScaffoldDir()} {
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				return errdefs.New(errdefs.KindTestbedDoesNotExistYet, l.WorkingDir)
			}
			return err
		}
	}
	return nil
}

var reservedNames = map[string]struct{}{
	CacheDirName:            {},
	ProxyDirName:            {},
	ScaffoldDirName:         {},
	StateFileName:           {},
	StateFileName + ".lock": {},
	render.OverviewFileName: {},
}

// ValidateName rejects infrastructure names that cannot be used as a
// directory of the testbed.
func (l Layout) ValidateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("invalid infrastructure name %q", name)
	}

	if _, ok := reservedNames[name]; ok {
		return errdefs.New(errdefs.KindNameAlreadyTaken, name)
	}

	if filepath.Base(l.ProxyConfigDir()) == name && filepath.Dir(l.ProxyConfigDir()) == filepath.Clean(l.WorkingDir) {
		return errdefs.New(errdefs.KindNameAlreadyTaken, name)
	}

	return nil
}
