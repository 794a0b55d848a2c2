// Package provision sets up infrastructures, builds their moodle instances
// and tears them down again, keeping the state store in line with the disk.
package provision

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mumoshu/mtenv/compat"
	"github.com/mumoshu/mtenv/compose"
	"github.com/mumoshu/mtenv/errdefs"
	"github.com/mumoshu/mtenv/naming"
	"github.com/mumoshu/mtenv/portalloc"
	"github.com/mumoshu/mtenv/render"
	"github.com/mumoshu/mtenv/source"
	"github.com/mumoshu/mtenv/state"
	"github.com/mumoshu/mtenv/testbed"
)

const (
	// DefaultArchivePrefix is the top-level directory prefix of moodle release archives.
	DefaultArchivePrefix = "moodle"
	// DefaultDB is the database moodle-docker runs for every instance.
	DefaultDB = "pgsql"
	// ConfigTemplateFile is the moodle config template shipped with the scaffold.
	ConfigTemplateFile = "config.docker-template.php"
)

// ArchiveCache returns the path of the release archive of a moodle version.
type ArchiveCache interface {
	Get(ctx context.Context, version string) (string, error)
}

// Engine provisions infrastructures.
type Engine struct {
	Layout   testbed.Layout
	Store    state.Store
	Git      source.Client
	Plugins  source.Registry
	Archives ArchiveCache
	Runtime  compose.Runtime
	Renderer *render.Renderer
	Compat   compat.Table

	// ArchivePrefix defaults to DefaultArchivePrefix.
	ArchivePrefix string

	// Proxied serves every instance below BaseURL through the reverse proxy.
	Proxied bool
	BaseURL string
	// WebHost is the host moodle-docker binds the webserver to. Defaults to localhost.
	WebHost string

	// NewPassword returns the admin password of a new instance. Defaults to a random UUID.
	NewPassword func() string
	// NewPorts returns an allocator that never hands out the given ports.
	NewPorts func(reserved ...int) *portalloc.Allocator
	// Now defaults to time.Now.
	Now func() time.Time

	Log logrus.FieldLogger
}

// Setup checks out the plugin at ref into a new infrastructure named name.
func (e *Engine) Setup(ctx context.Context, name, pluginIdentifier string, ref source.Reference) error {
	if err := e.Layout.ValidateName(name); err != nil {
		return err
	}

	plugin, err := source.ParsePlugin(pluginIdentifier)
	if err != nil {
		return err
	}

	st, err := e.Store.Load(ctx)
	if err != nil {
		return err
	}

	if _, ok := st[name]; ok {
		return errdefs.New(errdefs.KindNameAlreadyTaken, name)
	}

	dir := e.Layout.InfrastructureDir(name)
	if _, err := os.Stat(dir); err == nil {
		return errdefs.New(errdefs.KindNameAlreadyTaken, name)
	} else if !os.IsNotExist(err) {
		return err
	}

	log := e.log().WithField("infrastructure", name)
	log.Infof("initializing new test infrastructure named '%s'", name)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	if err := e.Git.Clone(ctx, e.Plugins.URL(plugin.Identifier), plugin.Dir(dir), ref); err != nil {
		log.Warnf("%s is left behind, remove it before retrying", dir)
		return err
	}

	if err := os.MkdirAll(e.Layout.MoodlesDir(name), 0755); err != nil {
		return err
	}

	now := e.now()
	if err := e.Store.MergeInfrastructure(ctx, name, state.InfrastructurePatch{
		CreatedAt:      &now,
		LastModifiedAt: &now,
		Plugin:         &plugin.Identifier,
		GitRef:         &ref,
		Moodles:        map[string]state.MoodlePatch{},
	}, false); err != nil {
		return err
	}

	log.WithField("path", dir).Info("done init")

	return nil
}

// Teardown removes the infrastructure named name with all its moodle instances.
//
// Containers are taken down first, on a best-effort basis. A failure there is
// logged and does not stop the removal of the files and the state record.
func (e *Engine) Teardown(ctx context.Context, name string) error {
	infra, err := e.Store.InfrastructureInfo(ctx, name)
	if err != nil {
		return err
	}

	log := e.log().WithField("infrastructure", name)
	log.Infof("tearing down %s", name)

	versions := map[string]struct{}{}
	for v := range infra.Moodles {
		versions[v] = struct{}{}
	}
	if entries, err := os.ReadDir(e.Layout.MoodlesDir(name)); err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				versions[entry.Name()] = struct{}{}
			}
		}
	}

	for v := range versions {
		dir := e.Layout.MoodleDir(name, v)
		if _, err := os.Stat(dir); err == nil {
			if err := e.Runtime.Destroy(ctx, dir); err != nil {
				log.WithField("version", v).Warnf("unable to take down containers: %v", err)
			}
		}

		if err := removeIfExists(e.Layout.ProxyLocationConfig(name, v)); err != nil {
			return err
		}
	}

	if err := os.RemoveAll(e.Layout.InfrastructureDir(name)); err != nil {
		return fmt.Errorf("unable to remove %s: %w", e.Layout.InfrastructureDir(name), err)
	}

	return e.Store.RemoveInfrastructure(ctx, name)
}

func (e *Engine) log() logrus.FieldLogger {
	if e.Log == nil {
		return logrus.StandardLogger()
	}
	return e.Log
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e *Engine) newPassword() string {
	if e.NewPassword != nil {
		return e.NewPassword()
	}
	return uuid.NewString()
}

func (e *Engine) newPorts(reserved ...int) *portalloc.Allocator {
	if e.NewPorts != nil {
		return e.NewPorts(reserved...)
	}
	return portalloc.New(reserved...)
}

func (e *Engine) archivePrefix() string {
	if e.ArchivePrefix != "" {
		return e.ArchivePrefix
	}
	return DefaultArchivePrefix
}

// webHost is the host moodle builds its URLs from. Proxied instances are
// reached through the host of BaseURL.
func (e *Engine) webHost() string {
	if e.WebHost != "" {
		return e.WebHost
	}
	if e.Proxied {
		if u, err := url.Parse(e.BaseURL); err == nil && u.Hostname() != "" {
			return u.Hostname()
		}
	}
	return "localhost"
}

func (e *Engine) proxiedURL(name, version string) string {
	return strings.TrimRight(e.BaseURL, "/") + naming.WebLocation(name, version, true)
}

func (e *Engine) instanceURL(name, version string, info *compose.AccessInfo) string {
	if !e.Proxied {
		return info.URL()
	}
	return e.proxiedURL(name, version)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
