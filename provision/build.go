package provision

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/mumoshu/mtenv/archive"
	"github.com/mumoshu/mtenv/errdefs"
	"github.com/mumoshu/mtenv/naming"
	"github.com/mumoshu/mtenv/portalloc"
	"github.com/mumoshu/mtenv/render"
	"github.com/mumoshu/mtenv/source"
	"github.com/mumoshu/mtenv/state"
	"github.com/mumoshu/mtenv/testbed"
)

// Build provisions a moodle instance of every given version that the
// infrastructure does not have yet, and returns the records of the new ones.
//
// Versions are built one after the other in the given order. The first
// failure stops the batch: the directory of the failed version is removed,
// the versions built before it are recorded, and the error is returned along
// with their records.
func (e *Engine) Build(ctx context.Context, name string, versions ...string) (map[string]state.Moodle, error) {
	if len(versions) == 0 {
		return nil, errdefs.New(errdefs.KindVersionArgumentNeeded, name)
	}

	infra, err := e.Store.InfrastructureInfo(ctx, name)
	if err != nil {
		return nil, err
	}

	plugin, err := source.ParsePlugin(infra.Plugin)
	if err != nil {
		return nil, err
	}

	log := e.log().WithField("infrastructure", name)

	if err := os.MkdirAll(e.Layout.MoodlesDir(name), 0755); err != nil {
		return nil, err
	}

	work, err := e.reconcile(name, versions)
	if err != nil {
		return nil, err
	}

	built := map[string]state.Moodle{}

	if len(work) == 0 {
		log.Info("not building new envs - test envs already present for selected moodle versions")
		return built, nil
	}

	log.Infof("building envs for versions %v", work)

	st, err := e.Store.Load(ctx)
	if err != nil {
		return nil, err
	}
	ports := e.newPorts(st.UsedPorts()...)

	for _, v := range work {
		vlog := log.WithField("version", v)

		m, err := e.buildVersion(ctx, vlog, name, plugin, v, ports)
		if err != nil {
			vlog.Errorf("building failed, removing %s", e.Layout.MoodleDir(name, v))
			e.rollback(ctx, vlog, name, v)

			if perr := e.record(ctx, name, built); perr != nil {
				vlog.Errorf("unable to record the versions built before the failure: %v", perr)
			}

			return built, err
		}

		built[v] = *m
		vlog.Infof("test env for %s done", v)
	}

	if err := e.record(ctx, name, built); err != nil {
		return built, err
	}

	log.Info("your moodles are cooked al-dente; enjoy")

	return built, nil
}

// reconcile drops duplicates and versions whose directory already exists.
func (e *Engine) reconcile(name string, versions []string) ([]string, error) {
	var work []string
	seen := map[string]bool{}

	for _, v := range versions {
		if seen[v] {
			continue
		}
		seen[v] = true

		if err := validateVersion(v); err != nil {
			return nil, err
		}

		_, err := os.Stat(e.Layout.MoodleDir(name, v))
		if err == nil {
			continue
		}
		if !os.IsNotExist(err) {
			return nil, err
		}

		work = append(work, v)
	}

	return work, nil
}

func (e *Engine) buildVersion(ctx context.Context, log logrus.FieldLogger, name string, plugin source.Plugin, version string, ports *portalloc.Allocator) (*state.Moodle, error) {
	php, err := e.Compat.Select(version)
	if err != nil {
		return nil, err
	}

	archivePath, err := e.Archives.Get(ctx, version)
	if err != nil {
		return nil, err
	}

	dir := e.Layout.MoodleDir(name, version)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	srcDir := e.Layout.MoodleSourceDir(name, version)
	if err := archive.ExtractTarGz(archivePath, dir); err != nil {
		return nil, err
	}
	if err := moveSource(dir, e.archivePrefix()+"-"+version, srcDir); err != nil {
		return nil, err
	}
	log.Infof("extracted moodle %s to %s", version, srcDir)

	if err := testbed.CopyScaffold(e.Layout.ScaffoldDir(), dir); err != nil {
		return nil, fmt.Errorf("unable to copy the scaffold: %w", err)
	}
	log.Infof("copied docker files to %s", dir)

	if err := copyFile(filepath.Join(dir, ConfigTemplateFile), filepath.Join(srcDir, "config.php")); err != nil {
		return nil, fmt.Errorf("unable to install the moodle config: %w", err)
	}

	if e.Proxied {
		d, err := render.NewConfigData(e.proxiedURL(name, version))
		if err != nil {
			return nil, err
		}
		if err := e.Renderer.MoodleConfig(filepath.Join(srcDir, "config.php"), d); err != nil {
			return nil, fmt.Errorf("unable to point moodle at the reverse proxy: %w", err)
		}
	}

	wwwPort, err := ports.Allocate()
	if err != nil {
		return nil, err
	}
	dbPort, err := ports.Allocate()
	if err != nil {
		return nil, err
	}

	pluginDir := plugin.Dir(e.Layout.InfrastructureDir(name))

	if err := e.Renderer.EnvFile(dir, render.EnvData{
		ComposeProjectName: naming.ComposeSafeName(name, version),
		WWWRoot:            srcDir,
		DB:                 DefaultDB,
		PHPVersion:         php,
		WebHost:            e.webHost(),
		WebPort:            wwwPort,
		DBPort:             dbPort,
		AdminPassword:      e.newPassword(),
		PluginDir:          pluginDir,
	}); err != nil {
		return nil, err
	}

	if err := e.Renderer.LocalCompose(dir, render.LocalComposeData{
		PluginDir:    pluginDir,
		PluginRelDir: plugin.RelDir(),
	}); err != nil {
		return nil, err
	}

	if err := e.Runtime.Create(ctx, dir); err != nil {
		return nil, err
	}

	info, err := e.Runtime.AccessInfo(dir)
	if err != nil {
		return nil, err
	}

	if e.Proxied {
		if err := e.Renderer.ProxyLocation(e.Layout.ProxyLocationConfig(name, version), render.LocationData{
			Infrastructure: name,
			Version:        version,
			Location:       naming.WebLocation(name, version, true),
			WWWPort:        info.Port,
		}); err != nil {
			return nil, err
		}
	}

	return &state.Moodle{
		Status:        state.StatusCreated,
		URL:           e.instanceURL(name, version, info),
		AdminPassword: info.AdminPassword,
		WWWPort:       info.Port,
		DBPort:        info.DBPort,
	}, nil
}

// rollback removes whatever a failed build left of a version. Containers
// are only there if the env file was rendered, so the runtime is asked to
// take them down in that case.
func (e *Engine) rollback(ctx context.Context, log logrus.FieldLogger, name, version string) {
	dir := e.Layout.MoodleDir(name, version)

	if _, err := os.Stat(filepath.Join(dir, render.EnvFileName)); err == nil {
		if err := e.Runtime.Destroy(ctx, dir); err != nil {
			log.Warnf("unable to take down containers: %v", err)
		}
	}

	if err := os.RemoveAll(dir); err != nil {
		log.Warnf("unable to remove %s: %v", dir, err)
	}

	if err := removeIfExists(e.Layout.ProxyLocationConfig(name, version)); err != nil {
		log.Warnf("unable to remove proxy config: %v", err)
	}
}

func (e *Engine) record(ctx context.Context, name string, built map[string]state.Moodle) error {
	if len(built) == 0 {
		return nil
	}

	patch := state.InfrastructurePatch{Moodles: map[string]state.MoodlePatch{}}
	for v, m := range built {
		patch.Moodles[v] = state.FullMoodlePatch(m)
	}

	return e.Store.MergeInfrastructure(ctx, name, patch, true)
}

// validateVersion rejects version strings that cannot be a directory name.
// Whether the version exists is up to the release archive lookup.
func validateVersion(v string) error {
	if v == "" || v == "." || v == ".." || filepath.Base(v) != v {
		return errdefs.New(errdefs.KindInvalidMoodleVersion, v)
	}
	return nil
}

// moveSource moves the extracted source tree to dst. Archives normally
// unpack into want. Otherwise the only top-level directory is used.
func moveSource(dir, want, dst string) error {
	src := filepath.Join(dir, want)

	if _, err := os.Stat(src); os.IsNotExist(err) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return err
		}

		var dirs []string
		for _, e := range entries {
			if e.IsDir() {
				dirs = append(dirs, e.Name())
			}
		}

		if len(dirs) != 1 {
			return fmt.Errorf("expected the archive to unpack into %s, found %v", want, dirs)
		}

		src = filepath.Join(dir, dirs[0])
	}

	return os.Rename(src, dst)
}

func copyFile(src, dst string) error {
	r, err := os.Open(src)
	if err != nil {
		return err
	}
	defer r.Close()

	w, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return err
	}

	return w.Close()
}

