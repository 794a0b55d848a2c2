// Package lifecycle starts, stops, restarts and destroys the moodle
// instances of an infrastructure and records their status.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/mumoshu/mtenv/compat"
	"github.com/mumoshu/mtenv/compose"
	"github.com/mumoshu/mtenv/errdefs"
	"github.com/mumoshu/mtenv/source"
	"github.com/mumoshu/mtenv/state"
	"github.com/mumoshu/mtenv/testbed"
)

// DefaultAdminEmail is the e-mail of the admin account of every instance.
const DefaultAdminEmail = "admin@example.com"

type Action string

const (
	Start   Action = "start"
	Stop    Action = "stop"
	Restart Action = "restart"
	Destroy Action = "destroy"
)

var Actions = []Action{Start, Stop, Restart, Destroy}

// Coordinator runs container actions and keeps the state store in sync.
type Coordinator struct {
	Layout  testbed.Layout
	Store   state.Store
	Runtime compose.Runtime

	// AdminEmail defaults to DefaultAdminEmail.
	AdminEmail string

	Log logrus.FieldLogger
}

// PerformAction runs action on the given versions of the infrastructure, or
// on every version built for it when no version is given.
//
// Every version is checked to exist before any container is touched.
// Versions are processed in order and the first failure stops the rest.
func (c *Coordinator) PerformAction(ctx context.Context, name string, action Action, versions ...string) error {
	if _, err := os.Stat(c.Layout.InfrastructureDir(name)); os.IsNotExist(err) {
		return errdefs.New(errdefs.KindInfrastructureDoesNotExistYet, name)
	} else if err != nil {
		return err
	}

	infra, err := c.Store.InfrastructureInfo(ctx, name)
	if err != nil {
		return err
	}

	log := c.log().WithFields(logrus.Fields{"infrastructure": name, "action": action})

	if len(versions) == 0 {
		versions, err = c.builtVersions(name)
		if err != nil {
			return err
		}
		if len(versions) == 0 {
			log.Infof("no moodles built for %s yet", name)
			return nil
		}
	}

	for _, v := range versions {
		if _, err := os.Stat(c.Layout.MoodleDir(name, v)); err != nil {
			if os.IsNotExist(err) {
				return errdefs.New(errdefs.KindMoodleTestEnvironmentDoesNotExistYet, v)
			}
			return err
		}
	}

	for _, v := range versions {
		vlog := log.WithField("version", v)
		vlog.Infof("%s moodle %s", action, v)

		if err := c.perform(ctx, vlog, name, infra, action, v); err != nil {
			return err
		}
	}

	return nil
}

func (c *Coordinator) perform(ctx context.Context, log logrus.FieldLogger, name string, infra *state.Infrastructure, action Action, version string) error {
	dir := c.Layout.MoodleDir(name, version)

	switch action {
	case Start:
		if err := c.Runtime.Start(ctx, dir); err != nil {
			return err
		}

		if m, ok := infra.Moodles[version]; !ok || m == nil || m.Status == state.StatusCreated {
			if err := c.install(ctx, log, name, infra, version); err != nil {
				return err
			}
		}

		if err := c.setStatus(ctx, name, version, state.StatusStarted); err != nil {
			return err
		}

		c.logAccessInfo(log, dir, infra.Moodles[version])
	case Stop:
		if err := c.Runtime.Stop(ctx, dir); err != nil {
			return err
		}

		return c.setStatus(ctx, name, version, state.StatusStopped)
	case Restart:
		if err := c.Runtime.Restart(ctx, dir); err != nil {
			return err
		}

		return c.setStatus(ctx, name, version, state.StatusStarted)
	case Destroy:
		return c.destroy(ctx, log, name, version)
	default:
		return fmt.Errorf("unknown action %q", action)
	}

	return nil
}

func (c *Coordinator) destroy(ctx context.Context, log logrus.FieldLogger, name, version string) error {
	dir := c.Layout.MoodleDir(name, version)

	if err := c.Runtime.Destroy(ctx, dir); err != nil {
		return err
	}

	if err := os.Remove(c.Layout.ProxyLocationConfig(name, version)); err != nil && !os.IsNotExist(err) {
		return err
	}

	if err := c.Store.RemoveMoodle(ctx, name, version); err != nil && !errors.Is(err, errdefs.ErrMoodleTestEnvironmentDoesNotExistYet) {
		return err
	}

	// Without the directory, the next build of this version starts from scratch.
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("unable to remove %s: %w", dir, err)
	}

	log.Infof("destroyed moodle %s", version)

	return nil
}

// install runs the moodle installer on the first start of an instance.
func (c *Coordinator) install(ctx context.Context, log logrus.FieldLogger, name string, infra *state.Infrastructure, version string) error {
	dir := c.Layout.MoodleDir(name, version)

	password := ""
	if m, ok := infra.Moodles[version]; ok && m != nil {
		password = m.AdminPassword
	}
	if password == "" {
		info, err := c.Runtime.AccessInfo(dir)
		if err != nil {
			return err
		}
		password = info.AdminPassword
	}

	opts := compose.InstallOptions{
		FullName:      fmt.Sprintf("%s - %s", name, version),
		ShortName:     fmt.Sprintf("%s-%s", name, version),
		AdminPassword: password,
		AdminEmail:    c.adminEmail(),
	}

	if p, err := source.ParsePlugin(infra.Plugin); err == nil && p.IsTheme() {
		opts.Theme = p.Name
	}

	log.Info("installing moodle")

	return c.Runtime.Install(ctx, dir, opts)
}

func (c *Coordinator) setStatus(ctx context.Context, name, version string, s state.Status) error {
	return c.Store.MergeInfrastructure(ctx, name, state.InfrastructurePatch{
		Moodles: map[string]state.MoodlePatch{version: state.StatusPatch(s)},
	}, true)
}

func (c *Coordinator) logAccessInfo(log logrus.FieldLogger, dir string, m *state.Moodle) {
	if m != nil && m.URL != "" {
		log.Infof("moodle is up at %s, log in as admin with password %s", m.URL, m.AdminPassword)
		return
	}

	info, err := c.Runtime.AccessInfo(dir)
	if err != nil {
		log.Warnf("unable to read access info: %v", err)
		return
	}

	log.Infof("moodle is up at %s, log in as admin with password %s", info.URL(), info.AdminPassword)
}

// builtVersions lists the version directories of the infrastructure.
func (c *Coordinator) builtVersions(name string) ([]string, error) {
	entries, err := os.ReadDir(c.Layout.MoodlesDir(name))
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	var versions []string
	for _, e := range entries {
		if e.IsDir() {
			versions = append(versions, e.Name())
		}
	}

	compat.SortVersions(versions)

	return versions, nil
}

func (c *Coordinator) adminEmail() string {
	if c.AdminEmail != "" {
		return c.AdminEmail
	}
	return DefaultAdminEmail
}

func (c *Coordinator) log() logrus.FieldLogger {
	if c.Log == nil {
		return logrus.StandardLogger()
	}
	return c.Log
}
