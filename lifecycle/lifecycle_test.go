package lifecycle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/mumoshu/mtenv/archive/archivetest"
	"github.com/mumoshu/mtenv/compat"
	"github.com/mumoshu/mtenv/compose"
	"github.com/mumoshu/mtenv/errdefs"
	"github.com/mumoshu/mtenv/provision"
	"github.com/mumoshu/mtenv/render"
	"github.com/mumoshu/mtenv/source"
	"github.com/mumoshu/mtenv/state"
	"github.com/mumoshu/mtenv/testbed"
)

type fakeRuntime struct {
	calls    []string
	installs []compose.InstallOptions
	failOn   map[string]error
	cli      compose.CLI
	root     string
}

func (r *fakeRuntime) call(op, dir string) error {
	rel, _ := filepath.Rel(r.root, dir)
	r.calls = append(r.calls, op+" "+rel)
	return r.failOn[op+" "+rel]
}

func (r *fakeRuntime) Create(ctx context.Context, dir string) error  { return r.call("create", dir) }
func (r *fakeRuntime) Start(ctx context.Context, dir string) error   { return r.call("start", dir) }
func (r *fakeRuntime) Stop(ctx context.Context, dir string) error    { return r.call("stop", dir) }
func (r *fakeRuntime) Restart(ctx context.Context, dir string) error { return r.call("restart", dir) }
func (r *fakeRuntime) Destroy(ctx context.Context, dir string) error { return r.call("destroy", dir) }

func (r *fakeRuntime) Install(ctx context.Context, dir string, opts compose.InstallOptions) error {
	r.installs = append(r.installs, opts)
	return r.call("install", dir)
}

func (r *fakeRuntime) AccessInfo(dir string) (*compose.AccessInfo, error) {
	return r.cli.AccessInfo(dir)
}

type fixture struct {
	c       *Coordinator
	runtime *fakeRuntime
	store   *state.YAMLFileStore
	layout  testbed.Layout
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	wd := t.TempDir()
	layout := testbed.NewLayout(wd, "")
	require.NoError(t, os.MkdirAll(layout.ProxyLocationsDir(), 0755))

	log, _ := test.NewNullLogger()
	store := &state.YAMLFileStore{Path: layout.StateFile()}
	rt := &fakeRuntime{failOn: map[string]error{}, root: wd}

	return &fixture{
		c: &Coordinator{
			Layout:  layout,
			Store:   store,
			Runtime: rt,
			Log:     log,
		},
		runtime: rt,
		store:   store,
		layout:  layout,
	}
}

// seed records an infrastructure with the given versions built.
func (f *fixture) seed(t *testing.T, name string, versions ...string) {
	t.Helper()

	plugin := "theme_boost_union"
	patch := state.InfrastructurePatch{Plugin: &plugin, Moodles: map[string]state.MoodlePatch{}}

	for i, v := range versions {
		dir := f.layout.MoodleDir(name, v)
		require.NoError(t, os.MkdirAll(dir, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("MOODLE_DOCKER_WEB_PORT=8001\nMOODLE_DOCKER_DB_PORT=5001\nMOODLE_ADMIN_PASSWORD=secret\n"), 0644))
		require.NoError(t, os.WriteFile(f.layout.ProxyLocationConfig(name, v), []byte("location {}"), 0644))

		patch.Moodles[v] = state.FullMoodlePatch(state.Moodle{
			Status:        state.StatusCreated,
			URL:           "http://localhost:800" + string(rune('1'+i)),
			AdminPassword: "secret" + v,
			WWWPort:       8001 + i,
			DBPort:        5001 + i,
		})
	}

	require.NoError(t, f.store.MergeInfrastructure(context.Background(), name, patch, false))
}

func (f *fixture) status(t *testing.T, name, version string) state.Status {
	t.Helper()

	infra, err := f.store.InfrastructureInfo(context.Background(), name)
	require.NoError(t, err)
	m, ok := infra.Moodles[version]
	require.True(t, ok, "moodle %s is not recorded", version)
	return m.Status
}

func TestPerformAction(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown infrastructure", func(t *testing.T) {
		f := newFixture(t)

		err := f.c.PerformAction(ctx, "nope", Start, "4.1.0")
		require.ErrorIs(t, err, errdefs.ErrInfrastructureDoesNotExistYet)
	})

	t.Run("unknown version touches no container", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, "infra1", "4.1.0")

		err := f.c.PerformAction(ctx, "infra1", Stop, "4.1.0", "4.2.0")
		require.ErrorIs(t, err, errdefs.ErrMoodleTestEnvironmentDoesNotExistYet)
		require.Empty(t, f.runtime.calls)
	})

	t.Run("first start installs", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, "infra1", "4.1.0")

		require.NoError(t, f.c.PerformAction(ctx, "infra1", Start, "4.1.0"))
		require.Equal(t, state.StatusStarted, f.status(t, "infra1", "4.1.0"))
		require.Equal(t, []string{"start infra1/moodles/4.1.0", "install infra1/moodles/4.1.0"}, f.runtime.calls)
		require.Equal(t, []compose.InstallOptions{{
			FullName:      "infra1 - 4.1.0",
			ShortName:     "infra1-4.1.0",
			AdminPassword: "secret4.1.0",
			AdminEmail:    DefaultAdminEmail,
			Theme:         "boost_union",
		}}, f.runtime.installs)

		require.NoError(t, f.c.PerformAction(ctx, "infra1", Stop, "4.1.0"))
		require.Equal(t, state.StatusStopped, f.status(t, "infra1", "4.1.0"))

		require.NoError(t, f.c.PerformAction(ctx, "infra1", Start, "4.1.0"))
		require.Len(t, f.runtime.installs, 1)
	})

	t.Run("restart converges to started", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, "infra1", "4.1.0")

		require.NoError(t, f.c.PerformAction(ctx, "infra1", Stop, "4.1.0"))
		require.NoError(t, f.c.PerformAction(ctx, "infra1", Restart, "4.1.0"))
		require.Equal(t, state.StatusStarted, f.status(t, "infra1", "4.1.0"))
	})

	t.Run("all versions by default", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, "infra1", "4.1.0", "3.11.2")

		require.NoError(t, f.c.PerformAction(ctx, "infra1", Stop))
		require.Equal(t, []string{"stop infra1/moodles/3.11.2", "stop infra1/moodles/4.1.0"}, f.runtime.calls)
		require.Equal(t, state.StatusStopped, f.status(t, "infra1", "3.11.2"))
		require.Equal(t, state.StatusStopped, f.status(t, "infra1", "4.1.0"))
	})

	t.Run("destroy removes the record", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, "infra1", "4.1.0", "4.2.0")

		require.NoError(t, f.c.PerformAction(ctx, "infra1", Destroy, "4.2.0"))

		infra, err := f.store.InfrastructureInfo(ctx, "infra1")
		require.NoError(t, err)
		require.NotContains(t, infra.Moodles, "4.2.0")
		require.Equal(t, state.StatusCreated, infra.Moodles["4.1.0"].Status)

		require.NoDirExists(t, f.layout.MoodleDir("infra1", "4.2.0"))
		require.NoFileExists(t, f.layout.ProxyLocationConfig("infra1", "4.2.0"))
		require.FileExists(t, f.layout.ProxyLocationConfig("infra1", "4.1.0"))
	})

	t.Run("runtime failure keeps the status", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, "infra1", "4.1.0")
		f.runtime.failOn["stop infra1/moodles/4.1.0"] = errors.New("docker is down")

		require.Error(t, f.c.PerformAction(ctx, "infra1", Stop, "4.1.0"))
		require.Equal(t, state.StatusCreated, f.status(t, "infra1", "4.1.0"))
	})
}

type fakeGit struct{}

func (fakeGit) Clone(ctx context.Context, remoteURL, dest string, ref source.Reference) error {
	return os.MkdirAll(dest, 0755)
}

type fakeArchives struct {
	t   *testing.T
	dir string
}

func (a fakeArchives) Get(ctx context.Context, version string) (string, error) {
	p := filepath.Join(a.dir, "v"+version+".tar.gz")
	archivetest.WriteFile(a.t, p, archivetest.MoodleRelease(a.t, version))
	return p, nil
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	log, _ := test.NewNullLogger()

	archivetest.WriteFile(t, filepath.Join(f.layout.ScaffoldDir(), provision.ConfigTemplateFile), []byte("<?php\n"))
	require.NoError(t, os.WriteFile(f.layout.StateFile(), nil, 0644))

	e := &provision.Engine{
		Layout:   f.layout,
		Store:    f.store,
		Git:      fakeGit{},
		Archives: fakeArchives{t: t, dir: f.layout.CacheDir()},
		Runtime:  f.runtime,
		Renderer: render.New(log),
		Compat:   compat.DefaultTable(),
		Now:      time.Now,
		Log:      log,
	}

	require.NoError(t, e.Setup(ctx, "t1", "theme_x", source.Reference{Kind: source.KindBranch, Value: "main"}))

	_, err := e.Build(ctx, "t1", "4.2")
	require.NoError(t, err)
	require.Equal(t, state.StatusCreated, f.status(t, "t1", "4.2"))
	require.DirExists(t, f.layout.MoodleSourceDir("t1", "4.2"))

	require.NoError(t, f.c.PerformAction(ctx, "t1", Start, "4.2"))
	require.Equal(t, state.StatusStarted, f.status(t, "t1", "4.2"))

	require.NoError(t, f.c.PerformAction(ctx, "t1", Destroy, "4.2"))

	infra, err := f.store.InfrastructureInfo(ctx, "t1")
	require.NoError(t, err)
	require.NotContains(t, infra.Moodles, "4.2")

	require.NoError(t, e.Teardown(ctx, "t1"))
	require.NoDirExists(t, f.layout.InfrastructureDir("t1"))
}
