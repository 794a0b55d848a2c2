package provision

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/mumoshu/mtenv/archive/archivetest"
	"github.com/mumoshu/mtenv/compat"
	"github.com/mumoshu/mtenv/compose"
	"github.com/mumoshu/mtenv/errdefs"
	"github.com/mumoshu/mtenv/render"
	"github.com/mumoshu/mtenv/source"
	"github.com/mumoshu/mtenv/state"
	"github.com/mumoshu/mtenv/testbed"
)

type fakeGit struct {
	clones []string
	err    error
}

func (g *fakeGit) Clone(ctx context.Context, remoteURL, dest string, ref source.Reference) error {
	g.clones = append(g.clones, remoteURL+"@"+ref.String())
	if g.err != nil {
		return g.err
	}
	if err := os.MkdirAll(dest, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dest, "version.php"), []byte("<?php"), 0644)
}

type fakeArchives struct {
	t        *testing.T
	dir      string
	gets     []string
	notFound map[string]bool
}

func (a *fakeArchives) Get(ctx context.Context, version string) (string, error) {
	a.gets = append(a.gets, version)
	if a.notFound[version] {
		return "", errdefs.Wrap(errdefs.KindInvalidMoodleVersion, version, errors.New("404 Not Found"))
	}

	p := filepath.Join(a.dir, "v"+version+".tar.gz")
	archivetest.WriteFile(a.t, p, archivetest.MoodleRelease(a.t, version))
	return p, nil
}

// fakeRuntime records every call and reads the access info from the rendered
// env file like the real runtime does.
type fakeRuntime struct {
	mu      sync.Mutex
	calls   []string
	failOn  map[string]error
	cli     compose.CLI
	workDir string
}

func (r *fakeRuntime) call(op, dir string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rel, err := filepath.Rel(r.workDir, dir)
	if err != nil {
		rel = dir
	}
	r.calls = append(r.calls, op+" "+rel)

	return r.failOn[op+" "+rel]
}

func (r *fakeRuntime) Create(ctx context.Context, dir string) error  { return r.call("create", dir) }
func (r *fakeRuntime) Start(ctx context.Context, dir string) error   { return r.call("start", dir) }
func (r *fakeRuntime) Stop(ctx context.Context, dir string) error    { return r.call("stop", dir) }
func (r *fakeRuntime) Restart(ctx context.Context, dir string) error { return r.call("restart", dir) }
func (r *fakeRuntime) Destroy(ctx context.Context, dir string) error { return r.call("destroy", dir) }

func (r *fakeRuntime) Install(ctx context.Context, dir string, opts compose.InstallOptions) error {
	return r.call("install", dir)
}

func (r *fakeRuntime) AccessInfo(dir string) (*compose.AccessInfo, error) {
	return r.cli.AccessInfo(dir)
}

func (r *fakeRuntime) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fixture struct {
	engine   *Engine
	git      *fakeGit
	archives *fakeArchives
	runtime  *fakeRuntime
	store    *state.YAMLFileStore
	layout   testbed.Layout
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	wd := t.TempDir()
	layout := testbed.NewLayout(wd, "")

	scaffold := layout.ScaffoldDir()
	archivetest.WriteFile(t, filepath.Join(scaffold, ConfigTemplateFile), []byte("<?php // docker config\n\nrequire_once(__DIR__ . '/lib/setup.php');\n"))
	archivetest.WriteFile(t, filepath.Join(scaffold, "bin", "moodle-docker-compose"), []byte("#!/bin/sh\n"))
	require.NoError(t, os.MkdirAll(layout.ProxyLocationsDir(), 0755))
	require.NoError(t, os.WriteFile(layout.StateFile(), nil, 0644))

	log, _ := test.NewNullLogger()

	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	store := &state.YAMLFileStore{Path: layout.StateFile(), Now: func() time.Time { return now }}

	f := &fixture{
		git:      &fakeGit{},
		archives: &fakeArchives{t: t, dir: layout.CacheDir(), notFound: map[string]bool{}},
		runtime:  &fakeRuntime{failOn: map[string]error{}, workDir: wd},
		store:    store,
		layout:   layout,
	}

	passwords := 0
	f.engine = &Engine{
		Layout:   layout,
		Store:    store,
		Git:      f.git,
		Plugins:  source.Registry{},
		Archives: f.archives,
		Runtime:  f.runtime,
		Renderer: render.New(log),
		Compat:   compat.DefaultTable(),
		NewPassword: func() string {
			passwords++
			return "password" + string(rune('0'+passwords))
		},
		Now: func() time.Time { return now },
		Log: log,
	}

	return f
}

func (f *fixture) setup(t *testing.T, name string) {
	t.Helper()

	require.NoError(t, f.engine.Setup(context.Background(), name, "theme_boost_union", source.Reference{Kind: source.KindBranch, Value: "main"}))
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
