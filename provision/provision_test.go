package provision

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mumoshu/mtenv/errdefs"
	"github.com/mumoshu/mtenv/source"
	"github.com/mumoshu/mtenv/state"
)

func TestSetup(t *testing.T) {
	ctx := context.Background()

	t.Run("creates the infrastructure", func(t *testing.T) {
		f := newFixture(t)
		f.setup(t, "infra1")

		require.FileExists(t, filepath.Join(f.layout.InfrastructureDir("infra1"), "theme", "boost_union", "version.php"))
		require.DirExists(t, f.layout.MoodlesDir("infra1"))
		require.Equal(t, []string{"https://github.com/moodle-an-hochschulen/moodle-theme_boost_union.git@branch main"}, f.git.clones)

		infra, err := f.store.InfrastructureInfo(ctx, "infra1")
		require.NoError(t, err)
		require.Equal(t, "theme_boost_union", infra.Plugin)
		require.Equal(t, source.Reference{Kind: source.KindBranch, Value: "main"}, infra.GitRef)
		require.Equal(t, infra.CreatedAt, infra.LastModifiedAt)
		require.Empty(t, infra.Moodles)
	})

	t.Run("name uniqueness", func(t *testing.T) {
		f := newFixture(t)
		f.setup(t, "infra1")

		err := f.engine.Setup(ctx, "infra1", "theme_boost_union", source.Reference{Kind: source.KindPullRequest, Value: "7"})
		require.ErrorIs(t, err, errdefs.ErrNameAlreadyTaken)

		infra, err := f.store.InfrastructureInfo(ctx, "infra1")
		require.NoError(t, err)
		require.Equal(t, source.Reference{Kind: source.KindBranch, Value: "main"}, infra.GitRef)
		require.Len(t, f.git.clones, 1)
	})

	t.Run("reserved names", func(t *testing.T) {
		f := newFixture(t)

		err := f.engine.Setup(ctx, "cache", "theme_boost_union", source.Reference{Kind: source.KindBranch, Value: "main"})
		require.ErrorIs(t, err, errdefs.ErrNameAlreadyTaken)
	})

	t.Run("failed clone leaves the directory behind", func(t *testing.T) {
		f := newFixture(t)
		f.git.err = errdefs.New(errdefs.KindInvalidGitReference, "branch nope")

		err := f.engine.Setup(ctx, "infra1", "theme_boost_union", source.Reference{Kind: source.KindBranch, Value: "nope"})
		require.ErrorIs(t, err, errdefs.ErrInvalidGitReference)

		require.DirExists(t, f.layout.InfrastructureDir("infra1"))

		st, err := f.store.Load(ctx)
		require.NoError(t, err)
		require.NotContains(t, st, "infra1")
	})
}

func TestBuild(t *testing.T) {
	ctx := context.Background()

	t.Run("preconditions", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.engine.Build(ctx, "infra1")
		require.ErrorIs(t, err, errdefs.ErrVersionArgumentNeeded)

		_, err = f.engine.Build(ctx, "infra1", "4.1.0")
		require.ErrorIs(t, err, errdefs.ErrInfrastructureDoesNotExistYet)
	})

	t.Run("builds a version", func(t *testing.T) {
		f := newFixture(t)
		f.setup(t, "infra1")

		built, err := f.engine.Build(ctx, "infra1", "4.1.0")
		require.NoError(t, err)
		require.Len(t, built, 1)

		m := built["4.1.0"]
		require.Equal(t, state.StatusCreated, m.Status)
		require.Equal(t, "password1", m.AdminPassword)
		require.NotZero(t, m.WWWPort)
		require.NotZero(t, m.DBPort)
		require.NotEqual(t, m.WWWPort, m.DBPort)
		require.Equal(t, "http://localhost:"+itoa(m.WWWPort), m.URL)

		dir := f.layout.MoodleDir("infra1", "4.1.0")
		src := f.layout.MoodleSourceDir("infra1", "4.1.0")
		require.FileExists(t, filepath.Join(src, "version.php"))
		require.FileExists(t, filepath.Join(src, "config.php"))
		require.FileExists(t, filepath.Join(dir, "bin", "moodle-docker-compose"))
		require.NoDirExists(t, filepath.Join(dir, "moodle-4.1.0"))

		env := read(t, filepath.Join(dir, ".env"))
		require.Contains(t, env, "COMPOSE_PROJECT_NAME=infra1-moodle-4_1_0\n")
		require.Contains(t, env, "MOODLE_DOCKER_WWWROOT="+src+"\n")
		require.Contains(t, env, "MOODLE_DOCKER_PHP_VERSION=8.1\n")

		local := read(t, filepath.Join(dir, "local.yml"))
		require.Contains(t, local, filepath.Join(f.layout.InfrastructureDir("infra1"), "theme", "boost_union")+":/var/www/html/theme/boost_union")

		require.Equal(t, []string{"create infra1/moodles/4.1.0"}, f.runtime.Calls())

		infra, err := f.store.InfrastructureInfo(ctx, "infra1")
		require.NoError(t, err)
		require.Equal(t, m, *infra.Moodles["4.1.0"])
	})

	t.Run("idempotent", func(t *testing.T) {
		f := newFixture(t)
		f.setup(t, "infra1")

		_, err := f.engine.Build(ctx, "infra1", "4.2.0")
		require.NoError(t, err)

		before, err := f.store.InfrastructureInfo(ctx, "infra1")
		require.NoError(t, err)

		built, err := f.engine.Build(ctx, "infra1", "4.2.0", "4.2.0")
		require.NoError(t, err)
		require.Empty(t, built)

		require.Equal(t, []string{"4.2.0"}, f.archives.gets)
		require.Equal(t, []string{"create infra1/moodles/4.2.0"}, f.runtime.Calls())

		after, err := f.store.InfrastructureInfo(ctx, "infra1")
		require.NoError(t, err)
		require.Equal(t, before, after)
	})

	t.Run("ports do not collide across builds", func(t *testing.T) {
		f := newFixture(t)
		f.setup(t, "infra1")

		built, err := f.engine.Build(ctx, "infra1", "4.1.0", "4.2.0", "3.11.2")
		require.NoError(t, err)
		require.Len(t, built, 3)

		seen := map[int]bool{}
		for _, m := range built {
			for _, p := range []int{m.WWWPort, m.DBPort} {
				require.False(t, seen[p], "port %d allocated twice", p)
				seen[p] = true
			}
		}
	})

	t.Run("failure aborts the batch and keeps earlier versions", func(t *testing.T) {
		f := newFixture(t)
		f.setup(t, "infra1")
		f.archives.notFound["999.0"] = true

		built, err := f.engine.Build(ctx, "infra1", "4.1.0", "999.0", "4.2.0")
		require.ErrorIs(t, err, errdefs.ErrInvalidMoodleVersion)
		require.Len(t, built, 1)
		require.Contains(t, built, "4.1.0")

		require.NoDirExists(t, f.layout.MoodleDir("infra1", "999.0"))
		require.NoDirExists(t, f.layout.MoodleDir("infra1", "4.2.0"))
		require.Equal(t, []string{"4.1.0", "999.0"}, f.archives.gets)

		infra, err := f.store.InfrastructureInfo(ctx, "infra1")
		require.NoError(t, err)
		require.Len(t, infra.Moodles, 1)
		require.Contains(t, infra.Moodles, "4.1.0")
	})

	t.Run("container failure is rolled back", func(t *testing.T) {
		f := newFixture(t)
		f.setup(t, "infra1")
		f.runtime.failOn["create infra1/moodles/4.1.0"] = errors.New("docker is down")

		_, err := f.engine.Build(ctx, "infra1", "4.1.0")
		require.Error(t, err)

		require.NoDirExists(t, f.layout.MoodleDir("infra1", "4.1.0"))
		require.Equal(t, []string{"create infra1/moodles/4.1.0", "destroy infra1/moodles/4.1.0"}, f.runtime.Calls())
	})

	t.Run("unsupported version", func(t *testing.T) {
		f := newFixture(t)
		f.setup(t, "infra1")

		_, err := f.engine.Build(ctx, "infra1", "3.5.0")
		require.ErrorIs(t, err, errdefs.ErrUnsupportedMoodleVersion)
		require.Empty(t, f.archives.gets)
	})

	t.Run("invalid version", func(t *testing.T) {
		f := newFixture(t)
		f.setup(t, "infra1")

		_, err := f.engine.Build(ctx, "infra1", "../4.1.0")
		require.ErrorIs(t, err, errdefs.ErrInvalidMoodleVersion)
	})

	t.Run("proxied", func(t *testing.T) {
		f := newFixture(t)
		f.engine.Proxied = true
		f.engine.BaseURL = "https://moodle.example.com/"
		f.setup(t, "infra1")

		built, err := f.engine.Build(ctx, "infra1", "4.1.0")
		require.NoError(t, err)
		require.Equal(t, "https://moodle.example.com/infra1/4.1.0", built["4.1.0"].URL)

		conf := read(t, f.layout.ProxyLocationConfig("infra1", "4.1.0"))
		require.Contains(t, conf, "location /infra1/4.1.0/ {")
		require.Contains(t, conf, "proxy_pass http://127.0.0.1:"+itoa(built["4.1.0"].WWWPort)+"/;")

		dir := f.layout.MoodleDir("infra1", "4.1.0")
		env := read(t, filepath.Join(dir, ".env"))
		require.Contains(t, env, "MOODLE_DOCKER_WEB_HOST=moodle.example.com\n")
		require.NotContains(t, env, "MOODLE_DOCKER_WEB_HOST=localhost")

		config := read(t, filepath.Join(dir, "moodle", "config.php"))
		require.Contains(t, config, "$CFG->wwwroot = 'https://moodle.example.com/infra1/4.1.0';")
		require.Contains(t, config, "$CFG->sslproxy = true;")
		require.Less(t, strings.Index(config, "$CFG->wwwroot"), strings.Index(config, "lib/setup.php"))
	})

	t.Run("direct", func(t *testing.T) {
		f := newFixture(t)
		f.setup(t, "infra1")

		built, err := f.engine.Build(ctx, "infra1", "4.1.0")
		require.NoError(t, err)
		require.Equal(t, "http://localhost:"+itoa(built["4.1.0"].WWWPort), built["4.1.0"].URL)

		dir := f.layout.MoodleDir("infra1", "4.1.0")
		require.Contains(t, read(t, filepath.Join(dir, ".env")), "MOODLE_DOCKER_WEB_HOST=localhost\n")
		require.NotContains(t, read(t, filepath.Join(dir, "moodle", "config.php")), "$CFG->wwwroot")
	})
}

func TestTeardown(t *testing.T) {
	ctx := context.Background()

	t.Run("removes everything", func(t *testing.T) {
		f := newFixture(t)
		f.engine.Proxied = true
		f.engine.BaseURL = "https://moodle.example.com"
		f.setup(t, "infra1")
		f.setup(t, "infra2")

		_, err := f.engine.Build(ctx, "infra1", "4.1.0")
		require.NoError(t, err)
		require.FileExists(t, f.layout.ProxyLocationConfig("infra1", "4.1.0"))

		f.runtime.failOn["destroy infra1/moodles/4.1.0"] = errors.New("already gone")

		require.NoError(t, f.engine.Teardown(ctx, "infra1"))

		require.NoDirExists(t, f.layout.InfrastructureDir("infra1"))
		require.NoFileExists(t, f.layout.ProxyLocationConfig("infra1", "4.1.0"))
		require.Contains(t, f.runtime.Calls(), "destroy infra1/moodles/4.1.0")

		st, err := f.store.Load(ctx)
		require.NoError(t, err)
		require.NotContains(t, st, "infra1")
		require.Contains(t, st, "infra2")
	})

	t.Run("unknown infrastructure", func(t *testing.T) {
		f := newFixture(t)

		err := f.engine.Teardown(ctx, "nope")
		require.ErrorIs(t, err, errdefs.ErrInfrastructureDoesNotExistYet)
	})
}

func TestMoveSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "moodle-MOODLE_401_STABLE", "admin"), 0755))

	require.NoError(t, moveSource(dir, "moodle-4.1.0", filepath.Join(dir, "moodle")))
	require.DirExists(t, filepath.Join(dir, "moodle", "admin"))

	empty := t.TempDir()
	err := moveSource(empty, "moodle-4.1.0", filepath.Join(empty, "moodle"))
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "moodle-4.1.0"))
}

func read(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}
