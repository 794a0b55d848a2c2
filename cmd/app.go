package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mumoshu/mtenv/archive"
	"github.com/mumoshu/mtenv/compose"
	"github.com/mumoshu/mtenv/config"
	"github.com/mumoshu/mtenv/errdefs"
	"github.com/mumoshu/mtenv/lifecycle"
	"github.com/mumoshu/mtenv/provision"
	"github.com/mumoshu/mtenv/render"
	"github.com/mumoshu/mtenv/source"
	"github.com/mumoshu/mtenv/state"
	"github.com/mumoshu/mtenv/testbed"
)

// app holds every component of one mtenv invocation. It is built once per
// command from the config and passed down explicitly.
type app struct {
	cfg *config.Config
	log *logrus.Logger
	out io.Writer

	layout      testbed.Layout
	store       state.Store
	renderer    *render.Renderer
	initializer *testbed.Initializer
	engine      *provision.Engine
	coordinator *lifecycle.Coordinator
}

func newLogger(level string, w io.Writer) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	log := logrus.New()
	log.SetOutput(w)
	log.SetLevel(lvl)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	return log, nil
}

func newApp(o *globalOptions, out, errOut io.Writer) (*app, error) {
	log, err := newLogger(o.LogLevel, errOut)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	wd, err := filepath.Abs(cfg.WorkingDir)
	if err != nil {
		return nil, err
	}

	var proxyDir string
	if cfg.Proxy.ConfigDir != "" {
		if proxyDir, err = filepath.Abs(cfg.Proxy.ConfigDir); err != nil {
			return nil, err
		}
	}

	layout := testbed.NewLayout(wd, proxyDir)
	store := state.NewStore(layout.StateFile())
	renderer := render.New(log)
	git := source.NewGitClient(log)
	runtime := compose.NewCLI(log)

	cache := &archive.Cache{
		Dir:          layout.CacheDir(),
		BaseURL:      cfg.Moodle.SourceURL,
		Downloader:   archive.NewHTTPDownloader(),
		Retries:      cfg.Moodle.Retries,
		RetryTimeout: cfg.Moodle.RetryTimeout,
		Log:          log,
	}

	return &app{
		cfg:      cfg,
		log:      log,
		out:      out,
		layout:   layout,
		store:    store,
		renderer: renderer,
		initializer: &testbed.Initializer{
			Layout:      layout,
			ScaffoldURL: cfg.Git.MoodleDockerRepoURL,
			ScaffoldRef: cfg.MoodleDockerRef(),
			Proxy: testbed.Proxy{
				Enabled:  cfg.Proxied,
				BaseURL:  cfg.BaseURL,
				CertFile: cfg.Proxy.CertFile,
				KeyFile:  cfg.Proxy.KeyFile,
			},
			Git:      git,
			Renderer: renderer,
			Log:      log,
		},
		engine: &provision.Engine{
			Layout:        layout,
			Store:         store,
			Git:           git,
			Plugins:       cfg.PluginRegistry(),
			Archives:      cache,
			Runtime:       runtime,
			Renderer:      renderer,
			Compat:        cfg.PHPCompatibility,
			ArchivePrefix: cfg.Moodle.ArchivePrefix,
			Proxied:       cfg.Proxied,
			BaseURL:       cfg.BaseURL,
			Log:           log,
		},
		coordinator: &lifecycle.Coordinator{
			Layout:  layout,
			Store:   store,
			Runtime: runtime,
			Log:     log,
		},
	}, nil
}

// requireTestbed fails with TestbedDoesNotExistYet before `mtenv init` ran.
func (a *app) requireTestbed() error {
	return a.layout.Exists()
}

// refreshOverview re-renders the overview page from the current state.
func (a *app) refreshOverview(ctx context.Context) error {
	st, err := a.store.Load(ctx)
	if err != nil {
		return err
	}

	if err := a.renderer.Overview(a.layout.OverviewFile(), st, time.Now()); err != nil {
		return fmt.Errorf("unable to refresh the overview page: %w", err)
	}

	return nil
}

// runE builds the app and runs fn with it, reporting a failure the way the
// operator can act on it.
func runE(o *globalOptions, fn func(ctx context.Context, a *app, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(o, cmd.OutOrStdout(), cmd.ErrOrStderr())
		if err != nil {
			logrus.Error(err)
			return err
		}

		if err := fn(cmd.Context(), a, args); err != nil {
			a.report(cmd.ErrOrStderr(), err)
			return err
		}

		return nil
	}
}

func (a *app) report(w io.Writer, err error) {
	kind, ok := errdefs.KindOf(err)
	if !ok {
		a.log.Error(err)
		return
	}

	a.log.WithField("kind", kind.String()).Debug(err)

	errorStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("196"))

	hintStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("242")).
		Italic(true)

	fmt.Fprintln(w, errorStyle.Render("✗ "+err.Error()))
	if hint := kind.Hint(); hint != "" {
		fmt.Fprintln(w, hintStyle.Render("  "+hint))
	}
}
