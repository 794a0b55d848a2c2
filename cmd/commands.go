package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/mumoshu/mtenv/compat"
	"github.com/mumoshu/mtenv/lifecycle"
	"github.com/mumoshu/mtenv/source"
	"github.com/mumoshu/mtenv/state"
)

const DefaultPlugin = "theme_boost_union"

func NewCmdInit(o *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the testbed",
		Long:  "creates the working directory, clones moodle-docker into it and writes the reverse proxy config when running in proxied mode.",
		Args:  cobra.NoArgs,
		RunE: runE(o, func(ctx context.Context, a *app, _ []string) error {
			if err := a.initializer.Init(ctx); err != nil {
				return err
			}

			return a.refreshOverview(ctx)
		}),
	}

	return cmd
}

func NewCmdList(o *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List infrastructures",
		Long:  "prints every infrastructure with its plugin, git reference and moodle instances.",
		Args:  cobra.NoArgs,
		RunE: runE(o, func(ctx context.Context, a *app, _ []string) error {
			if err := a.requireTestbed(); err != nil {
				return err
			}

			st, err := a.store.Load(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintln(a.out, listTable(st))

			return nil
		}),
	}

	return cmd
}

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)

var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func listTable(st state.State) string {
	names := make([]string, 0, len(st))
	for name := range st {
		names = append(names, name)
	}
	sort.Strings(names)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("NAME", "PLUGIN", "GIT REF", "VERSION", "STATUS", "URL").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	for _, name := range names {
		infra := st[name]

		if len(infra.Moodles) == 0 {
			t.Row(name, infra.Plugin, infra.GitRef.String(), "-", "-", "-")
			continue
		}

		versions := make([]string, 0, len(infra.Moodles))
		for v := range infra.Moodles {
			versions = append(versions, v)
		}
		compat.SortVersions(versions)

		for _, v := range versions {
			m := infra.Moodles[v]
			t.Row(name, infra.Plugin, infra.GitRef.String(), v, string(m.Status), m.URL)
		}
	}

	return t.String()
}

func NewCmdSetup(o *globalOptions) *cobra.Command {
	var plugin string

	cmd := &cobra.Command{
		Use:   "setup <name> <git_ref_type> <git_ref_value>",
		Short: "Set up an infrastructure",
		Long:  "creates a new infrastructure and checks the plugin out at the given git reference. Reference types are branch, commit, pr and tag.",
		Args:  cobra.ExactArgs(3),
		RunE: runE(o, func(ctx context.Context, a *app, args []string) error {
			if err := a.requireTestbed(); err != nil {
				return err
			}

			ref, err := source.ParseReference(args[1], args[2])
			if err != nil {
				return err
			}

			if err := a.engine.Setup(ctx, args[0], plugin, ref); err != nil {
				return err
			}

			return a.refreshOverview(ctx)
		}),
	}
	cmd.Flags().StringVar(&plugin, "plugin", DefaultPlugin, "The identifier of the plugin to check out, e.g. theme_boost_union.")

	return cmd
}

func NewCmdBuild(o *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build <name> <version...>",
		Short: "Build moodle test environments",
		Long:  "provisions one moodle test environment per version for the infrastructure. Versions that are already built are skipped.",
		Args:  cobra.MinimumNArgs(1),
		RunE: runE(o, func(ctx context.Context, a *app, args []string) error {
			if err := a.requireTestbed(); err != nil {
				return err
			}

			built, buildErr := a.engine.Build(ctx, args[0], args[1:]...)

			versions := make([]string, 0, len(built))
			for v := range built {
				versions = append(versions, v)
			}
			compat.SortVersions(versions)

			for _, v := range versions {
				fmt.Fprintf(a.out, "%s\t%s\n", v, built[v].URL)
			}

			if len(built) > 0 || buildErr == nil {
				if err := a.refreshOverview(ctx); err != nil {
					if buildErr != nil {
						a.log.Warn(err)
						return buildErr
					}
					return err
				}
			}

			return buildErr
		}),
	}

	return cmd
}

func NewCmdTeardown(o *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "teardown <name>",
		Short: "Tear an infrastructure down",
		Long:  "destroys every moodle test environment of the infrastructure and deletes its directory and record.",
		Args:  cobra.ExactArgs(1),
		RunE: runE(o, func(ctx context.Context, a *app, args []string) error {
			if err := a.requireTestbed(); err != nil {
				return err
			}

			if err := a.engine.Teardown(ctx, args[0]); err != nil {
				return err
			}

			return a.refreshOverview(ctx)
		}),
	}

	return cmd
}

var actionDescriptions = map[lifecycle.Action]string{
	lifecycle.Start:   "starts the containers of the moodle test environments, installing moodle on first start.",
	lifecycle.Stop:    "stops the containers of the moodle test environments.",
	lifecycle.Restart: "restarts the containers of the moodle test environments.",
	lifecycle.Destroy: "removes the containers and the directories of the moodle test environments.",
}

// NewCmdsLifecycle returns one command per container action. Without versions
// an action applies to every version built for the infrastructure.
func NewCmdsLifecycle(o *globalOptions) []*cobra.Command {
	var cmds []*cobra.Command

	for _, action := range lifecycle.Actions {
		action := action

		cmds = append(cmds, &cobra.Command{
			Use:   fmt.Sprintf("%s <name> [version...]", action),
			Short: fmt.Sprintf("Run %s on moodle test environments", action),
			Long:  actionDescriptions[action],
			Args:  cobra.MinimumNArgs(1),
			RunE: runE(o, func(ctx context.Context, a *app, args []string) error {
				if err := a.requireTestbed(); err != nil {
					return err
				}

				// Versions before a failing one have changed status already.
				actionErr := a.coordinator.PerformAction(ctx, args[0], action, args[1:]...)

				if err := a.refreshOverview(ctx); err != nil {
					if actionErr != nil {
						a.log.Warn(err)
						return actionErr
					}
					return err
				}

				return actionErr
			}),
		})
	}

	return cmds
}
