package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.szostok.io/version/extension"

	"github.com/mumoshu/mtenv/build"
	"github.com/mumoshu/mtenv/config"
	"github.com/mumoshu/mtenv/envvar"
)

type globalOptions struct {
	ConfigPath string
	LogLevel   string
}

func Main() error {
	return NewRootCmd().ExecuteContext(newSignalContext())
}

func NewRootCmd() *cobra.Command {
	var o globalOptions

	rootCmd := &cobra.Command{
		Use:           "mtenv",
		Short:         "Disposable moodle test environments for plugin development",
		Version:       build.Version(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&o.ConfigPath, "config", envOr(envvar.Config, config.ConfigFileName), "Path to the config file.")
	rootCmd.PersistentFlags().StringVar(&o.LogLevel, "log-level", envOr(envvar.LogLevel, "info"), "The log level to use. Valid values are \"debug\", \"info\", \"warn\" and \"error\".")

	rootCmd.AddCommand(NewCmdInit(&o))
	rootCmd.AddCommand(NewCmdList(&o))
	rootCmd.AddCommand(NewCmdSetup(&o))
	rootCmd.AddCommand(NewCmdBuild(&o))
	rootCmd.AddCommand(NewCmdTeardown(&o))
	for _, c := range NewCmdsLifecycle(&o) {
		rootCmd.AddCommand(c)
	}
	rootCmd.AddCommand(extension.NewVersionCobraCmd())

	return rootCmd
}

func newSignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)

	go func() {
		<-c
		cancel()
	}()

	return ctx
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}
