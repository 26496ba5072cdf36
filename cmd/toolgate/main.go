// Package main is the entry point for the toolgate CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/toolgate/internal/config"
	"github.com/flemzord/toolgate/internal/core"
	"github.com/flemzord/toolgate/internal/security"
	"github.com/flemzord/toolgate/pkg/app"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	dataDir    string
	logLevel   string
}

func (g *globalFlags) params() (app.RunParams, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(g.logLevel)); err != nil {
		return app.RunParams{}, fmt.Errorf("invalid --log-level: %w", err)
	}
	return app.RunParams{
		ConfigPath: g.configPath,
		Version:    version,
		Commit:     commit,
		Date:       date,
		DataDir:    g.dataDir,
		LogLevel:   level,
	}, nil
}

// runtime builds an in-memory Runtime for one-shot commands. Logs go to
// the command's stderr so stdout carries only results.
func (g *globalFlags) runtime(cmd *cobra.Command) (*app.Runtime, error) {
	params, err := g.params()
	if err != nil {
		return nil, err
	}
	cfg, _, err := app.LoadConfig(params.ConfigPath)
	if err != nil {
		return nil, err
	}
	return app.Build(cmd.Context(), cfg, app.Options{
		Version:   version,
		DataDir:   params.DataDir,
		LogLevel:  params.LogLevel,
		LogWriter: cmd.ErrOrStderr(),
	})
}

func rootCmd() *cobra.Command {
	return newRootCmd(terminalConfirm)
}

func newRootCmd(confirm confirmFunc) *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "toolgate",
		Short:         "Sandboxed file tools with human approval for LLM agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to configuration file")
	root.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "", "Override the data directory")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "Minimum log level (debug, info, warn, error)")

	root.AddCommand(
		versionCmd(),
		serveCmd(flags),
		configCmd(flags),
		toolsCmd(flags),
		callCmd(flags, confirm),
		mcpCmd(flags),
		serviceCmd(flags),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and compiled modules",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "toolgate %s (commit: %s, built: %s)\n", version, commit, date)
			mods := core.GetModules()
			if len(mods) == 0 {
				fmt.Fprintln(out, "\nNo compiled modules.")
				return
			}
			fmt.Fprintln(out, "\nCompiled modules:")
			for _, mod := range mods {
				fmt.Fprintf(out, "  %s\n", mod.ID)
			}
		},
	}
}

func serveCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway and background jobs with all configured modules",
		RunE: func(_ *cobra.Command, _ []string) error {
			params, err := flags.params()
			if err != nil {
				return err
			}
			return app.RunService(params)
		},
	}
}

func configCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <path>",
		Short: "Validate configuration and provision its modules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := flags.params()
			if err != nil {
				return err
			}
			cfg, _, err := app.LoadConfig(args[0])
			if err != nil {
				return err
			}
			rt, err := app.Build(cmd.Context(), cfg, app.Options{
				Version:     version,
				DataDir:     params.DataDir,
				LogLevel:    slog.LevelWarn,
				LogWriter:   cmd.ErrOrStderr(),
				WithModules: true,
			})
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(cmd.Context()))
			defer rt.App.Unload()

			ids := config.Resolve(cfg)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration OK (%d roots, %d tools, %d modules)\n",
				len(rt.Sandbox.Roots()), rt.Registry.Len(), len(ids))
			for _, id := range ids {
				fmt.Fprintf(out, "  %s\n", id)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show [path]",
		Short: "Print the configuration with environment expanded and secrets redacted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := flags.configPath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				resolved, err := app.ResolveConfigPath()
				if err != nil {
					return err
				}
				path = resolved
			}
			out, err := redactedConfig(path)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})
	return cmd
}

// redactedConfig renders the expanded file with secret-looking values
// replaced.
func redactedConfig(path string) ([]byte, error) {
	doc, err := config.LoadRaw(path)
	if err != nil {
		return nil, err
	}
	security.NewRedactor().RedactMap(doc)
	return yaml.Marshal(doc)
}

func serviceCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:       "service <action>",
		Short:     "Install or control toolgate as an OS service",
		Long:      fmt.Sprintf("Send an action to the host service manager. Actions: %v.", app.ServiceActions),
		Args:      cobra.ExactArgs(1),
		ValidArgs: app.ServiceActions,
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := flags.params()
			if err != nil {
				return err
			}
			if err := app.ControlService(params, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "service %s: ok\n", args[0])
			return nil
		},
	}
}
