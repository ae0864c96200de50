// Package main is the entry point for the ingestd CLI.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/flemzord/ingestd/internal/core"
	"github.com/flemzord/ingestd/pkg/app"
	"github.com/spf13/cobra"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ingestd:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ingestd",
		Short:         "Ordered, retried and traced episode ingestion for knowledge graphs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to configuration file")
	root.PersistentFlags().String("data-dir", "", "Persistent data directory")
	root.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	root.AddCommand(versionCmd(), startCmd(), mcpCmd(), configCmd(), initCmd(), serviceCmd())
	return root
}

// runParams reads the persistent flags shared by every command that boots
// the application.
func runParams(cmd *cobra.Command) (app.RunParams, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	levelName, _ := cmd.Flags().GetString("log-level")

	var level slog.Level
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		return app.RunParams{}, fmt.Errorf("invalid --log-level %q", levelName)
	}
	return app.RunParams{
		ConfigPath: cfgPath,
		DataDir:    dataDir,
		LogLevel:   level,
		Version:    version,
		Commit:     commit,
		Date:       date,
	}, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and compiled modules",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ingestd %s (commit: %s, built: %s)\n", version, commit, date)
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

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start ingestd with all configured modules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			params, err := runParams(cmd)
			if err != nil {
				return err
			}
			return app.Run(params)
		},
	}
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the MCP tools on stdio (no HTTP gateway)",
		Long: `Serve the MCP tools on stdin/stdout for editor and agent integrations.
Logs go to stderr. Any gateway.* module in the configuration is ignored.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			params, err := runParams(cmd)
			if err != nil {
				return err
			}
			params.MCPOnly = true
			return app.Run(params)
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check [path]",
		Short: "Validate configuration and provision every module",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := runParams(cmd)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				params.ConfigPath = args[0]
			}
			params.LogLevel = slog.LevelWarn

			inst, err := app.Build(params)
			if err != nil {
				return err
			}
			defer inst.App.Abort()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration OK (%d modules)\n", len(inst.Modules))
			for _, id := range inst.Modules {
				fmt.Fprintf(out, "  %s\n", id)
			}
			return nil
		},
	})
	return cmd
}
