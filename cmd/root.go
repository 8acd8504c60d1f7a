/*
Copyright © 2025 3 Leaps <info@3leaps.com>
*/
package cmd

import (
	"errors"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/fulmenhq/exportsync/pkg/buildinfo"
	"github.com/fulmenhq/exportsync/pkg/config"
	"github.com/fulmenhq/exportsync/pkg/exitcode"
	"github.com/fulmenhq/exportsync/pkg/logger"
)

// newRootCommand creates a fresh root command instance.
// This factory pattern allows tests to create isolated command trees without shared state.
func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exportsync",
		Short: "Select and sync the site_export.v1 bundle into the site",
		Long: `Exportsync finds site_export.v1 bundles in the research vault (or its zip),
scores and selects one, copies it into the site's data directory, repairs the
copy and records the decision in _meta/source_stamp.json.

Examples:
   exportsync sync --vault-dir ~/vault      # Select and copy a bundle
   exportsync sync --dry-run                # Show the selection only
   exportsync candidates                    # Diagnostic candidate table
   exportsync verify --require-dashboards   # Check the synced bundle
   exportsync contract --format junit       # Referential-integrity scan`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			initializeLogger(cmd)
		},
	}

	// Add global flags
	cmd.PersistentFlags().String("log-level", "info", "Set log level (trace|debug|info|warn|error)")
	cmd.PersistentFlags().Bool("json", false, "Output logs in JSON format")
	cmd.PersistentFlags().Bool("no-color", false, "Disable colored output")
	cmd.PersistentFlags().String("config", "", "Config file (default ./exportsync.yaml)")

	cmd.Version = buildinfo.BinaryVersion
	cmd.SetVersionTemplate("exportsync {{.Version}}\n")

	return cmd
}

// registerSubcommands adds all subcommands to the root command.
func registerSubcommands(cmd *cobra.Command) {
	cmd.AddCommand(newSyncCommand())
	cmd.AddCommand(newCandidatesCommand())
	cmd.AddCommand(newVerifyCommand())
	cmd.AddCommand(newContractCommand())
	cmd.AddCommand(newVersionCommand())
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = newRootCommand()

// Execute runs the root command and returns the error that decides the exit
// code. Errors a command already printed are not logged again.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		var shown *shownError
		if !errors.As(err, &shown) {
			logger.Error("Command execution failed", logger.Err(err))
		}
	}
	return err
}

func init() {
	registerSubcommands(rootCmd)
}

// shownError wraps an error whose message the command already wrote.
type shownError struct {
	err error
}

func (e *shownError) Error() string { return e.err.Error() }
func (e *shownError) Unwrap() error { return e.err }

func shown(err error) error {
	if err == nil {
		return nil
	}
	return &shownError{err: err}
}

// initializeLogger sets up the logger based on command flags
func initializeLogger(cmd *cobra.Command) {
	logLevelStr, _ := cmd.Flags().GetString("log-level")
	jsonLogs, _ := cmd.Flags().GetBool("json")
	noColor, _ := cmd.Flags().GetBool("no-color")

	if noColor {
		color.NoColor = true
	}

	cfg := logger.Config{
		Level:     logger.ParseLevel(logLevelStr),
		UseColor:  !noColor,
		JSON:      jsonLogs,
		Component: "exportsync",
		Output:    cmd.ErrOrStderr(),
	}

	if err := logger.Initialize(cfg); err != nil {
		_, _ = os.Stderr.WriteString("Failed to initialize logger: " + err.Error() + "\n")
		os.Exit(exitcode.ConfigError)
	}
}

// loadConfig layers the config file, environment and the command's flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(config.LoadOptions{ConfigFile: path, Flags: cmd.Flags()})
	if err != nil {
		return nil, exitcode.WithCode(exitcode.ConfigError, err)
	}
	return cfg, nil
}
