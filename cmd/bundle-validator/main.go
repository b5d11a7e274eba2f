// Package main implements the bundle-validator CLI tool.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gofhir/bundlevalidator"
	"github.com/gofhir/bundlevalidator/pkg/config"
	"github.com/gofhir/bundlevalidator/pkg/logger"
)

// errInvalid signals that at least one input failed validation. It maps to
// exit code 1 without printing an extra error line.
var errInvalid = errors.New("validation failed")

type rootOptions struct {
	configPath string
	logLevel   string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		if !errors.Is(err, errInvalid) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "bundle-validator",
		Short: "Validate FHIR Bundles against structural grammar, the R4 model and project rules",
		Long: `bundle-validator checks a FHIR Bundle in several stages (document grammar,
R4 model, project rule sets, terminology and reference resolution) and reports
every finding with a navigable location in the input.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "configuration file (bundle-validator.yaml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error, none")

	cmd.AddCommand(
		newValidateCommand(opts),
		newRulesCommand(opts),
		newVersionCommand(),
	)
	return cmd
}

// loadConfig resolves the configuration file, environment and the
// persistent flags, and configures the default logger.
func (o *rootOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadWithEnvOverrides(o.configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = o.logLevel
	}
	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	logger.SetOutput(cmd.ErrOrStderr())
	logger.SetLevel(level)
	return cfg, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "bundle-validator v%s (FHIR %s)\n", bundlevalidator.Version, bundlevalidator.FHIRVersion)
		},
	}
}
