// X1-Engine: substate transaction engine with system-loan fee accounting.
//
// The x1-engine command runs the engine node and inspects its ledger,
// receipt archive and fee configuration.
package main

import (
	"fmt"
	"os"

	"github.com/fortiblox/X1-Engine/internal/logging"
	"github.com/fortiblox/X1-Engine/pkg/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

// app holds the state shared by all commands, set up before each run.
type app struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *zap.Logger
}

func (a *app) setup(*cobra.Command, []string) error {
	cfg := config.Default()
	if a.configPath != "" {
		var err error
		if cfg, err = config.Load(a.configPath); err != nil {
			return err
		}
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	a.cfg, a.logger = cfg, logger
	return nil
}

func rootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:               "x1-engine",
		Short:             "Substate transaction engine",
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Path to the TOML configuration file")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level override: debug, info, warn, error")

	root.AddCommand(
		versionCommand(),
		configCommand(a),
		runCommand(a),
		feeTableCommand(a),
		substateCommand(a),
		receiptCommand(a),
		receiptsCommand(a),
		snapshotCommand(a),
	)
	return root
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(c *cobra.Command, _ []string) {
			fmt.Fprintf(c.OutOrStdout(), "X1-Engine %s (%s)\n", Version, GitCommit)
		},
	}
}

func configCommand(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write the effective configuration to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			}
			if err := config.Write(path, a.cfg); err != nil {
				return err
			}
			fmt.Fprintf(c.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	c.AddCommand(initCmd)
	return c
}

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
