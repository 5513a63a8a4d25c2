/*
main.go - Application entry point

PURPOSE:
  The clockd command. Subcommands:

    serve           Run the HTTP API with graceful shutdown
    seed            Import a YAML catalog into the sqlite database
    token           Issue a development JWT for an employee
    example-config  Print a configuration template

CONFIGURATION:
  --config points at a YAML file; otherwise ./clockd.yaml is used when
  present. A .env file and CLOCKD_* environment variables override it,
  e.g. CLOCKD_SERVER_PORT=9090, CLOCKD_AUTH_JWT_SECRET=...

EXAMPLES:
  # Run against a local sqlite file, seeding the catalog first
  clockd seed --file ./catalog.yaml
  clockd serve

  # Everything in memory, catalog served from the seed file
  CLOCKD_DATABASE_DRIVER=memory CLOCKD_CATALOG_SEED_FILE=./catalog.yaml clockd serve

  # Token for a reviewer with the admin role
  clockd token --employee mgr-1 --role admin

SEE ALSO:
  - wire.go: Store, catalog and service construction
  - config/config.go: Settings
*/
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/warp/clockd/config"
	"go.uber.org/zap"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "clockd",
	Short: "Time-entry and leave workflow service",
	Long: `clockd records worked hours and leave per employee and moves them through
the DRAFT -> SUBMITTED -> APPROVED/REJECTED review workflow.`,
	SilenceUsage: true,
}

var exampleConfigCmd = &cobra.Command{
	Use:   "example-config",
	Short: "Print a configuration template",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprint(cmd.OutOrStdout(), config.ExampleYAML())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./clockd.yaml)")
	rootCmd.AddCommand(serveCmd, seedCmd, tokenCmd, exampleConfigCmd)
}

func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// newLogger builds the process logger and installs it as zap's global.
func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zcfg.Level = level
	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
