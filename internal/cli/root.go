// Package cli implements the netfirst command line.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dgduncan/go-netfirst-cache/internal/config"
	"github.com/dgduncan/go-netfirst-cache/internal/logging"
)

type options struct {
	cfgFile string

	origin      string
	generation  string
	port        int
	storeDriver string
	storeDSN    string
	logLevel    string
}

// NewRootCmd returns the netfirst command with all of its subcommands.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "netfirst",
		Short: "A network-first HTTP response cache.",
		Long: `netfirst sits in front of an origin and answers every request from the
network first, keeping a snapshot of each response in the current cache
generation. When the origin cannot be reached the last snapshot is served.

Activating a generation deletes every other generation from the store.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file path (e.g., /etc/netfirst/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&opts.generation, "generation", "", "name of the current cache generation")
	rootCmd.PersistentFlags().StringVar(&opts.storeDriver, "store-driver", "", "snapshot store: memory, sqlite, postgres or dynamodb")
	rootCmd.PersistentFlags().StringVar(&opts.storeDSN, "store-dsn", "", "sqlite file or postgres connection string")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newActivateCmd(opts),
		newGenerationsCmd(opts),
	)

	return rootCmd
}

// Execute runs the root command. This is called by main.main().
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file, if any, then applies flags that were set.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg := config.Default()
	if opts.cfgFile != "" {
		loaded, err := config.Load(opts.cfgFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("origin") {
		cfg.Origin = opts.origin
	}
	if flags.Changed("generation") {
		cfg.Generation = opts.generation
	}
	if flags.Changed("port") {
		cfg.Server.Port = opts.port
	}
	if flags.Changed("store-driver") {
		if opts.storeDriver != cfg.Store.Driver && !flags.Changed("store-dsn") {
			// a dsn from the file belongs to the file's driver
			cfg.Store.DSN = ""
			if opts.storeDriver == config.DriverSQLite {
				cfg.Store.DSN = config.DefaultSQLiteDSN
			}
		}
		cfg.Store.Driver = opts.storeDriver
	}
	if flags.Changed("store-dsn") {
		cfg.Store.DSN = opts.storeDSN
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}

	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	return logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
}

func requireGeneration(cfg *config.Config) error {
	if cfg.Generation == "" {
		return fmt.Errorf("generation is required")
	}
	return nil
}
