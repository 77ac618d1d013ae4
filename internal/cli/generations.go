package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	netfirstcache "github.com/dgduncan/go-netfirst-cache"
)

func newActivateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "activate",
		Short: "Delete every generation except the current one",
		Long: `activate runs the garbage collection step of generation activation
against the configured store and prints the name of each deleted generation.
It fails if the store cannot be listed or any generation cannot be deleted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if err := requireGeneration(cfg); err != nil {
				return err
			}
			if err := cfg.ValidateStore(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ctx := cmd.Context()
			store, closeStore, err := openStore(ctx, cfg.Store)
			if err != nil {
				return err
			}
			defer closeStore()

			g := netfirstcache.NewGenerations(store, cfg.Generation, newLogger(cfg))
			deleted, err := g.Prune(ctx)
			for _, name := range deleted {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			if err != nil {
				return fmt.Errorf("%w: %w", netfirstcache.ErrActivation, err)
			}

			return nil
		},
	}
}

func newGenerationsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "generations",
		Short: "List the generations held by the store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if err := cfg.ValidateStore(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ctx := cmd.Context()
			store, closeStore, err := openStore(ctx, cfg.Store)
			if err != nil {
				return err
			}
			defer closeStore()

			names, err := store.Keys(ctx)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}

			return nil
		},
	}
}
