package handlers

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"driftwatch/internal/config"
	"driftwatch/internal/logger"
	"driftwatch/internal/store"
)

// NewCacheCmd creates the ledger management command
func NewCacheCmd() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the ledger of cached embeddings and responses",
		Long: `Inspect and clean the ledger that records every embedding, compressed
payload and model response. Entries older than the horizon are never reused.`,
	}

	cacheCmd.AddCommand(newCacheStatsCmd())
	cacheCmd.AddCommand(newCachePurgeCmd())
	cacheCmd.AddCommand(newCacheClearCmd())

	return cacheCmd
}

func newCacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show ledger statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			l, err := openLedger(ctx, config.Get())
			if err != nil {
				return err
			}
			defer l.Close()

			stats, err := l.Stats(ctx)
			if err != nil {
				return fmt.Errorf("failed to read ledger stats: %w", err)
			}
			return emit(cmd.OutOrStdout(), stats, func() string { return renderStats(stats) })
		},
	}
}

func newCachePurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Remove entries older than the cache horizon",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			l, err := openLedger(ctx, config.Get())
			if err != nil {
				return err
			}
			defer l.Close()

			n, err := l.Purge(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired entries\n", n)
			return nil
		},
	}
}

func newCacheClearCmd() *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every ledger entry",
		Long: `Delete every entry of the SQLite ledger. The next run recomputes and
pays for every embedding and model response again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return errors.New("refusing to clear the ledger without --confirm")
			}
			cfg := config.Get()
			if cfg.Cache.Backend != "" && cfg.Cache.Backend != "sqlite" {
				return fmt.Errorf("clear is only supported for the sqlite backend, not %q", cfg.Cache.Backend)
			}
			s, err := store.NewStore(cfg.Cache.Directory)
			if err != nil {
				return fmt.Errorf("failed to open ledger store: %w", err)
			}
			defer func() {
				if err := s.Close(); err != nil {
					logger.Error("Failed to close ledger store", err)
				}
			}()
			if err := s.ClearCache(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Ledger cleared")
			return nil
		},
	}

	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm deletion of every entry")
	return cmd
}
