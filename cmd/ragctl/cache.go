package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCacheCmd(build buildFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the answer cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := build()
			if err != nil {
				return err
			}
			defer deps.Close()

			stats := deps.Cache.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "Provider:  %s\nEntries:   %d\nHits:      %d\nMisses:    %d\nEvictions: %d\n",
				deps.Config.CacheProvider, stats.Entries, stats.Hits, stats.Misses, stats.Evictions)
			return nil
		},
	}

	var reason string
	flushCmd := &cobra.Command{
		Use:   "flush",
		Short: "Drop every cached answer on all instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := build()
			if err != nil {
				return err
			}
			defer deps.Close()

			if err := deps.Invalidate(cmd.Context(), reason, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All cache entries cleared.")
			return nil
		},
	}
	flushCmd.Flags().StringVar(&reason, "reason", "manual", "reason recorded with the invalidation")

	cmd.AddCommand(statsCmd, flushCmd)
	return cmd
}
