package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/meridian-analytics/georate/internal/store"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the boundary and estimate caches",
}

var cacheStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cache entry counts and sizes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, err := st.Status(ctx)
		if err != nil {
			return err
		}
		printCacheStatus(status)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all cached boundaries and estimates",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		removed, err := st.ClearCache(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "removed %d cache entries\n", removed)
		return nil
	},
}

func printCacheStatus(status *store.CacheStatus) {
	fmt.Fprintf(os.Stdout, "boundary cache: %d entries, %d bytes\n",
		status.BoundaryEntries, status.BoundaryBytes)
	fmt.Fprintf(os.Stdout, "estimate cache: %d entries, %d bytes\n",
		status.EstimateEntries, status.EstimateBytes)
}

func init() {
	cacheCmd.AddCommand(cacheStatusCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
