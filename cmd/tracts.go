package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-analytics/georate/internal/fips"
	"github.com/meridian-analytics/georate/internal/tracts"
)

var tractsCmd = &cobra.Command{
	Use:   "tracts",
	Short: "Manage cached tract boundaries",
}

// -- tracts fetch --

var tractsFetchCmd = &cobra.Command{
	Use:   "fetch <state>...",
	Short: "Prefetch tract boundaries into the cache",
	Long: `Downloads TIGER/Line tract shapefiles for the given states (USPS
abbreviations or FIPS codes) and warms the boundary cache so later runs
stay off the network. "all" fetches every state.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		refresh, _ := cmd.Flags().GetBool("refresh")
		year, _ := cmd.Flags().GetInt("year")
		if year == 0 {
			year = cfg.Census.Year
		}
		concurrency, _ := cmd.Flags().GetInt("concurrency")

		var states []string
		if len(args) == 1 && args[0] == "all" {
			states = fips.AllStates()
		} else {
			for _, arg := range args {
				code, err := fips.State(arg)
				if err != nil {
					return err
				}
				states = append(states, code)
			}
		}

		src := newTractSource(st, refresh)
		log := zap.L().With(zap.String("command", "tracts fetch"), zap.Int("year", year))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(concurrency)
		for _, state := range states {
			g.Go(func() error {
				set, err := src.Tracts(gctx, tracts.Query{Year: year, StateFIPS: state})
				if err != nil {
					return err
				}
				abbr, _ := fips.Abbr(state)
				log.Info("boundaries cached",
					zap.String("state", abbr),
					zap.Int("tracts", len(set.Regions)),
				)
				return nil
			})
		}
		return g.Wait()
	},
}

// -- tracts status --

var tractsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show boundary cache status",
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

		fmt.Fprintf(os.Stdout, "boundary cache: %d entries, %d bytes\n",
			status.BoundaryEntries, status.BoundaryBytes)
		return nil
	},
}

func init() {
	tractsFetchCmd.Flags().Int("year", 0, "TIGER vintage")
	tractsFetchCmd.Flags().Bool("refresh", false, "refetch even when cached")
	tractsFetchCmd.Flags().Int("concurrency", 2, "parallel state fetches")
	tractsCmd.AddCommand(tractsFetchCmd)
	tractsCmd.AddCommand(tractsStatusCmd)
	rootCmd.AddCommand(tractsCmd)
}
