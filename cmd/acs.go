package main

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/meridian-analytics/georate/internal/fips"
	"github.com/meridian-analytics/georate/pkg/acs"
)

var acsCmd = &cobra.Command{
	Use:   "acs",
	Short: "Query ACS denominator estimates",
}

var acsFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch per-tract estimates for one ACS variable",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		state, _ := cmd.Flags().GetString("state")
		stateFIPS, err := fips.State(state)
		if err != nil {
			return err
		}
		counties, _ := cmd.Flags().GetStringSlice("county")
		for i, c := range counties {
			counties[i] = fips.NormalizeCounty(c)
		}
		year, _ := cmd.Flags().GetInt("year")
		if year == 0 {
			year = cfg.Census.Year
		}
		variable, _ := cmd.Flags().GetString("variable")
		if variable == "" {
			variable = cfg.Census.Variable
		}
		refresh, _ := cmd.Flags().GetBool("refresh")

		client := acs.NewCachedClient(acs.NewClient(
			acs.WithBaseURL(cfg.Census.ACSBaseURL),
			acs.WithAPIKey(cfg.Census.APIKey),
			acs.WithRateLimit(cfg.Census.RateLimitRPS),
		), st)
		client.Refresh = refresh

		estimates, err := client.TractEstimates(ctx, acs.Query{
			Year:       year,
			Dataset:    cfg.Census.Dataset,
			Variable:   variable,
			StateFIPS:  stateFIPS,
			CountyFIPS: counties,
		})
		if err != nil {
			return err
		}

		geoids := make([]string, 0, len(estimates))
		for geoid := range estimates {
			geoids = append(geoids, geoid)
		}
		sort.Strings(geoids)

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "GEOID\t%s\n", variable)
		for _, geoid := range geoids {
			fmt.Fprintf(w, "%s\t%g\n", geoid, estimates[geoid])
		}
		return w.Flush()
	},
}

func init() {
	acsFetchCmd.Flags().String("state", "", "state abbreviation or FIPS code (required)")
	acsFetchCmd.Flags().StringSlice("county", nil, "restrict to these county FIPS codes")
	acsFetchCmd.Flags().Int("year", 0, "ACS release year")
	acsFetchCmd.Flags().String("variable", "", "ACS variable (default from config)")
	acsFetchCmd.Flags().Bool("refresh", false, "refetch even when cached")
	_ = acsFetchCmd.MarkFlagRequired("state")
	acsCmd.AddCommand(acsFetchCmd)
	rootCmd.AddCommand(acsCmd)
}
