package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/meridian-analytics/georate/internal/export"
	"github.com/meridian-analytics/georate/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run <events-file>",
	Short: "Compute per-tract rates for a point event file",
	Long: `Loads a CSV or XLSX file of point events, joins each point against
census tract boundaries for the given state, divides the per-tract counts
by an ACS denominator, and writes the result as GeoJSON or CSV.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		refresh, _ := cmd.Flags().GetBool("refresh")
		env, err := initPipeline(ctx, refresh)
		if err != nil {
			return err
		}
		defer env.Close()

		params, err := buildParams(cmd, args[0])
		if err != nil {
			return err
		}

		result, err := env.Pipeline.Run(ctx, params)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		outPath, _ := cmd.Flags().GetString("out")
		if err := writeResult(result, format, outPath); err != nil {
			return err
		}

		s := result.Summary
		zap.L().Info("run complete",
			zap.String("run_id", result.RunID),
			zap.Int("events", s.Events),
			zap.Int("matched", s.Events-s.Unassigned),
			zap.Int("unassigned", s.Unassigned),
			zap.Int("regions", s.Regions),
		)
		fmt.Fprintf(os.Stderr, "%d events, %d matched, %d unassigned across %d tracts\n",
			s.Events, s.Events-s.Unassigned, s.Unassigned, s.Regions)
		return nil
	},
}

// writeResult renders rows in the requested format to outPath, or stdout
// when outPath is empty.
func writeResult(result *pipeline.Result, format, outPath string) error {
	out := os.Stdout
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return eris.Wrap(err, "create output file")
		}
		defer f.Close() //nolint:errcheck
		out = f
	}

	switch format {
	case "geojson":
		return export.WriteGeoJSON(out, result.Rows, result.Regions)
	case "csv":
		return export.WriteCSV(out, result.Rows, result.Regions)
	default:
		return eris.Errorf("unknown format %q (want geojson or csv)", format)
	}
}

func init() {
	addPipelineFlags(runCmd)
	runCmd.Flags().String("format", "geojson", "output format: geojson or csv")
	runCmd.Flags().StringP("out", "o", "", "output path (default stdout)")
	rootCmd.AddCommand(runCmd)
}
