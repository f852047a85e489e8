package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/meridian-analytics/georate/internal/export"
)

var pgloadCmd = &cobra.Command{
	Use:   "pgload <events-file>",
	Short: "Run the pipeline and load the result into PostGIS",
	Long: `Runs the full rate pipeline for a point event file and writes the
per-tract result to a PostGIS table, geometry included, replacing any
previous contents.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("pgload"); err != nil {
			return err
		}

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

		pool, err := pgxpool.New(ctx, cfg.PostGIS.DatabaseURL)
		if err != nil {
			return eris.Wrap(err, "connect postgis")
		}
		defer pool.Close()

		table, _ := cmd.Flags().GetString("table")
		if table == "" {
			table = cfg.PostGIS.Table
		}

		loaded, err := export.LoadPostGIS(ctx, pool, table, result.Rows, result.Regions)
		if err != nil {
			return err
		}

		zap.L().Info("postgis load complete",
			zap.String("run_id", result.RunID),
			zap.String("table", table),
			zap.Int64("rows", loaded),
		)
		fmt.Fprintf(os.Stderr, "loaded %d rows into %s\n", loaded, table)
		return nil
	},
}

func init() {
	addPipelineFlags(pgloadCmd)
	pgloadCmd.Flags().String("table", "", "destination table (default from config)")
	rootCmd.AddCommand(pgloadCmd)
}
