package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/meridian-analytics/georate/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the latest rates artifact and run history over HTTP",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		artifact, _ := cmd.Flags().GetString("artifact")
		srv := server.New(st, artifact)
		return srv.ListenAndServe(ctx, cfg.Server.Addr)
	},
}

func init() {
	serveCmd.Flags().String("artifact", "rates.geojson", "GeoJSON rates file to serve at /api/rates")
	rootCmd.AddCommand(serveCmd)
}
