package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/meridian-analytics/georate/internal/crs"
	"github.com/meridian-analytics/georate/internal/fips"
	"github.com/meridian-analytics/georate/internal/pipeline"
	"github.com/meridian-analytics/georate/internal/spatial"
	"github.com/meridian-analytics/georate/internal/store"
	"github.com/meridian-analytics/georate/internal/tracts"
	"github.com/meridian-analytics/georate/pkg/acs"
)

// pipelineEnv holds the initialized store, sources, and pipeline shared by
// the run/pgload commands.
type pipelineEnv struct {
	Store    *store.Store
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initStore opens the SQLite store and runs migrations.
func initStore(ctx context.Context) (*store.Store, error) {
	st, err := store.New(cfg.StorePath())
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// initPipeline builds the cached TIGER source, the cached ACS client, and
// the pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context, refresh bool) (*pipelineEnv, error) {
	if err := cfg.Validate("run"); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	src := newTractSource(st, refresh)

	acsClient := acs.NewClient(
		acs.WithBaseURL(cfg.Census.ACSBaseURL),
		acs.WithAPIKey(cfg.Census.APIKey),
		acs.WithRateLimit(cfg.Census.RateLimitRPS),
	)
	cachedACS := acs.NewCachedClient(acsClient, st)
	cachedACS.Refresh = refresh

	return &pipelineEnv{
		Store: st,
		Pipeline: &pipeline.Pipeline{
			Tracts: src,
			ACS:    cachedACS,
			Store:  st,
		},
	}, nil
}

// newTractSource builds the TIGER downloader wrapped in the boundary cache.
func newTractSource(st *store.Store, refresh bool) tracts.Source {
	dlOpts := []tracts.DownloaderOption{
		tracts.WithHTTPClient(&http.Client{Timeout: 10 * time.Minute}),
		tracts.WithRateLimit(cfg.Census.RateLimitRPS),
	}
	if cfg.Census.UseFTP {
		dlOpts = append(dlOpts, tracts.WithFTP())
	}
	dl := tracts.NewDownloader(cfg.Data.Dir, dlOpts...)

	cached := tracts.NewCachedSource(tracts.NewTIGERSource(dl), st)
	cached.Refresh = refresh
	return cached
}

// buildParams assembles pipeline parameters from config defaults and the
// run/pgload flag set.
func buildParams(cmd *cobra.Command, input string) (pipeline.Params, error) {
	var p pipeline.Params
	p.InputPath = input

	inputCRSStr, _ := cmd.Flags().GetString("input-crs")
	if inputCRSStr == "" {
		inputCRSStr = cfg.Pipeline.InputCRS
	}
	inputCRS, err := crs.Parse(inputCRSStr)
	if err != nil {
		return p, eris.Wrap(err, "parse --input-crs")
	}
	p.InputCRS = inputCRS

	targetCRSStr, _ := cmd.Flags().GetString("target-crs")
	if targetCRSStr == "" {
		targetCRSStr = cfg.Pipeline.TargetCRS
	}
	targetCRS, err := crs.Parse(targetCRSStr)
	if err != nil {
		return p, eris.Wrap(err, "parse --target-crs")
	}
	p.TargetCRS = targetCRS

	p.XColumn, _ = cmd.Flags().GetString("x-column")
	if p.XColumn == "" {
		p.XColumn = cfg.Pipeline.XColumn
	}
	p.YColumn, _ = cmd.Flags().GetString("y-column")
	if p.YColumn == "" {
		p.YColumn = cfg.Pipeline.YColumn
	}
	p.Sheet, _ = cmd.Flags().GetString("sheet")

	state, _ := cmd.Flags().GetString("state")
	if state == "" {
		return p, eris.New("--state is required")
	}
	stateFIPS, err := fips.State(state)
	if err != nil {
		return p, err
	}

	counties, _ := cmd.Flags().GetStringSlice("county")
	for i, c := range counties {
		counties[i] = fips.NormalizeCounty(c)
	}

	year, _ := cmd.Flags().GetInt("year")
	if year == 0 {
		year = cfg.Census.Year
	}

	p.Boundary = tracts.Query{Year: year, StateFIPS: stateFIPS, CountyFIPS: counties}

	dataset, _ := cmd.Flags().GetString("dataset")
	if dataset == "" {
		dataset = cfg.Census.Dataset
	}
	variable, _ := cmd.Flags().GetString("variable")
	if variable == "" {
		variable = cfg.Census.Variable
	}
	p.Denominator = acs.Query{
		Year:       year,
		Dataset:    dataset,
		Variable:   variable,
		StateFIPS:  stateFIPS,
		CountyFIPS: counties,
	}

	p.Scale, _ = cmd.Flags().GetFloat64("scale")
	if p.Scale == 0 {
		p.Scale = cfg.Pipeline.Scale
	}
	p.KeepUnassigned, _ = cmd.Flags().GetBool("keep-unassigned")

	strict, _ := cmd.Flags().GetBool("strict")
	workers, _ := cmd.Flags().GetInt("workers")
	if workers == 0 {
		workers = cfg.Pipeline.Workers
	}
	p.Join = spatial.Options{UseIndex: true, Workers: workers, Strict: strict}

	return p, nil
}

// addPipelineFlags registers the shared run/pgload flag set on cmd.
func addPipelineFlags(cmd *cobra.Command) {
	cmd.Flags().String("x-column", "", "event file column holding the X (longitude) coordinate")
	cmd.Flags().String("y-column", "", "event file column holding the Y (latitude) coordinate")
	cmd.Flags().String("input-crs", "", "reference system of the input coordinates (e.g. EPSG:4326)")
	cmd.Flags().String("target-crs", "", "reference system the join runs in")
	cmd.Flags().String("sheet", "", "XLSX sheet name (XLSX input only)")
	cmd.Flags().String("state", "", "state abbreviation or FIPS code (required)")
	cmd.Flags().StringSlice("county", nil, "restrict to these county FIPS codes")
	cmd.Flags().Int("year", 0, "TIGER vintage and ACS release year")
	cmd.Flags().String("dataset", "", "ACS dataset path (default acs/acs5)")
	cmd.Flags().String("variable", "", "ACS denominator variable (default B01003_001E)")
	cmd.Flags().Float64("scale", 0, "rate multiplier (default 1000, per-thousand)")
	cmd.Flags().Bool("keep-unassigned", false, "retain points outside every tract under an 'unassigned' row")
	cmd.Flags().Bool("strict", false, "fail when a point falls in more than one tract")
	cmd.Flags().Int("workers", 0, "parallel join workers (0 = serial)")
	cmd.Flags().Bool("refresh", false, "bypass caches and refetch boundaries and estimates")
}
