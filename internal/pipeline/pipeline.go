// Package pipeline composes the four stages of the event-to-region rate
// calculation: load points, fetch boundaries, fetch denominators, join and
// aggregate. Each stage takes immutable input and returns new output;
// every knob is an explicit parameter, never ambient state.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/meridian-analytics/georate/internal/aggregate"
	"github.com/meridian-analytics/georate/internal/crs"
	"github.com/meridian-analytics/georate/internal/events"
	"github.com/meridian-analytics/georate/internal/spatial"
	"github.com/meridian-analytics/georate/internal/store"
	"github.com/meridian-analytics/georate/internal/tracts"
	"github.com/meridian-analytics/georate/pkg/acs"
)

// Params is the complete, explicit configuration of one run.
type Params struct {
	// InputPath is the event file; .csv and .xlsx are supported.
	InputPath string
	// XColumn and YColumn name the coordinate columns.
	XColumn string
	YColumn string
	// InputCRS is the reference system of the event coordinates.
	InputCRS crs.CRS
	// TargetCRS is the reference system the join runs in.
	TargetCRS crs.CRS
	// Sheet selects the XLSX sheet by name (XLSX input only).
	Sheet string

	// Boundary identifies the tract boundary fetch.
	Boundary tracts.Query
	// Denominator identifies the ACS estimate fetch.
	Denominator acs.Query

	// Scale multiplies the rate (e.g. 1000 for per-thousand).
	Scale float64
	// KeepUnassigned retains points outside every tract under a sentinel key.
	KeepUnassigned bool
	// Join tunes the spatial join.
	Join spatial.Options
}

// Result is the output of one run: aggregate rows plus the region set they
// reference, so every rendering path downstream has both shape and value.
type Result struct {
	RunID   string
	Rows    []aggregate.Row
	Regions *tracts.Set
	Summary aggregate.Summary
}

// Region returns the region geometry for an aggregate row key, or nil.
func (r *Result) Region(key string) *tracts.Region {
	for i := range r.Regions.Regions {
		if r.Regions.Regions[i].GEOID == key {
			return &r.Regions.Regions[i]
		}
	}
	return nil
}

// Pipeline wires the stage collaborators. Store is optional; when set,
// every run is recorded in the run history.
type Pipeline struct {
	Tracts tracts.Source
	ACS    acs.Client
	Store  *store.Store
}

// Run executes the full pipeline. Any stage failure aborts the run: a
// partially joined dataset would silently corrupt the rates. Each external
// source is invoked exactly once.
func (p *Pipeline) Run(ctx context.Context, params Params) (*Result, error) {
	log := zap.L().With(zap.String("component", "pipeline"))

	var runID string
	if p.Store != nil {
		run, err := p.Store.CreateRun(ctx, params.InputPath, paramsRecord(params))
		if err != nil {
			return nil, err
		}
		runID = run.ID
	}

	result, err := p.run(ctx, params, log)
	if p.Store != nil && runID != "" {
		if err != nil {
			if ferr := p.Store.FailRun(ctx, runID, err); ferr != nil {
				log.Warn("recording run failure failed", zap.Error(ferr))
			}
		} else {
			s := result.Summary
			matched := s.Events - s.Unassigned
			if cerr := p.Store.CompleteRun(ctx, runID, s.Events, matched, s.Unassigned, s.Regions); cerr != nil {
				log.Warn("recording run completion failed", zap.Error(cerr))
			}
		}
	}
	if err != nil {
		return nil, err
	}
	result.RunID = runID
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, params Params, log *zap.Logger) (*Result, error) {
	points, err := loadEvents(params)
	if err != nil {
		return nil, err
	}
	log.Info("loaded events",
		zap.String("input", params.InputPath),
		zap.Int("points", len(points.Points)),
	)

	regions, err := p.Tracts.Tracts(ctx, params.Boundary)
	if err != nil {
		return nil, err
	}

	denominators, err := p.ACS.TractEstimates(ctx, params.Denominator)
	if err != nil {
		return nil, err
	}
	log.Info("fetched denominators", zap.Int("tracts", len(denominators)))

	assignments, err := spatial.Join(ctx, points, regions, params.TargetCRS, params.Join)
	if err != nil {
		return nil, err
	}

	rows := aggregate.Rates(assignments, denominators, aggregate.Options{
		Scale:          params.Scale,
		KeepUnassigned: params.KeepUnassigned,
	})
	summary := aggregate.Summarize(rows)
	// Unassigned points may have been dropped from the rows; count them
	// from the assignments so the summary always covers every input point.
	unassigned := 0
	for _, a := range assignments {
		if a.GEOID == "" {
			unassigned++
		}
	}
	summary.Unassigned = unassigned
	summary.Events = len(points.Points)

	log.Info("run complete",
		zap.Int("events", summary.Events),
		zap.Int("matched", summary.Events-summary.Unassigned),
		zap.Int("unassigned", summary.Unassigned),
		zap.Int("regions", summary.Regions),
		zap.Int("regions_missing_denominator", summary.MissingDenom),
	)
	if summary.MissingDenom > 0 {
		log.Warn("regions have events but no denominator; their rates are null",
			zap.Int("count", summary.MissingDenom),
		)
	}

	return &Result{Rows: rows, Regions: regions, Summary: summary}, nil
}

// loadEvents reads the input file, dispatching on extension.
func loadEvents(params Params) (*events.Set, error) {
	opts := events.Options{
		XColumn: params.XColumn,
		YColumn: params.YColumn,
		CRS:     params.InputCRS,
		Sheet:   params.Sheet,
	}

	switch strings.ToLower(filepath.Ext(params.InputPath)) {
	case ".csv":
		f, err := os.Open(params.InputPath)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: open %s", params.InputPath)
		}
		defer f.Close() //nolint:errcheck
		return events.LoadCSV(f, opts)
	case ".xlsx":
		return events.LoadXLSX(params.InputPath, opts)
	default:
		return nil, eris.Errorf("pipeline: unsupported input format %q", filepath.Ext(params.InputPath))
	}
}

// paramsRecord flattens params for the run history record.
func paramsRecord(p Params) map[string]any {
	return map[string]any{
		"x_column":        p.XColumn,
		"y_column":        p.YColumn,
		"input_crs":       p.InputCRS.String(),
		"target_crs":      p.TargetCRS.String(),
		"year":            p.Boundary.Year,
		"state":           p.Boundary.StateFIPS,
		"counties":        strings.Join(p.Boundary.CountyFIPS, ","),
		"dataset":         p.Denominator.Dataset,
		"variable":        p.Denominator.Variable,
		"scale":           p.Scale,
		"keep_unassigned": p.KeepUnassigned,
	}
}
