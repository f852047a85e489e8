package export

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"

	"github.com/meridian-analytics/georate/internal/aggregate"
	"github.com/meridian-analytics/georate/internal/tracts"
)

// Pool is the subset of pgxpool.Pool the PostGIS export needs. pgxmock
// satisfies it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

var ratesColumns = []string{"geoid", "name", "event_count", "denominator", "rate", "geom"}

// LoadPostGIS creates the rates table if missing, truncates it, and bulk
// loads every row via COPY. Geometry is EWKB with SRID 4326; rows without
// a matching region geometry get a NULL geom so downstream map tools can
// still see them. The table name is sanitized through pgx.Identifier.
// Returns rows loaded.
func LoadPostGIS(ctx context.Context, pool Pool, table string, rows []aggregate.Row, regions *tracts.Set) (int64, error) {
	ident := tableIdent(table)
	quoted := ident.Sanitize()

	createSQL := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	geoid       TEXT PRIMARY KEY,
	name        TEXT,
	event_count INTEGER NOT NULL,
	denominator DOUBLE PRECISION,
	rate        DOUBLE PRECISION,
	geom        geometry(MultiPolygon, 4326)
)`, quoted)
	if _, err := pool.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "export: create table %s", table)
	}

	indexName := strings.ReplaceAll(table, ".", "_") + "_geom_idx"
	indexSQL := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING GIST (geom)",
		pgx.Identifier{indexName}.Sanitize(), quoted)
	if _, err := pool.Exec(ctx, indexSQL); err != nil {
		return 0, eris.Wrapf(err, "export: create gist index on %s", table)
	}

	if _, err := pool.Exec(ctx, "TRUNCATE "+quoted); err != nil {
		return 0, eris.Wrapf(err, "export: truncate %s", table)
	}

	byGEOID := make(map[string]*tracts.Region, len(regions.Regions))
	for i := range regions.Regions {
		byGEOID[regions.Regions[i].GEOID] = &regions.Regions[i]
	}

	copyRows := make([][]any, 0, len(rows))
	for _, row := range rows {
		var name any
		var geomBytes any
		if region, ok := byGEOID[row.Key]; ok {
			name = region.Name
			data, err := ewkb.Marshal(region.Geom, ewkb.NDR)
			if err != nil {
				return 0, eris.Wrapf(err, "export: encode geometry %s", row.Key)
			}
			geomBytes = data
		}

		copyRows = append(copyRows, []any{
			row.Key, name, row.Count, floatOrNil(row.Denominator), floatOrNil(row.Rate), geomBytes,
		})
	}

	n, err := pool.CopyFrom(ctx, ident, ratesColumns, pgx.CopyFromRows(copyRows))
	if err != nil {
		return 0, eris.Wrapf(err, "export: COPY INTO %s", table)
	}

	zap.L().Info("loaded rates into postgis",
		zap.String("component", "export"),
		zap.String("table", table),
		zap.Int64("rows", n),
	)
	return n, nil
}

// tableIdent handles schema-qualified table names like "public.tract_rates".
func tableIdent(table string) pgx.Identifier {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}
	}
	return pgx.Identifier{table}
}

func floatOrNil(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
