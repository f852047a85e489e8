package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/meridian-analytics/georate/internal/aggregate"
	"github.com/meridian-analytics/georate/internal/tracts"
)

// WriteCSV writes every aggregate row, geometry or not. Null denominators
// and rates are empty cells.
func WriteCSV(w io.Writer, rows []aggregate.Row, regions *tracts.Set) error {
	names := make(map[string]string, len(regions.Regions))
	for i := range regions.Regions {
		names[regions.Regions[i].GEOID] = regions.Regions[i].Name
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"geoid", "name", "event_count", "denominator", "rate"}); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}

	for _, row := range rows {
		record := []string{
			row.Key,
			names[row.Key],
			strconv.Itoa(row.Count),
			formatFloat(row.Denominator),
			formatFloat(row.Rate),
		}
		if err := cw.Write(record); err != nil {
			return eris.Wrapf(err, "export: write csv row %s", row.Key)
		}
	}

	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
