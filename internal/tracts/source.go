package tracts

import (
	"context"

	"go.uber.org/zap"
)

// TIGERSource fetches tract boundaries from the Census Bureau TIGER/Line
// distribution: download the per-state ZIP, extract, parse the shapefile.
type TIGERSource struct {
	dl *Downloader
}

// NewTIGERSource creates a Source backed by a Downloader.
func NewTIGERSource(dl *Downloader) *TIGERSource {
	return &TIGERSource{dl: dl}
}

// Tracts implements Source.
func (s *TIGERSource) Tracts(ctx context.Context, q Query) (*Set, error) {
	shpPath, err := s.dl.Fetch(ctx, q)
	if err != nil {
		return nil, err
	}

	set, err := ParseShapefile(shpPath, q.CountyFIPS)
	if err != nil {
		return nil, err
	}

	zap.L().Info("loaded tract boundaries",
		zap.String("component", "tracts"),
		zap.Int("year", q.Year),
		zap.String("state", q.StateFIPS),
		zap.Strings("counties", q.CountyFIPS),
		zap.Int("regions", len(set.Regions)),
	)
	return set, nil
}
