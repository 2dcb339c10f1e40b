// Package percentile ranks per-asset footprint statistics against each
// service's global percentile boundaries.
package percentile

import (
	"sort"

	"github.com/sells-group/footprint-impact/internal/model"
)

// Check verifies that every service carries 101 non-decreasing boundaries.
func Check(catalog *model.ServiceCatalog) error {
	for _, e := range catalog.Entries {
		if len(e.Percentiles) != model.PercentileCount {
			return model.NewConfigurationError(catalog.Path, "service %q has %d percentile boundaries, want %d",
				e.ID, len(e.Percentiles), model.PercentileCount)
		}
		for p := 1; p < len(e.Percentiles); p++ {
			if e.Percentiles[p] < e.Percentiles[p-1] {
				return model.NewConfigurationError(catalog.Path, "service %q percentile %d (%v) is below percentile %d (%v)",
					e.ID, p, e.Percentiles[p], p-1, e.Percentiles[p-1])
			}
		}
	}
	return nil
}

// Rank returns the number of boundaries strictly below v, capped at 100.
func Rank(boundaries []float64, v float64) int {
	return min(sort.SearchFloat64s(boundaries, v), model.PercentileCount-1)
}

// Bin returns a copy of t with each asset's mean and max ranked against every
// service's boundaries. Assets without valid overlap rank NoOverlapRank.
func Bin(t *model.AssetTable, catalog *model.ServiceCatalog) (*model.AssetTable, error) {
	if err := Check(catalog); err != nil {
		return nil, err
	}
	out := t.Clone()
	for i := range out.Assets {
		a := &out.Assets[i]
		a.Percentile = make(map[string]model.PercentileRank, len(catalog.Entries))
		for _, e := range catalog.Entries {
			s, ok := a.Footprint[e.ID]
			if !ok || !s.Valid() || !s.Mean.Valid || !s.Max.Valid {
				a.Percentile[e.ID] = model.PercentileRank{Mean: model.NoOverlapRank, Max: model.NoOverlapRank}
				continue
			}
			a.Percentile[e.ID] = model.PercentileRank{
				Mean: Rank(e.Percentiles, s.Mean.Value),
				Max:  Rank(e.Percentiles, s.Max.Value),
			}
		}
	}
	return out, nil
}
