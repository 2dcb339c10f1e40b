// Package aggregate rolls per-asset statistics up to groups keyed by an
// asset attribute such as the owning company.
package aggregate

import (
	"slices"
	"strings"

	"github.com/sells-group/footprint-impact/internal/model"
)

// DefaultPercentileCutoff is the rank above which assets are counted as high
// impact.
const DefaultPercentileCutoff = 90

// Options controls grouping.
type Options struct {
	// Attr is the asset attribute to group by.
	Attr string
	// PercentileCutoff applies when assets carry percentile ranks. Zero means
	// DefaultPercentileCutoff.
	PercentileCutoff int
}

func (o Options) cutoff() int {
	if o.PercentileCutoff == 0 {
		return DefaultPercentileCutoff
	}
	return o.PercentileCutoff
}

// Check reports a ConfigurationError when the grouping attribute is missing
// from the table.
func Check(t *model.AssetTable, attr string) error {
	if attr == "" {
		return model.NewConfigurationError("group-by", "no grouping attribute given")
	}
	if !t.HasField(attr) {
		return model.NewConfigurationError(attr, "asset vector has no %q attribute (fields: %s)", attr, strings.Join(t.Fields, ", "))
	}
	return nil
}

// group collects the assets sharing one key, in table order.
type group struct {
	key     string
	members []*model.Asset
}

func groupBy(t *model.AssetTable, attr string) []group {
	index := make(map[string]int)
	var groups []group
	for i := range t.Assets {
		a := &t.Assets[i]
		key, _ := a.Attr(attr)
		j, ok := index[key]
		if !ok {
			j = len(groups)
			index[key] = j
			groups = append(groups, group{key: key})
		}
		groups[j].members = append(groups[j].members, a)
	}
	slices.SortFunc(groups, func(a, b group) int { return strings.Compare(a.key, b.key) })
	return groups
}

// Footprints aggregates footprint statistics. Per service, only members
// with at least one valid pixel contribute; totals cover every member, as
// does the denominator of the percent-mean-above column.
func Footprints(t *model.AssetTable, catalog *model.ServiceCatalog, opts Options) (*model.GroupTable, error) {
	if err := Check(t, opts.Attr); err != nil {
		return nil, err
	}
	ids := catalog.IDs()
	binned := hasRanks(t, ids)
	cutoff := opts.cutoff()

	out := &model.GroupTable{
		Attr:             opts.Attr,
		Mode:             model.ModePolygons,
		Services:         ids,
		Percentiles:      binned,
		PercentileCutoff: cutoff,
	}
	for _, g := range groupBy(t, opts.Attr) {
		row := model.GroupAggregate{Key: g.key, Services: make(map[string]model.GroupServiceStats, len(ids))}
		for _, id := range ids {
			var s model.GroupServiceStats
			var count int
			for _, a := range g.members {
				fs, ok := a.Footprint[id]
				if !ok || !fs.Valid() {
					continue
				}
				s.Assets++
				s.Sum += fs.Sum
				count += fs.Count
				if fs.AdjSum.Valid {
					s.AdjSum += fs.AdjSum.Value
				}
				s.Area += fs.Area
				if fs.Flag {
					s.Flags++
				}
				if binned {
					r := a.Percentile[id]
					if r.Mean > cutoff {
						s.MeanAbove++
					}
					if r.Max > cutoff {
						s.MaxAbove++
					}
				}
			}
			s.Mean = model.Ratio(s.Sum, float64(count))
			s.PercentFlagged = model.Percent(s.Flags, s.Assets)
			if binned {
				s.PercentMeanAbove = model.Percent(s.MeanAbove, len(g.members))
			}
			row.Services[id] = s
		}

		for _, a := range g.members {
			row.TotalArea += a.Area()
			if anyFootprintFlag(a, ids) {
				row.TotalFlags++
			}
		}
		row.TotalAssets = len(g.members)
		row.PercentTotalFlagged = model.Percent(row.TotalFlags, row.TotalAssets)
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

// Points aggregates point samples. Per service, only members with a defined
// sample contribute.
func Points(t *model.AssetTable, catalog *model.ServiceCatalog, opts Options) (*model.GroupTable, error) {
	if err := Check(t, opts.Attr); err != nil {
		return nil, err
	}
	ids := catalog.IDs()
	out := &model.GroupTable{Attr: opts.Attr, Mode: model.ModePoints, Services: ids}
	for _, g := range groupBy(t, opts.Attr) {
		row := model.GroupAggregate{Key: g.key, Services: make(map[string]model.GroupServiceStats, len(ids))}
		for _, id := range ids {
			var s model.GroupServiceStats
			for _, a := range g.members {
				ps, ok := a.Point[id]
				if !ok || !ps.Value.Valid {
					continue
				}
				s.Assets++
				s.Sum += ps.Value.Value
				if ps.Flag {
					s.Flags++
				}
			}
			s.Mean = model.Ratio(s.Sum, float64(s.Assets))
			s.PercentFlagged = model.Percent(s.Flags, s.Assets)
			row.Services[id] = s
		}

		for _, a := range g.members {
			for _, id := range ids {
				if a.Point[id].Flag {
					row.TotalFlags++
					break
				}
			}
		}
		row.TotalAssets = len(g.members)
		row.PercentTotalFlagged = model.Percent(row.TotalFlags, row.TotalAssets)
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

func anyFootprintFlag(a *model.Asset, ids []string) bool {
	for _, id := range ids {
		if a.Footprint[id].Flag {
			return true
		}
	}
	return false
}

// hasRanks reports whether percentile ranks are present for every service.
func hasRanks(t *model.AssetTable, ids []string) bool {
	if len(t.Assets) == 0 {
		return false
	}
	for i := range t.Assets {
		for _, id := range ids {
			if _, ok := t.Assets[i].Percentile[id]; !ok {
				return false
			}
		}
	}
	return true
}
