// Package report writes pipeline results: per-asset vectors, group tables
// (CSV or XLSX) and a YAML run summary.
package report

import (
	"strconv"

	"github.com/sells-group/footprint-impact/internal/model"
	"github.com/sells-group/footprint-impact/internal/vector"
)

// AssetColumns returns the per-asset output columns: the original attributes
// followed by each service's results in catalog order.
func AssetColumns(t *model.AssetTable, catalog *model.ServiceCatalog, mode model.Mode) []vector.Column {
	cols := vector.AttributeColumns(t)
	binned := hasPercentiles(t)
	for _, e := range catalog.Entries {
		if mode == model.ModePoints {
			cols = append(cols, pointColumns(e.ID)...)
			continue
		}
		cols = append(cols, footprintColumns(e.ID)...)
		if binned {
			cols = append(cols, percentileColumns(e.ID)...)
		}
	}
	return cols
}

func footprintColumns(id string) []vector.Column {
	get := func(a *model.Asset) model.FootprintStats { return a.Footprint[id] }
	return []vector.Column{
		{Name: id + "_max", Type: vector.TypeReal, Value: func(a *model.Asset) any { return get(a).Max }},
		{Name: id + "_sum", Type: vector.TypeReal, Value: func(a *model.Asset) any { return get(a).Sum }},
		{Name: id + "_count", Type: vector.TypeInteger, Value: func(a *model.Asset) any { return get(a).Count }},
		{Name: id + "_nodata_count", Type: vector.TypeInteger, Value: func(a *model.Asset) any { return get(a).NodataCount }},
		{Name: id + "_mean", Type: vector.TypeReal, Value: func(a *model.Asset) any { return get(a).Mean }},
		{Name: id + "_flag", Type: vector.TypeBoolean, Value: func(a *model.Asset) any { return get(a).Flag }},
		{Name: id + "_adj_sum", Type: vector.TypeReal, Value: func(a *model.Asset) any { return get(a).AdjSum }},
	}
}

func percentileColumns(id string) []vector.Column {
	return []vector.Column{
		{Name: "mean_" + id + "_percentile", Type: vector.TypeInteger, Value: func(a *model.Asset) any { return a.Percentile[id].Mean }},
		{Name: "max_" + id + "_percentile", Type: vector.TypeInteger, Value: func(a *model.Asset) any { return a.Percentile[id].Max }},
	}
}

func pointColumns(id string) []vector.Column {
	return []vector.Column{
		{Name: id, Type: vector.TypeReal, Value: func(a *model.Asset) any { return a.Point[id].Value }},
		{Name: id + "_flag", Type: vector.TypeBoolean, Value: func(a *model.Asset) any { return a.Point[id].Flag }},
	}
}

func hasPercentiles(t *model.AssetTable) bool {
	for i := range t.Assets {
		if len(t.Assets[i].Percentile) > 0 {
			return true
		}
	}
	return false
}

// groupColumn is one column of the group table.
type groupColumn struct {
	name  string
	value func(r *model.GroupAggregate) any
}

// groupColumns lists the group table columns: the group attribute, each
// service's rollup in catalog order, then the totals.
func groupColumns(t *model.GroupTable) []groupColumn {
	cols := []groupColumn{{name: t.Attr, value: func(r *model.GroupAggregate) any { return r.Key }}}
	for _, id := range t.Services {
		get := func(r *model.GroupAggregate) model.GroupServiceStats { return r.Services[id] }
		add := func(suffix string, v func(s model.GroupServiceStats) any) {
			cols = append(cols, groupColumn{name: id + suffix, value: func(r *model.GroupAggregate) any { return v(get(r)) }})
		}
		add("_sum", func(s model.GroupServiceStats) any { return s.Sum })
		add("_mean", func(s model.GroupServiceStats) any { return s.Mean })
		if t.Mode == model.ModePolygons {
			add("_adj_sum", func(s model.GroupServiceStats) any { return s.AdjSum })
			add("_area", func(s model.GroupServiceStats) any { return s.Area })
		}
		add("_assets", func(s model.GroupServiceStats) any { return s.Assets })
		add("_flags", func(s model.GroupServiceStats) any { return s.Flags })
		add("_percent_flagged", func(s model.GroupServiceStats) any { return s.PercentFlagged })
		if t.Mode == model.ModePolygons && t.Percentiles {
			p := "_p" + strconv.Itoa(t.PercentileCutoff)
			add("_mean_above"+p, func(s model.GroupServiceStats) any { return s.MeanAbove })
			add("_max_above"+p, func(s model.GroupServiceStats) any { return s.MaxAbove })
			add("_percent_mean_above"+p, func(s model.GroupServiceStats) any { return s.PercentMeanAbove })
		}
	}
	if t.Mode == model.ModePolygons {
		cols = append(cols, groupColumn{name: "total_area", value: func(r *model.GroupAggregate) any { return r.TotalArea }})
	}
	cols = append(cols,
		groupColumn{name: "total_assets", value: func(r *model.GroupAggregate) any { return r.TotalAssets }},
		groupColumn{name: "total_flags", value: func(r *model.GroupAggregate) any { return r.TotalFlags }},
		groupColumn{name: "percent_total_flagged", value: func(r *model.GroupAggregate) any { return r.PercentTotalFlagged }},
	)
	return cols
}

// GroupHeader returns the group table's column names.
func GroupHeader(t *model.GroupTable) []string {
	cols := groupColumns(t)
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.name
	}
	return names
}
