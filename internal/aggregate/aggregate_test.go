package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/footprint-impact/internal/model"
)

var services = &model.ServiceCatalog{Entries: []model.ServiceEntry{{ID: "es_1"}, {ID: "es_2"}}}

func fs(count int, sum float64, maxV model.NullFloat, adj model.NullFloat, area float64, flag bool) model.FootprintStats {
	return model.FootprintStats{
		Count:  count,
		Sum:    sum,
		Max:    maxV,
		Mean:   model.Ratio(sum, float64(count)),
		AdjSum: adj,
		Area:   area,
		Flag:   flag,
	}
}

// footprintTable mirrors the statistics of three buffered assets: two owned
// by A and one by B, against two services.
func footprintTable() *model.AssetTable {
	return &model.AssetTable{
		Fields: []string{"ultimate_parent_name"},
		Assets: []model.Asset{
			{ID: 0, Attributes: map[string]any{"ultimate_parent_name": "A"}, Footprint: map[string]model.FootprintStats{
				"es_1": fs(3, 24, model.Some(12), model.Some(9.28), 4.64, false),
				"es_2": fs(1, 0, model.Some(0), model.Some(0), 4.64, false),
			}},
			{ID: 1, Attributes: map[string]any{"ultimate_parent_name": "B"}, Footprint: map[string]model.FootprintStats{
				"es_1": fs(1, 92, model.Some(92), model.Some(0.00115), 0.00005, true),
				"es_2": {NodataCount: 0, Area: 0.00005},
			}},
			{ID: 2, Attributes: map[string]any{"ultimate_parent_name": "A"}, Footprint: map[string]model.FootprintStats{
				"es_1": fs(1, 55, model.Some(55), model.Some(13.75), 1, false),
				"es_2": fs(1, 2.5, model.Some(2.5), model.Some(0.625), 1, false),
			}},
		},
	}
}

func TestFootprints(t *testing.T) {
	out, err := Footprints(footprintTable(), services, Options{Attr: "ultimate_parent_name"})
	require.NoError(t, err)
	assert.Equal(t, model.ModePolygons, out.Mode)
	assert.Equal(t, []string{"es_1", "es_2"}, out.Services)
	assert.False(t, out.Percentiles)
	require.Len(t, out.Rows, 2)

	a := out.Rows[0]
	assert.Equal(t, "A", a.Key)
	es1 := a.Services["es_1"]
	assert.Equal(t, 79.0, es1.Sum)
	assert.Equal(t, model.Some(19.75), es1.Mean)
	assert.InDelta(t, 9.28+13.75, es1.AdjSum, 1e-9)
	assert.InDelta(t, 5.64, es1.Area, 1e-9)
	assert.Equal(t, 2, es1.Assets)
	assert.Equal(t, 0, es1.Flags)
	assert.Equal(t, model.Some(0), es1.PercentFlagged)
	assert.Equal(t, model.Some(1.25), a.Services["es_2"].Mean)
	assert.Equal(t, 2, a.TotalAssets)
	assert.Equal(t, 0.0, a.TotalArea, "total area comes from geometries, absent here")
	assert.Equal(t, 0, a.TotalFlags)
	assert.Equal(t, model.Some(0), a.PercentTotalFlagged)

	b := out.Rows[1]
	assert.Equal(t, "B", b.Key)
	assert.Equal(t, 1, b.Services["es_1"].Flags)
	assert.Equal(t, model.Some(100), b.Services["es_1"].PercentFlagged)

	none := b.Services["es_2"]
	assert.Equal(t, 0, none.Assets)
	assert.Equal(t, 0.0, none.Sum)
	assert.False(t, none.Mean.Valid, "no valid members means no mean")
	assert.False(t, none.PercentFlagged.Valid)
	assert.Equal(t, 1, b.TotalAssets)
	assert.Equal(t, 1, b.TotalFlags)
	assert.Equal(t, model.Some(100), b.PercentTotalFlagged)
}

func TestFootprints_Conservation(t *testing.T) {
	tbl := footprintTable()
	out, err := Footprints(tbl, services, Options{Attr: "ultimate_parent_name"})
	require.NoError(t, err)

	for _, id := range services.IDs() {
		var groupSum, assetSum float64
		var groupAssets, validAssets int
		for _, r := range out.Rows {
			groupSum += r.Services[id].Sum
			groupAssets += r.Services[id].Assets
		}
		for _, a := range tbl.Assets {
			if a.Footprint[id].Valid() {
				assetSum += a.Footprint[id].Sum
				validAssets++
			}
		}
		assert.InDelta(t, assetSum, groupSum, 1e-9, id)
		assert.Equal(t, validAssets, groupAssets, id)
	}

	var total int
	for _, r := range out.Rows {
		total += r.TotalAssets
	}
	assert.Equal(t, len(tbl.Assets), total)
}

func TestFootprints_FlagUnion(t *testing.T) {
	tbl := footprintTable()
	both := tbl.Assets[1].Footprint
	both["es_2"] = fs(1, 50, model.Some(50), model.Some(1), 0.00005, true)

	out, err := Footprints(tbl, services, Options{Attr: "ultimate_parent_name"})
	require.NoError(t, err)
	b := out.Rows[1]
	assert.Equal(t, 1, b.Services["es_1"].Flags)
	assert.Equal(t, 1, b.Services["es_2"].Flags)
	assert.Equal(t, 1, b.TotalFlags, "an asset flagged by two services counts once")
	assert.Equal(t, model.Some(100), b.PercentTotalFlagged)
}

func TestFootprints_Percentiles(t *testing.T) {
	tbl := footprintTable()
	ranks := []map[string]model.PercentileRank{
		{"es_1": {Mean: 91, Max: 95}, "es_2": {Mean: 10, Max: 10}},
		{"es_1": {Mean: 99, Max: 99}, "es_2": {Mean: -1, Max: -1}},
		{"es_1": {Mean: 90, Max: 92}, "es_2": {Mean: 50, Max: 50}},
	}
	for i := range tbl.Assets {
		tbl.Assets[i].Percentile = ranks[i]
	}

	out, err := Footprints(tbl, services, Options{Attr: "ultimate_parent_name"})
	require.NoError(t, err)
	assert.True(t, out.Percentiles)
	assert.Equal(t, DefaultPercentileCutoff, out.PercentileCutoff)

	es1 := out.Rows[0].Services["es_1"]
	assert.Equal(t, 1, es1.MeanAbove, "rank 90 is not above the cutoff")
	assert.Equal(t, 2, es1.MaxAbove)
	assert.Equal(t, model.Some(50), es1.PercentMeanAbove)

	assert.Equal(t, model.Some(0), out.Rows[1].Services["es_2"].PercentMeanAbove, "B has a member, none overlapping")

	out, err = Footprints(tbl, services, Options{Attr: "ultimate_parent_name", PercentileCutoff: 50})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Rows[0].Services["es_1"].MeanAbove)
}

func TestFootprints_PercentMeanAboveCountsEveryMember(t *testing.T) {
	tbl := footprintTable()
	tbl.Assets[0].Footprint["es_2"] = model.FootprintStats{NodataCount: 4, Area: 4.64}
	ranks := []map[string]model.PercentileRank{
		{"es_1": {Mean: 10, Max: 10}, "es_2": {Mean: -1, Max: -1}},
		{"es_1": {Mean: 10, Max: 10}, "es_2": {Mean: -1, Max: -1}},
		{"es_1": {Mean: 10, Max: 10}, "es_2": {Mean: 95, Max: 95}},
	}
	for i := range tbl.Assets {
		tbl.Assets[i].Percentile = ranks[i]
	}

	out, err := Footprints(tbl, services, Options{Attr: "ultimate_parent_name"})
	require.NoError(t, err)
	es2 := out.Rows[0].Services["es_2"]
	assert.Equal(t, 1, es2.Assets, "only one member of A overlaps es_2")
	assert.Equal(t, 1, es2.MeanAbove)
	assert.Equal(t, model.Some(50), es2.PercentMeanAbove, "divided by both members of A")
}

func TestFootprints_MissingAttr(t *testing.T) {
	_, err := Footprints(footprintTable(), services, Options{Attr: "owner"})
	assert.True(t, model.IsConfigurationError(err))

	_, err = Footprints(footprintTable(), services, Options{})
	assert.True(t, model.IsConfigurationError(err))
}

func TestFootprints_NullKeysGroupTogether(t *testing.T) {
	tbl := footprintTable()
	tbl.Assets[0].Attributes["ultimate_parent_name"] = nil
	tbl.Assets[1].Attributes["ultimate_parent_name"] = nil

	out, err := Footprints(tbl, services, Options{Attr: "ultimate_parent_name"})
	require.NoError(t, err)
	require.Len(t, out.Rows, 2)
	assert.Equal(t, "", out.Rows[0].Key)
	assert.Equal(t, 2, out.Rows[0].TotalAssets)
}

func TestPoints(t *testing.T) {
	tbl := &model.AssetTable{
		Fields: []string{"owner"},
		Assets: []model.Asset{
			{Attributes: map[string]any{"owner": "A"}, Point: map[string]model.PointSample{
				"es_1": {Value: model.Some(11)},
				"es_2": {},
			}},
			{Attributes: map[string]any{"owner": "A"}, Point: map[string]model.PointSample{
				"es_1": {Value: model.Some(55)},
				"es_2": {Value: model.Some(2.5)},
			}},
			{Attributes: map[string]any{"owner": "B"}, Point: map[string]model.PointSample{
				"es_1": {Value: model.Some(92), Flag: true},
				"es_2": {},
			}},
		},
	}

	out, err := Points(tbl, services, Options{Attr: "owner"})
	require.NoError(t, err)
	assert.Equal(t, model.ModePoints, out.Mode)
	require.Len(t, out.Rows, 2)

	a := out.Rows[0]
	assert.Equal(t, 66.0, a.Services["es_1"].Sum)
	assert.Equal(t, model.Some(33), a.Services["es_1"].Mean)
	assert.Equal(t, 2, a.Services["es_1"].Assets)
	assert.Equal(t, 1, a.Services["es_2"].Assets)
	assert.Equal(t, model.Some(2.5), a.Services["es_2"].Mean)
	assert.Equal(t, 0, a.TotalFlags)
	assert.Equal(t, 2, a.TotalAssets)

	b := out.Rows[1]
	assert.Equal(t, 1, b.TotalFlags)
	assert.Equal(t, model.Some(100), b.PercentTotalFlagged)
	assert.False(t, b.Services["es_2"].Mean.Valid)
	assert.False(t, b.Services["es_2"].PercentFlagged.Valid)
}
