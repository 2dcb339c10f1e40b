package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/footprint-impact/internal/model"
)

func groupTable(mode model.Mode, binned bool) *model.GroupTable {
	return &model.GroupTable{
		Attr:             "ultimate_parent_name",
		Mode:             mode,
		Services:         []string{"es_1"},
		Percentiles:      binned,
		PercentileCutoff: 90,
		Rows: []model.GroupAggregate{
			{
				Key: "A",
				Services: map[string]model.GroupServiceStats{"es_1": {
					Sum: 79, Mean: model.Some(19.75), AdjSum: 23.03, Area: 5.64,
					Assets: 2, Flags: 1, PercentFlagged: model.Some(50),
					MeanAbove: 1, MaxAbove: 2, PercentMeanAbove: model.Some(50),
				}},
				TotalArea: 5.64, TotalAssets: 2, TotalFlags: 1, PercentTotalFlagged: model.Some(50),
			},
			{
				Key:                 "B",
				Services:            map[string]model.GroupServiceStats{"es_1": {}},
				TotalArea:           1,
				TotalAssets:         1,
				PercentTotalFlagged: model.Some(0),
			},
		},
	}
}

func TestGroupHeader(t *testing.T) {
	assert.Equal(t, []string{
		"ultimate_parent_name",
		"es_1_sum", "es_1_mean", "es_1_adj_sum", "es_1_area", "es_1_assets", "es_1_flags", "es_1_percent_flagged",
		"total_area", "total_assets", "total_flags", "percent_total_flagged",
	}, GroupHeader(groupTable(model.ModePolygons, false)))

	binned := GroupHeader(groupTable(model.ModePolygons, true))
	assert.Contains(t, binned, "es_1_mean_above_p90")
	assert.Contains(t, binned, "es_1_max_above_p90")
	assert.Contains(t, binned, "es_1_percent_mean_above_p90")

	assert.Equal(t, []string{
		"ultimate_parent_name",
		"es_1_sum", "es_1_mean", "es_1_assets", "es_1_flags", "es_1_percent_flagged",
		"total_assets", "total_flags", "percent_total_flagged",
	}, GroupHeader(groupTable(model.ModePoints, false)))
}

func TestEncodeCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeCSV(&buf, groupTable(model.ModePolygons, false), Options{Precision: -1}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "A,79,19.75,23.03,5.64,2,1,50,5.64,2,1,50", lines[1])
	assert.Equal(t, "B,0,,0,0,0,0,,1,1,0,0", lines[2], "undefined values are empty cells")
}

func TestEncodeCSV_Precision(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeCSV(&buf, groupTable(model.ModePoints, false), Options{Precision: 2}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, "A,79.00,19.75,2,1,50.00,2,1,50.00", lines[1])
}

func TestWriteGroups_CSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groups.csv")
	require.NoError(t, WriteGroups(path, groupTable(model.ModePolygons, false), Options{Precision: -1}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "ultimate_parent_name,es_1_sum,"))
}

func TestWriteGroups_XLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groups.xlsx")
	require.NoError(t, WriteGroups(path, groupTable(model.ModePolygons, false), Options{Precision: -1}))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	sheet, ok := f.Sheet[GroupSheet]
	require.True(t, ok)
	require.Len(t, sheet.Rows, 3)

	assert.Equal(t, "ultimate_parent_name", sheet.Rows[0].Cells[0].String())
	assert.Equal(t, "A", sheet.Rows[1].Cells[0].String())
	v, err := sheet.Rows[1].Cells[1].Float()
	require.NoError(t, err)
	assert.Equal(t, 79.0, v)
	assert.Equal(t, "", sheet.Rows[2].Cells[2].String(), "undefined mean")
}

func TestWriteGroups_BadExtension(t *testing.T) {
	err := WriteGroups(filepath.Join(t.TempDir(), "groups.txt"), groupTable(model.ModePoints, false), Options{})
	assert.True(t, model.IsConfigurationError(err))
}

func TestAssetColumns(t *testing.T) {
	tbl := &model.AssetTable{
		Fields: []string{"name"},
		Assets: []model.Asset{{
			Attributes: map[string]any{"name": "x"},
			Footprint: map[string]model.FootprintStats{"es_1": {
				Max: model.Some(12), Sum: 24, Count: 3, Mean: model.Some(8), Flag: true, AdjSum: model.Some(9.28),
			}},
			Percentile: map[string]model.PercentileRank{"es_1": {Mean: 8, Max: 12}},
		}},
	}
	cat := &model.ServiceCatalog{Entries: []model.ServiceEntry{{ID: "es_1"}}}

	cols := AssetColumns(tbl, cat, model.ModePolygons)
	names := make([]string, len(cols))
	values := make(map[string]any, len(cols))
	for i, c := range cols {
		names[i] = c.Name
		values[c.Name] = c.Value(&tbl.Assets[0])
	}
	assert.Equal(t, []string{
		"name", "es_1_max", "es_1_sum", "es_1_count", "es_1_nodata_count",
		"es_1_mean", "es_1_flag", "es_1_adj_sum", "mean_es_1_percentile", "max_es_1_percentile",
	}, names)
	assert.Equal(t, model.Some(8), values["es_1_mean"])
	assert.Equal(t, 3, values["es_1_count"])
	assert.Equal(t, true, values["es_1_flag"])
	assert.Equal(t, 8, values["mean_es_1_percentile"])
	assert.Equal(t, 12, values["max_es_1_percentile"])

	tbl.Assets[0].Point = map[string]model.PointSample{"es_1": {Value: model.Some(11)}}
	cols = AssetColumns(tbl, cat, model.ModePoints)
	require.Len(t, cols, 3)
	assert.Equal(t, "es_1", cols[1].Name)
	assert.Equal(t, model.Some(11), cols[1].Value(&tbl.Assets[0]))
	assert.Equal(t, "es_1_flag", cols[2].Name)
}

func TestSummary(t *testing.T) {
	assets := &model.AssetTable{Assets: []model.Asset{
		{Footprint: map[string]model.FootprintStats{"es_1": {Count: 2, Flag: true}}},
		{Footprint: map[string]model.FootprintStats{"es_1": {NodataCount: 3}}},
	}}
	cat := &model.ServiceCatalog{Entries: []model.ServiceEntry{{ID: "es_1", ValuePath: "/r/es_1.asc", FlagThreshold: 90}}}
	groups := groupTable(model.ModePolygons, false)

	s := NewSummary(model.ModePolygons, time.Now().Add(-time.Second), assets, groups, cat)
	_, err := uuid.Parse(s.RunID)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Assets)
	assert.Equal(t, 2, s.Groups)
	assert.Equal(t, 1, s.Flagged)
	require.Len(t, s.Services, 1)
	assert.Equal(t, ServiceSummary{ID: "es_1", Raster: "/r/es_1.asc", Threshold: 90, Valid: 1, Flagged: 1}, s.Services[0])

	path := filepath.Join(t.TempDir(), "summary.yaml")
	require.NoError(t, WriteSummary(path, s))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(data, &decoded))
	assert.Equal(t, s.RunID, decoded["run_id"])
	assert.Equal(t, "polygons", decoded["mode"])
	assert.Equal(t, "ultimate_parent_name", decoded["group_by"])
}
