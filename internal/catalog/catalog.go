// Package catalog loads the ecosystem service catalog and the buffer table.
package catalog

import (
	"encoding/csv"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/sells-group/footprint-impact/internal/model"
)

// DefaultAreaColumn is the buffer table column holding target areas.
const DefaultAreaColumn = "area"

type serviceRow struct {
	ID            string `csv:"es_id"`
	ValuePath     string `csv:"es_value_path"`
	FlagThreshold string `csv:"flag_threshold"`
}

// LoadServices reads the ecosystem service catalog. Raster paths are resolved
// against the catalog's directory. Percentile boundaries are loaded when the
// catalog has columns "0" through "100".
func LoadServices(path string) (*model.ServiceCatalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	dec, err := newDecoder(path, f)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(path, dec.Header(), "es_id", "es_value_path", "flag_threshold"); err != nil {
		return nil, err
	}
	percentileCols, err := percentileColumns(path, dec.Header())
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: resolve %s", path)
	}
	cat := &model.ServiceCatalog{Path: abs}
	seen := make(map[string]int)
	for line := 2; ; line++ {
		var row serviceRow
		if err := dec.Decode(&row); err == io.EOF {
			break
		} else if err != nil {
			return nil, rowError(path, line, err)
		}

		id := strings.TrimSpace(row.ID)
		if id == "" {
			return nil, model.NewConfigurationError(path, "line %d: empty es_id", line)
		}
		if prev, ok := seen[id]; ok {
			return nil, model.NewConfigurationError(path, "line %d: duplicate es_id %q (first on line %d)", line, id, prev)
		}
		seen[id] = line

		valuePath := strings.TrimSpace(row.ValuePath)
		if valuePath == "" {
			return nil, model.NewConfigurationError(path, "line %d: empty es_value_path for %q", line, id)
		}
		if !filepath.IsAbs(valuePath) {
			valuePath = filepath.Join(filepath.Dir(abs), valuePath)
		}

		threshold, err := parseNumber(row.FlagThreshold)
		if err != nil {
			return nil, model.NewConfigurationError(path, "line %d: flag_threshold for %q: %v", line, id, err)
		}

		entry := model.ServiceEntry{ID: id, ValuePath: valuePath, FlagThreshold: threshold}
		if percentileCols != nil {
			record := dec.Record()
			entry.Percentiles = make([]float64, model.PercentileCount)
			for p, col := range percentileCols {
				v, err := parseNumber(record[col])
				if err != nil {
					return nil, model.NewConfigurationError(path, "line %d: percentile %d for %q: %v", line, p, id, err)
				}
				entry.Percentiles[p] = v
			}
		}
		cat.Entries = append(cat.Entries, entry)
	}

	if len(cat.Entries) == 0 {
		return nil, model.NewConfigurationError(path, "no ecosystem services listed")
	}
	return cat, nil
}

// LoadBuffers reads the buffer table mapping each value of categoryAttr to a
// target footprint area in areaColumn.
func LoadBuffers(path, categoryAttr, areaColumn string) (*model.BufferCatalog, error) {
	if areaColumn == "" {
		areaColumn = DefaultAreaColumn
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	dec, err := newDecoder(path, f)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(path, dec.Header(), categoryAttr, areaColumn); err != nil {
		return nil, err
	}
	catCol := slices.Index(dec.Header(), categoryAttr)
	areaCol := slices.Index(dec.Header(), areaColumn)

	var entries []model.BufferEntry
	seen := make(map[string]int)
	for line := 2; ; line++ {
		// Decoding into an empty struct only advances the reader.
		if err := dec.Decode(&struct{}{}); err == io.EOF {
			break
		} else if err != nil {
			return nil, rowError(path, line, err)
		}
		record := dec.Record()
		category := strings.TrimSpace(record[catCol])
		if category == "" {
			return nil, model.NewConfigurationError(path, "line %d: empty %s", line, categoryAttr)
		}
		if prev, ok := seen[category]; ok {
			return nil, model.NewConfigurationError(path, "line %d: duplicate %s %q (first on line %d)", line, categoryAttr, category, prev)
		}
		seen[category] = line

		area, err := parseNumber(record[areaCol])
		if err != nil {
			return nil, model.NewConfigurationError(path, "line %d: %s for %q: %v", line, areaColumn, category, err)
		}
		if area <= 0 {
			return nil, model.NewConfigurationError(path, "line %d: %s for %q must be positive, got %v", line, areaColumn, category, area)
		}
		entries = append(entries, model.BufferEntry{Category: category, TargetArea: area})
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: resolve %s", path)
	}
	return model.NewBufferCatalog(abs, categoryAttr, entries), nil
}

func newDecoder(path string, r io.Reader) (*csvutil.Decoder, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	dec, err := csvutil.NewDecoder(cr)
	if err == io.EOF {
		return nil, model.NewConfigurationError(path, "file is empty")
	}
	if err != nil {
		return nil, &model.ConfigurationError{Input: path, Reason: "unreadable header", Err: err}
	}
	dec.DisallowMissingColumns = true
	return dec, nil
}

// percentileColumns returns the header index of each percentile column, nil
// when the catalog has none. A partial set is an error.
func percentileColumns(path string, header []string) ([]int, error) {
	cols := make([]int, model.PercentileCount)
	for i := range cols {
		cols[i] = -1
	}
	found := 0
	for i, h := range header {
		p, err := strconv.Atoi(strings.TrimSpace(h))
		if err != nil || p < 0 || p >= model.PercentileCount || strconv.Itoa(p) != strings.TrimSpace(h) {
			continue
		}
		if cols[p] < 0 {
			found++
		}
		cols[p] = i
	}
	switch found {
	case 0:
		return nil, nil
	case model.PercentileCount:
		return cols, nil
	}
	var missing []string
	for p, c := range cols {
		if c < 0 {
			missing = append(missing, strconv.Itoa(p))
		}
	}
	return nil, model.NewConfigurationError(path, "incomplete percentile columns, missing %s", strings.Join(missing, ", "))
}

func requireColumns(path string, header []string, cols ...string) error {
	var missing []string
	for _, c := range cols {
		if !slices.Contains(header, c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return model.NewConfigurationError(path, "missing column(s) %s", strings.Join(missing, ", "))
	}
	return nil
}

func rowError(path string, line int, err error) error {
	var missing *csvutil.MissingColumnsError
	if errors.As(err, &missing) {
		return model.NewConfigurationError(path, "missing column(s) %s", strings.Join(missing.Columns, ", "))
	}
	return &model.ConfigurationError{Input: path, Reason: "malformed row on line " + strconv.Itoa(line), Err: err}
}

var errNotFinite = errors.New("not a finite number")

func parseNumber(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, eris.Wrapf(err, "parse %q", s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errNotFinite
	}
	return v, nil
}
