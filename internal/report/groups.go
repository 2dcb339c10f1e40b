package report

import (
	"encoding/csv"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/footprint-impact/internal/atomicfile"
	"github.com/sells-group/footprint-impact/internal/model"
)

// GroupSheet is the worksheet name used for XLSX group tables.
const GroupSheet = "groups"

// Options controls number formatting.
type Options struct {
	// Precision is the number of decimals for floats; -1 writes the shortest
	// representation that round-trips.
	Precision int
}

// CheckGroupPath validates the group table's output format.
func CheckGroupPath(path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".xlsx":
		return nil
	default:
		return model.NewConfigurationError(path, "unsupported group table format %q (want .csv or .xlsx)", filepath.Ext(path))
	}
}

// WriteGroups writes the group table as CSV or XLSX, chosen by extension.
// Undefined values are written as empty cells.
func WriteGroups(path string, t *model.GroupTable, opts Options) error {
	if err := CheckGroupPath(path); err != nil {
		return err
	}
	var err error
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		err = atomicfile.WriteFile(path, func(w io.Writer) error { return encodeXLSX(w, t) })
	} else {
		err = atomicfile.WriteFile(path, func(w io.Writer) error { return EncodeCSV(w, t, opts) })
	}
	return eris.Wrapf(err, "report: write group table %s", path)
}

// EncodeCSV writes the group table as CSV with a header row.
func EncodeCSV(w io.Writer, t *model.GroupTable, opts Options) error {
	cols := groupColumns(t)
	cw := csv.NewWriter(w)
	if err := cw.Write(GroupHeader(t)); err != nil {
		return eris.Wrap(err, "report: write csv header")
	}
	record := make([]string, len(cols))
	for i := range t.Rows {
		for j, c := range cols {
			record[j] = formatCell(c.value(&t.Rows[i]), opts.Precision)
		}
		if err := cw.Write(record); err != nil {
			return eris.Wrap(err, "report: write csv row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "report: flush csv")
}

func formatCell(v any, prec int) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', prec, 64)
	case model.NullFloat:
		return t.Format(prec)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func encodeXLSX(w io.Writer, t *model.GroupTable) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(GroupSheet)
	if err != nil {
		return eris.Wrap(err, "report: add sheet")
	}

	header := sheet.AddRow()
	for _, name := range GroupHeader(t) {
		header.AddCell().SetString(name)
	}

	cols := groupColumns(t)
	for i := range t.Rows {
		row := sheet.AddRow()
		for _, c := range cols {
			cell := row.AddCell()
			switch v := c.value(&t.Rows[i]).(type) {
			case string:
				cell.SetString(v)
			case int:
				cell.SetInt(v)
			case float64:
				cell.SetFloat(v)
			case model.NullFloat:
				if v.Valid {
					cell.SetFloat(v.Value)
				}
			}
		}
	}
	return eris.Wrap(f.Write(w), "report: encode xlsx")
}
