package raster

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/footprint-impact/internal/model"
	"github.com/sells-group/footprint-impact/internal/srs"
)

// decodeASCII parses an ESRI ASCII grid. Header keys are case-insensitive
// and the first numeric token ends the header.
func decodeASCII(rd io.Reader, withData bool) (*Raster, error) {
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	sc.Split(bufio.ScanWords)

	header := make(map[string]float64)
	var first string
	for sc.Scan() {
		tok := sc.Text()
		if _, err := strconv.ParseFloat(tok, 64); err == nil {
			first = tok
			break
		}
		key := strings.ToLower(tok)
		if !sc.Scan() {
			return nil, eris.Errorf("header key %q has no value", key)
		}
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "header key %q", key)
		}
		header[key] = v
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "scan header")
	}

	r, err := fromHeader(header)
	if err != nil {
		return nil, err
	}
	if !withData {
		return r, nil
	}
	if first == "" {
		return nil, eris.New("no pixel values")
	}

	n := r.Cols * r.Rows
	r.data = make([]float64, 0, n)
	tok := first
	for {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, eris.Wrapf(err, "pixel %d", len(r.data))
		}
		r.data = append(r.data, v)
		if len(r.data) == n || !sc.Scan() {
			break
		}
		tok = sc.Text()
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "scan pixels")
	}
	if len(r.data) != n {
		return nil, eris.Errorf("expected %d pixel values, found %d", n, len(r.data))
	}
	return r, nil
}

func fromHeader(h map[string]float64) (*Raster, error) {
	for _, k := range []string{"ncols", "nrows"} {
		if _, ok := h[k]; !ok {
			return nil, eris.Errorf("missing header key %q", k)
		}
	}
	r := &Raster{Cols: int(h["ncols"]), Rows: int(h["nrows"])}
	if r.Cols <= 0 || r.Rows <= 0 {
		return nil, eris.Errorf("invalid size %dx%d", r.Cols, r.Rows)
	}

	dx, dy := h["dx"], h["dy"]
	if cs, ok := h["cellsize"]; ok {
		dx, dy = cs, cs
	}
	if dx <= 0 || dy <= 0 {
		return nil, eris.New("missing or non-positive cellsize")
	}
	r.PixelWidth, r.PixelHeight = dx, -dy

	var xll, yll float64
	switch {
	case has(h, "xllcorner"):
		xll = h["xllcorner"]
	case has(h, "xllcenter"):
		xll = h["xllcenter"] - dx/2
	default:
		return nil, eris.New("missing xllcorner/xllcenter")
	}
	switch {
	case has(h, "yllcorner"):
		yll = h["yllcorner"]
	case has(h, "yllcenter"):
		yll = h["yllcenter"] - dy/2
	default:
		return nil, eris.New("missing yllcorner/yllcenter")
	}
	r.OriginX = xll
	r.OriginY = yll + float64(r.Rows)*dy

	if v, ok := h["nodata_value"]; ok {
		r.Nodata = model.Some(v)
	}
	return r, nil
}

func has(h map[string]float64, k string) bool {
	_, ok := h[k]
	return ok
}

func writeASCII(path string, r *Raster) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "raster: create %s", path)
	}
	w := bufio.NewWriter(f)

	fmt.Fprintf(w, "ncols %d\nnrows %d\n", r.Cols, r.Rows)
	fmt.Fprintf(w, "xllcorner %s\nyllcorner %s\n",
		fmtFloat(r.OriginX), fmtFloat(r.OriginY+float64(r.Rows)*r.PixelHeight))
	if r.PixelWidth == -r.PixelHeight {
		fmt.Fprintf(w, "cellsize %s\n", fmtFloat(r.PixelWidth))
	} else {
		fmt.Fprintf(w, "dx %s\ndy %s\n", fmtFloat(r.PixelWidth), fmtFloat(-r.PixelHeight))
	}
	if r.Nodata.Valid {
		fmt.Fprintf(w, "NODATA_value %s\n", fmtFloat(r.Nodata.Value))
	}
	for row := 0; row < r.Rows; row++ {
		vals := make([]string, r.Cols)
		for col := range vals {
			vals[col] = fmtFloat(r.data[row*r.Cols+col])
		}
		fmt.Fprintln(w, strings.Join(vals, " "))
	}

	if err := w.Flush(); err != nil {
		_ = f.Close()
		return eris.Wrapf(err, "raster: write %s", path)
	}
	if err := f.Close(); err != nil {
		return eris.Wrapf(err, "raster: close %s", path)
	}
	if r.SRS != "" {
		if err := os.WriteFile(srs.SidecarPath(path), []byte(r.SRS), 0o644); err != nil {
			return eris.Wrap(err, "raster: write prj")
		}
	}
	return nil
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
