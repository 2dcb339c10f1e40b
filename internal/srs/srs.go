// Package srs compares spatial reference definitions found in .prj sidecars,
// GeoJSON crs members, GeoPackage metadata and GeoTIFF GeoKeys.
package srs

import (
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/ctessum/geom/proj"
	"github.com/rotisserie/eris"
)

var (
	// The last AUTHORITY in a WKT string belongs to the outermost CRS.
	wktAuthority = regexp.MustCompile(`(?i)(?:AUTHORITY|ID)\[\s*"EPSG"\s*,\s*"?(\d+)"?\s*\]`)
	codeForm     = regexp.MustCompile(`(?i)^(?:urn:ogc:def:crs:)?EPSG:(?:[\d.]*:)?(\d+)$`)
	crs84Form    = regexp.MustCompile(`(?i)^(?:urn:ogc:def:crs:)?OGC:(?:1\.3:)?CRS84$`)
	whitespace   = regexp.MustCompile(`\s+`)
)

const (
	wgs84Proj    = "+proj=longlat +datum=WGS84 +no_defs"
	webMercProj  = "+proj=merc +a=6378137 +b=6378137 +lat_ts=0.0 +lon_0=0.0 +x_0=0.0 +y_0=0 +k=1.0 +units=m +nadgrids=@null +no_defs"
	equalDigits  = 8
	sampleRelTol = 1e-7
)

// Definitions for authority codes that arrive without WKT.
var knownCodes = map[int]string{
	4326:   wgs84Proj,
	4269:   "+proj=longlat +datum=NAD83 +no_defs",
	4258:   "+proj=longlat +ellps=GRS80 +towgs84=0,0,0,0,0,0,0 +no_defs",
	3857:   webMercProj,
	3785:   webMercProj,
	900913: webMercProj,
	102100: webMercProj,
	3395:   "+proj=merc +lon_0=0 +k=1 +x_0=0 +y_0=0 +datum=WGS84 +units=m +no_defs",
	5070:   "+proj=aea +lat_1=29.5 +lat_2=45.5 +lat_0=23 +lon_0=-96 +x_0=0 +y_0=0 +datum=NAD83 +units=m +no_defs",
}

// Lon/lat locations used to compare two references by where they project.
var samples = [][2]float64{
	{0, 0}, {3, -30}, {12.5, 41.9}, {-73.9, 40.7}, {151.2, -33.9}, {-58.4, -34.6}, {100, 10},
}

var wgs84 = sync.OnceValues(func() (*proj.SR, error) {
	return proj.Parse(wgs84Proj)
})

// EPSG extracts the EPSG code of a definition, or "" if it has none.
// OGC CRS84 reports 4326.
func EPSG(def string) string {
	def = strings.TrimSpace(def)
	if crs84Form.MatchString(def) {
		return "4326"
	}
	if m := codeForm.FindStringSubmatch(def); m != nil {
		return m[1]
	}
	all := wktAuthority.FindAllStringSubmatch(def, -1)
	if len(all) == 0 {
		return ""
	}
	return all[len(all)-1][1]
}

// Normalize collapses whitespace and case so cosmetic WKT differences compare equal.
func Normalize(def string) string {
	return strings.ToUpper(whitespace.ReplaceAllString(strings.TrimSpace(def), ""))
}

// Parse resolves a definition into a spatial reference. Bare authority codes
// are expanded from a table of common codes; WKT and PROJ strings are parsed
// as given.
func Parse(def string) (sr *proj.SR, err error) {
	def = strings.TrimSpace(def)
	if def == "" {
		return nil, eris.New("srs: empty definition")
	}
	if !strings.Contains(def, "[") && !strings.HasPrefix(def, "+") {
		code, cerr := strconv.Atoi(EPSG(def))
		if cerr != nil {
			return nil, eris.Errorf("srs: unrecognised definition %q", def)
		}
		p, ok := codeDefinition(code)
		if !ok {
			return nil, eris.Errorf("srs: no definition for EPSG:%d", code)
		}
		def = p
	}

	// The WKT parser panics on some malformed input.
	defer func() {
		if r := recover(); r != nil {
			sr, err = nil, eris.Errorf("srs: parse: %v", r)
		}
	}()
	sr, err = proj.Parse(def)
	if err != nil {
		return nil, eris.Wrap(err, "srs: parse")
	}
	return sr, nil
}

// codeDefinition returns a PROJ string for an EPSG code, including the WGS 84
// and NAD83 UTM zones.
func codeDefinition(code int) (string, bool) {
	if p, ok := knownCodes[code]; ok {
		return p, true
	}
	tmerc := func(zone int, south bool, datum string) string {
		y0 := 0
		if south {
			y0 = 10000000
		}
		return fmt.Sprintf("+proj=tmerc +lat_0=0 +lon_0=%d +k=0.9996 +x_0=500000 +y_0=%d +datum=%s +units=m +no_defs",
			zone*6-183, y0, datum)
	}
	switch {
	case code >= 32601 && code <= 32660:
		return tmerc(code-32600, false, "WGS84"), true
	case code >= 32701 && code <= 32760:
		return tmerc(code-32700, true, "WGS84"), true
	case code >= 26901 && code <= 26923:
		return tmerc(code-26900, false, "NAD83"), true
	}
	return "", false
}

// Same reports whether two non-empty definitions describe the same reference.
// Identical text or matching EPSG codes short-circuit; otherwise both are
// parsed and compared. Unparseable definitions only match themselves.
func Same(a, b string) bool {
	if Normalize(a) == Normalize(b) {
		return true
	}
	ca, cb := EPSG(a), EPSG(b)
	if ca != "" && ca == cb {
		return true
	}
	sa, errA := Parse(a)
	sb, errB := Parse(b)
	if errA == nil && errB == nil {
		return equivalent(sa, sb)
	}
	return false
}

// equivalent compares parsed references field by field, then by projecting
// sample locations through both. Definitions that differ only in names or
// parameter spelling land on the same coordinates.
func equivalent(a, b *proj.SR) bool {
	if a.Equal(b, equalDigits) {
		return true
	}
	src, err := wgs84()
	if err != nil {
		return false
	}
	toA, err := src.NewTransform(a)
	if err != nil {
		return false
	}
	toB, err := src.NewTransform(b)
	if err != nil {
		return false
	}

	compared := 0
	for _, s := range samples {
		xa, ya, errA := toA(s[0], s[1])
		xb, yb, errB := toB(s[0], s[1])
		okA := errA == nil && finite(xa, ya)
		okB := errB == nil && finite(xb, yb)
		if okA != okB {
			return false
		}
		if !okA {
			continue
		}
		if !near(xa, xb) || !near(ya, yb) {
			return false
		}
		compared++
	}
	return compared > 0
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func near(a, b float64) bool {
	return math.Abs(a-b) <= sampleRelTol*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

// IsGeographic reports whether a definition is a geographic (lon/lat) CRS.
func IsGeographic(def string) bool {
	n := Normalize(def)
	if strings.HasPrefix(n, "GEOGCS[") || strings.HasPrefix(n, "GEOGCRS[") || strings.HasPrefix(n, "GEODCRS[") {
		return true
	}
	sr, err := Parse(def)
	return err == nil && sr.Name == "longlat"
}

// ReadSidecar reads the .prj file next to path, returning "" when there is none.
func ReadSidecar(path string) (string, error) {
	prj := SidecarPath(path)
	data, err := os.ReadFile(prj)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "srs: read %s", prj)
	}
	return strings.TrimSpace(string(data)), nil
}

// SidecarPath returns the .prj path for a data file.
func SidecarPath(path string) string {
	ext := ""
	if i := strings.LastIndex(path, "."); i > strings.LastIndexAny(path, `/\`) {
		ext = path[i:]
	}
	return strings.TrimSuffix(path, ext) + ".prj"
}
