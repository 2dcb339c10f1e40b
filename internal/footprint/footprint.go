// Package footprint turns point assets into circular footprints sized by
// their category's target area.
package footprint

import (
	"math"
	"slices"
	"strings"

	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/footprint-impact/internal/model"
)

// MinSegments is the fewest vertices a buffered footprint may have.
const MinSegments = 64

// Options controls footprint construction.
type Options struct {
	// Segments is the number of vertices on each circle. Zero means MinSegments.
	Segments int
	Logger   *zap.Logger
}

func (o Options) segments() int {
	if o.Segments == 0 {
		return MinSegments
	}
	return o.Segments
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// Check validates a buffering request without building anything: every
// geometry must be a point and every category must resolve in the catalog.
func Check(t *model.AssetTable, catalog *model.BufferCatalog, opts Options) error {
	if opts.Segments != 0 && opts.Segments < MinSegments {
		return model.NewConfigurationError("segments", "must be at least %d, got %d", MinSegments, opts.Segments)
	}
	if err := model.CheckGeometryTypes(t, "", "Point"); err != nil {
		return err
	}
	if !t.HasField(catalog.Attr) {
		return model.NewConfigurationError(catalog.Attr, "asset vector has no %q attribute (fields: %s)", catalog.Attr, strings.Join(t.Fields, ", "))
	}

	missing := make(map[string]bool)
	for i := range t.Assets {
		category, _ := t.Assets[i].Attr(catalog.Attr)
		if _, ok := catalog.Lookup(category); !ok {
			missing[category] = true
		}
	}
	if len(missing) == 0 {
		return nil
	}
	names := make([]string, 0, len(missing))
	for c := range missing {
		names = append(names, quote(c))
	}
	slices.Sort(names)
	return model.NewConfigurationError(catalog.Path, "no target area for %s value(s) %s", catalog.Attr, strings.Join(names, ", "))
}

// Build replaces each point with a regular polygon of opts.Segments vertices
// on the circle whose area equals the category's target area. The input
// table is not modified.
func Build(t *model.AssetTable, catalog *model.BufferCatalog, opts Options) (*model.AssetTable, error) {
	if err := Check(t, catalog, opts); err != nil {
		return nil, err
	}
	log := opts.logger()
	n := opts.segments()

	used := make(map[string]int)
	out := t.Clone()
	for i := range out.Assets {
		a := &out.Assets[i]
		category, _ := a.Attr(catalog.Attr)
		area, _ := catalog.Lookup(category)
		used[category]++

		p := a.Geometry.(*geom.Point)
		a.Geometry = Circle(p.X(), p.Y(), math.Sqrt(area/math.Pi), n)
	}

	for _, e := range catalog.Entries {
		if used[e.Category] == 0 {
			log.Warn("footprint: buffer category not used by any asset",
				zap.String("category", e.Category),
				zap.String("catalog", catalog.Path))
		}
	}
	log.Debug("footprint: buffered points",
		zap.Int("assets", len(out.Assets)),
		zap.Int("segments", n))
	return out, nil
}

// Circle returns a closed counter-clockwise ring of n vertices at radius r
// around (x, y).
func Circle(x, y, r float64, n int) *geom.Polygon {
	flat := make([]float64, 0, 2*(n+1))
	for i := 0; i < n; i++ {
		theta := 2 * math.Pi * float64(i) / float64(n)
		flat = append(flat, x+r*math.Cos(theta), y+r*math.Sin(theta))
	}
	flat = append(flat, flat[0], flat[1])
	return geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)})
}

func quote(s string) string {
	if s == "" {
		return "<empty>"
	}
	return `"` + s + `"`
}
