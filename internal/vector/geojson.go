package vector

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/footprint-impact/internal/atomicfile"
	"github.com/sells-group/footprint-impact/internal/model"
	"github.com/sells-group/footprint-impact/internal/srs"
)

type featureCollection struct {
	Type     string    `json:"type"`
	CRS      *namedCRS `json:"crs,omitempty"`
	Features []feature `json:"features"`
}

type feature struct {
	Type       string            `json:"type"`
	ID         json.RawMessage   `json:"id,omitempty"`
	Geometry   *geojson.Geometry `json:"geometry"`
	Properties properties        `json:"properties"`
}

type property struct {
	Name  string
	Value any
}

// properties encodes as a JSON object with keys in column order.
type properties []property

func (ps properties) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range ps {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(p.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(p.Value)
		if err != nil {
			return nil, eris.Wrapf(err, "property %q", p.Name)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// inputCollection keeps properties raw so their key order survives decoding.
type inputCollection struct {
	Type     string    `json:"type"`
	CRS      *namedCRS `json:"crs,omitempty"`
	Features []struct {
		Geometry   *geojson.Geometry `json:"geometry"`
		Properties json.RawMessage   `json:"properties"`
	} `json:"features"`
}

// namedCRS is the legacy (2008) GeoJSON crs member written by GDAL.
type namedCRS struct {
	Type       string `json:"type"`
	Properties struct {
		Name string `json:"name"`
	} `json:"properties"`
}

func readGeoJSON(path string) (*model.AssetTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "vector: read %s", path)
	}
	var fc inputCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrapf(err, "vector: parse geojson %s", path)
	}
	if fc.Type != "FeatureCollection" {
		return nil, eris.Errorf("vector: %s is a GeoJSON %q, expected FeatureCollection", path, fc.Type)
	}

	t := &model.AssetTable{Assets: make([]model.Asset, len(fc.Features))}
	seen := make(map[string]bool)
	for i, f := range fc.Features {
		props, keys, err := decodeProperties(f.Properties)
		if err != nil {
			return nil, eris.Wrapf(err, "vector: properties of feature %d in %s", i, path)
		}
		a := model.Asset{Attributes: props}
		if f.Geometry != nil {
			g, err := f.Geometry.Decode()
			if err != nil {
				return nil, eris.Wrapf(err, "vector: decode geometry of feature %d in %s", i, path)
			}
			a.Geometry = g
		}
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				t.Fields = append(t.Fields, k)
			}
		}
		t.Assets[i] = a
	}

	if fc.CRS != nil && fc.CRS.Properties.Name != "" {
		t.SRS = fc.CRS.Properties.Name
	} else {
		def, err := srs.ReadSidecar(path)
		if err != nil {
			return nil, err
		}
		t.SRS = def
	}
	return t, nil
}

// decodeProperties decodes a properties object and returns its keys in
// document order. A null or absent object yields no attributes.
func decodeProperties(raw json.RawMessage) (map[string]any, []string, error) {
	props := map[string]any{}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return props, nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, eris.Wrap(err, "read object")
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, eris.Errorf("expected an object, found %v", tok)
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, eris.Wrap(err, "read key")
		}
		k, _ := tok.(string)
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, nil, eris.Wrapf(err, "property %q", k)
		}
		if _, dup := props[k]; !dup {
			keys = append(keys, k)
		}
		props[k] = v
	}
	return props, keys, nil
}

func writeGeoJSON(path string, t *model.AssetTable, cols []Column) error {
	err := atomicfile.WriteFile(path, func(w io.Writer) error {
		return encodeGeoJSON(w, t, cols)
	})
	if err != nil {
		return eris.Wrapf(err, "vector: write %s", path)
	}
	if t.SRS == "" {
		return nil
	}
	prj := srs.SidecarPath(path)
	return atomicfile.WriteFile(prj, func(w io.Writer) error {
		_, err := io.WriteString(w, t.SRS)
		return err
	})
}

func encodeGeoJSON(w io.Writer, t *model.AssetTable, cols []Column) error {
	fc := featureCollection{Type: "FeatureCollection", Features: make([]feature, len(t.Assets))}
	for i := range t.Assets {
		a := &t.Assets[i]
		f := feature{
			Type:       "Feature",
			ID:         json.RawMessage(strconv.Itoa(a.ID)),
			Properties: make(properties, 0, len(cols)),
		}
		if a.Geometry != nil {
			g, err := geojson.Encode(a.Geometry)
			if err != nil {
				return eris.Wrapf(err, "vector: encode geometry of asset %d", a.ID)
			}
			f.Geometry = g
		}
		for _, c := range cols {
			f.Properties = append(f.Properties, property{Name: c.Name, Value: jsonValue(normalize(c.Value(a)))})
		}
		fc.Features[i] = f
	}
	enc := json.NewEncoder(w)
	return eris.Wrap(enc.Encode(fc), "vector: encode geojson")
}

// jsonValue maps values JSON cannot represent to null.
func jsonValue(v any) any {
	if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return nil
	}
	return v
}
