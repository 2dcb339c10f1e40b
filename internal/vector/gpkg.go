package vector

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	_ "modernc.org/sqlite"

	"github.com/sells-group/footprint-impact/internal/atomicfile"
	"github.com/sells-group/footprint-impact/internal/model"
	"github.com/sells-group/footprint-impact/internal/srs"
)

// LayerName is the feature table written to GeoPackage outputs.
const LayerName = "footprints"

const (
	gpkgApplicationID = 0x47504B47 // "GPKG"
	gpkgUserVersion   = 10200
	customSRSID       = 100000
)

const gpkgSchema = `
CREATE TABLE gpkg_spatial_ref_sys (
	srs_name                 TEXT NOT NULL,
	srs_id                   INTEGER PRIMARY KEY,
	organization             TEXT NOT NULL,
	organization_coordsys_id INTEGER NOT NULL,
	definition               TEXT NOT NULL,
	description              TEXT
);

CREATE TABLE gpkg_contents (
	table_name  TEXT NOT NULL PRIMARY KEY,
	data_type   TEXT NOT NULL,
	identifier  TEXT UNIQUE,
	description TEXT DEFAULT '',
	last_change DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	min_x       DOUBLE,
	min_y       DOUBLE,
	max_x       DOUBLE,
	max_y       DOUBLE,
	srs_id      INTEGER REFERENCES gpkg_spatial_ref_sys(srs_id)
);

CREATE TABLE gpkg_geometry_columns (
	table_name         TEXT NOT NULL,
	column_name        TEXT NOT NULL,
	geometry_type_name TEXT NOT NULL,
	srs_id             INTEGER NOT NULL,
	z                  TINYINT NOT NULL,
	m                  TINYINT NOT NULL,
	CONSTRAINT pk_geom_cols PRIMARY KEY (table_name, column_name)
);

INSERT INTO gpkg_spatial_ref_sys VALUES
	('Undefined cartesian SRS', -1, 'NONE', -1, 'undefined', 'undefined cartesian coordinate reference system'),
	('Undefined geographic SRS', 0, 'NONE', 0, 'undefined', 'undefined geographic coordinate reference system');
`

func writeGeoPackage(path string, t *model.AssetTable, cols []Column) error {
	err := atomicfile.WritePath(path, func(tmp string) error {
		return buildGeoPackage(context.Background(), tmp, t, cols)
	})
	return eris.Wrapf(err, "vector: write geopackage %s", path)
}

func buildGeoPackage(ctx context.Context, path string, t *model.AssetTable, cols []Column) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return eris.Wrap(err, "gpkg: open")
	}
	defer db.Close() //nolint:errcheck
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		fmt.Sprintf("PRAGMA application_id = %d", gpkgApplicationID),
		fmt.Sprintf("PRAGMA user_version = %d", gpkgUserVersion),
		gpkgSchema,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return eris.Wrap(err, "gpkg: create schema")
		}
	}

	srsID, err := insertSRS(ctx, db, t.SRS)
	if err != nil {
		return err
	}

	defs := []string{"fid INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL", "geom " + gpkgGeometryType(t)}
	names := []string{"fid", "geom"}
	for _, c := range cols {
		defs = append(defs, quoteIdent(c.Name)+" "+sqlType(c.Type))
		names = append(names, quoteIdent(c.Name))
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(LayerName), strings.Join(defs, ", "))); err != nil {
		return eris.Wrap(err, "gpkg: create feature table")
	}

	minX, minY, maxX, maxY := extent(t)
	if _, err := db.ExecContext(ctx,
		`INSERT INTO gpkg_contents (table_name, data_type, identifier, min_x, min_y, max_x, max_y, srs_id) VALUES (?, 'features', ?, ?, ?, ?, ?, ?)`,
		LayerName, LayerName, minX, minY, maxX, maxY, srsID); err != nil {
		return eris.Wrap(err, "gpkg: register contents")
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO gpkg_geometry_columns VALUES (?, 'geom', ?, ?, 0, 0)`,
		LayerName, gpkgGeometryType(t), srsID); err != nil {
		return eris.Wrap(err, "gpkg: register geometry column")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "gpkg: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(LayerName), strings.Join(names, ", "), placeholders))
	if err != nil {
		return eris.Wrap(err, "gpkg: prepare insert")
	}
	defer stmt.Close() //nolint:errcheck

	for i := range t.Assets {
		a := &t.Assets[i]
		blob, err := encodeGPKGGeometry(a.Geometry, srsID)
		if err != nil {
			return eris.Wrapf(err, "gpkg: encode asset %d", a.ID)
		}
		args := []any{a.ID + 1, blob}
		for _, c := range cols {
			args = append(args, sqlValue(normalize(c.Value(a))))
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return eris.Wrapf(err, "gpkg: insert asset %d", a.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "gpkg: commit")
}

// insertSRS registers the table's spatial reference and returns its srs_id.
func insertSRS(ctx context.Context, db *sql.DB, def string) (int, error) {
	if def == "" {
		return -1, nil
	}
	id, org, name := customSRSID, "NONE", "custom"
	if code := srs.EPSG(def); code != "" {
		n, err := strconv.Atoi(code)
		if err == nil {
			id, org, name = n, "EPSG", "EPSG:"+code
		}
	}
	definition := def
	if strings.HasPrefix(strings.ToUpper(def), "EPSG:") || strings.HasPrefix(strings.ToLower(def), "urn:") {
		definition = "undefined"
	}
	_, err := db.ExecContext(ctx,
		`INSERT OR REPLACE INTO gpkg_spatial_ref_sys VALUES (?, ?, ?, ?, ?, NULL)`,
		name, id, org, id, definition)
	return id, eris.Wrap(err, "gpkg: register srs")
}

func readGeoPackage(path string) (*model.AssetTable, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, eris.Wrapf(err, "vector: open geopackage %s", path)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrapf(err, "vector: open geopackage %s", path)
	}
	defer db.Close() //nolint:errcheck

	ctx := context.Background()
	var table, geomCol string
	var srsID int
	err = db.QueryRowContext(ctx,
		`SELECT table_name, column_name, srs_id FROM gpkg_geometry_columns ORDER BY table_name = ? DESC, table_name LIMIT 1`,
		LayerName).Scan(&table, &geomCol, &srsID)
	if err != nil {
		return nil, eris.Wrapf(err, "vector: %s has no feature table", path)
	}

	t := &model.AssetTable{}
	t.SRS, err = readSRS(ctx, db, srsID)
	if err != nil {
		return nil, err
	}

	pk, attrs, err := tableColumns(ctx, db, table, geomCol)
	if err != nil {
		return nil, err
	}
	t.Fields = attrs

	sel := append([]string{quoteIdent(geomCol)}, quoteAll(attrs)...)
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(sel, ", "), quoteIdent(table))
	if pk != "" {
		query += " ORDER BY " + quoteIdent(pk)
	}
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrapf(err, "vector: query %s", table)
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		vals := make([]any, len(sel))
		ptrs := make([]any, len(sel))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, eris.Wrap(err, "vector: scan geopackage row")
		}
		a := model.Asset{Attributes: make(map[string]any, len(attrs))}
		if blob, ok := vals[0].([]byte); ok && len(blob) > 0 {
			g, err := decodeGPKGGeometry(blob)
			if err != nil {
				return nil, eris.Wrapf(err, "vector: decode geometry of row %d", len(t.Assets))
			}
			a.Geometry = g
		}
		for i, name := range attrs {
			v := vals[i+1]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			a.Attributes[name] = v
		}
		t.Assets = append(t.Assets, a)
	}
	return t, eris.Wrap(rows.Err(), "vector: iterate geopackage rows")
}

func readSRS(ctx context.Context, db *sql.DB, id int) (string, error) {
	var org, def string
	var code int
	err := db.QueryRowContext(ctx,
		`SELECT organization, organization_coordsys_id, definition FROM gpkg_spatial_ref_sys WHERE srs_id = ?`, id).
		Scan(&org, &code, &def)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrap(err, "vector: read geopackage srs")
	}
	if strings.EqualFold(org, "EPSG") {
		return fmt.Sprintf("EPSG:%d", code), nil
	}
	if def == "undefined" {
		return "", nil
	}
	return def, nil
}

func tableColumns(ctx context.Context, db *sql.DB, table, geomCol string) (pk string, attrs []string, err error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return "", nil, eris.Wrapf(err, "vector: describe %s", table)
	}
	defer rows.Close() //nolint:errcheck
	for rows.Next() {
		var (
			cid, notNull, isPK int
			name, typ          string
			dflt               sql.NullString
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &isPK); err != nil {
			return "", nil, eris.Wrap(err, "vector: scan table_info")
		}
		switch {
		case isPK > 0 && pk == "":
			pk = name
		case strings.EqualFold(name, geomCol):
		default:
			attrs = append(attrs, name)
		}
	}
	return pk, attrs, eris.Wrap(rows.Err(), "vector: iterate table_info")
}

// encodeGPKGGeometry wraps standard WKB in a GeoPackage binary header
// (little-endian, no envelope).
func encodeGPKGGeometry(g geom.T, srsID int) ([]byte, error) {
	if g == nil {
		return nil, nil
	}
	body, err := wkb.Marshal(g, wkb.NDR)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 8, 8+len(body))
	buf[0], buf[1], buf[2], buf[3] = 'G', 'P', 0, 0x01
	binary.LittleEndian.PutUint32(buf[4:], uint32(int32(srsID)))
	return append(buf, body...), nil
}

func decodeGPKGGeometry(b []byte) (geom.T, error) {
	if len(b) < 8 || b[0] != 'G' || b[1] != 'P' {
		return nil, eris.New("not a GeoPackage geometry blob")
	}
	var envelope int
	switch (b[3] >> 1) & 0x07 {
	case 0:
	case 1:
		envelope = 32
	case 2, 3:
		envelope = 48
	case 4:
		envelope = 64
	default:
		return nil, eris.New("invalid GeoPackage envelope indicator")
	}
	if len(b) < 8+envelope {
		return nil, eris.New("truncated GeoPackage geometry blob")
	}
	return wkb.Unmarshal(b[8+envelope:])
}

func gpkgGeometryType(t *model.AssetTable) string {
	typ := ""
	for i := range t.Assets {
		gt := model.GeometryType(t.Assets[i].Geometry)
		if gt == "None" {
			continue
		}
		switch {
		case typ == "":
			typ = gt
		case typ != gt:
			return "GEOMETRY"
		}
	}
	if typ == "" {
		return "GEOMETRY"
	}
	return strings.ToUpper(typ)
}

func extent(t *model.AssetTable) (minX, minY, maxX, maxY any) {
	var b *geom.Bounds
	for i := range t.Assets {
		g := t.Assets[i].Geometry
		if g == nil {
			continue
		}
		if b == nil {
			b = geom.NewBounds(geom.XY)
		}
		b.Extend(g)
	}
	if b == nil || b.IsEmpty() {
		return nil, nil, nil, nil
	}
	return b.Min(0), b.Min(1), b.Max(0), b.Max(1)
}

func sqlType(t ColumnType) string {
	switch t {
	case TypeReal:
		return "REAL"
	case TypeInteger:
		return "INTEGER"
	case TypeBoolean:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

func sqlValue(v any) any {
	switch t := v.(type) {
	case bool:
		if t {
			return 1
		}
		return 0
	case int:
		return int64(t)
	default:
		return v
	}
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = quoteIdent(n)
	}
	return out
}
