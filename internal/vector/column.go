package vector

import (
	"os"
	"path/filepath"

	"github.com/sells-group/footprint-impact/internal/model"
)

// ColumnType is the storage type of an output column.
type ColumnType int

const (
	TypeText ColumnType = iota
	TypeReal
	TypeInteger
	TypeBoolean
)

// Column is one output attribute. Value returns nil, string, float64, int,
// int64 or bool.
type Column struct {
	Name  string
	Type  ColumnType
	Value func(a *model.Asset) any
}

// AttributeColumns returns columns for the table's original attributes, typed
// from the values present.
func AttributeColumns(t *model.AssetTable) []Column {
	cols := make([]Column, 0, len(t.Fields))
	for _, f := range t.Fields {
		name := f
		cols = append(cols, Column{
			Name: name,
			Type: inferType(t, name),
			Value: func(a *model.Asset) any {
				return a.Attributes[name]
			},
		})
	}
	return cols
}

func inferType(t *model.AssetTable, name string) ColumnType {
	typ, seen := TypeText, false
	for i := range t.Assets {
		var vt ColumnType
		switch t.Assets[i].Attributes[name].(type) {
		case nil:
			continue
		case float64, float32:
			vt = TypeReal
		case int, int64, int32:
			vt = TypeInteger
		case bool:
			vt = TypeBoolean
		default:
			return TypeText
		}
		switch {
		case !seen:
			typ, seen = vt, true
		case typ == vt:
		case (typ == TypeInteger && vt == TypeReal) || (typ == TypeReal && vt == TypeInteger):
			typ = TypeReal
		default:
			return TypeText
		}
	}
	return typ
}

// normalize converts column values to the JSON/SQL friendly set.
func normalize(v any) any {
	switch t := v.(type) {
	case model.NullFloat:
		return t.Any()
	case float32:
		return float64(t)
	case int32:
		return int64(t)
	default:
		return v
	}
}

func checkDir(path string) error {
	info, err := os.Stat(filepath.Dir(path))
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &os.PathError{Op: "stat", Path: filepath.Dir(path), Err: os.ErrInvalid}
	}
	return nil
}
