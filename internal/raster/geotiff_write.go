package raster

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"math"
	"os"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/footprint-impact/internal/srs"
)

// tiffOptions controls the physical layout of a written GeoTIFF.
type tiffOptions struct {
	// TileSize > 0 writes square tiles instead of one strip per row block.
	TileSize int
	Deflate  bool
	Float32  bool
}

type tiffEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

func writeGeoTIFF(path string, r *Raster) error {
	b, err := encodeGeoTIFF(r, tiffOptions{})
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return eris.Wrapf(err, "raster: write %s", path)
	}
	// WKT definitions have no GeoKey form.
	if r.SRS != "" && srs.EPSG(r.SRS) == "" {
		if err := os.WriteFile(srs.SidecarPath(path), []byte(r.SRS), 0o644); err != nil {
			return eris.Wrap(err, "raster: write prj")
		}
	}
	return nil
}

// encodeGeoTIFF builds a little-endian single-band GeoTIFF with
// ModelPixelScale/ModelTiepoint georeferencing, GeoKeys for EPSG
// definitions and GDAL_NODATA.
func encodeGeoTIFF(r *Raster, opts tiffOptions) ([]byte, error) {
	le := binary.LittleEndian
	bps := 8
	if opts.Float32 {
		bps = 4
	}

	cw, ch := r.Cols, r.Rows
	if opts.TileSize > 0 {
		cw, ch = opts.TileSize, opts.TileSize
	}
	across, down := (r.Cols+cw-1)/cw, (r.Rows+ch-1)/ch

	out := bytes.NewBuffer(make([]byte, 8))
	var offsets, counts []uint32
	for ty := 0; ty < down; ty++ {
		for tx := 0; tx < across; tx++ {
			rows := ch
			if opts.TileSize == 0 {
				rows = min(ch, r.Rows-ty*ch)
			}
			chunk := make([]byte, 0, rows*cw*bps)
			for cr := 0; cr < rows; cr++ {
				for cc := 0; cc < cw; cc++ {
					row, col := ty*ch+cr, tx*cw+cc
					v := 0.0
					if row < r.Rows && col < r.Cols {
						v = r.data[row*r.Cols+col]
					}
					if opts.Float32 {
						chunk = le.AppendUint32(chunk, math.Float32bits(float32(v)))
					} else {
						chunk = le.AppendUint64(chunk, math.Float64bits(v))
					}
				}
			}
			if opts.Deflate {
				var z bytes.Buffer
				zw := zlib.NewWriter(&z)
				if _, err := zw.Write(chunk); err != nil {
					return nil, eris.Wrap(err, "raster: deflate")
				}
				if err := zw.Close(); err != nil {
					return nil, eris.Wrap(err, "raster: deflate")
				}
				chunk = z.Bytes()
			}
			offsets = append(offsets, uint32(out.Len()))
			counts = append(counts, uint32(len(chunk)))
			out.Write(chunk)
			if out.Len()%2 == 1 {
				out.WriteByte(0)
			}
		}
	}

	compression := uint16(compressionNone)
	if opts.Deflate {
		compression = compressionDeflate
	}
	entries := []tiffEntry{
		longEntry(tagImageWidth, uint32(r.Cols)),
		longEntry(tagImageLength, uint32(r.Rows)),
		shortEntry(tagBitsPerSample, uint16(bps*8)),
		shortEntry(tagCompression, compression),
		shortEntry(tagPhotometric, 1),
		shortEntry(tagSamplesPerPixel, 1),
		shortEntry(tagPlanarConfig, 1),
		shortEntry(tagSampleFormat, sampleFloat),
		doubleEntry(tagModelPixelScale, r.PixelWidth, -r.PixelHeight, 0),
		doubleEntry(tagModelTiepoint, 0, 0, 0, r.OriginX, r.OriginY, 0),
	}
	if opts.TileSize > 0 {
		entries = append(entries,
			longEntry(tagTileWidth, uint32(cw)),
			longEntry(tagTileLength, uint32(ch)),
			longEntry(tagTileOffsets, offsets...),
			longEntry(tagTileByteCounts, counts...),
		)
	} else {
		entries = append(entries,
			longEntry(tagRowsPerStrip, uint32(ch)),
			longEntry(tagStripOffsets, offsets...),
			longEntry(tagStripByteCounts, counts...),
		)
	}
	if keys := geoKeyDirectory(r.SRS); keys != nil {
		entries = append(entries, shortEntry(tagGeoKeyDirectory, keys...))
	}
	if r.Nodata.Valid {
		text := strconv.FormatFloat(r.Nodata.Value, 'g', -1, 64) + "\x00"
		entries = append(entries, tiffEntry{tag: tagGDALNodata, typ: 2, count: uint32(len(text)), data: []byte(text)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	// Out-of-line values follow the pixel data, then the directory.
	for i := range entries {
		if len(entries[i].data) <= 4 {
			continue
		}
		off := uint32(out.Len())
		out.Write(entries[i].data)
		if out.Len()%2 == 1 {
			out.WriteByte(0)
		}
		entries[i].data = le.AppendUint32(nil, off)
	}

	ifd := uint32(out.Len())
	out.Write(le.AppendUint16(nil, uint16(len(entries))))
	for _, e := range entries {
		var rec [12]byte
		le.PutUint16(rec[0:], e.tag)
		le.PutUint16(rec[2:], e.typ)
		le.PutUint32(rec[4:], e.count)
		copy(rec[8:], e.data)
		out.Write(rec[:])
	}
	out.Write(make([]byte, 4))

	b := out.Bytes()
	copy(b, "II")
	le.PutUint16(b[2:], 42)
	le.PutUint32(b[4:], ifd)
	return b, nil
}

// geoKeyDirectory encodes an EPSG definition as GeoKeys, nil otherwise.
func geoKeyDirectory(def string) []uint16 {
	code, err := strconv.Atoi(srs.EPSG(def))
	if err != nil || code <= 0 || code >= userDefinedCode {
		return nil
	}
	modelType, key := uint16(1), uint16(keyProjectedType)
	if srs.IsGeographic(def) {
		modelType, key = 2, keyGeographicType
	}
	return []uint16{
		1, 1, 0, 3,
		keyModelType, 0, 1, modelType,
		keyRasterType, 0, 1, 1,
		key, 0, 1, uint16(code),
	}
}

func shortEntry(tag uint16, vals ...uint16) tiffEntry {
	var data []byte
	for _, v := range vals {
		data = binary.LittleEndian.AppendUint16(data, v)
	}
	return tiffEntry{tag: tag, typ: 3, count: uint32(len(vals)), data: data}
}

func longEntry(tag uint16, vals ...uint32) tiffEntry {
	var data []byte
	for _, v := range vals {
		data = binary.LittleEndian.AppendUint32(data, v)
	}
	return tiffEntry{tag: tag, typ: 4, count: uint32(len(vals)), data: data}
}

func doubleEntry(tag uint16, vals ...float64) tiffEntry {
	var data []byte
	for _, v := range vals {
		data = binary.LittleEndian.AppendUint64(data, math.Float64bits(v))
	}
	return tiffEntry{tag: tag, typ: 12, count: uint32(len(vals)), data: data}
}
