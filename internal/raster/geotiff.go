package raster

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/image/tiff/lzw"

	"github.com/sells-group/footprint-impact/internal/model"
)

// Baseline and GeoTIFF tags read from the first image file directory.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagPredictor       = 317
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagSampleFormat    = 339
	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagModelTransform  = 34264
	tagGeoKeyDirectory = 34735
	tagGDALNodata      = 42113
)

const (
	compressionNone       = 1
	compressionLZW        = 5
	compressionDeflate    = 8
	compressionDeflateOld = 32946

	sampleUint  = 1
	sampleInt   = 2
	sampleFloat = 3

	keyModelType      = 1024
	keyRasterType     = 1025
	keyGeographicType = 2048
	keyProjectedType  = 3072
	pixelIsPoint      = 2
	userDefinedCode   = 32767
)

// Field type sizes in bytes, indexed by TIFF field type.
var fieldSize = [...]int{0, 1, 1, 2, 4, 8, 1, 1, 2, 4, 8, 4, 8}

const maxFieldBytes = 1 << 28

type field struct {
	nums []float64
	text string
}

type directory map[uint16]field

func (d directory) num(tag uint16, def float64) float64 {
	if f, ok := d[tag]; ok && len(f.nums) > 0 {
		return f.nums[0]
	}
	return def
}

// decodeGeoTIFF reads band 1 of the first image in a classic (non-Big) TIFF.
// The second result is false when the file carries no georeferencing tags.
func decodeGeoTIFF(ra io.ReaderAt, withData bool) (*Raster, bool, error) {
	var hdr [8]byte
	if _, err := ra.ReadAt(hdr[:], 0); err != nil {
		return nil, false, eris.Wrap(err, "read tiff header")
	}
	var order binary.ByteOrder
	switch string(hdr[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, false, eris.New("not a tiff file")
	}
	switch order.Uint16(hdr[2:]) {
	case 42:
	case 43:
		return nil, false, eris.New("BigTIFF is not supported")
	default:
		return nil, false, eris.New("not a tiff file")
	}

	d, err := readDirectory(ra, order, int64(order.Uint32(hdr[4:])))
	if err != nil {
		return nil, false, err
	}

	cols, rows := int(d.num(tagImageWidth, 0)), int(d.num(tagImageLength, 0))
	if cols <= 0 || rows <= 0 {
		return nil, false, eris.Errorf("invalid size %dx%d", cols, rows)
	}
	r := &Raster{Cols: cols, Rows: rows}

	georeferenced, err := d.georeference(r)
	if err != nil {
		return nil, false, err
	}
	r.SRS = d.srs()
	if f, ok := d[tagGDALNodata]; ok {
		text := strings.TrimSpace(strings.TrimRight(f.text, "\x00"))
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, false, eris.Wrapf(err, "GDAL_NODATA %q", text)
		}
		r.Nodata = model.Some(v)
	}

	if withData {
		if err := d.readPixels(ra, order, r); err != nil {
			return nil, false, err
		}
	}
	return r, georeferenced, nil
}

func readDirectory(ra io.ReaderAt, order binary.ByteOrder, offset int64) (directory, error) {
	var n [2]byte
	if _, err := ra.ReadAt(n[:], offset); err != nil {
		return nil, eris.Wrap(err, "read ifd")
	}
	count := int(order.Uint16(n[:]))
	entries := make([]byte, 12*count)
	if _, err := ra.ReadAt(entries, offset+2); err != nil {
		return nil, eris.Wrap(err, "read ifd entries")
	}

	d := make(directory, count)
	for i := 0; i < count; i++ {
		e := entries[12*i : 12*i+12]
		tag, typ, cnt := order.Uint16(e), int(order.Uint16(e[2:])), int(order.Uint32(e[4:]))
		if typ <= 0 || typ >= len(fieldSize) {
			continue
		}
		size := fieldSize[typ] * cnt
		if size < 0 || size > maxFieldBytes {
			return nil, eris.Errorf("tag %d is too large", tag)
		}
		raw := e[8 : 8+min(size, 4)]
		if size > 4 {
			raw = make([]byte, size)
			if _, err := ra.ReadAt(raw, int64(order.Uint32(e[8:]))); err != nil {
				return nil, eris.Wrapf(err, "read tag %d", tag)
			}
		}
		d[tag] = parseField(order, typ, cnt, raw)
	}
	return d, nil
}

func parseField(order binary.ByteOrder, typ, count int, raw []byte) field {
	if typ == 2 {
		return field{text: string(raw)}
	}
	nums := make([]float64, count)
	for i := range nums {
		b := raw[i*fieldSize[typ]:]
		switch typ {
		case 1, 7:
			nums[i] = float64(b[0])
		case 3:
			nums[i] = float64(order.Uint16(b))
		case 4:
			nums[i] = float64(order.Uint32(b))
		case 5:
			nums[i] = float64(order.Uint32(b)) / float64(order.Uint32(b[4:]))
		case 6:
			nums[i] = float64(int8(b[0]))
		case 8:
			nums[i] = float64(int16(order.Uint16(b)))
		case 9:
			nums[i] = float64(int32(order.Uint32(b)))
		case 10:
			nums[i] = float64(int32(order.Uint32(b))) / float64(int32(order.Uint32(b[4:])))
		case 11:
			nums[i] = float64(math.Float32frombits(order.Uint32(b)))
		case 12:
			nums[i] = math.Float64frombits(order.Uint64(b))
		}
	}
	return field{nums: nums}
}

// georeference sets the origin and pixel size from ModelTransformation or
// ModelPixelScale + ModelTiepoint. PixelIsPoint rasters are shifted by half
// a pixel so the origin is the outer corner, as GDAL does.
func (d directory) georeference(r *Raster) (bool, error) {
	if m := d[tagModelTransform].nums; len(m) == 16 {
		if m[1] != 0 || m[4] != 0 {
			return false, eris.New("rotated rasters are not supported")
		}
		r.PixelWidth, r.OriginX = m[0], m[3]
		r.PixelHeight, r.OriginY = m[5], m[7]
	} else {
		scale, tie := d[tagModelPixelScale].nums, d[tagModelTiepoint].nums
		if len(scale) < 2 || len(tie) < 6 {
			return false, nil
		}
		r.PixelWidth, r.PixelHeight = scale[0], -scale[1]
		r.OriginX = tie[3] - tie[0]*r.PixelWidth
		r.OriginY = tie[4] - tie[1]*r.PixelHeight
	}
	if r.PixelWidth <= 0 || r.PixelHeight >= 0 {
		return false, eris.Errorf("pixel size (%g, %g) is not north-up", r.PixelWidth, r.PixelHeight)
	}
	if d.geoKeys()[keyRasterType] == pixelIsPoint {
		r.OriginX -= r.PixelWidth / 2
		r.OriginY -= r.PixelHeight / 2
	}
	return true, nil
}

// geoKeys returns the short-valued keys of the GeoKeyDirectory.
func (d directory) geoKeys() map[int]int {
	dir := d[tagGeoKeyDirectory].nums
	keys := make(map[int]int)
	if len(dir) < 4 {
		return keys
	}
	for i := 0; i < int(dir[3]); i++ {
		base := 4 + 4*i
		if base+3 >= len(dir) {
			break
		}
		if dir[base+1] == 0 {
			keys[int(dir[base])] = int(dir[base+3])
		}
	}
	return keys
}

// srs returns "EPSG:n" for a registered projected or geographic code.
func (d directory) srs() string {
	keys := d.geoKeys()
	for _, k := range []int{keyProjectedType, keyGeographicType} {
		if code := keys[k]; code > 0 && code != userDefinedCode {
			return "EPSG:" + strconv.Itoa(code)
		}
	}
	return ""
}

// chunkLayout describes how pixel data is split into strips or tiles.
type chunkLayout struct {
	width, height int // chunk size in pixels; strips are full width
	across, down  int
	tiled         bool
	offsets       []float64
	counts        []float64
}

func (d directory) layout(r *Raster) (chunkLayout, error) {
	if _, ok := d[tagTileWidth]; ok {
		l := chunkLayout{
			width:   int(d.num(tagTileWidth, 0)),
			height:  int(d.num(tagTileLength, 0)),
			tiled:   true,
			offsets: d[tagTileOffsets].nums,
			counts:  d[tagTileByteCounts].nums,
		}
		if l.width <= 0 || l.height <= 0 {
			return l, eris.New("invalid tile size")
		}
		l.across = (r.Cols + l.width - 1) / l.width
		l.down = (r.Rows + l.height - 1) / l.height
		return l, nil
	}
	l := chunkLayout{
		width:   r.Cols,
		height:  min(int(d.num(tagRowsPerStrip, float64(r.Rows))), r.Rows),
		across:  1,
		offsets: d[tagStripOffsets].nums,
		counts:  d[tagStripByteCounts].nums,
	}
	if l.height <= 0 {
		return l, eris.New("invalid rows per strip")
	}
	l.down = (r.Rows + l.height - 1) / l.height
	return l, nil
}

func (d directory) readPixels(ra io.ReaderAt, order binary.ByteOrder, r *Raster) error {
	bits := int(d.num(tagBitsPerSample, 1))
	format := int(d.num(tagSampleFormat, sampleUint))
	compression := int(d.num(tagCompression, compressionNone))
	predictor := int(d.num(tagPredictor, 1))

	decode, err := sampleDecoder(order, bits, format)
	if err != nil {
		return err
	}
	bps := bits / 8
	if predictor == 2 && format == sampleFloat {
		return eris.New("horizontal predictor on floating point samples")
	}
	if predictor != 1 && predictor != 2 {
		return eris.Errorf("unsupported predictor %d", predictor)
	}

	// Band 1 only: interleaved pixels are strided, planar data uses the
	// first plane's chunks.
	stride := int(d.num(tagSamplesPerPixel, 1))
	if int(d.num(tagPlanarConfig, 1)) == 2 {
		stride = 1
	}

	l, err := d.layout(r)
	if err != nil {
		return err
	}
	chunks := l.across * l.down
	if len(l.offsets) < chunks || len(l.counts) < chunks {
		return eris.Errorf("expected %d data chunks, found %d", chunks, len(l.offsets))
	}

	fill := 0.0
	if r.Nodata.Valid {
		fill = r.Nodata.Value
	}
	r.data = make([]float64, r.Cols*r.Rows)
	for i := 0; i < chunks; i++ {
		tx, ty := i%l.across, i/l.across
		chunkRows := l.height
		if !l.tiled {
			chunkRows = min(l.height, r.Rows-ty*l.height)
		}
		rowBytes := l.width * stride * bps

		// Sparse chunks (zero byte count) read as nodata.
		var raw []byte
		if l.counts[i] > 0 {
			raw, err = readChunk(ra, int64(l.offsets[i]), int(l.counts[i]), compression, chunkRows*rowBytes)
			if err != nil {
				return eris.Wrapf(err, "chunk %d", i)
			}
			if predictor == 2 {
				undoPredictor(raw, order, chunkRows, l.width, stride, bps)
			}
		}

		for cr := 0; cr < chunkRows; cr++ {
			row := ty*l.height + cr
			if row >= r.Rows {
				break
			}
			for cc := 0; cc < l.width; cc++ {
				col := tx*l.width + cc
				if col >= r.Cols {
					break
				}
				v := fill
				if raw != nil {
					v = decode(raw[cr*rowBytes+cc*stride*bps:])
				}
				r.data[row*r.Cols+col] = v
			}
		}
	}
	return nil
}

// readChunk reads and decompresses one strip or tile into exactly want bytes.
func readChunk(ra io.ReaderAt, offset int64, size, compression, want int) ([]byte, error) {
	buf := make([]byte, size)
	if n, err := ra.ReadAt(buf, offset); err != nil && !(err == io.EOF && n == size) {
		return nil, eris.Wrap(err, "read")
	}

	var src io.Reader
	switch compression {
	case compressionNone:
		if len(buf) < want {
			return nil, eris.Errorf("expected %d bytes, found %d", want, len(buf))
		}
		return buf[:want], nil
	case compressionDeflate, compressionDeflateOld:
		zr, err := zlib.NewReader(bytes.NewReader(buf))
		if err != nil {
			return nil, eris.Wrap(err, "deflate")
		}
		defer zr.Close() //nolint:errcheck
		src = zr
	case compressionLZW:
		lr := lzw.NewReader(bytes.NewReader(buf), lzw.MSB, 8)
		defer lr.Close() //nolint:errcheck
		src = lr
	default:
		return nil, eris.Errorf("unsupported compression %d", compression)
	}

	out := make([]byte, want)
	if _, err := io.ReadFull(src, out); err != nil {
		return nil, eris.Wrap(err, "decompress")
	}
	return out, nil
}

// undoPredictor reverses horizontal differencing in place.
func undoPredictor(raw []byte, order binary.ByteOrder, rows, cols, stride, bps int) {
	rowLen := cols * stride * bps
	for row := 0; row < rows; row++ {
		line := raw[row*rowLen : (row+1)*rowLen]
		for i := stride; i < cols*stride; i++ {
			a, b := line[i*bps:], line[(i-stride)*bps:]
			switch bps {
			case 1:
				a[0] += b[0]
			case 2:
				order.PutUint16(a, order.Uint16(a)+order.Uint16(b))
			case 4:
				order.PutUint32(a, order.Uint32(a)+order.Uint32(b))
			case 8:
				order.PutUint64(a, order.Uint64(a)+order.Uint64(b))
			}
		}
	}
}

func sampleDecoder(order binary.ByteOrder, bits, format int) (func([]byte) float64, error) {
	switch {
	case format == sampleFloat && bits == 32:
		return func(b []byte) float64 { return float64(math.Float32frombits(order.Uint32(b))) }, nil
	case format == sampleFloat && bits == 64:
		return func(b []byte) float64 { return math.Float64frombits(order.Uint64(b)) }, nil
	case format == sampleInt && bits == 8:
		return func(b []byte) float64 { return float64(int8(b[0])) }, nil
	case format == sampleInt && bits == 16:
		return func(b []byte) float64 { return float64(int16(order.Uint16(b))) }, nil
	case format == sampleInt && bits == 32:
		return func(b []byte) float64 { return float64(int32(order.Uint32(b))) }, nil
	case format == sampleInt && bits == 64:
		return func(b []byte) float64 { return float64(int64(order.Uint64(b))) }, nil
	case format != sampleFloat && format != sampleInt && bits == 8:
		return func(b []byte) float64 { return float64(b[0]) }, nil
	case format != sampleFloat && format != sampleInt && bits == 16:
		return func(b []byte) float64 { return float64(order.Uint16(b)) }, nil
	case format != sampleFloat && format != sampleInt && bits == 32:
		return func(b []byte) float64 { return float64(order.Uint32(b)) }, nil
	case format != sampleFloat && format != sampleInt && bits == 64:
		return func(b []byte) float64 { return float64(order.Uint64(b)) }, nil
	}
	return nil, eris.Errorf("unsupported sample type: %d bits, format %d", bits, format)
}

// applyWorldFile georeferences r from a .tfw, .tifw or .wld sidecar.
func applyWorldFile(r *Raster, path string) error {
	base := strings.TrimSuffix(path, filepath.Ext(path))
	for _, ext := range []string{".tfw", ".tifw", ".wld"} {
		data, err := os.ReadFile(base + ext)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return eris.Wrapf(err, "raster: read world file for %s", path)
		}
		fields := strings.Fields(string(data))
		if len(fields) < 6 {
			return eris.Errorf("raster: world file %s needs 6 values", base+ext)
		}
		var v [6]float64
		for i := range v {
			if v[i], err = strconv.ParseFloat(fields[i], 64); err != nil {
				return eris.Wrapf(err, "raster: world file %s", base+ext)
			}
		}
		if v[1] != 0 || v[2] != 0 {
			return eris.Errorf("raster: %s is rotated", base+ext)
		}
		if v[0] <= 0 || v[3] >= 0 {
			return eris.Errorf("raster: %s pixel size (%g, %g) is not north-up", base+ext, v[0], v[3])
		}
		// World files locate the centre of the top-left pixel.
		r.PixelWidth, r.PixelHeight = v[0], v[3]
		r.OriginX, r.OriginY = v[4]-v[0]/2, v[5]-v[3]/2
		return nil
	}
	return eris.Errorf("raster: %s has no georeferencing (GeoTIFF tags or world file)", path)
}
