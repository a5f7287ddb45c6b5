package table

import (
	"encoding/binary"
	"math"

	"github.com/yinglichina8848/sqlcc-sub002/storage/errs"
)

// ColumnType is a column's storage type tag.
type ColumnType int

const (
	ColInteger ColumnType = iota
	ColBigInt
	ColFloat
	ColDouble
	ColVarchar
	ColText
	ColBoolean
)

// FixedWidth reports whether t occupies a constant number of bytes per
// value, and if so, how many.
func (t ColumnType) FixedWidth() (size int, fixed bool) {
	switch t {
	case ColInteger:
		return 4, true
	case ColBigInt:
		return 8, true
	case ColFloat:
		return 4, true
	case ColDouble:
		return 8, true
	case ColBoolean:
		return 1, true
	default: // ColVarchar, ColText
		return 0, false
	}
}

// ColumnDef describes one column of a table's schema.
type ColumnDef struct {
	Name     string
	Type     ColumnType
	Nullable bool
	Default  any
	MaxLen   int // VARCHAR(n) bound; 0 = unbounded (TEXT)
}

// Schema is the ordered list of a table's columns. FixedWidth is true only
// when every column is fixed-width; the record codec does not consult it
// and encodes every schema the same way.
type Schema struct {
	Columns    []ColumnDef
	FixedWidth bool
}

// NewSchema builds a Schema from columns, computing the FixedWidth flag.
func NewSchema(columns []ColumnDef) Schema {
	fixed := true
	for _, c := range columns {
		if _, ok := c.Type.FixedWidth(); !ok {
			fixed = false
			break
		}
	}
	return Schema{Columns: columns, FixedWidth: fixed}
}

// ColumnIndex returns the position of name in the schema, or -1.
func (s Schema) ColumnIndex(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

const (
	nullMarkerNull    byte = 0
	nullMarkerPresent byte = 1
)

// EncodeRecord serializes values (one per schema column, in order) per
// spec §4.4: for nullable columns a leading null marker byte, then for
// fixed-width types the raw value, for variable-width types a
// length-prefixed byte sequence.
func EncodeRecord(schema Schema, values []any) ([]byte, error) {
	const op = "table.EncodeRecord"
	if len(values) != len(schema.Columns) {
		return nil, errs.New(errs.InvalidArgument, op, "value count does not match schema")
	}
	var buf []byte
	for i, col := range schema.Columns {
		v := values[i]
		if col.Nullable {
			if v == nil {
				buf = append(buf, nullMarkerNull)
				continue
			}
			buf = append(buf, nullMarkerPresent)
		} else if v == nil {
			return nil, errs.New(errs.InvalidArgument, op, "null value for non-nullable column "+col.Name)
		}
		enc, err := encodeValue(col, v)
		if err != nil {
			return nil, err
		}
		buf = append(buf, enc...)
	}
	return buf, nil
}

func encodeValue(col ColumnDef, v any) ([]byte, error) {
	const op = "table.encodeValue"
	switch col.Type {
	case ColInteger:
		n, err := asInt64(v)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 4)
		binary.LittleEndian.PutUint32(out, uint32(int32(n)))
		return out, nil
	case ColBigInt:
		n, err := asInt64(v)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 8)
		binary.LittleEndian.PutUint64(out, uint64(n))
		return out, nil
	case ColFloat:
		f, err := asFloat64(v)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 4)
		binary.LittleEndian.PutUint32(out, math.Float32bits(float32(f)))
		return out, nil
	case ColDouble:
		f, err := asFloat64(v)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 8)
		binary.LittleEndian.PutUint64(out, math.Float64bits(f))
		return out, nil
	case ColBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, errs.New(errs.InvalidArgument, op, "expected bool for column "+col.Name)
		}
		if b {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case ColVarchar, ColText:
		s, ok := v.(string)
		if !ok {
			b, ok2 := v.([]byte)
			if !ok2 {
				return nil, errs.New(errs.InvalidArgument, op, "expected string for column "+col.Name)
			}
			s = string(b)
		}
		out := make([]byte, 4+len(s))
		binary.LittleEndian.PutUint32(out, uint32(len(s)))
		copy(out[4:], s)
		return out, nil
	default:
		return nil, errs.New(errs.InvalidArgument, op, "unknown column type")
	}
}

func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	default:
		return 0, errs.New(errs.InvalidArgument, "table.asInt64", "expected integer value")
	}
}

func asFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	default:
		return 0, errs.New(errs.InvalidArgument, "table.asFloat64", "expected float value")
	}
}

// DecodeRecord is the inverse of EncodeRecord.
func DecodeRecord(schema Schema, buf []byte) ([]any, error) {
	const op = "table.DecodeRecord"
	values := make([]any, len(schema.Columns))
	off := 0
	for i, col := range schema.Columns {
		if col.Nullable {
			if off >= len(buf) {
				return nil, errs.New(errs.CorruptPage, op, "record truncated at null marker")
			}
			marker := buf[off]
			off++
			if marker == nullMarkerNull {
				values[i] = nil
				continue
			}
		}
		v, n, err := decodeValue(col, buf[off:])
		if err != nil {
			return nil, err
		}
		values[i] = v
		off += n
	}
	return values, nil
}

func decodeValue(col ColumnDef, buf []byte) (any, int, error) {
	const op = "table.decodeValue"
	switch col.Type {
	case ColInteger:
		if len(buf) < 4 {
			return nil, 0, errs.New(errs.CorruptPage, op, "record truncated")
		}
		return int32(binary.LittleEndian.Uint32(buf)), 4, nil
	case ColBigInt:
		if len(buf) < 8 {
			return nil, 0, errs.New(errs.CorruptPage, op, "record truncated")
		}
		return int64(binary.LittleEndian.Uint64(buf)), 8, nil
	case ColFloat:
		if len(buf) < 4 {
			return nil, 0, errs.New(errs.CorruptPage, op, "record truncated")
		}
		return math.Float32frombits(binary.LittleEndian.Uint32(buf)), 4, nil
	case ColDouble:
		if len(buf) < 8 {
			return nil, 0, errs.New(errs.CorruptPage, op, "record truncated")
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(buf)), 8, nil
	case ColBoolean:
		if len(buf) < 1 {
			return nil, 0, errs.New(errs.CorruptPage, op, "record truncated")
		}
		return buf[0] != 0, 1, nil
	case ColVarchar, ColText:
		if len(buf) < 4 {
			return nil, 0, errs.New(errs.CorruptPage, op, "record truncated")
		}
		n := int(binary.LittleEndian.Uint32(buf))
		if len(buf) < 4+n {
			return nil, 0, errs.New(errs.CorruptPage, op, "record truncated")
		}
		return string(buf[4 : 4+n]), 4 + n, nil
	default:
		return nil, 0, errs.New(errs.InvalidArgument, op, "unknown column type")
	}
}
