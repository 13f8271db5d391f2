package schema

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/nebula-stream/node-engine/api"
	"github.com/nebula-stream/node-engine/nebulaerrors"
)

// View is a typed accessor over one buffer's fixed-size tuple region,
// indexing tuple i's field f at Offset(f) + i*Size(). Variable-sized
// fields store a 32-bit offset into the buffer's child region, where a
// u32 length prefix precedes the value's bytes (see VarSized).
type View struct {
	Schema *Schema
	Buf    api.Buffer
}

// NewView binds a Schema to a leased buffer.
func NewView(s *Schema, buf api.Buffer) View {
	return View{Schema: s, Buf: buf}
}

func (v View) tupleOffset(tuple int) int {
	return tuple * v.Schema.Size()
}

func (v View) fieldOffset(tuple, field int) (int, error) {
	if field < 0 || field >= len(v.Schema.Fields) {
		return 0, nebulaerrors.New(nebulaerrors.CodeInvalidArgument, nebulaerrors.ErrInvalidArgument,
			"field index out of range").WithContext("field", field)
	}
	off := v.tupleOffset(tuple) + v.Schema.Offset(field)
	data := v.Buf.Bytes()
	width := v.Schema.Fields[field].Width()
	if off < 0 || off+width > len(data) {
		return 0, nebulaerrors.New(nebulaerrors.CodeInvalidArgument, nebulaerrors.ErrInvalidArgument,
			"tuple/field offset exceeds buffer size").WithContext("tuple", tuple).WithContext("field", field)
	}
	return off, nil
}

// Int64 reads an integer field (of any signed/unsigned integer width)
// widened to int64.
func (v View) Int64(tuple, field int) (int64, error) {
	off, err := v.fieldOffset(tuple, field)
	if err != nil {
		return 0, err
	}
	data := v.Buf.Bytes()
	f := v.Schema.Fields[field]
	switch f.Type {
	case api.TypeInt8:
		return int64(int8(data[off])), nil
	case api.TypeUint8:
		return int64(data[off]), nil
	case api.TypeInt16:
		return int64(int16(binary.LittleEndian.Uint16(data[off:]))), nil
	case api.TypeUint16:
		return int64(binary.LittleEndian.Uint16(data[off:])), nil
	case api.TypeInt32:
		return int64(int32(binary.LittleEndian.Uint32(data[off:]))), nil
	case api.TypeUint32:
		return int64(binary.LittleEndian.Uint32(data[off:])), nil
	case api.TypeInt64:
		return int64(binary.LittleEndian.Uint64(data[off:])), nil
	case api.TypeUint64:
		return int64(binary.LittleEndian.Uint64(data[off:])), nil
	default:
		return 0, nebulaerrors.New(nebulaerrors.CodeInvalidArgument, nebulaerrors.ErrInvalidArgument,
			"field is not an integer type").WithContext("type", f.Type.String())
	}
}

// SetInt64 writes an integer field, narrowing to the field's declared
// width.
func (v View) SetInt64(tuple, field int, value int64) error {
	off, err := v.fieldOffset(tuple, field)
	if err != nil {
		return err
	}
	data := v.Buf.Bytes()
	switch v.Schema.Fields[field].Type {
	case api.TypeInt8, api.TypeUint8:
		data[off] = byte(value)
	case api.TypeInt16, api.TypeUint16:
		binary.LittleEndian.PutUint16(data[off:], uint16(value))
	case api.TypeInt32, api.TypeUint32:
		binary.LittleEndian.PutUint32(data[off:], uint32(value))
	case api.TypeInt64, api.TypeUint64:
		binary.LittleEndian.PutUint64(data[off:], uint64(value))
	default:
		return nebulaerrors.New(nebulaerrors.CodeInvalidArgument, nebulaerrors.ErrInvalidArgument,
			"field is not an integer type")
	}
	return nil
}

// Float64 reads a float32/float64 field widened to float64.
func (v View) Float64(tuple, field int) (float64, error) {
	off, err := v.fieldOffset(tuple, field)
	if err != nil {
		return 0, err
	}
	data := v.Buf.Bytes()
	switch v.Schema.Fields[field].Type {
	case api.TypeFloat32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))), nil
	case api.TypeFloat64:
		return math.Float64frombits(binary.LittleEndian.Uint64(data[off:])), nil
	default:
		return 0, nebulaerrors.New(nebulaerrors.CodeInvalidArgument, nebulaerrors.ErrInvalidArgument,
			"field is not a float type")
	}
}

// SetFloat64 writes a float32/float64 field, narrowing as declared.
func (v View) SetFloat64(tuple, field int, value float64) error {
	off, err := v.fieldOffset(tuple, field)
	if err != nil {
		return err
	}
	data := v.Buf.Bytes()
	switch v.Schema.Fields[field].Type {
	case api.TypeFloat32:
		binary.LittleEndian.PutUint32(data[off:], math.Float32bits(float32(value)))
	case api.TypeFloat64:
		binary.LittleEndian.PutUint64(data[off:], math.Float64bits(value))
	default:
		return nebulaerrors.New(nebulaerrors.CodeInvalidArgument, nebulaerrors.ErrInvalidArgument,
			"field is not a float type")
	}
	return nil
}

// Bool reads a boolean field.
func (v View) Bool(tuple, field int) (bool, error) {
	off, err := v.fieldOffset(tuple, field)
	if err != nil {
		return false, err
	}
	return v.Buf.Bytes()[off] != 0, nil
}

// SetBool writes a boolean field.
func (v View) SetBool(tuple, field int, value bool) error {
	off, err := v.fieldOffset(tuple, field)
	if err != nil {
		return err
	}
	if value {
		v.Buf.Bytes()[off] = 1
	} else {
		v.Buf.Bytes()[off] = 0
	}
	return nil
}

// VarSized reads a variable-sized field's bytes out of the buffer's
// child region, following the 32-bit offset slot stored in the fixed
// region. The child-region layout is [u32 length][payload...] at the
// stored offset.
func (v View) VarSized(tuple, field int) ([]byte, error) {
	off, err := v.fieldOffset(tuple, field)
	if err != nil {
		return nil, err
	}
	if v.Schema.Fields[field].Type != api.TypeVarSized {
		return nil, nebulaerrors.New(nebulaerrors.CodeInvalidArgument, nebulaerrors.ErrInvalidArgument,
			"field is not variable-sized")
	}
	childOffset := binary.LittleEndian.Uint32(v.Buf.Bytes()[off:])
	child := v.Buf.ChildRegion()
	if int(childOffset)+4 > len(child) {
		return nil, nebulaerrors.New(nebulaerrors.CodeInvalidArgument, nebulaerrors.ErrInvalidArgument,
			"child region offset out of range")
	}
	length := binary.LittleEndian.Uint32(child[childOffset:])
	start := int(childOffset) + 4
	end := start + int(length)
	if end > len(child) {
		return nil, nebulaerrors.New(nebulaerrors.CodeInvalidArgument, nebulaerrors.ErrInvalidArgument,
			"child region payload out of range")
	}
	return child[start:end], nil
}

// String renders a field's value as a string, regardless of type, for
// use by the text sink and diagnostics.
func (v View) String(tuple, field int) (string, error) {
	if field < 0 || field >= len(v.Schema.Fields) {
		return "", nebulaerrors.New(nebulaerrors.CodeInvalidArgument, nebulaerrors.ErrInvalidArgument,
			"field index out of range")
	}
	f := v.Schema.Fields[field]
	switch f.Type {
	case api.TypeFloat32, api.TypeFloat64:
		val, err := v.Float64(tuple, field)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%g", val), nil
	case api.TypeBool:
		val, err := v.Bool(tuple, field)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%t", val), nil
	case api.TypeVarSized:
		b, err := v.VarSized(tuple, field)
		if err != nil {
			return "", err
		}
		return string(b), nil
	case api.TypeChar:
		off, err := v.fieldOffset(tuple, field)
		if err != nil {
			return "", err
		}
		raw := v.Buf.Bytes()[off : off+f.CharLength]
		n := len(raw)
		for n > 0 && raw[n-1] == 0 {
			n--
		}
		return string(raw[:n]), nil
	default:
		val, err := v.Int64(tuple, field)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d", val), nil
	}
}
