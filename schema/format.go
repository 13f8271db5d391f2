package schema

import (
	"encoding/binary"
	"math"
	"strings"

	"github.com/nebula-stream/node-engine/api"
)

// FormatTable renders a buffer as the text sink's framed table: a ruler
// of "+---...+", one line of "|field:TYPE|", a ruler, then one line per
// tuple with "|value|" per field (spec.md section 6, File formats).
// Supplemented from original_source's TupleBuffer::printTupleBuffer,
// which renders the same buffer-plus-schema pairing for diagnostics.
func FormatTable(s *Schema, v View, numTuples int) string {
	var b strings.Builder
	ruler := buildRuler(s)
	b.WriteString(ruler)
	b.WriteByte('\n')

	b.WriteByte('|')
	for i, f := range s.Fields {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(f.Name)
		b.WriteByte(':')
		b.WriteString(f.Type.String())
	}
	b.WriteString("|\n")
	b.WriteString(ruler)
	b.WriteByte('\n')

	for t := 0; t < numTuples; t++ {
		b.WriteByte('|')
		for i := range s.Fields {
			if i > 0 {
				b.WriteByte('|')
			}
			val, err := v.String(t, i)
			if err != nil {
				val = "?"
			}
			b.WriteString(val)
		}
		b.WriteString("|\n")
	}
	return b.String()
}

// FormatBuffer renders buf directly as a framed table using its schema
// and tuple count, without the caller having to build a View first.
// Supplemented from original_source's TupleBuffer::printTupleBuffer
// pretty-printer.
func FormatBuffer(s *Schema, buf api.Buffer) string {
	return FormatTable(s, NewView(s, buf), int(buf.NumTuples()))
}

func buildRuler(s *Schema) string {
	var b strings.Builder
	b.WriteByte('+')
	for range s.Fields {
		b.WriteString("---")
		b.WriteByte('+')
	}
	return b.String()
}

// EncodeBinary writes numTuples tuples from v in schema field order,
// little-endian, with variable-sized fields preceded by a u32 length
// (spec.md section 6, Binary sink format).
func EncodeBinary(s *Schema, v View, numTuples int) ([]byte, error) {
	var out []byte
	var tmp [8]byte
	for t := 0; t < numTuples; t++ {
		for i, f := range s.Fields {
			switch f.Type {
			case api.TypeVarSized:
				payload, err := v.VarSized(t, i)
				if err != nil {
					return nil, err
				}
				binary.LittleEndian.PutUint32(tmp[:4], uint32(len(payload)))
				out = append(out, tmp[:4]...)
				out = append(out, payload...)
			case api.TypeChar:
				str, err := v.String(t, i)
				if err != nil {
					return nil, err
				}
				padded := make([]byte, f.CharLength)
				copy(padded, str)
				out = append(out, padded...)
			case api.TypeBool:
				val, err := v.Bool(t, i)
				if err != nil {
					return nil, err
				}
				if val {
					out = append(out, 1)
				} else {
					out = append(out, 0)
				}
			case api.TypeFloat32, api.TypeFloat64:
				val, err := v.Float64(t, i)
				if err != nil {
					return nil, err
				}
				width := f.Width()
				if width == 4 {
					binary.LittleEndian.PutUint32(tmp[:4], math.Float32bits(float32(val)))
					out = append(out, tmp[:4]...)
				} else {
					binary.LittleEndian.PutUint64(tmp[:8], math.Float64bits(val))
					out = append(out, tmp[:8]...)
				}
			default:
				val, err := v.Int64(t, i)
				if err != nil {
					return nil, err
				}
				width := f.Width()
				binary.LittleEndian.PutUint64(tmp[:8], uint64(val))
				out = append(out, tmp[:width]...)
			}
		}
	}
	return out, nil
}
