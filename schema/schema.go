// Package schema implements the statically typed record layout over a
// buffer described in spec.md section 3 ("Schema & tuple view"),
// decoupled from the buffer pool itself. Grounded on
// original_source/nes-data-types/include/API/Schema.hpp for the
// qualified-field-lookup semantics (a field is addressed by its bare
// name or by a (table, name) pair).
package schema

import (
	"strings"

	"github.com/nebula-stream/node-engine/api"
	"github.com/nebula-stream/node-engine/nebulaerrors"
)

// Field describes one column: a possibly qualified name, its physical
// type, and (for TypeChar) its fixed length in bytes.
type Field struct {
	Name       string
	Qualifier  string // source/table name, empty if unqualified
	Type       api.PhysicalType
	CharLength int // only meaningful for TypeChar
}

// QualifiedName renders "qualifier$name", or bare "name" if unqualified.
func (f Field) QualifiedName() string {
	if f.Qualifier == "" {
		return f.Name
	}
	return f.Qualifier + api.QualifierSeparator + f.Name
}

// Width returns the field's fixed physical width in bytes.
func (f Field) Width() int {
	if f.Type == api.TypeChar {
		return f.CharLength
	}
	return f.Type.FixedWidth()
}

// Schema is an ordered sequence of fields. Schema size is the sum of
// fixed field widths; variable-sized fields contribute a 32-bit offset
// slot into the buffer's child region.
type Schema struct {
	Fields []Field

	byQualified map[string]int
	byBare      map[string][]int // bare name may be ambiguous across qualifiers
}

// New constructs a Schema from an ordered field list and builds the
// lookup indexes.
func New(fields []Field) *Schema {
	s := &Schema{
		Fields:      fields,
		byQualified: make(map[string]int, len(fields)),
		byBare:      make(map[string][]int, len(fields)),
	}
	for i, f := range fields {
		s.byQualified[f.QualifiedName()] = i
		s.byBare[f.Name] = append(s.byBare[f.Name], i)
	}
	return s
}

// Size is the fixed-region byte width of one tuple under this schema:
// the sum of each field's fixed width (variable-sized fields contribute
// their 4-byte offset slot, not their payload length).
func (s *Schema) Size() int {
	total := 0
	for _, f := range s.Fields {
		total += f.Width()
	}
	return total
}

// HasVarSized reports whether any field is variable-sized, meaning
// tuples in this schema use the buffer's child region.
func (s *Schema) HasVarSized() bool {
	for _, f := range s.Fields {
		if f.Type == api.TypeVarSized {
			return true
		}
	}
	return false
}

// FieldByName resolves a field by its qualified name first, then by its
// bare name if unambiguous. Returns ErrNotFound if absent, or
// ErrInvalidArgument if the bare name is ambiguous across qualifiers.
func (s *Schema) FieldByName(name string) (Field, int, error) {
	if idx, ok := s.byQualified[name]; ok {
		return s.Fields[idx], idx, nil
	}
	bare := name
	if i := strings.LastIndex(name, api.QualifierSeparator); i >= 0 {
		bare = name[i+len(api.QualifierSeparator):]
	}
	candidates := s.byBare[bare]
	switch len(candidates) {
	case 0:
		return Field{}, -1, nebulaerrors.New(nebulaerrors.CodeNotFound, nebulaerrors.ErrNotFound,
			"field not found").WithContext("name", name)
	case 1:
		return s.Fields[candidates[0]], candidates[0], nil
	default:
		return Field{}, -1, nebulaerrors.New(nebulaerrors.CodeInvalidArgument, nebulaerrors.ErrInvalidArgument,
			"ambiguous bare field name across qualifiers").WithContext("name", name)
	}
}

// Offset returns the fixed-region byte offset of the field at index i.
func (s *Schema) Offset(i int) int {
	off := 0
	for j := 0; j < i; j++ {
		off += s.Fields[j].Width()
	}
	return off
}

// Validate enforces the invariants queries registration relies on:
// at least one field, unique qualified names, and positive CharLength
// for every TypeChar field. Returns a wrapped ErrInvalidSchema on
// violation, which callers surface at plan registration time
// (spec.md section 7, InvalidSchema is a compile-time/registration
// error).
func (s *Schema) Validate() error {
	if len(s.Fields) == 0 {
		return nebulaerrors.New(nebulaerrors.CodeInvalidSchema, nebulaerrors.ErrInvalidSchema,
			"schema has no fields")
	}
	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		q := f.QualifiedName()
		if seen[q] {
			return nebulaerrors.New(nebulaerrors.CodeInvalidSchema, nebulaerrors.ErrInvalidSchema,
				"duplicate field name").WithContext("field", q)
		}
		seen[q] = true
		if f.Type == api.TypeChar && f.CharLength <= 0 {
			return nebulaerrors.New(nebulaerrors.CodeInvalidSchema, nebulaerrors.ErrInvalidSchema,
				"CHAR field requires a positive length").WithContext("field", q)
		}
	}
	return nil
}
