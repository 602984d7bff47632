package schema

import (
	"github.com/danmuck/postal/internal/idl"
	"github.com/danmuck/postal/internal/protocol"
	"google.golang.org/protobuf/encoding/protowire"
)

// Kind is the resolved value class of a field.
type Kind uint8

const (
	KindBool Kind = iota + 1
	KindInt
	KindUint
	KindFloat32
	KindFloat64
	KindString
	KindBytes
	KindEnum
	KindStruct
)

var kindNames = map[Kind]string{
	KindBool:    "bool",
	KindInt:     "int",
	KindUint:    "uint",
	KindFloat32: "float32",
	KindFloat64: "float64",
	KindString:  "string",
	KindBytes:   "bytes",
	KindEnum:    "enum",
	KindStruct:  "struct",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Field is one resolved field of a shape.
type Field struct {
	Ordinal   protocol.Ordinal
	Name      string
	TypeRef   string
	Kind      Kind
	Bits      int // integer width; 32 for enums, 0 otherwise
	Repeated  bool
	Mandatory bool
	Default   *idl.Literal
	Struct    *Shape    // KindStruct only
	Enum      *idl.Enum // KindEnum only
}

// WireType is the record encoding used for each value of the field.
func (f *Field) WireType() protowire.Type {
	switch f.Kind {
	case KindBool, KindInt, KindUint, KindEnum:
		return protowire.VarintType
	case KindFloat32:
		return protowire.Fixed32Type
	case KindFloat64:
		return protowire.Fixed64Type
	default:
		return protowire.BytesType
	}
}

// Shape is the ordered field list of a request, response or struct.
type Shape struct {
	Name   string
	Fields []*Field

	byOrdinal map[protocol.Ordinal]*Field
	byName    map[string]*Field
}

func newShape(name string) *Shape {
	return &Shape{
		Name:      name,
		byOrdinal: make(map[protocol.Ordinal]*Field),
		byName:    make(map[string]*Field),
	}
}

func (s *Shape) add(f *Field) {
	s.Fields = append(s.Fields, f)
	s.byOrdinal[f.Ordinal] = f
	s.byName[f.Name] = f
}

// Field returns the field with the given wire ordinal.
func (s *Shape) Field(ord protocol.Ordinal) (*Field, bool) {
	f, ok := s.byOrdinal[ord]
	return f, ok
}

func (s *Shape) FieldByName(name string) (*Field, bool) {
	f, ok := s.byName[name]
	return f, ok
}

// Mandatory lists the mandatory fields in ordinal order.
func (s *Shape) Mandatory() []*Field {
	var out []*Field
	for _, f := range s.Fields {
		if f.Mandatory {
			out = append(out, f)
		}
	}
	return out
}

// MessageShape is one compiled message kind. A nil section was not declared.
type MessageShape struct {
	Name      string
	Qualified string
	Tag       protocol.Tag
	Request   *Shape
	Response  *Shape
}

// OneWay reports a request-only kind.
func (m *MessageShape) OneWay() bool { return m.Response == nil }
