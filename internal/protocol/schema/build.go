package schema

import (
	"errors"
	"fmt"

	"github.com/danmuck/postal/internal/idl"
	"github.com/danmuck/postal/internal/protocol"
	"github.com/danmuck/postal/internal/protocol/tag"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnresolvedType = errors.New("schema: unresolved type")
	ErrInvalidField   = errors.New("schema: invalid field")
)

// FieldError locates a field that could not be compiled.
type FieldError struct {
	Shape string
	Field string
	Type  string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%v: %s.%s (%s)", e.Err, e.Shape, e.Field, e.Type)
}

func (e *FieldError) Unwrap() error { return e.Err }

// Build compiles def into an immutable registry for the named unit. Tags are
// assigned first; a collision or any unresolvable field type fails the build.
func Build(def *idl.Definition, unit string) (*Registry, error) {
	assigned, err := tag.Assign(def, unit)
	if err != nil {
		return nil, err
	}

	b := &builder{def: def, structs: make(map[*idl.Struct]*Shape)}
	// Shapes exist before any field resolves so structs may refer to
	// themselves or to structs declared later.
	for _, s := range def.Structs() {
		if _, ok := b.structs[s]; !ok {
			b.structs[s] = newShape(s.Name)
		}
	}
	for _, s := range def.Structs() {
		if err := b.fill(b.structs[s], s.Fields); err != nil {
			return nil, err
		}
	}

	reg := &Registry{
		namespace: def.Namespace,
		unit:      unit,
		byKind:    make(map[string]*MessageShape, len(assigned)),
		byTag:     make(map[protocol.Tag]*MessageShape, len(assigned)),
	}
	for _, a := range assigned {
		ms := &MessageShape{Name: a.Message.Name, Qualified: a.Qualified, Tag: a.Tag}
		if sec := a.Message.Request; sec != nil {
			ms.Request = newShape(a.Message.Name + ".request")
			if err := b.fill(ms.Request, sec.Fields); err != nil {
				return nil, err
			}
		}
		if sec := a.Message.Response; sec != nil {
			ms.Response = newShape(a.Message.Name + ".response")
			if err := b.fill(ms.Response, sec.Fields); err != nil {
				return nil, err
			}
		}
		reg.messages = append(reg.messages, ms)
		reg.byKind[ms.Name] = ms
		reg.byTag[ms.Tag] = ms
	}
	reg.fingerprint = fingerprint(reg)

	log.Debug().
		Str("namespace", reg.namespace).
		Str("unit", unit).
		Int("messages", len(reg.messages)).
		Str("fingerprint", reg.FingerprintHex()).
		Msg("schema.Build ok")
	return reg, nil
}

type builder struct {
	def     *idl.Definition
	structs map[*idl.Struct]*Shape
}

func (b *builder) fill(shape *Shape, fields []idl.Field) error {
	for i, src := range fields {
		if _, dup := shape.byName[src.Name]; dup {
			return &FieldError{Shape: shape.Name, Field: src.Name, Type: src.Type, Err: fmt.Errorf("%w: duplicate name", ErrInvalidField)}
		}
		f, err := b.resolve(src)
		if err != nil {
			return &FieldError{Shape: shape.Name, Field: src.Name, Type: src.Type, Err: err}
		}
		f.Ordinal = protocol.Ordinal(i + 1)
		shape.add(f)
	}
	return nil
}

func (b *builder) resolve(src idl.Field) (*Field, error) {
	f := &Field{
		Name:      src.Name,
		TypeRef:   src.Type,
		Mandatory: src.Mandatory,
		Default:   src.Default,
	}
	elem, repeated := idl.SplitTypeRef(src.Type)
	if _, nested := idl.SplitTypeRef(elem); nested {
		return nil, fmt.Errorf("%w: nested array", ErrInvalidField)
	}
	f.Repeated = repeated

	if p, ok := idl.LookupPrimitive(elem); ok {
		f.Kind = primitiveKinds[p.Scalar]
		f.Bits = p.Bits
		return f, nil
	}
	decl, ok := b.def.ResolveType(elem)
	if !ok {
		return nil, ErrUnresolvedType
	}
	switch d := decl.(type) {
	case *idl.Enum:
		f.Kind = KindEnum
		f.Bits = 32
		f.Enum = d
	case *idl.Struct:
		f.Kind = KindStruct
		f.Struct = b.structs[d]
	}
	return f, nil
}

var primitiveKinds = map[idl.Scalar]Kind{
	idl.ScalarBool:    KindBool,
	idl.ScalarInt:     KindInt,
	idl.ScalarUint:    KindUint,
	idl.ScalarFloat32: KindFloat32,
	idl.ScalarFloat64: KindFloat64,
	idl.ScalarString:  KindString,
	idl.ScalarBytes:   KindBytes,
}
