package codec

import (
	"github.com/danmuck/postal/internal/idl"
	"github.com/danmuck/postal/internal/protocol/schema"
)

// ApplyDefaults returns a copy of v with every absent field that declares a
// default set to that default. v itself is not modified.
func ApplyDefaults(shape *schema.Shape, v Values) (Values, error) {
	out := v.Clone()
	if out == nil {
		out = make(Values)
	}
	for _, f := range shape.Fields {
		if f.Default == nil {
			continue
		}
		if _, ok := out[f.Name]; ok {
			continue
		}
		d, err := DefaultValue(shape, f)
		if err != nil {
			return nil, err
		}
		out[f.Name] = d
	}
	return out, nil
}

// DefaultValue converts the field's default literal to its canonical type.
func DefaultValue(shape *schema.Shape, f *schema.Field) (any, error) {
	lit := f.Default
	if lit == nil {
		return nil, violation(shape, f, "no default declared")
	}
	if f.Repeated {
		return nil, violation(shape, f, "array defaults are not supported")
	}
	switch f.Kind {
	case schema.KindBool:
		if lit.Kind == idl.LitIdent && (lit.Text == "true" || lit.Text == "false") {
			return lit.Text == "true", nil
		}
	case schema.KindInt:
		if x, err := lit.Int(); err == nil && fitsSigned(x, f.Bits) == nil {
			return x, nil
		}
	case schema.KindUint:
		if x, err := lit.Uint(); err == nil && fitsUnsigned(x, f.Bits) == nil {
			return x, nil
		}
	case schema.KindEnum:
		if lit.Kind == idl.LitIdent {
			if m, ok := f.Enum.Member(lit.Text); ok {
				return m.Value, nil
			}
		} else if x, err := lit.Int(); err == nil && fitsSigned(x, 32) == nil {
			return x, nil
		}
	case schema.KindFloat32:
		if x, err := lit.Float(); err == nil {
			return float32(x), nil
		}
	case schema.KindFloat64:
		if x, err := lit.Float(); err == nil {
			return x, nil
		}
	case schema.KindString:
		if s, err := lit.Unquote(); err == nil {
			return s, nil
		}
	case schema.KindBytes:
		if s, err := lit.Unquote(); err == nil {
			return []byte(s), nil
		}
	}
	return nil, violation(shape, f, "default %s does not fit %s", lit.Text, f.TypeRef)
}
