package codec

import (
	"fmt"
	"math"

	"fortio.org/safecast"
	"github.com/danmuck/postal/internal/protocol"
	"github.com/danmuck/postal/internal/protocol/schema"
	"github.com/danmuck/postal/internal/protocol/tlv"
	"google.golang.org/protobuf/encoding/protowire"
)

// maxDepth bounds struct nesting for recursive shapes.
const maxDepth = 64

// Encode serializes v in field declaration order. Every mandatory field must
// be set; an empty slice does not count as set.
func Encode(shape *schema.Shape, v Values) ([]byte, error) {
	return appendShape(nil, shape, v, 0)
}

func appendShape(b []byte, shape *schema.Shape, v Values, depth int) ([]byte, error) {
	if depth > maxDepth {
		return nil, violation(shape, nil, "nesting deeper than %d", maxDepth)
	}
	for name := range v {
		if _, ok := shape.FieldByName(name); !ok {
			return nil, &protocol.ViolationError{Shape: shape.Name, Field: name, Reason: "unknown field"}
		}
	}
	var err error
	for _, f := range shape.Fields {
		raw, present := v[f.Name]
		if !present || raw == nil {
			if f.Mandatory {
				return nil, violation(shape, f, "mandatory field not set")
			}
			continue
		}
		if !f.Repeated {
			if b, err = appendValue(b, shape, f, raw, depth); err != nil {
				return nil, err
			}
			continue
		}
		elems, ok := elements(raw)
		if !ok {
			return nil, violation(shape, f, "want a slice, got %T", raw)
		}
		if len(elems) == 0 && f.Mandatory {
			return nil, violation(shape, f, "mandatory array is empty")
		}
		for _, e := range elems {
			if b, err = appendValue(b, shape, f, e, depth); err != nil {
				return nil, err
			}
		}
	}
	return b, nil
}

func appendValue(b []byte, shape *schema.Shape, f *schema.Field, raw any, depth int) ([]byte, error) {
	switch f.Kind {
	case schema.KindBool:
		x, ok := raw.(bool)
		if !ok {
			return nil, violation(shape, f, "want bool, got %T", raw)
		}
		return tlv.AppendVarint(b, f.Ordinal, protowire.EncodeBool(x)), nil

	case schema.KindInt:
		x, err := signed(raw, f.Bits)
		if err != nil {
			return nil, violation(shape, f, "%v", err)
		}
		return tlv.AppendVarint(b, f.Ordinal, uint64(x)), nil

	case schema.KindUint:
		x, err := unsigned(raw, f.Bits)
		if err != nil {
			return nil, violation(shape, f, "%v", err)
		}
		return tlv.AppendVarint(b, f.Ordinal, x), nil

	case schema.KindEnum:
		x, err := enumValue(f, raw)
		if err != nil {
			return nil, violation(shape, f, "%v", err)
		}
		return tlv.AppendVarint(b, f.Ordinal, uint64(x)), nil

	case schema.KindFloat32:
		var x float32
		switch v := raw.(type) {
		case float32:
			x = v
		case float64:
			x = float32(v)
		default:
			return nil, violation(shape, f, "want float32, got %T", raw)
		}
		return tlv.AppendFixed32(b, f.Ordinal, math.Float32bits(x)), nil

	case schema.KindFloat64:
		var x float64
		switch v := raw.(type) {
		case float64:
			x = v
		case float32:
			x = float64(v)
		default:
			return nil, violation(shape, f, "want float64, got %T", raw)
		}
		return tlv.AppendFixed64(b, f.Ordinal, math.Float64bits(x)), nil

	case schema.KindString:
		x, ok := raw.(string)
		if !ok {
			return nil, violation(shape, f, "want string, got %T", raw)
		}
		return tlv.AppendString(b, f.Ordinal, x), nil

	case schema.KindBytes:
		x, ok := raw.([]byte)
		if !ok {
			return nil, violation(shape, f, "want []byte, got %T", raw)
		}
		return tlv.AppendBytes(b, f.Ordinal, x), nil

	case schema.KindStruct:
		var nested Values
		switch v := raw.(type) {
		case Values:
			nested = v
		case map[string]any:
			nested = v
		default:
			return nil, violation(shape, f, "want codec.Values, got %T", raw)
		}
		body, err := appendShape(nil, f.Struct, nested, depth+1)
		if err != nil {
			return nil, err
		}
		return tlv.AppendBytes(b, f.Ordinal, body), nil
	}
	return nil, violation(shape, f, "unsupported kind %s", f.Kind)
}

func enumValue(f *schema.Field, raw any) (int64, error) {
	if name, ok := raw.(string); ok {
		m, found := f.Enum.Member(name)
		if !found {
			return 0, fmt.Errorf("%s has no member %q", f.Enum.Name, name)
		}
		return m.Value, nil
	}
	return signed(raw, 32)
}

// signed converts any Go integer to int64 and checks it fits bits.
func signed(raw any, bits int) (int64, error) {
	var (
		x   int64
		err error
	)
	switch v := raw.(type) {
	case int64:
		x = v
	case int:
		x = int64(v)
	case int32:
		x = int64(v)
	case int16:
		x = int64(v)
	case int8:
		x = int64(v)
	case uint64:
		x, err = safecast.Conv[int64](v)
	case uint:
		x, err = safecast.Conv[int64](v)
	case uint32:
		x = int64(v)
	case uint16:
		x = int64(v)
	case uint8:
		x = int64(v)
	default:
		return 0, fmt.Errorf("want int64, got %T", raw)
	}
	if err != nil {
		return 0, err
	}
	return x, fitsSigned(x, bits)
}

func unsigned(raw any, bits int) (uint64, error) {
	var (
		x   uint64
		err error
	)
	switch v := raw.(type) {
	case uint64:
		x = v
	case uint:
		x = uint64(v)
	case uint32:
		x = uint64(v)
	case uint16:
		x = uint64(v)
	case uint8:
		x = uint64(v)
	case int64:
		x, err = safecast.Conv[uint64](v)
	case int:
		x, err = safecast.Conv[uint64](v)
	case int32:
		x, err = safecast.Conv[uint64](v)
	case int16:
		x, err = safecast.Conv[uint64](v)
	case int8:
		x, err = safecast.Conv[uint64](v)
	default:
		return 0, fmt.Errorf("want uint64, got %T", raw)
	}
	if err != nil {
		return 0, err
	}
	return x, fitsUnsigned(x, bits)
}

func fitsSigned(x int64, bits int) error {
	var err error
	switch bits {
	case 8:
		_, err = safecast.Conv[int8](x)
	case 16:
		_, err = safecast.Conv[int16](x)
	case 32:
		_, err = safecast.Conv[int32](x)
	}
	if err != nil {
		return fmt.Errorf("%d overflows %d-bit integer", x, bits)
	}
	return nil
}

func fitsUnsigned(x uint64, bits int) error {
	var err error
	switch bits {
	case 8:
		_, err = safecast.Conv[uint8](x)
	case 16:
		_, err = safecast.Conv[uint16](x)
	case 32:
		_, err = safecast.Conv[uint32](x)
	}
	if err != nil {
		return fmt.Errorf("%d overflows %d-bit unsigned integer", x, bits)
	}
	return nil
}

func elements(raw any) ([]any, bool) {
	switch v := raw.(type) {
	case []any:
		return v, true
	case []bool:
		return toAny(v), true
	case []int64:
		return toAny(v), true
	case []int:
		return toAny(v), true
	case []int32:
		return toAny(v), true
	case []uint64:
		return toAny(v), true
	case []uint32:
		return toAny(v), true
	case []float32:
		return toAny(v), true
	case []float64:
		return toAny(v), true
	case []string:
		return toAny(v), true
	case [][]byte:
		return toAny(v), true
	case []Values:
		return toAny(v), true
	case []map[string]any:
		return toAny(v), true
	}
	return nil, false
}

func toAny[T any](in []T) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
