package codec

import (
	"encoding/json"
	"fmt"
	"math"

	"fortio.org/safecast"
	"github.com/danmuck/postal/internal/protocol/schema"
)

// Coerce converts loosely typed input, as produced by encoding/json with
// UseNumber or by hand-built maps, into canonical Values for shape. Numbers
// may be json.Number, float64 or any Go integer; bytes may be given as a
// string; arrays as []any; structs as map[string]any.
func Coerce(shape *schema.Shape, in map[string]any) (Values, error) {
	out := make(Values, len(in))
	for name, raw := range in {
		f, ok := shape.FieldByName(name)
		if !ok {
			return nil, violation(shape, nil, "unknown field %q", name)
		}
		if raw == nil {
			continue
		}
		if !f.Repeated {
			v, err := coerceValue(shape, f, raw)
			if err != nil {
				return nil, err
			}
			out[name] = v
			continue
		}
		elems, ok := elements(raw)
		if !ok {
			return nil, violation(shape, f, "want an array, got %T", raw)
		}
		conv := make([]any, 0, len(elems))
		for _, e := range elems {
			v, err := coerceValue(shape, f, e)
			if err != nil {
				return nil, err
			}
			conv = append(conv, v)
		}
		arr, err := typed(shape, f, conv)
		if err != nil {
			return nil, err
		}
		out[name] = arr
	}
	return out, nil
}

func coerceValue(shape *schema.Shape, f *schema.Field, raw any) (any, error) {
	switch f.Kind {
	case schema.KindInt, schema.KindEnum:
		if s, ok := raw.(string); ok && f.Kind == schema.KindEnum {
			m, found := f.Enum.Member(s)
			if !found {
				return nil, violation(shape, f, "%s has no member %q", f.Enum.Name, s)
			}
			return m.Value, nil
		}
		n, err := integral(raw)
		if err != nil {
			return nil, violation(shape, f, "%v", err)
		}
		x, err := signed(n, f.Bits)
		if err != nil {
			return nil, violation(shape, f, "%v", err)
		}
		return x, nil
	case schema.KindUint:
		n, err := integral(raw)
		if err != nil {
			return nil, violation(shape, f, "%v", err)
		}
		x, err := unsigned(n, f.Bits)
		if err != nil {
			return nil, violation(shape, f, "%v", err)
		}
		return x, nil
	case schema.KindFloat32, schema.KindFloat64:
		x, err := floating(raw)
		if err != nil {
			return nil, violation(shape, f, "%v", err)
		}
		if f.Kind == schema.KindFloat32 {
			return float32(x), nil
		}
		return x, nil
	case schema.KindBytes:
		if s, ok := raw.(string); ok {
			return []byte(s), nil
		}
	case schema.KindStruct:
		if m, ok := raw.(map[string]any); ok {
			return Coerce(f.Struct, m)
		}
		if m, ok := raw.(Values); ok {
			return Coerce(f.Struct, m)
		}
	}
	return raw, nil
}

// integral normalizes JSON and Go numbers to int64 or uint64.
func integral(raw any) (any, error) {
	switch v := raw.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		f, err := v.Float64()
		if err != nil {
			return nil, err
		}
		return integral(f)
	case float64:
		if v != math.Trunc(v) {
			return nil, fmt.Errorf("%v is not integral", v)
		}
		if v >= 0 {
			return safecast.Convert[uint64](v)
		}
		return safecast.Convert[int64](v)
	}
	return raw, nil
}

func floating(raw any) (float64, error) {
	switch v := raw.(type) {
	case json.Number:
		return v.Float64()
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	}
	n, err := signed(raw, 64)
	if err != nil {
		return 0, err
	}
	return float64(n), nil
}

func typed(shape *schema.Shape, f *schema.Field, in []any) (any, error) {
	var (
		out any
		ok  = true
	)
	switch f.Kind {
	case schema.KindBool:
		out, ok = assertAll[bool](in)
	case schema.KindInt, schema.KindEnum:
		out, ok = assertAll[int64](in)
	case schema.KindUint:
		out, ok = assertAll[uint64](in)
	case schema.KindFloat32:
		out, ok = assertAll[float32](in)
	case schema.KindFloat64:
		out, ok = assertAll[float64](in)
	case schema.KindString:
		out, ok = assertAll[string](in)
	case schema.KindBytes:
		out, ok = assertAll[[]byte](in)
	case schema.KindStruct:
		out, ok = assertAll[Values](in)
	}
	if !ok {
		return nil, violation(shape, f, "array elements do not match %s", f.TypeRef)
	}
	return out, nil
}

func assertAll[T any](in []any) ([]T, bool) {
	out := make([]T, 0, len(in))
	for _, v := range in {
		t, ok := v.(T)
		if !ok {
			return nil, false
		}
		out = append(out, t)
	}
	return out, true
}
