package codec

import (
	"bytes"
	"math"

	"github.com/danmuck/postal/internal/protocol"
	"github.com/danmuck/postal/internal/protocol/schema"
	"github.com/danmuck/postal/internal/protocol/tlv"
	"google.golang.org/protobuf/encoding/protowire"
)

// Decode parses payload against shape. Records with the same ordinal form
// an array in wire order; for a scalar field the last record wins. Unknown
// ordinals are skipped. Defaults are not applied; see ApplyDefaults.
func Decode(shape *schema.Shape, payload []byte) (Values, error) {
	return decodeShape(shape, payload, 0)
}

func decodeShape(shape *schema.Shape, payload []byte, depth int) (Values, error) {
	if depth > maxDepth {
		return nil, protocol.Malformed("%s: nesting deeper than %d", shape.Name, maxDepth)
	}
	recs, err := tlv.DecodeRecords(payload)
	if err != nil {
		return nil, err
	}
	groups := tlv.Group(recs)

	out := make(Values, len(shape.Fields))
	for _, f := range shape.Fields {
		rs := groups[f.Ordinal]
		if len(rs) == 0 {
			if f.Mandatory {
				return nil, violation(shape, f, "mandatory field missing")
			}
			continue
		}
		for _, r := range rs {
			if r.Type != f.WireType() {
				return nil, protocol.Malformed("%s.%s (ordinal %d): wire type %d, want %d",
					shape.Name, f.Name, f.Ordinal, r.Type, f.WireType())
			}
		}
		if !f.Repeated {
			v, err := decodeValue(shape, f, rs[len(rs)-1], depth)
			if err != nil {
				return nil, err
			}
			out[f.Name] = v
			continue
		}
		v, err := decodeArray(shape, f, rs, depth)
		if err != nil {
			return nil, err
		}
		out[f.Name] = v
	}
	return out, nil
}

func decodeArray(shape *schema.Shape, f *schema.Field, rs []tlv.Record, depth int) (any, error) {
	switch f.Kind {
	case schema.KindBool:
		return collect[bool](shape, f, rs, depth)
	case schema.KindInt, schema.KindEnum:
		return collect[int64](shape, f, rs, depth)
	case schema.KindUint:
		return collect[uint64](shape, f, rs, depth)
	case schema.KindFloat32:
		return collect[float32](shape, f, rs, depth)
	case schema.KindFloat64:
		return collect[float64](shape, f, rs, depth)
	case schema.KindString:
		return collect[string](shape, f, rs, depth)
	case schema.KindBytes:
		return collect[[]byte](shape, f, rs, depth)
	case schema.KindStruct:
		return collect[Values](shape, f, rs, depth)
	}
	return nil, violation(shape, f, "unsupported kind %s", f.Kind)
}

func collect[T any](shape *schema.Shape, f *schema.Field, rs []tlv.Record, depth int) ([]T, error) {
	out := make([]T, 0, len(rs))
	for _, r := range rs {
		v, err := decodeValue(shape, f, r, depth)
		if err != nil {
			return nil, err
		}
		out = append(out, v.(T))
	}
	return out, nil
}

func decodeValue(shape *schema.Shape, f *schema.Field, r tlv.Record, depth int) (any, error) {
	switch f.Kind {
	case schema.KindBool:
		return protowire.DecodeBool(r.Num), nil
	case schema.KindInt, schema.KindEnum:
		x := int64(r.Num)
		if err := fitsSigned(x, f.Bits); err != nil {
			return nil, protocol.Malformed("%s.%s: %v", shape.Name, f.Name, err)
		}
		return x, nil
	case schema.KindUint:
		if err := fitsUnsigned(r.Num, f.Bits); err != nil {
			return nil, protocol.Malformed("%s.%s: %v", shape.Name, f.Name, err)
		}
		return r.Num, nil
	case schema.KindFloat32:
		return math.Float32frombits(uint32(r.Num)), nil
	case schema.KindFloat64:
		return math.Float64frombits(r.Num), nil
	case schema.KindString:
		return string(r.Bytes), nil
	case schema.KindBytes:
		return bytes.Clone(r.Bytes), nil
	case schema.KindStruct:
		return decodeShape(f.Struct, r.Bytes, depth+1)
	}
	return nil, violation(shape, f, "unsupported kind %s", f.Kind)
}
