// Package tlv encodes the records inside a frame payload. Each record is a
// varint key carrying (ordinal, wire type) followed by the value; records
// sharing an ordinal form an array.
package tlv

import (
	"github.com/danmuck/postal/internal/protocol"
	"google.golang.org/protobuf/encoding/protowire"
)

// Record is one decoded field record. Num holds varint and fixed-width
// values; Bytes aliases the payload for length-delimited values.
type Record struct {
	Ordinal protocol.Ordinal
	Type    protowire.Type
	Num     uint64
	Bytes   []byte
}

func AppendVarint(b []byte, ord protocol.Ordinal, v uint64) []byte {
	b = protowire.AppendTag(b, protowire.Number(ord), protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func AppendFixed32(b []byte, ord protocol.Ordinal, v uint32) []byte {
	b = protowire.AppendTag(b, protowire.Number(ord), protowire.Fixed32Type)
	return protowire.AppendFixed32(b, v)
}

func AppendFixed64(b []byte, ord protocol.Ordinal, v uint64) []byte {
	b = protowire.AppendTag(b, protowire.Number(ord), protowire.Fixed64Type)
	return protowire.AppendFixed64(b, v)
}

func AppendBytes(b []byte, ord protocol.Ordinal, v []byte) []byte {
	b = protowire.AppendTag(b, protowire.Number(ord), protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func AppendString(b []byte, ord protocol.Ordinal, v string) []byte {
	b = protowire.AppendTag(b, protowire.Number(ord), protowire.BytesType)
	return protowire.AppendString(b, v)
}

// DecodeRecords splits payload into records in wire order. Truncated
// varints, lengths past the end of payload, ordinal zero and group wire
// types are malformed.
func DecodeRecords(payload []byte) ([]Record, error) {
	var out []Record
	for off := 0; off < len(payload); {
		num, typ, n := protowire.ConsumeTag(payload[off:])
		if n < 0 {
			return nil, protocol.Malformed("record key at offset %d: %v", off, protowire.ParseError(n))
		}
		off += n

		rec := Record{Ordinal: protocol.Ordinal(num), Type: typ}
		switch typ {
		case protowire.VarintType:
			rec.Num, n = protowire.ConsumeVarint(payload[off:])
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(payload[off:])
			rec.Num = uint64(v)
		case protowire.Fixed64Type:
			rec.Num, n = protowire.ConsumeFixed64(payload[off:])
		case protowire.BytesType:
			rec.Bytes, n = protowire.ConsumeBytes(payload[off:])
		default:
			return nil, protocol.Malformed("ordinal %d: unsupported wire type %d", num, typ)
		}
		if n < 0 {
			return nil, protocol.Malformed("ordinal %d value at offset %d: %v", num, off, protowire.ParseError(n))
		}
		off += n
		out = append(out, rec)
	}
	return out, nil
}

// Group collects records by ordinal, keeping wire order within each ordinal.
func Group(records []Record) map[protocol.Ordinal][]Record {
	out := make(map[protocol.Ordinal][]Record)
	for _, r := range records {
		out[r.Ordinal] = append(out[r.Ordinal], r)
	}
	return out
}
