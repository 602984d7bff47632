package tlv

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/danmuck/postal/internal/protocol"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestAppendDecodeRoundTripPreservesOrder(t *testing.T) {
	var b []byte
	b = AppendString(b, 1, "alpha")
	b = AppendVarint(b, 2, 300)
	b = AppendString(b, 1, "beta")
	b = AppendFixed32(b, 3, math.Float32bits(1.5))
	b = AppendFixed64(b, 4, math.Float64bits(-2.25))
	b = AppendBytes(b, 9999, []byte{0xAA, 0xBB}) // unknown ordinal

	recs, err := DecodeRecords(b)
	if err != nil {
		t.Fatalf("decode records: %v", err)
	}
	if len(recs) != 6 {
		t.Fatalf("expected 6 records, got %d", len(recs))
	}
	if recs[0].Ordinal != 1 || string(recs[0].Bytes) != "alpha" || recs[2].Ordinal != 1 || string(recs[2].Bytes) != "beta" {
		t.Fatalf("string records out of order: %+v", recs)
	}
	if recs[1].Type != protowire.VarintType || recs[1].Num != 300 {
		t.Fatalf("varint mismatch: %+v", recs[1])
	}
	if math.Float32frombits(uint32(recs[3].Num)) != 1.5 || recs[3].Type != protowire.Fixed32Type {
		t.Fatalf("fixed32 mismatch: %+v", recs[3])
	}
	if math.Float64frombits(recs[4].Num) != -2.25 || recs[4].Type != protowire.Fixed64Type {
		t.Fatalf("fixed64 mismatch: %+v", recs[4])
	}
	if recs[5].Ordinal != 9999 || !bytes.Equal(recs[5].Bytes, []byte{0xAA, 0xBB}) {
		t.Fatalf("unknown record not preserved: %+v", recs[5])
	}

	groups := Group(recs)
	if len(groups[1]) != 2 || string(groups[1][1].Bytes) != "beta" {
		t.Fatalf("group mismatch: %+v", groups[1])
	}
}

func TestDecodeEmptyPayload(t *testing.T) {
	recs, err := DecodeRecords(nil)
	if err != nil || len(recs) != 0 {
		t.Fatalf("expected no records, got %v %v", recs, err)
	}
}

func TestDecodeRecordsMalformedIsDeterministic(t *testing.T) {
	cases := map[string][]byte{
		"truncated key":    {0x80},
		"ordinal zero":     {0x00, 0x01},
		"truncated varint": {0x08, 0xFF},
		"short length":     {0x0A, 0x05, 'a', 'b'},
		"short fixed32":    {0x0D, 0x01, 0x02},
		"group wire type":  {0x0B},
	}
	for name, payload := range cases {
		_, err := DecodeRecords(payload)
		if !errors.Is(err, protocol.ErrMalformedFrame) {
			t.Fatalf("%s: expected ErrMalformedFrame, got %v", name, err)
		}
	}
}
