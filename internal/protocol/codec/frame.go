package codec

import (
	"github.com/danmuck/postal/internal/protocol"
	"github.com/danmuck/postal/internal/protocol/frame"
	"github.com/danmuck/postal/internal/protocol/schema"
)

// EncodeFrame encodes v against shape and wraps it in a frame tagged t.
func EncodeFrame(t protocol.Tag, shape *schema.Shape, v Values) (frame.Frame, error) {
	payload, err := Encode(shape, v)
	if err != nil {
		return frame.Frame{}, err
	}
	return frame.Frame{Tag: t, Payload: payload}, nil
}

// DecodeFrame decodes the payload of f against shape.
func DecodeFrame(f frame.Frame, shape *schema.Shape) (Values, error) {
	return Decode(shape, f.Payload)
}
