// Package frame moves whole messages over a byte stream. A frame is
//
//	key(tag, length-delimited) ++ varint(len(payload)) ++ payload
//
// where key is the varint (tag<<3 | 2). Reads consume exactly one frame and
// never read past its last byte, so the stream stays aligned for the next
// reader.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/danmuck/postal/internal/protocol"
	"google.golang.org/protobuf/encoding/protowire"
)

// Frame is one complete wire message.
type Frame struct {
	Tag     protocol.Tag
	Payload []byte
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint64
}

func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: 8 * 1024 * 1024}
}

// Flusher is implemented by buffered writers that need an explicit flush
// after each frame.
type Flusher interface {
	Flush() error
}

// AppendFrame appends the encoded frame to b.
func AppendFrame(b []byte, f Frame) []byte {
	b = protowire.AppendVarint(b, protowire.EncodeTag(protowire.Number(f.Tag), protowire.BytesType))
	return protowire.AppendBytes(b, f.Payload)
}

// Size is the encoded length of f.
func Size(f Frame) int {
	return protowire.SizeVarint(protowire.EncodeTag(protowire.Number(f.Tag), protowire.BytesType)) +
		protowire.SizeBytes(len(f.Payload))
}

// WriteFrame writes f with a single Write call and flushes w when it
// supports Flush.
func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	if uint64(len(f.Payload)) > limits.MaxPayloadBytes {
		return protocol.Malformed("payload of %d bytes exceeds limit %d", len(f.Payload), limits.MaxPayloadBytes)
	}
	buf := AppendFrame(make([]byte, 0, Size(f)), f)
	if _, err := w.Write(buf); err != nil {
		return streamError("write", err)
	}
	if fl, ok := w.(Flusher); ok {
		if err := fl.Flush(); err != nil {
			return streamError("flush", err)
		}
	}
	return nil
}

// ReadFrame reads exactly one frame from r. A stream that ends before the
// first byte reports ErrTransportClosed; one that ends anywhere later
// reports ErrMalformedFrame.
func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	br := byteReader(r)

	key, err := readUvarint(br)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Frame{}, fmt.Errorf("%w: eof", protocol.ErrTransportClosed)
		}
		return Frame{}, readError("frame key", err)
	}
	num, typ := protowire.DecodeTag(key)
	if num < 0 {
		return Frame{}, protocol.Malformed("frame tag overflows 32 bits")
	}
	if typ != protowire.BytesType {
		return Frame{}, protocol.Malformed("frame tag %d has wire type %d, want %d", num, typ, protowire.BytesType)
	}

	n, err := readUvarint(br)
	if err != nil {
		return Frame{}, readError("frame length", err)
	}
	if n > limits.MaxPayloadBytes {
		return Frame{}, protocol.Malformed("payload of %d bytes exceeds limit %d", n, limits.MaxPayloadBytes)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, readError("frame payload", err)
	}
	return Frame{Tag: protocol.Tag(num), Payload: payload}, nil
}

var errVarintOverflow = errors.New("varint overflows 64 bits")

// readUvarint decodes one varint a byte at a time. io.EOF is returned only
// when no byte was read.
func readUvarint(br io.ByteReader) (uint64, error) {
	var v uint64
	for i := 0; i < binary.MaxVarintLen64; i++ {
		c, err := br.ReadByte()
		if err != nil {
			if i > 0 && errors.Is(err, io.EOF) {
				return 0, io.ErrUnexpectedEOF
			}
			return 0, err
		}
		if i == binary.MaxVarintLen64-1 && c > 1 {
			return 0, errVarintOverflow
		}
		v |= uint64(c&0x7f) << (7 * i)
		if c < 0x80 {
			return v, nil
		}
	}
	return 0, errVarintOverflow
}

// readError classifies failures after the first byte of a frame.
func readError(what string, err error) error {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return protocol.Malformed("%s truncated", what)
	case errors.Is(err, errVarintOverflow):
		return protocol.Malformed("%s: %v", what, err)
	}
	return streamError("read "+what, err)
}

func streamError(op string, err error) error {
	if closedStream(err) {
		return fmt.Errorf("%w: %s: %v", protocol.ErrTransportClosed, op, err)
	}
	return fmt.Errorf("frame: %s: %w", op, err)
}

func closedStream(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}

type singleByteReader struct {
	r   io.Reader
	buf [1]byte
}

func (s *singleByteReader) ReadByte() (byte, error) {
	if _, err := io.ReadFull(s.r, s.buf[:]); err != nil {
		return 0, err
	}
	return s.buf[0], nil
}

func byteReader(r io.Reader) io.ByteReader {
	if br, ok := r.(io.ByteReader); ok {
		return br
	}
	return &singleByteReader{r: r}
}
