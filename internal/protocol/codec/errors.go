package codec

import (
	"fmt"

	"github.com/danmuck/postal/internal/protocol"
	"github.com/danmuck/postal/internal/protocol/schema"
)

func violation(shape *schema.Shape, f *schema.Field, format string, args ...any) error {
	ve := &protocol.ViolationError{Shape: shape.Name, Reason: fmt.Sprintf(format, args...)}
	if f != nil {
		ve.Field = f.Name
		ve.Ordinal = f.Ordinal
	}
	return ve
}
