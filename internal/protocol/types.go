package protocol

// Tag is the wire discriminator of a message kind. The same tag identifies
// the request and the response of one kind.
type Tag uint32

// Ordinal is the 1-based wire field number of a field within its shape.
type Ordinal int32

// MaxTag bounds every tag produced by the tag assigner.
const MaxTag Tag = 100_000_000
