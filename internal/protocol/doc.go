// Package protocol owns the wire contract shared by every peer.
//
// Ownership boundary:
// - error taxonomy for framing, schema, and dispatch failures
// - tag and ordinal types
//
// Subpackages:
// - tag: stable message discriminators
// - schema: immutable request/response shapes per compiled unit
// - tlv: ordinal-keyed records inside a payload
// - frame: length-prefixed, tagged frames on a stream
// - codec: values <-> payload bytes for one shape
// - session: client send and server dispatch over one stream
package protocol
