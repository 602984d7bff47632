package schema

import (
	"fmt"
	"io"

	"github.com/danmuck/postal/internal/protocol"
	"github.com/zeebo/xxh3"
)

// Registry is the compiled, read-only view of one unit. It is safe for
// concurrent use; rebuilding produces a new Registry.
type Registry struct {
	namespace   string
	unit        string
	messages    []*MessageShape
	byKind      map[string]*MessageShape
	byTag       map[protocol.Tag]*MessageShape
	fingerprint uint64
}

func (r *Registry) Namespace() string { return r.namespace }
func (r *Registry) Unit() string      { return r.unit }

// Request returns the request shape registered under t.
func (r *Registry) Request(t protocol.Tag) (*Shape, bool) {
	m, ok := r.byTag[t]
	if !ok || m.Request == nil {
		return nil, false
	}
	return m.Request, true
}

// Response returns the response shape registered under t.
func (r *Registry) Response(t protocol.Tag) (*Shape, bool) {
	m, ok := r.byTag[t]
	if !ok || m.Response == nil {
		return nil, false
	}
	return m.Response, true
}

// Lookup returns the message kind that owns t.
func (r *Registry) Lookup(t protocol.Tag) (*MessageShape, bool) {
	m, ok := r.byTag[t]
	return m, ok
}

// Message returns the kind declared with the given name.
func (r *Registry) Message(kind string) (*MessageShape, bool) {
	m, ok := r.byKind[kind]
	return m, ok
}

func (r *Registry) Tag(kind string) (protocol.Tag, bool) {
	m, ok := r.byKind[kind]
	if !ok {
		return 0, false
	}
	return m.Tag, true
}

// Messages lists every kind in declaration order.
func (r *Registry) Messages() []*MessageShape {
	out := make([]*MessageShape, len(r.messages))
	copy(out, r.messages)
	return out
}

// Fingerprint hashes the canonical shape listing. Two peers with equal
// fingerprints agree on every tag, ordinal and field type.
func (r *Registry) Fingerprint() uint64 { return r.fingerprint }

func (r *Registry) FingerprintHex() string { return fmt.Sprintf("%016x", r.fingerprint) }

func fingerprint(r *Registry) uint64 {
	h := xxh3.New()
	writeListing(h, r)
	return h.Sum64()
}

func writeListing(w io.Writer, r *Registry) {
	fmt.Fprintf(w, "unit %s %s\n", r.namespace, r.unit)
	seen := make(map[*Shape]bool)
	var structs []*Shape
	var writeShape func(section string, s *Shape)
	writeShape = func(section string, s *Shape) {
		fmt.Fprintf(w, " %s %s\n", section, s.Name)
		for _, f := range s.Fields {
			fmt.Fprintf(w, "  %d %s %s %s/%d repeated=%t mandatory=%t\n",
				f.Ordinal, f.Name, f.TypeRef, f.Kind, f.Bits, f.Repeated, f.Mandatory)
			if f.Struct != nil && !seen[f.Struct] {
				seen[f.Struct] = true
				structs = append(structs, f.Struct)
			}
		}
	}
	for _, m := range r.messages {
		fmt.Fprintf(w, "message %s %d\n", m.Qualified, m.Tag)
		if m.Request != nil {
			writeShape("request", m.Request)
		}
		if m.Response != nil {
			writeShape("response", m.Response)
		}
	}
	for i := 0; i < len(structs); i++ {
		writeShape("struct", structs[i])
	}
}
