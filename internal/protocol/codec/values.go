// Package codec converts between Values and payload bytes for one shape.
//
// Canonical Go types per field kind:
//
//	bool      bool
//	int       int64
//	uint      uint64
//	enum      int64 (a member name string is accepted on encode)
//	float32   float32
//	float64   float64
//	string    string
//	bytes     []byte
//	struct    Values
//
// Repeated fields use the slice of the canonical type ([]string, []int64,
// []Values, ...). Decode always produces canonical types; Encode also
// accepts other Go integer types when the value fits the declared width.
package codec

// Values holds the fields of one request, response or struct by name.
// Absent names are unset fields.
type Values map[string]any

// Get returns the named value when it is present with type T.
func Get[T any](v Values, name string) (T, bool) {
	raw, ok := v[name]
	if !ok {
		var zero T
		return zero, false
	}
	out, ok := raw.(T)
	return out, ok
}

// Clone copies v one level deep.
func (v Values) Clone() Values {
	if v == nil {
		return nil
	}
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}
