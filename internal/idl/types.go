package idl

import "strings"

// Scalar is the value class of a primitive type.
type Scalar uint8

const (
	ScalarBool Scalar = iota + 1
	ScalarInt
	ScalarUint
	ScalarFloat32
	ScalarFloat64
	ScalarString
	ScalarBytes
)

// Primitive describes a built-in type name. Bits is the declared integer
// width, zero for non-integers.
type Primitive struct {
	Scalar Scalar
	Bits   int
}

var primitives = map[string]Primitive{
	"bool":    {ScalarBool, 0},
	"sbyte":   {ScalarInt, 8},
	"int8":    {ScalarInt, 8},
	"short":   {ScalarInt, 16},
	"int16":   {ScalarInt, 16},
	"int":     {ScalarInt, 32},
	"int32":   {ScalarInt, 32},
	"long":    {ScalarInt, 64},
	"int64":   {ScalarInt, 64},
	"byte":    {ScalarUint, 8},
	"uint8":   {ScalarUint, 8},
	"ushort":  {ScalarUint, 16},
	"uint16":  {ScalarUint, 16},
	"uint":    {ScalarUint, 32},
	"uint32":  {ScalarUint, 32},
	"ulong":   {ScalarUint, 64},
	"uint64":  {ScalarUint, 64},
	"float":   {ScalarFloat32, 0},
	"float32": {ScalarFloat32, 0},
	"double":  {ScalarFloat64, 0},
	"float64": {ScalarFloat64, 0},
	"string":  {ScalarString, 0},
	"bytes":   {ScalarBytes, 0},
	"byte[]":  {ScalarBytes, 0},
	"uint8[]": {ScalarBytes, 0},
}

// LookupPrimitive reports whether name is a built-in type.
func LookupPrimitive(name string) (Primitive, bool) {
	p, ok := primitives[name]
	return p, ok
}

// SplitTypeRef separates an array suffix from a type-ref. `byte[]` is the
// bytes primitive rather than an array of bytes, so `byte[]` is not repeated
// and `byte[][]` is a repeated `byte[]`.
func SplitTypeRef(ref string) (elem string, repeated bool) {
	if _, ok := primitives[ref]; ok {
		return ref, false
	}
	if base, ok := strings.CutSuffix(ref, "[]"); ok {
		return base, true
	}
	return ref, false
}
