package idl

import "strings"

// DeclKind identifies a declaration variant.
type DeclKind uint8

const (
	DeclConstant DeclKind = iota + 1
	DeclEnum
	DeclStruct
	DeclMessage
	DeclComment
)

func (k DeclKind) String() string {
	switch k {
	case DeclConstant:
		return "const"
	case DeclEnum:
		return "enum"
	case DeclStruct:
		return "struct"
	case DeclMessage:
		return "message"
	case DeclComment:
		return "comment"
	default:
		return "unknown"
	}
}

// Decl is one top-level declaration of a source unit.
type Decl interface {
	Kind() DeclKind
	// DeclName is empty for comments.
	DeclName() string
}

// Definition is the parsed form of one source unit.
type Definition struct {
	Namespace string `json:"namespace"`
	Decls     []Decl `json:"decls"`
}

// Constant is `const <type> <name> = <value>;`.
type Constant struct {
	Name  string  `json:"name"`
	Type  string  `json:"type"`
	Value Literal `json:"value"`
}

func (*Constant) Kind() DeclKind     { return DeclConstant }
func (c *Constant) DeclName() string { return c.Name }

// EnumMember is one enum entry with its resolved ordinal.
type EnumMember struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
	// Explicit reports whether the ordinal was written in source.
	Explicit bool `json:"explicit"`
}

type Enum struct {
	Name    string       `json:"name"`
	Members []EnumMember `json:"members"`
}

func (*Enum) Kind() DeclKind     { return DeclEnum }
func (e *Enum) DeclName() string { return e.Name }

// Member returns the member called name.
func (e *Enum) Member(name string) (EnumMember, bool) {
	for _, m := range e.Members {
		if m.Name == name {
			return m, true
		}
	}
	return EnumMember{}, false
}

// Field is one field of a struct or message section. Its ordinal is its
// 1-based position in the enclosing field list.
type Field struct {
	Type      string   `json:"type"`
	Name      string   `json:"name"`
	Mandatory bool     `json:"mandatory"`
	Default   *Literal `json:"default,omitempty"`
}

type Struct struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`
}

func (*Struct) Kind() DeclKind     { return DeclStruct }
func (s *Struct) DeclName() string { return s.Name }

// Section is the request or response body of a message.
type Section struct {
	Fields []Field `json:"fields"`
}

// Message declares a request/response contract. A nil section was absent
// from source.
type Message struct {
	Name     string   `json:"name"`
	Request  *Section `json:"request,omitempty"`
	Response *Section `json:"response,omitempty"`
}

func (*Message) Kind() DeclKind     { return DeclMessage }
func (m *Message) DeclName() string { return m.Name }

// Comment is a top-level `//` line, kept in declaration order.
type Comment struct {
	Text string `json:"text"`
}

func (*Comment) Kind() DeclKind   { return DeclComment }
func (*Comment) DeclName() string { return "" }

func (d *Definition) Messages() []*Message {
	var out []*Message
	for _, decl := range d.Decls {
		if m, ok := decl.(*Message); ok {
			out = append(out, m)
		}
	}
	return out
}

func (d *Definition) Enums() []*Enum {
	var out []*Enum
	for _, decl := range d.Decls {
		if e, ok := decl.(*Enum); ok {
			out = append(out, e)
		}
	}
	return out
}

func (d *Definition) Structs() []*Struct {
	var out []*Struct
	for _, decl := range d.Decls {
		if s, ok := decl.(*Struct); ok {
			out = append(out, s)
		}
	}
	return out
}

func (d *Definition) Constants() []*Constant {
	var out []*Constant
	for _, decl := range d.Decls {
		if c, ok := decl.(*Constant); ok {
			out = append(out, c)
		}
	}
	return out
}

// Lookup returns the first named declaration called name.
func (d *Definition) Lookup(name string) (Decl, bool) {
	for _, decl := range d.Decls {
		if decl.Kind() != DeclComment && decl.DeclName() == name {
			return decl, true
		}
	}
	return nil, false
}

// ResolveType finds the enum or struct a non-primitive type-ref names.
// Accepted spellings: the bare name, the namespace-qualified name, or any
// dotted prefix ending in the bare name (e.g. `Messages.Result`).
func (d *Definition) ResolveType(ref string) (Decl, bool) {
	candidates := []string{ref}
	if d.Namespace != "" {
		if rest, ok := strings.CutPrefix(ref, d.Namespace+"."); ok {
			candidates = append(candidates, rest)
		}
	}
	if i := strings.LastIndexByte(ref, '.'); i >= 0 && i < len(ref)-1 {
		candidates = append(candidates, ref[i+1:])
	}
	for _, name := range candidates {
		for _, decl := range d.Decls {
			switch decl.(type) {
			case *Enum, *Struct:
				if decl.DeclName() == name {
					return decl, true
				}
			}
		}
	}
	return nil, false
}
