package idl

import (
	"errors"
	"fmt"
)

var (
	ErrSyntax     = errors.New("idl: syntax error")
	ErrUnresolved = errors.New("idl: unresolved type reference")
	ErrDuplicate  = errors.New("idl: duplicate name")
)

// SyntaxError reports the first construct the parser could not match.
type SyntaxError struct {
	Line     int
	Column   int
	Expected string
	Found    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("idl: syntax error at %d:%d: expected %s, found %s", e.Line, e.Column, e.Expected, e.Found)
}

func (e *SyntaxError) Unwrap() error { return ErrSyntax }

// ReferenceError is one problem found by Validate.
type ReferenceError struct {
	Decl  string
	Field string
	Ref   string
	Err   error
}

func (e *ReferenceError) Error() string {
	switch {
	case e.Field != "":
		return fmt.Sprintf("%v: %s.%s: %s", e.Err, e.Decl, e.Field, e.Ref)
	case e.Ref != "":
		return fmt.Sprintf("%v: %s: %s", e.Err, e.Decl, e.Ref)
	default:
		return fmt.Sprintf("%v: %s", e.Err, e.Decl)
	}
}

func (e *ReferenceError) Unwrap() error { return e.Err }
