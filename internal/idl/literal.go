package idl

import (
	"fmt"
	"strconv"
	"strings"
)

// LiteralKind records which value production matched.
type LiteralKind uint8

const (
	LitString LiteralKind = iota + 1
	LitHex
	LitNumber
	LitIdent
)

func (k LiteralKind) String() string {
	switch k {
	case LitString:
		return "string"
	case LitHex:
		return "hex"
	case LitNumber:
		return "number"
	case LitIdent:
		return "ident"
	default:
		return "unknown"
	}
}

func (k LiteralKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Literal is a default or constant value kept as written in source.
// String literals keep their quotes.
type Literal struct {
	Kind LiteralKind `json:"kind"`
	Text string      `json:"text"`
}

// Unquote returns the decoded contents of a string literal.
func (l Literal) Unquote() (string, error) {
	if l.Kind != LitString {
		return "", fmt.Errorf("idl: literal %s is not a string", l.Text)
	}
	s, err := strconv.Unquote(l.Text)
	if err != nil {
		// Escapes outside Go's set are kept verbatim.
		return strings.Trim(l.Text, `"`), nil
	}
	return s, nil
}

// Int parses hex and integral decimal literals.
func (l Literal) Int() (int64, error) {
	switch l.Kind {
	case LitHex:
		v, err := strconv.ParseUint(l.Text[2:], 16, 64)
		if err != nil {
			return 0, fmt.Errorf("idl: invalid hex literal %s: %w", l.Text, err)
		}
		return int64(v), nil
	case LitNumber:
		v, err := strconv.ParseInt(l.Text, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("idl: invalid integer literal %s: %w", l.Text, err)
		}
		return v, nil
	default:
		return 0, fmt.Errorf("idl: literal %s is not numeric", l.Text)
	}
}

// Uint parses hex and integral decimal literals over the full uint64 range.
func (l Literal) Uint() (uint64, error) {
	switch l.Kind {
	case LitHex:
		v, err := strconv.ParseUint(l.Text[2:], 16, 64)
		if err != nil {
			return 0, fmt.Errorf("idl: invalid hex literal %s: %w", l.Text, err)
		}
		return v, nil
	case LitNumber:
		v, err := strconv.ParseUint(l.Text, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("idl: invalid unsigned literal %s: %w", l.Text, err)
		}
		return v, nil
	default:
		return 0, fmt.Errorf("idl: literal %s is not numeric", l.Text)
	}
}

// Float parses any numeric literal as a float64.
func (l Literal) Float() (float64, error) {
	switch l.Kind {
	case LitHex:
		v, err := l.Int()
		return float64(v), err
	case LitNumber:
		v, err := strconv.ParseFloat(l.Text, 64)
		if err != nil {
			return 0, fmt.Errorf("idl: invalid number literal %s: %w", l.Text, err)
		}
		return v, nil
	default:
		return 0, fmt.Errorf("idl: literal %s is not numeric", l.Text)
	}
}

func (l Literal) String() string { return l.Text }
