package tag

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf16"

	"github.com/danmuck/postal/internal/idl"
	"github.com/danmuck/postal/internal/protocol"
	"github.com/rs/zerolog/log"
)

// ErrCollision is returned when two messages of one unit hash to the same tag.
var ErrCollision = errors.New("tag: collision")

// CollisionError names both messages sharing a tag.
type CollisionError struct {
	Tag    protocol.Tag
	First  string
	Second string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("tag: %s and %s both hash to %d", e.First, e.Second, e.Tag)
}

func (e *CollisionError) Unwrap() error { return ErrCollision }

// Assignment binds one message of a definition to its wire tag.
type Assignment struct {
	Message   *idl.Message
	Qualified string
	Tag       protocol.Tag
}

// Qualify joins the three name parts into the hashed form.
func Qualify(namespace, unit, message string) string {
	return strings.Join([]string{namespace, unit, message}, ".")
}

// Hash maps a qualified name to [0, MaxTag). The hash runs over the UTF-16
// little-endian bytes of the name, so values are stable across peers that
// agree on the name text.
func Hash(qualified string) protocol.Tag {
	var h uint32
	mix := func(b byte) {
		h += uint32(b)
		h += h << 10
		h ^= h >> 6
	}
	for _, unit := range utf16.Encode([]rune(qualified)) {
		mix(byte(unit))
		mix(byte(unit >> 8))
	}
	h += h << 3
	h ^= h >> 11
	h += h << 15
	return protocol.Tag(h % uint32(protocol.MaxTag))
}

// Assign tags every message of def, in declaration order, for the given
// unit name. Two messages sharing a tag fail the whole assignment.
func Assign(def *idl.Definition, unit string) ([]Assignment, error) {
	msgs := def.Messages()
	out := make([]Assignment, 0, len(msgs))
	seen := make(map[protocol.Tag]string, len(msgs))
	for _, m := range msgs {
		q := Qualify(def.Namespace, unit, m.Name)
		t := Hash(q)
		if prev, ok := seen[t]; ok {
			log.Error().Str("first", prev).Str("second", q).Uint32("tag", uint32(t)).Msg("tag.Assign collision")
			return nil, &CollisionError{Tag: t, First: prev, Second: q}
		}
		seen[t] = q
		out = append(out, Assignment{Message: m, Qualified: q, Tag: t})
	}
	log.Debug().Str("namespace", def.Namespace).Str("unit", unit).Int("messages", len(out)).Msg("tag.Assign ok")
	return out, nil
}
