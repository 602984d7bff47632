package schema

import "github.com/danmuck/postal/internal/protocol"

// Description is the serializable summary of a registry served to
// operators and printed by tooling.
type Description struct {
	Namespace   string               `json:"namespace"`
	Unit        string               `json:"unit"`
	Fingerprint string               `json:"fingerprint"`
	Messages    []MessageDescription `json:"messages"`
}

type MessageDescription struct {
	Name      string              `json:"name"`
	Qualified string              `json:"qualified"`
	Tag       protocol.Tag        `json:"tag"`
	Request   *SectionDescription `json:"request,omitempty"`
	Response  *SectionDescription `json:"response,omitempty"`
}

type SectionDescription struct {
	Fields []FieldDescription `json:"fields"`
}

type FieldDescription struct {
	Ordinal   protocol.Ordinal `json:"ordinal"`
	Name      string           `json:"name"`
	Type      string           `json:"type"`
	Kind      Kind             `json:"kind"`
	Repeated  bool             `json:"repeated,omitempty"`
	Mandatory bool             `json:"mandatory,omitempty"`
	Default   string           `json:"default,omitempty"`
}

func (r *Registry) Describe() Description {
	d := Description{
		Namespace:   r.namespace,
		Unit:        r.unit,
		Fingerprint: r.FingerprintHex(),
		Messages:    make([]MessageDescription, 0, len(r.messages)),
	}
	for _, m := range r.messages {
		d.Messages = append(d.Messages, MessageDescription{
			Name:      m.Name,
			Qualified: m.Qualified,
			Tag:       m.Tag,
			Request:   describeSection(m.Request),
			Response:  describeSection(m.Response),
		})
	}
	return d
}

func describeSection(s *Shape) *SectionDescription {
	if s == nil {
		return nil
	}
	out := &SectionDescription{Fields: make([]FieldDescription, 0, len(s.Fields))}
	for _, f := range s.Fields {
		fd := FieldDescription{
			Ordinal:   f.Ordinal,
			Name:      f.Name,
			Type:      f.TypeRef,
			Kind:      f.Kind,
			Repeated:  f.Repeated,
			Mandatory: f.Mandatory,
		}
		if f.Default != nil {
			fd.Default = f.Default.Text
		}
		out.Fields = append(out.Fields, fd)
	}
	return out
}
