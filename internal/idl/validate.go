package idl

import (
	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/multierr"
)

// Validate is the optional reference pass over a parsed Definition. It
// reports every type-ref that names neither a primitive nor an enum or
// struct of the same unit, duplicate declaration names, and duplicate field
// names within one field list. All problems are returned together; each
// matches ErrUnresolved or ErrDuplicate.
func Validate(def *Definition) error {
	var errs error
	declared := mapset.NewThreadUnsafeSet[string]()
	for _, decl := range def.Decls {
		name := decl.DeclName()
		if decl.Kind() == DeclComment {
			continue
		}
		if !declared.Add(name) {
			errs = multierr.Append(errs, &ReferenceError{Decl: name, Err: ErrDuplicate})
		}
	}

	for _, decl := range def.Decls {
		switch d := decl.(type) {
		case *Constant:
			errs = multierr.Append(errs, checkRef(def, d.Name, "", d.Type))
		case *Enum:
			members := mapset.NewThreadUnsafeSet[string]()
			for _, m := range d.Members {
				if !members.Add(m.Name) {
					errs = multierr.Append(errs, &ReferenceError{Decl: d.Name, Field: m.Name, Err: ErrDuplicate})
				}
			}
		case *Struct:
			errs = multierr.Append(errs, checkFields(def, d.Name, d.Fields))
		case *Message:
			if d.Request != nil {
				errs = multierr.Append(errs, checkFields(def, d.Name+".request", d.Request.Fields))
			}
			if d.Response != nil {
				errs = multierr.Append(errs, checkFields(def, d.Name+".response", d.Response.Fields))
			}
		}
	}
	return errs
}

func checkFields(def *Definition, owner string, fields []Field) error {
	var errs error
	names := mapset.NewThreadUnsafeSet[string]()
	for _, f := range fields {
		if !names.Add(f.Name) {
			errs = multierr.Append(errs, &ReferenceError{Decl: owner, Field: f.Name, Err: ErrDuplicate})
		}
		errs = multierr.Append(errs, checkRef(def, owner, f.Name, f.Type))
	}
	return errs
}

func checkRef(def *Definition, owner, field, ref string) error {
	elem, _ := SplitTypeRef(ref)
	if _, ok := LookupPrimitive(elem); ok {
		return nil
	}
	if _, ok := def.ResolveType(elem); ok {
		return nil
	}
	return &ReferenceError{Decl: owner, Field: field, Ref: ref, Err: ErrUnresolved}
}
