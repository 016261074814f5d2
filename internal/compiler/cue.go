package compiler

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/roach88/docrepo/internal/schema"
)

// CompileEntity reads one entity declaration from a CUE value. The value is
// the entity struct itself; its label becomes the entity name:
//
//	entity: contact: {
//		table: "contacts"
//		fields: {
//			name:    "Id"
//			email:   ["Unique", "Indexed"]
//			address: {kind: "Unique", since: 3}
//		}
//	}
//
// Fields keep their source order, which is the order annotations are
// attached in.
func CompileEntity(v cue.Value) (*Declaration, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	decl := &Declaration{Pos: v.Pos()}
	if labels := v.Path().Selectors(); len(labels) > 0 {
		decl.Name = labels[len(labels)-1].String()
	}
	if pos := v.Pos(); pos.IsValid() {
		decl.Source = pos.Filename()
		decl.Line = pos.Line()
	}

	if tableVal := v.LookupPath(cue.ParsePath("table")); tableVal.Exists() {
		table, err := tableVal.String()
		if err != nil {
			return nil, &CompileError{Field: "table", Message: "table must be a string", Pos: tableVal.Pos()}
		}
		decl.Table = table
	}

	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if !fieldsVal.Exists() {
		return nil, &CompileError{
			Field:   "fields",
			Message: "fields is required",
			Pos:     v.Pos(),
		}
	}
	iter, err := fieldsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		field := iter.Label()
		fields, err := parseCUEAnnotations(field, iter.Value())
		if err != nil {
			return nil, err
		}
		decl.Fields = append(decl.Fields, fields...)
	}
	return decl, nil
}

// parseCUEAnnotations accepts a kind string, a {kind, since} struct, or a
// list mixing both.
func parseCUEAnnotations(field string, v cue.Value) ([]FieldDecl, error) {
	switch v.IncompleteKind() {
	case cue.ListKind:
		list, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		var out []FieldDecl
		for list.Next() {
			fd, err := parseCUEAnnotation(field, list.Value())
			if err != nil {
				return nil, err
			}
			out = append(out, fd)
		}
		if len(out) == 0 {
			return nil, &CompileError{Field: "fields." + field, Message: "annotation list is empty", Pos: v.Pos()}
		}
		return out, nil
	default:
		fd, err := parseCUEAnnotation(field, v)
		if err != nil {
			return nil, err
		}
		return []FieldDecl{fd}, nil
	}
}

func parseCUEAnnotation(field string, v cue.Value) (FieldDecl, error) {
	fd := FieldDecl{Field: field, Line: v.Pos().Line()}
	path := "fields." + field

	switch v.IncompleteKind() {
	case cue.StringKind:
		kind, err := v.String()
		if err != nil {
			return fd, formatCUEError(err)
		}
		fd.Kind = kind
	case cue.StructKind:
		kindVal := v.LookupPath(cue.ParsePath("kind"))
		if !kindVal.Exists() {
			return fd, &CompileError{Field: path + ".kind", Message: "kind is required", Pos: v.Pos()}
		}
		kind, err := kindVal.String()
		if err != nil {
			return fd, &CompileError{Field: path + ".kind", Message: "kind must be a string", Pos: kindVal.Pos()}
		}
		fd.Kind = kind
		if sinceVal := v.LookupPath(cue.ParsePath("since")); sinceVal.Exists() {
			since, err := sinceVal.Int64()
			if err != nil {
				return fd, &CompileError{Field: path + ".since", Message: "since must be an integer", Pos: sinceVal.Pos()}
			}
			fd.Since = int(since)
		}
	default:
		return fd, &CompileError{
			Field:   path,
			Message: fmt.Sprintf("expected annotation name, struct or list, got %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}

	if _, ok := schema.ParseKind(fd.Kind); !ok {
		return fd, &CompileError{
			Field:   path,
			Message: fmt.Sprintf("unknown annotation %q", fd.Kind),
			Pos:     v.Pos(),
		}
	}
	return fd, nil
}
