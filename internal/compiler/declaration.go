package compiler

import (
	"fmt"

	"cuelang.org/go/cue/token"

	"github.com/roach88/docrepo/internal/schema"
)

// Declaration is an entity read from a CUE or YAML source, before it is
// checked and turned into a schema.Entity.
type Declaration struct {
	// Name is the entity label in the source.
	Name string
	// Table overrides the table name; empty means Name.
	Table  string
	Fields []FieldDecl

	// Source is the file the declaration came from, when known.
	Source string
	Pos    token.Pos
	Line   int
}

// FieldDecl is one annotation on one field. Kind holds the annotation name
// as written; Since is zero when the source left it out.
type FieldDecl struct {
	Field string
	Kind  string
	Since int
	Line  int
}

// TableName returns the table the entity is stored in.
func (d *Declaration) TableName() string {
	if d.Table != "" {
		return d.Table
	}
	return d.Name
}

// Entity turns the declaration into a schema.Entity. Primary-key rule
// violations come back as *schema.DeclarationError.
func (d *Declaration) Entity() (*schema.Entity, error) {
	annotations := make([]schema.FieldAnnotation, 0, len(d.Fields))
	for _, f := range d.Fields {
		kind, ok := schema.ParseKind(f.Kind)
		if !ok {
			return nil, &schema.DeclarationError{
				Code:    schema.ErrCodeInvalidAnnotation,
				Entity:  d.Name,
				Field:   f.Field,
				Message: fmt.Sprintf("unknown annotation %q", f.Kind),
			}
		}
		annotations = append(annotations, schema.FieldAnnotation{
			Field:        f.Field,
			Kind:         kind,
			SinceVersion: f.Since,
		})
	}
	return schema.NewEntity(d.Name, annotations...)
}
