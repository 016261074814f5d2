package schema

import (
	"fmt"
	"slices"
)

// DefaultSinceVersion is applied to annotations declared without a version.
const DefaultSinceVersion = 1

// Kind identifies the role an annotation gives a field.
type Kind int

const (
	KindID Kind = iota + 1
	KindIncrementalID
	KindCompoundID
	KindUnique
	KindIndexed
)

var kindNames = map[Kind]string{
	KindID:            "Id",
	KindIncrementalID: "IncrementalId",
	KindCompoundID:    "CompoundId",
	KindUnique:        "Unique",
	KindIndexed:       "Indexed",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// IsPrimaryKey reports whether the kind designates (part of) the primary key.
func (k Kind) IsPrimaryKey() bool {
	return k == KindID || k == KindIncrementalID || k == KindCompoundID
}

// ParseKind maps an annotation name back to its Kind. Matching accepts both
// the canonical spelling ("IncrementalId") and lower snake case ("incremental_id").
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "Id", "id":
		return KindID, true
	case "IncrementalId", "incremental_id", "incrementalId":
		return KindIncrementalID, true
	case "CompoundId", "compound_id", "compoundId":
		return KindCompoundID, true
	case "Unique", "unique":
		return KindUnique, true
	case "Indexed", "indexed":
		return KindIndexed, true
	}
	return 0, false
}

// FieldAnnotation attaches a Kind to a field starting at SinceVersion.
type FieldAnnotation struct {
	Field        string
	Kind         Kind
	SinceVersion int
}

// Entity is the declaration of one persistent shape: its name plus every
// annotation in declaration order. Entities are built once and then only read.
type Entity struct {
	name        string
	annotations []FieldAnnotation

	// fieldOrder lists each annotated field once, in first-declaration order.
	fieldOrder []string
	// fieldVersion holds the version of the annotation added last per field.
	fieldVersion map[string]int
}

// NewEntity creates an entity and attaches the given annotations in order.
// The first rule violation is returned as a *DeclarationError.
func NewEntity(name string, annotations ...FieldAnnotation) (*Entity, error) {
	e := &Entity{
		name:         name,
		fieldVersion: make(map[string]int),
	}
	for _, a := range annotations {
		if err := e.Annotate(a); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Name returns the entity name.
func (e *Entity) Name() string {
	return e.name
}

// Annotations returns a copy of the annotations in declaration order.
func (e *Entity) Annotations() []FieldAnnotation {
	return slices.Clone(e.annotations)
}

// Annotate attaches one annotation. A zero SinceVersion means DefaultSinceVersion.
//
// Primary-key rules: an entity has either one Id, or one IncrementalId, or one
// or more CompoundId members. Anything else is rejected here, at declaration
// time, never later during schema building.
func (e *Entity) Annotate(a FieldAnnotation) error {
	if a.Field == "" {
		return &DeclarationError{Code: ErrCodeInvalidAnnotation, Entity: e.name, Message: "annotation has no field name"}
	}
	if _, ok := kindNames[a.Kind]; !ok {
		return &DeclarationError{Code: ErrCodeInvalidAnnotation, Entity: e.name, Field: a.Field, Message: fmt.Sprintf("unknown annotation kind %d", int(a.Kind))}
	}
	if a.SinceVersion == 0 {
		a.SinceVersion = DefaultSinceVersion
	}
	if a.SinceVersion < 1 {
		return &DeclarationError{Code: ErrCodeInvalidAnnotation, Entity: e.name, Field: a.Field, Message: fmt.Sprintf("sinceVersion must be >= 1, got %d", a.SinceVersion)}
	}
	if a.Kind.IsPrimaryKey() {
		if err := e.checkPrimaryKey(a); err != nil {
			return err
		}
	}

	e.annotations = append(e.annotations, a)
	if _, seen := e.fieldVersion[a.Field]; !seen {
		e.fieldOrder = append(e.fieldOrder, a.Field)
	}
	e.fieldVersion[a.Field] = a.SinceVersion
	return nil
}

func (e *Entity) checkPrimaryKey(a FieldAnnotation) error {
	existing, ok := e.primaryKeyKind()
	if !ok {
		return nil
	}
	switch {
	case existing == KindID && a.Kind == KindID:
		return &DeclarationError{
			Code: ErrCodeDuplicateKey, Entity: e.name, Field: a.Field,
			Message: fmt.Sprintf("only one property in %s may be annotated with Id", e.name),
		}
	case existing == KindIncrementalID && a.Kind == KindIncrementalID:
		return &DeclarationError{
			Code: ErrCodeDuplicateKey, Entity: e.name, Field: a.Field,
			Message: fmt.Sprintf("only one property in %s may be annotated with IncrementalId", e.name),
		}
	case existing == KindCompoundID && a.Kind == KindCompoundID:
		return nil
	}
	return &DeclarationError{
		Code: ErrCodeConflictingKey, Entity: e.name, Field: a.Field,
		Message: fmt.Sprintf("only one kind of primary key annotation may be used in %s", e.name),
	}
}

func (e *Entity) primaryKeyKind() (Kind, bool) {
	for _, a := range e.annotations {
		if a.Kind.IsPrimaryKey() {
			return a.Kind, true
		}
	}
	return 0, false
}

// fieldsOfKind returns the distinct fields carrying kind, in declaration order.
func (e *Entity) fieldsOfKind(kind Kind) []string {
	var fields []string
	for _, a := range e.annotations {
		if a.Kind == kind && !slices.Contains(fields, a.Field) {
			fields = append(fields, a.Field)
		}
	}
	return fields
}

// Builder offers a fluent way to declare an entity. The first violation is
// kept and reported by Build; later calls become no-ops.
//
//	books, err := schema.Declare("books").
//		IncrementalID("id").
//		Indexed("title").
//		Indexed("author").
//		Build()
type Builder struct {
	entity *Entity
	err    error
}

// Declare starts a new entity declaration.
func Declare(name string) *Builder {
	e, _ := NewEntity(name)
	return &Builder{entity: e}
}

// Option adjusts a single annotation.
type Option func(*FieldAnnotation)

// Since sets the schema version the annotation first applies to.
func Since(version int) Option {
	return func(a *FieldAnnotation) {
		a.SinceVersion = version
	}
}

func (b *Builder) add(field string, kind Kind, opts []Option) *Builder {
	if b.err != nil {
		return b
	}
	a := FieldAnnotation{Field: field, Kind: kind, SinceVersion: DefaultSinceVersion}
	for _, opt := range opts {
		opt(&a)
	}
	b.err = b.entity.Annotate(a)
	return b
}

// ID marks field as the unique scalar primary key.
func (b *Builder) ID(field string, opts ...Option) *Builder {
	return b.add(field, KindID, opts)
}

// IncrementalID marks field as an auto-incrementing integer primary key.
func (b *Builder) IncrementalID(field string, opts ...Option) *Builder {
	return b.add(field, KindIncrementalID, opts)
}

// CompoundID adds field to the compound primary key.
func (b *Builder) CompoundID(field string, opts ...Option) *Builder {
	return b.add(field, KindCompoundID, opts)
}

// Unique adds a unique secondary index on field.
func (b *Builder) Unique(field string, opts ...Option) *Builder {
	return b.add(field, KindUnique, opts)
}

// Indexed adds a non-unique secondary index on field.
func (b *Builder) Indexed(field string, opts ...Option) *Builder {
	return b.add(field, KindIndexed, opts)
}

// Build returns the entity or the first declaration error.
func (b *Builder) Build() (*Entity, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.entity, nil
}

// MustBuild is like Build but panics on error. Intended for package-level
// declarations whose validity is fixed at compile time.
func (b *Builder) MustBuild() *Entity {
	e, err := b.Build()
	if err != nil {
		panic(err)
	}
	return e
}
