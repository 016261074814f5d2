package schema

import (
	"fmt"
	"slices"
)

// TableSchema is the storage schema of one entity at one version.
type TableSchema struct {
	Version        int
	SchemaString   string
	IDPropertyName string
	Fields         []FieldSpec
}

// BuildTableSchema derives the descriptor for version.
//
// The primary key comes first, chosen by precedence among the visible key
// annotations: Id, then IncrementalId, then the CompoundId members. Unique
// fields follow, then Indexed fields, each in declaration order.
func BuildTableSchema(e *Entity, version int) (TableSchema, error) {
	if version < 1 {
		return TableSchema{}, &SchemaError{
			Code:    ErrCodeInvalidVersion,
			Entity:  e.name,
			Message: fmt.Sprintf("version must be >= 1, got %d", version),
		}
	}

	visible := FieldsVisibleAt(e, version)
	isVisible := func(field string) bool { return slices.Contains(visible, field) }
	filter := func(fields []string) []string {
		return slices.DeleteFunc(fields, func(f string) bool { return !isVisible(f) })
	}

	ids := filter(e.fieldsOfKind(KindID))
	incremental := filter(e.fieldsOfKind(KindIncrementalID))
	compound := filter(e.fieldsOfKind(KindCompoundID))

	var pk FieldSpec
	switch {
	case len(ids) > 0:
		pk = FieldSpec{Name: ids[0], PrimaryKey: true, Unique: true}
	case len(incremental) > 0:
		pk = FieldSpec{Name: incremental[0], PrimaryKey: true, Incremental: true}
	case len(compound) > 0:
		pk = FieldSpec{Name: CompoundName(compound), Members: compound, PrimaryKey: true}
	default:
		return TableSchema{}, newNoPrimaryKeyError(e.name, version)
	}

	fields := []FieldSpec{pk}
	taken := map[string]bool{pk.Name: true}
	for _, f := range filter(e.fieldsOfKind(KindUnique)) {
		if !taken[f] {
			fields = append(fields, FieldSpec{Name: f, Unique: true})
			taken[f] = true
		}
	}
	for _, f := range filter(e.fieldsOfKind(KindIndexed)) {
		if !taken[f] {
			fields = append(fields, FieldSpec{Name: f})
			taken[f] = true
		}
	}

	return TableSchema{
		Version:        version,
		SchemaString:   FormatSchemaString(fields),
		IDPropertyName: pk.Name,
		Fields:         fields,
	}, nil
}

// BuildAll builds the schema for every version from the entity's lowest
// version up to max(highest, current). Either every version builds or the
// first error is returned and nothing else.
func BuildAll(e *Entity, current int) ([]TableSchema, error) {
	walk, err := VersionRange(e, current)
	if err != nil {
		return nil, err
	}
	schemas := make([]TableSchema, 0, len(walk))
	for _, v := range walk {
		ts, err := BuildTableSchema(e, v)
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, ts)
	}
	return schemas, nil
}
