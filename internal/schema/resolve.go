package schema

import (
	"fmt"
	"slices"
)

// ResolveVersions returns the distinct versions the entity's annotations
// reference, sorted ascending.
func ResolveVersions(e *Entity) ([]int, error) {
	if e == nil || len(e.fieldOrder) == 0 {
		name := ""
		if e != nil {
			name = e.name
		}
		return nil, &SchemaError{
			Code:    ErrCodeNoAnnotations,
			Entity:  name,
			Message: fmt.Sprintf("at least one field of %s must be annotated with Unique, Id or IncrementalId", name),
		}
	}

	versions := make([]int, 0, len(e.fieldOrder))
	for _, field := range e.fieldOrder {
		versions = append(versions, e.fieldVersion[field])
	}
	slices.Sort(versions)
	return slices.Compact(versions), nil
}

// FieldsVisibleAt returns the annotated fields visible at version, in
// first-declaration order. The result only grows as version grows.
func FieldsVisibleAt(e *Entity, version int) []string {
	fields := []string{}
	for _, field := range e.fieldOrder {
		if e.fieldVersion[field] <= version {
			fields = append(fields, field)
		}
	}
	return fields
}

// VersionRange returns every version from the entity's lowest version up to
// max(highest, current), contiguous. current is the version the storage
// engine already reports, so an existing store is never walked backwards.
func VersionRange(e *Entity, current int) ([]int, error) {
	versions, err := ResolveVersions(e)
	if err != nil {
		return nil, err
	}
	lowest := versions[0]
	highest := max(versions[len(versions)-1], current)

	walk := make([]int, 0, highest-lowest+1)
	for v := lowest; v <= highest; v++ {
		walk = append(walk, v)
	}
	return walk, nil
}
