// Package schema turns entity declarations into versioned table schemas.
//
// An entity is a named list of field annotations. Each annotation carries a
// kind (Id, IncrementalId, CompoundId, Unique, Indexed) and the schema version
// it first applies to. From those annotations the package derives:
//
//   - the set of schema versions the entity participates in (ResolveVersions)
//   - the fields visible at a given version (FieldsVisibleAt)
//   - the schema descriptor string for a version (BuildTableSchema)
//
// Descriptor strings use the compact store grammar:
//
//	++id, title, author              incremental primary key
//	&name, &address                  unique primary key plus a unique index
//	[firstName+lastName], lastName   compound primary key plus an index
//
// ParseSchemaString is the inverse used by the storage engine.
//
// # Visibility
//
// A field is visible at version v when its annotation version is ≤ v. When a
// field carries more than one annotation, the version of the annotation added
// last applies to the field as a whole.
package schema
