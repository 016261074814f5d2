// Package repository provides typed repositories over a versioned document
// store.
//
// A repository binds an entity declaration (see internal/schema) to one table
// of a store.DB. Construction derives every schema version from the
// declaration, registers them with the store and opens it, so a mis-declared
// entity fails in New rather than on first use.
//
// Values of type V are converted to persisted models of type M by a Mapper;
// models are stored as JSON. K is the primary key type: a string or integer
// for Id and IncrementalId keys, an array or slice for compound keys.
//
// # Events
//
// Every repository republishes the store's change feed for its table as
// typed Events. Writes made through the repository itself are tagged with a
// per-instance token and filtered out, so a repository only observes changes
// made by other instances on the same table.
package repository
