// Package queryir provides the selection tree used to query document tables.
//
// A query is a Select (rows) or a Count over one table, filtered by a
// Predicate tree. The tree is backend neutral; internal/querysql compiles it
// to SQLite.
//
//	[query builder] → [queryir] → [querysql] → SQLite
//
// # Predicates
//
//   - Equals, NotEquals: compare one property (or the compound key path
//     "[a+b]") with a literal value. Rows without the property never match
//     Equals. They match a NotEquals that narrows an earlier selection, but
//     not one that seeds an index lookup, since a secondary index only holds
//     rows that have the indexed property.
//   - And, Or: conjunction and disjunction; empty And is true, empty Or is false.
//   - Match: an opaque Go function over the stored document. Backends
//     cannot translate it, so they over-select and evaluate it in process.
//
// There is deliberately no NOT node: replacing every Match with TRUE always
// yields a superset of the exact result, which is what lets a backend push
// everything else down.
//
// # Sealed interfaces
//
// Query and Predicate use the marker method pattern. Only types in this
// package implement them, so backends can switch exhaustively.
//
// # Index requirements
//
// The leftmost comparison of a tree, and the leftmost comparison of every Or
// branch, are the lookups a document store serves from an index. IndexedLeaves
// returns them so a store can reject queries on unindexed properties, and
// IndexSeeded flags them by position for backends.
package queryir
