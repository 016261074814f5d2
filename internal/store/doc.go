// Package store provides a versioned, transactional document store on SQLite.
//
// A DB holds named tables of JSON documents. Each table has a schema
// descriptor such as "++id, title, &isbn, [first+last]": the first entry is
// the primary key, the rest are secondary indexes. Schemas are declared per
// version on a closed handle; Open upgrades the file to the highest declared
// version in one transaction.
//
// # Storage layout
//
// Every table is stored as (seq, key, doc):
//   - seq orders rows by insertion; for "++" tables it equals the key
//   - key holds the canonical key encoding (see internal/ir)
//   - doc holds the document JSON
//
// Secondary indexes are SQLite expression indexes over json_extract. Unique
// entries get UNIQUE indexes, so duplicates fail with ErrCodeConstraint.
//
// # Change feed
//
// Every write inside a Transaction appends a record to _docrepo_changes in
// the same SQLite transaction. A feed goroutine delivers committed records
// to subscribers in revision order. Records carry the source tag of the
// writing transaction so a writer can recognise its own changes.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package store
