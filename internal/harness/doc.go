// Package harness runs repository scenarios written in YAML and records what
// happened as a trace that can be compared against golden files.
//
// # Scenario Format
//
//	name: books_by_author
//	description: "Incremental keys and author lookups"
//	entity:
//	  book:
//	    table: books
//	    fields:
//	      id: IncrementalId
//	      title: Indexed
//	      author: Indexed
//	steps:
//	  - saveAll:
//	      - {title: "A Game Of Thrones", author: GRRM}
//	      - {title: "The Two Towers", author: JRRT}
//	    expect: {keys: [1, 2]}
//	  - find: 2
//	    expect: {found: true, value: {author: JRRT}}
//	  - search:
//	      where:
//	        - {op: andEqual, field: author, value: GRRM}
//	      count: true
//	    expect: {count: 1}
//	assertions:
//	  - type: final_count
//	    count: 2
//	  - type: event_count
//	    event: create
//	    count: 2
//
// The entity block uses the same shape as YAML entity declarations and must
// declare exactly one entity.
//
// # Steps
//
// Each step names exactly one operation: save, saveAll, find, findAll,
// delete, clear, count or search. An expect clause is optional; value
// expectations are subset matches. A step that fails without an expected
// error fails the scenario.
//
// # Assertions
//
//   - final_count: number of stored rows after the last step
//   - final_state: the row under key matches expect, or is absent
//   - event_count: number of events seen, optionally of one type
//   - event_order: event types appear in this order (gaps allowed)
//
// # Events
//
// Writes go through one repository instance while a second instance on the
// same table observes. Since a repository does not hear its own writes, the
// observer's events are exactly the scenario's writes. The store is closed
// before events are read, which flushes the change feed, so traces are
// deterministic.
package harness
