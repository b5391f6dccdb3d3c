// Package audit implements the tamper-evident audit trail.
//
// Every event becomes an Entry whose Hash covers its own fields and the Hash
// of the entry before it, so editing, deleting or reordering any stored entry
// breaks every later link. Verify replays the chain and reports the first
// broken entry.
//
// Metadata is masked before hashing: any key containing password, token,
// secret, credit_card or ssn (case-insensitive) is replaced by "[REDACTED]"
// at every depth.
//
// Appends go through a Writer, which owns a single append goroutine. DBStore
// additionally takes a PostgreSQL advisory lock around read-head-and-insert,
// so writers in separate processes cannot fork the chain.
package audit
