// Package docstore is the collection store: named JSON documents in a
// version-controlled file repository, mutated only by compare-and-swap.
//
// # Versions
//
// Every stored document has a Version, the git blob SHA of its bytes. A
// read returns the document together with its Version; a write must name
// the Version it expects to replace and fails with *ConflictError when the
// document changed in between. An absent document reads as empty with the
// Absent version, and writing with Absent creates it. Reads never return a
// not-found error.
//
// # Guarantees
//
//   - Read-after-write on a single document: a successful Put is visible to
//     the next Get by any caller.
//   - Linearizable read-modify-write on one document via its Version.
//   - No transaction spanning two documents. Callers that move a record
//     between documents must tolerate the window between the two writes.
//
// # Backends
//
//   - MemoryBackend: in-process, for tests and dry runs
//   - FileBackend: a working tree on disk guarded by flock
//   - SQLiteBackend: a documents table with CAS updates and a history log
//   - GitHubBackend: the GitHub contents API, whose file sha is the Version
//
// # Layout
//
//	data/{collection}-messages.json        active collections
//	data/archive/{collection}-{date}.json  archive batches
//	data/intents.json                      transition intent log
//	data/last-update-id.json               ingestion cursor
//	static/images/{id}/{file}              image bytes
package docstore
