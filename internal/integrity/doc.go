// Package integrity implements the integrity-checked record store.
//
// Every value is wrapped in a StorageRecord carrying its write time, schema
// version, draft flag and a digest of the canonical serialization of the
// payload. The digest is recomputed on every load; a record whose digest
// does not verify is reported as corrupted and its payload is never handed
// to the caller.
//
// # Key namespaces
//
//   - "draft:<id>": unsaved working copies, eligible for eviction
//   - "sheet:<id>": authoritative documents, never evicted
//
// # Quota remediation
//
// When the backend rejects a write for lack of capacity, the store evicts
// stale drafts once, retries the write once, and otherwise reports
// QUOTA_EXCEEDED. There is no retry loop, and only draft keys are ever
// evicted. Eviction runs inline on the caller's goroutine.
package integrity
