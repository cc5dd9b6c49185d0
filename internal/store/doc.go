// Package store provides the raw key-value backends behind the integrity
// layer: a durable SQLite store and an in-memory store for tests.
//
// Both backends behave like a browser's local storage area: string keys,
// string values, whole-value overwrites, and a fixed capacity. A write that
// would push the total size past the configured quota fails with
// ErrQuotaExceeded and leaves every existing key unchanged.
//
// # Size accounting
//
// The size of an entry is len(key) + len(value) in bytes. Overwriting a key
// releases its previous size before the new one is charged.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// SQLITE_FULL (disk or max_page_count exhausted) is reported as
// ErrQuotaExceeded as well, so callers see one capacity failure regardless
// of which limit was hit.
package store
