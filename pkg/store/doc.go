// Package store defines the synchronous key-value primitive the leadstore
// engine persists through, plus its pluggable backends.
//
// The Store interface is deliberately minimal: Get/Set/Remove/Keys over
// opaque byte values, one value per key. Two optional capabilities are
// detected by interface assertion:
//
//   - Watcher: a cross-process change feed, the server-side analog of a
//     browser storage-changed event. Redis (pub/sub), Postgres
//     (LISTEN/NOTIFY), File (fsnotify), and Memory (local fan-out, for
//     tests) implement it. SQLite does not.
//   - QuotaReporter: backend capacity reporting consumed by the quota
//     monitor. Backends without a configured capacity return an error and
//     the monitor falls back to a fixed default limit.
//
// Backends:
//
//	store.NewMemoryStore(5 << 20)                   // tests, embedding
//	store.NewFileStore("/var/lib/leadstore", cap)   // single host, multi-process
//	store.NewSQLiteStore("/var/lib/leadstore.db")   // single process, durable
//	store.NewRedisStore(store.RedisConfig{URL: u})  // shared, multi-process
//	store.NewPostgresStore(url, cap)                // shared, transactional
//
// Concurrency: the store is a process-wide (and cross-process) shared
// resource. The engine serializes writes per key; across processes there is
// no lock and conflicts resolve last-writer-wins, reconciled through the
// change feed.
package store
