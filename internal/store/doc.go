// Package store provides SQLite-backed durable storage for solmeal.
//
// The store holds:
//   - Timetable bits: packed weekly availability per user with a dirty flag
//   - Runs: one clustering cycle per campus, draft or active
//   - Cluster members: ranked membership rows per run
//   - Campus latest: the durable pointer to each campus's live run
//
// # Critical Patterns
//
// Single writer: the pool is limited to one connection and transactions are
// opened with BEGIN IMMEDIATE, so a transaction holds the write lock from its
// first statement. Activation relies on this as its row lock.
//
// Deterministic reads: membership is returned ORDER BY id, and stats by
// cluster_seq, so identical runs stream identically.
//
// Streaming callers must not issue store calls while a result set is open;
// ScanMembers materializes one page at a time for that reason.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
