// Package storage provides the persistence layer for relayd.
//
// It currently supports:
//   - Audit log appends (one row per dispatch attempt)
//   - Scheduled job rows (so pending jobs survive a restart)
//
// Two drivers exist: a dependency-free file backend (JSONL audit plus a
// JSON job snapshot) and a SQLite database file.
package storage
