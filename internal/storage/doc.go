// Package storage persists maintenance schedules, their work order templates,
// generated work orders and the cycle run log.
//
// Backends:
//   - sqlite (default): modernc.org/sqlite through sqlx, WAL, one writer
//   - postgres: lib/pq through the same sqlx code path
//   - memory: in-process maps, used by tests and dry runs
//
// Generation goes through Store.Tx so the work order insert and the
// last_generated update commit together. The work_orders table also carries
// a unique index on (schedule_id, due_date).
package storage
