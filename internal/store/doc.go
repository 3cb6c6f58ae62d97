// Package store is the persistence boundary of the delivery engine.
//
// The surrounding CRUD product owns contacts, groups, and schedule documents;
// this engine reads them, appends delivery-intent records, and writes back the
// per-schedule idempotency marker (lastRun/lastRunTime) with an optimistic
// version token.
//
// Two drivers exist behind one Store interface:
//   - "file": dependency-free backend (JSON snapshot + replayed run journal +
//     append-only intents jsonl)
//   - "sqlite": SQLite database file
package store
