// Package storage persists tracked accounts, posts, chats and subscribers.
//
// Drivers:
//   - "sqlite":   SQLite database file (modernc.org/sqlite, no cgo)
//   - "postgres": PostgreSQL via lib/pq
//   - "memory":   in-process maps; with a path it snapshots to a JSON file
//
// Cascades are explicit: deleting an account removes its posts and
// subscribers, deleting a chat removes its subscribers, each in the same
// transaction as the parent row.
package storage
