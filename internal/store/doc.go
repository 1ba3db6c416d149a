// Package store provides SQLite-backed durable storage for game sessions.
//
// The store holds four tables:
//   - Sessions: one row per game, with its running action count
//   - Actions: the append-only, sequenced action log
//   - Snapshots: point-in-time board views keyed by (session, seq)
//   - Decks: the full deck list each participant set up
//
// # Sequencing
//
// Append increments sessions.action_count and inserts the action row in one
// transaction. Either both happen or neither does, so the seqs of a session
// are exactly 1..N. FindGaps exists for monitoring databases written by
// other tools.
//
// # Idempotent Snapshots
//
// WriteSnapshot uses ON CONFLICT DO NOTHING on (session_key, seq). The first
// writer wins; a duplicate is reported as inserted=false, not as an error.
// Snapshot payloads are zstd-compressed.
//
// # Deterministic Reads
//
// Every action query orders by seq ASC. Readers return empty slices, never
// nil, when nothing matches.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
