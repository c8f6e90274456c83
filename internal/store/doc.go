// Package store provides SQLite-backed storage for input recordings.
//
// A recording captures one run of the processor: the profile it ran
// against, the device bindings, every input step (events and ticks) and
// every output event, tagged with the step that produced it. Recordings can
// be replayed against the same or a different profile and compared event by
// event.
//
// # Critical Patterns
//
// Logical Order Only:
//   - Recordings are ordered by a seq INTEGER assigned at write time,
//     never by wall-clock time
//   - Steps and outputs are keyed by (recording_id, seq)
//
// Deterministic Query Results:
//   - All list queries include ORDER BY seq ASC, id COLLATE BINARY ASC
//
// Atomic Writes:
//   - A recording, its steps and its outputs are written in one transaction;
//     a failed write leaves nothing behind
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
