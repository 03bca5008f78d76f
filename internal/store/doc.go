// Package store provides persistent storage for hearth using SQLite.
//
// # Architecture
//
// The store package is split into narrow interfaces so collaborators depend
// only on what they use:
//
//   - SessionStore: per-user conversation state and session counters
//   - RuleSetStore: named trigger/response scripts and their usage counters
//   - MessageStore: the provider message ledger used for deduplication
//   - ChannelStore: receiving lines and their capacity limits
//   - InteractionStore: append-only audit of every reply produced
//
// Store embeds all of them. SQLiteStore and MockStore both implement Store.
//
// # Data Models
//
//   - Session: current topic, variables, last interaction and session counter
//   - RuleSet: source text, priority, active and default flags
//   - Message: keyed by the provider message id, which is the dedup constraint
//   - Channel: provider channel id with daily and per-second limits
//   - Interaction: input, output, kind, confidence and latency of one reply
//
// # Invariants
//
// The session counter and last interaction timestamp never move backward in
// storage. Closing a session keeps its counter in session_history so the
// next session for the same user continues the sequence. At most one active
// rule set may be the default, enforced by a partial unique index.
//
// All timestamps are stored as fixed-width UTC text so that SQL comparisons
// agree with chronological order.
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicate: uniqueness constraint rejected an insert
//   - ErrDefaultConflict: a second active default rule set was saved
//
// # Testing
//
// Use NewMockStore() for unit tests. FailOn injects an error for a single
// method, which lets callers exercise their fail-open paths:
//
//	s := store.NewMockStore()
//	s.FailOn("UpsertSession", errors.New("disk full"))
//
// Use NewSQLiteStore with a path under t.TempDir() for integration tests.
package store
