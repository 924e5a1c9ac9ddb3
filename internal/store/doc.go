// Package store provides durable SQLite-backed storage for jobs, artifacts,
// and the global event log.
//
// The event log is the source of truth for everything the engine emits.
// AppendEvent assigns the global sequence number and persists the event in a
// single transaction, so an event is either durable with a unique sequence or
// it does not exist. There is no code path that hands an event to a consumer
// before commit.
//
// All timestamps are stored as fixed-width UTC text so SQL string comparison
// matches chronological order.
package store
