// Package event defines the durable event envelope and the canonical JSON
// serialization used for content hashing.
//
// Every event committed to the store carries a globally unique, strictly
// increasing sequence number assigned at commit time. Job-scoped events
// additionally carry a per-job monotonic counter (JobSequence) that is
// independent of the global sequence.
//
// # Canonical Serialization
//
// Receipt hashes and config hashes are computed over RFC 8785 canonical
// JSON (sorted keys by UTF-16 code units, NFC normalized strings, no HTML
// escaping, no floats, no nulls) with SHA-256 and domain separation.
// Same inputs always produce the same hash, across restarts and platforms.
package event
