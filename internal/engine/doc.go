// Package engine coordinates job execution, event emission, crash recovery,
// and retention.
//
// Every event flows through the Emitter, which persists it and only then
// hands it to the bus. The JobManager owns the state machine; the Executor
// is the single worker loop that claims queued jobs and runs them.
package engine
