// Package track records the lifecycle of dispatched sub-agents and the
// batches they were dispatched in.
//
// Each hook invocation is its own OS process, so every operation goes
// through the shared state store rather than in-memory maps. There is no
// correlation id at the dispatch boundary: completion is resolved by
// matching the agent description against the newest still-pending
// registration, a best-effort heuristic the callers tolerate.
//
// The API is advisory end to end. Operations log and degrade on contention
// or corruption; the worst outcome is a missing value in a summary, never a
// failed hook.
package track
