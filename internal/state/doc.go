// Package state provides the durable key/record store shared by all hook
// processes.
//
// # Model
//
// Hooks run as independent short-lived OS processes with no shared memory;
// the only coordination point is a local SQLite database in WAL mode.
// Values are opaque serialized records. Every entry carries a TTL: a read
// at or after written_at + ttl behaves as if the key were never written,
// which bounds state growth without a dedicated reaper. Physical deletion
// happens lazily on read and through opportunistic compaction during
// writes.
//
// # Concurrency
//
// Read-modify-write sequences (Update, Increment) run inside immediate
// transactions, so two processes can never interleave between the read and
// the write. Contention is bounded: busy errors are retried with
// exponential backoff under a fixed attempt budget, after which the
// operation returns ErrBusy. Callers treat ErrBusy like an absent value —
// this subsystem must never stall or fail the host tool's turn.
package state
