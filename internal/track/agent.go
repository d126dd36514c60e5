// ABOUTME: Agent lifecycle tracker built on the state store
// ABOUTME: Registers, resolves, and completes per-dispatch agent records

package track

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/hookstate/internal/state"
)

// Status values for a tracked agent.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusError   = "error"
	StatusTimeout = "timeout"
)

// DefaultTTL is how long agent and batch records stay readable. Sessions
// rarely outlive a couple of hours; anything older is a leftover.
const DefaultTTL = 2 * time.Hour

// DefaultMaxDuration is the sanity ceiling for reported durations. Readings
// above it are clock-skew or crash artifacts, not real agent runtimes.
const DefaultMaxDuration = 10 * time.Minute

// AgentRecord is the persisted lifecycle record for one dispatched sub-agent.
type AgentRecord struct {
	ID            string `json:"id"`
	Description   string `json:"description"`
	SubagentType  string `json:"subagent_type"`
	Model         string `json:"model"`
	BatchID       string `json:"batch_id,omitempty"`
	StartMS       int64  `json:"start_ms"`
	Status        string `json:"status"`
	EndMS         int64  `json:"end_ms,omitempty"`
	DurationMS    int64  `json:"duration_ms,omitempty"`
	ResultPreview string `json:"result_preview,omitempty"`
}

// indexLine is one entry of the append-only description→id mapping used
// for best-effort lookup when no correlation id crosses the dispatch
// boundary.
type indexLine struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	StartMS     int64  `json:"start_ms"`
}

// Tracker coordinates agent and batch records for one session. All
// operations are advisory: on contention or corruption they degrade to
// absent/zero results instead of returning errors, because a hook must
// never fail the host tool's turn.
type Tracker struct {
	store       state.Store
	logger      *slog.Logger
	session     string
	ttl         time.Duration
	maxDuration time.Duration
}

// New creates a Tracker namespaced to the given session.
func New(store state.Store, session string) *Tracker {
	return &Tracker{
		store:       store,
		logger:      slog.Default().With("component", "track", "session", session),
		session:     session,
		ttl:         DefaultTTL,
		maxDuration: DefaultMaxDuration,
	}
}

// WithTTL overrides how long records stay readable.
func (t *Tracker) WithTTL(ttl time.Duration) *Tracker {
	t.ttl = ttl
	return t
}

// WithMaxDuration overrides the duration sanity ceiling.
func (t *Tracker) WithMaxDuration(d time.Duration) *Tracker {
	t.maxDuration = d
	return t
}

// key namespaces a store key by session.
func (t *Tracker) key(suffix string) string {
	return t.session + "/" + suffix
}

// RegisterAgent persists a pending record for a newly dispatched agent and
// returns its id. batchID may be empty for standalone dispatches.
func (t *Tracker) RegisterAgent(ctx context.Context, description, subagentType, model, batchID string) string {
	id := t.nextAgentID(ctx)
	rec := AgentRecord{
		ID:           id,
		Description:  description,
		SubagentType: subagentType,
		Model:        model,
		BatchID:      batchID,
		StartMS:      time.Now().UnixMilli(),
		Status:       StatusPending,
	}

	value, err := json.Marshal(&rec)
	if err != nil {
		t.logger.Warn("marshaling agent record", "agent_id", id, "error", err)
		return id
	}
	if err := t.store.Write(ctx, t.key("agent:"+id), value, t.ttl); err != nil {
		t.logger.Warn("registering agent", "agent_id", id, "error", err)
		return id
	}

	line, _ := json.Marshal(indexLine{ID: id, Description: description, StartMS: rec.StartMS})
	if err := t.store.Append(ctx, t.key("agents:index"), line, t.ttl); err != nil {
		t.logger.Warn("indexing agent", "agent_id", id, "error", err)
	}

	if batchID != "" {
		t.addBatchMember(ctx, batchID, id)
	}

	t.logger.Debug("registered agent",
		"agent_id", id,
		"subagent_type", subagentType,
		"batch_id", batchID,
	)
	return id
}

// nextAgentID builds an id from the session's monotonic counter plus a
// random suffix. If the counter cannot be bumped within the lock budget,
// the timestamp stands in; the suffix keeps ids unique either way.
func (t *Tracker) nextAgentID(ctx context.Context) string {
	seq, err := t.store.Increment(ctx, t.key("agents:seq"), "counter", t.ttl)
	if err != nil {
		seq = time.Now().UnixMilli()
	}
	return fmt.Sprintf("a%d-%s", seq, uuid.NewString()[:8])
}

// FindAgentByDescription resolves a description to the most recently
// registered, not-yet-completed agent with that exact description.
// Returns "" when nothing matches. Best effort: descriptions are the only
// correlation the dispatch boundary carries.
func (t *Tracker) FindAgentByDescription(ctx context.Context, description string) string {
	lines, err := t.store.ReadList(ctx, t.key("agents:index"))
	if err != nil {
		t.logger.Debug("reading agent index", "error", err)
		return ""
	}

	for i := len(lines) - 1; i >= 0; i-- {
		var line indexLine
		if err := json.Unmarshal(lines[i], &line); err != nil {
			continue
		}
		if line.Description != description {
			continue
		}
		rec, ok := t.GetAgentInfo(ctx, line.ID)
		if ok && rec.Status == StatusPending {
			return line.ID
		}
	}
	return ""
}

// CompleteAgentTracking merges completion fields into an agent record. Only
// the pending→terminal transition bumps the owning batch, so duplicate
// calls with identical arguments are a no-op and two racing completers bump
// the batch exactly once.
func (t *Tracker) CompleteAgentTracking(ctx context.Context, id, status string, durationMS int64, preview string) {
	var batchID string
	transitioned := false

	err := t.store.Update(ctx, t.key("agent:"+id), t.ttl, func(old []byte) ([]byte, error) {
		if old == nil {
			return nil, state.ErrNotFound
		}
		var rec AgentRecord
		if err := json.Unmarshal(old, &rec); err != nil {
			return nil, state.ErrNotFound
		}
		if rec.Status != StatusPending {
			// Already completed: leave the record as-is.
			return old, nil
		}

		rec.Status = status
		rec.DurationMS = durationMS
		rec.EndMS = rec.StartMS + durationMS
		rec.ResultPreview = preview
		transitioned = true
		batchID = rec.BatchID
		return json.Marshal(&rec)
	})
	if err != nil {
		t.logger.Debug("completing agent", "agent_id", id, "error", err)
		return
	}

	if transitioned && batchID != "" {
		t.markBatchCompleted(ctx, batchID, id)
	}
}

// GetAgentInfo returns the record for id, or ok=false if unknown/expired.
func (t *Tracker) GetAgentInfo(ctx context.Context, id string) (AgentRecord, bool) {
	value, err := t.store.Read(ctx, t.key("agent:"+id))
	if err != nil {
		return AgentRecord{}, false
	}
	var rec AgentRecord
	if err := json.Unmarshal(value, &rec); err != nil {
		return AgentRecord{}, false
	}
	return rec, true
}

// GetAgentCount returns how many agents were registered in this session.
func (t *Tracker) GetAgentCount(ctx context.Context) int {
	lines, err := t.store.ReadList(ctx, t.key("agents:index"))
	if err != nil {
		return 0
	}
	return len(lines)
}

// GetAgentBatch returns the batch an agent belongs to, or "".
func (t *Tracker) GetAgentBatch(ctx context.Context, id string) string {
	rec, ok := t.GetAgentInfo(ctx, id)
	if !ok {
		return ""
	}
	return rec.BatchID
}
