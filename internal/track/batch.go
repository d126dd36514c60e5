// ABOUTME: Batch tracker for agents dispatched together in parallel
// ABOUTME: Tracks completion against expected count and computes speedup

package track

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/2389/hookstate/internal/state"
)

// BatchRecord groups agents registered together. Completion is a set of
// agent ids rather than a bare counter, so a duplicate or racing completion
// of the same agent can never over-count, and the derived count is
// monotonic by construction.
type BatchRecord struct {
	BatchID       string          `json:"batch_id"`
	ExpectedCount int             `json:"expected_count"`
	AgentIDs      map[string]bool `json:"agent_ids"`
	CompletedIDs  map[string]bool `json:"completed_ids"`
	CreatedMS     int64           `json:"created_ms"`
}

// BatchSummary is the aggregate view a hook renders after a parallel
// dispatch settles.
type BatchSummary struct {
	BatchID        string
	ExpectedCount  int
	CompletedCount int
	Agents         []AgentRecord
	MaxDurationMS  int64
	SumDurationMS  int64
	Speedup        float64
	// Discarded counts duration readings above the sanity ceiling,
	// excluded from the aggregates as crash or clock-skew artifacts.
	Discarded int
}

// RegisterBatch creates a batch expecting expectedCount agents and returns
// its id.
func (t *Tracker) RegisterBatch(ctx context.Context, expectedCount int) string {
	id := fmt.Sprintf("b%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
	rec := BatchRecord{
		BatchID:       id,
		ExpectedCount: expectedCount,
		AgentIDs:      map[string]bool{},
		CompletedIDs:  map[string]bool{},
		CreatedMS:     time.Now().UnixMilli(),
	}

	value, err := json.Marshal(&rec)
	if err != nil {
		t.logger.Warn("marshaling batch record", "batch_id", id, "error", err)
		return id
	}
	if err := t.store.Write(ctx, t.key("batch:"+id), value, t.ttl); err != nil {
		t.logger.Warn("registering batch", "batch_id", id, "error", err)
	}

	t.logger.Debug("registered batch", "batch_id", id, "expected_count", expectedCount)
	return id
}

// IsBatchComplete reports whether every expected agent has completed.
// Once true it stays true: the completed set only grows.
func (t *Tracker) IsBatchComplete(ctx context.Context, batchID string) bool {
	rec, ok := t.getBatch(ctx, batchID)
	if !ok {
		return false
	}
	return len(rec.CompletedIDs) >= rec.ExpectedCount
}

// GetBatchSummary aggregates the member agent records of a batch. Speedup
// is summed agent time over the observed critical path (max duration), the
// sequential-equivalent gain of dispatching in parallel.
func (t *Tracker) GetBatchSummary(ctx context.Context, batchID string) (BatchSummary, bool) {
	rec, ok := t.getBatch(ctx, batchID)
	if !ok {
		return BatchSummary{}, false
	}

	summary := BatchSummary{
		BatchID:        batchID,
		ExpectedCount:  rec.ExpectedCount,
		CompletedCount: len(rec.CompletedIDs),
	}

	ids := make([]string, 0, len(rec.AgentIDs))
	for id := range rec.AgentIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	ceiling := t.maxDuration.Milliseconds()
	for _, id := range ids {
		agent, ok := t.GetAgentInfo(ctx, id)
		if !ok {
			continue
		}
		summary.Agents = append(summary.Agents, agent)

		if agent.Status == StatusPending || agent.DurationMS <= 0 {
			continue
		}
		if agent.DurationMS > ceiling {
			summary.Discarded++
			continue
		}
		summary.SumDurationMS += agent.DurationMS
		if agent.DurationMS > summary.MaxDurationMS {
			summary.MaxDurationMS = agent.DurationMS
		}
	}

	if summary.MaxDurationMS > 0 {
		summary.Speedup = float64(summary.SumDurationMS) / float64(summary.MaxDurationMS)
	}
	return summary, true
}

// getBatch loads and decodes a batch record.
func (t *Tracker) getBatch(ctx context.Context, batchID string) (BatchRecord, bool) {
	value, err := t.store.Read(ctx, t.key("batch:"+batchID))
	if err != nil {
		return BatchRecord{}, false
	}
	var rec BatchRecord
	if err := json.Unmarshal(value, &rec); err != nil {
		return BatchRecord{}, false
	}
	return rec, true
}

// addBatchMember records an agent id in its batch's member set.
func (t *Tracker) addBatchMember(ctx context.Context, batchID, agentID string) {
	err := t.updateBatch(ctx, batchID, func(rec *BatchRecord) {
		rec.AgentIDs[agentID] = true
	})
	if err != nil {
		t.logger.Debug("adding batch member", "batch_id", batchID, "agent_id", agentID, "error", err)
	}
}

// markBatchCompleted adds an agent id to its batch's completed set.
func (t *Tracker) markBatchCompleted(ctx context.Context, batchID, agentID string) {
	err := t.updateBatch(ctx, batchID, func(rec *BatchRecord) {
		rec.CompletedIDs[agentID] = true
	})
	if err != nil {
		t.logger.Debug("marking batch completion", "batch_id", batchID, "agent_id", agentID, "error", err)
	}
}

// updateBatch runs fn on the batch record under the store's per-key
// exclusion. An absent batch is left absent: a stray completion must not
// resurrect an expired record.
func (t *Tracker) updateBatch(ctx context.Context, batchID string, fn func(*BatchRecord)) error {
	return t.store.Update(ctx, t.key("batch:"+batchID), t.ttl, func(old []byte) ([]byte, error) {
		if old == nil {
			return nil, state.ErrNotFound
		}
		var rec BatchRecord
		if err := json.Unmarshal(old, &rec); err != nil {
			return nil, state.ErrNotFound
		}
		if rec.AgentIDs == nil {
			rec.AgentIDs = map[string]bool{}
		}
		if rec.CompletedIDs == nil {
			rec.CompletedIDs = map[string]bool{}
		}
		fn(&rec)
		return json.Marshal(&rec)
	})
}
