// ABOUTME: Rolling failure counters with edge-triggered escalation thresholds
// ABOUTME: One counter per category, persisted cross-process via the state store

package failures

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/2389/hookstate/internal/state"
)

// DefaultTTL is how long failure state survives. A quiet stretch clears
// the slate implicitly.
const DefaultTTL = 10 * time.Minute

// DefaultThreshold is the escalation threshold for categories without an
// explicit configuration.
const DefaultThreshold = 3

// DefaultRingSize bounds the recent-failure context ring.
const DefaultRingSize = 5

// FailureContext captures one failure for the recent ring.
type FailureContext struct {
	Command  string `json:"command"`
	ExitCode int    `json:"exit_code"`
	Snippet  string `json:"snippet,omitempty"`
}

// Counter is the persisted state of one failure category.
//
// The armed flag makes escalation edge-triggered: the threshold crossing
// fires exactly once, then stays quiet until an explicit clear (or TTL
// expiry) returns the counter to clean.
type Counter struct {
	Category      string           `json:"category"`
	Count         int              `json:"count"`
	LastFailureMS int64            `json:"last_failure_ms"`
	Threshold     int              `json:"threshold"`
	Recent        []FailureContext `json:"recent,omitempty"`
	Armed         bool             `json:"armed"`
}

// Tracker maintains independent failure counters per category.
// Like the agent tracker, it is advisory: contention and corruption
// degrade to zero counts and no escalation, never to an error.
type Tracker struct {
	store      state.Store
	logger     *slog.Logger
	session    string
	ttl        time.Duration
	thresholds map[string]int
	ringSize   int
}

// New creates a failure tracker namespaced to the given session.
func New(store state.Store, session string) *Tracker {
	return &Tracker{
		store:      store,
		logger:     slog.Default().With("component", "failures", "session", session),
		session:    session,
		ttl:        DefaultTTL,
		thresholds: map[string]int{},
		ringSize:   DefaultRingSize,
	}
}

// WithTTL overrides how long failure state survives.
func (t *Tracker) WithTTL(ttl time.Duration) *Tracker {
	t.ttl = ttl
	return t
}

// WithThresholds sets per-category escalation thresholds. Categories not in
// the map use DefaultThreshold.
func (t *Tracker) WithThresholds(thresholds map[string]int) *Tracker {
	t.thresholds = thresholds
	return t
}

// WithRingSize overrides the recent-failure ring capacity.
func (t *Tracker) WithRingSize(n int) *Tracker {
	t.ringSize = n
	return t
}

func (t *Tracker) key(category string) string {
	return t.session + "/failures:" + category
}

func (t *Tracker) threshold(category string) int {
	if th, ok := t.thresholds[category]; ok && th > 0 {
		return th
	}
	return DefaultThreshold
}

// TrackFailure records one failure in a category: count goes up by exactly
// one, the context joins the bounded recent ring, and the last-failure
// timestamp advances.
func (t *Tracker) TrackFailure(ctx context.Context, category, command string, exitCode int, snippet string) {
	err := t.update(ctx, category, func(c *Counter) {
		c.Count++
		c.LastFailureMS = time.Now().UnixMilli()
		c.Recent = append(c.Recent, FailureContext{
			Command:  command,
			ExitCode: exitCode,
			Snippet:  snippet,
		})
		if len(c.Recent) > t.ringSize {
			c.Recent = c.Recent[len(c.Recent)-t.ringSize:]
		}
	})
	if err != nil {
		t.logger.Debug("tracking failure", "category", category, "error", err)
		return
	}
	t.logger.Debug("tracked failure", "category", category, "exit_code", exitCode)
}

// ClearFailures resets a category to clean: count zero, re-armed. This is
// the success signal from the hooks.
func (t *Tracker) ClearFailures(ctx context.Context, category string) {
	err := t.update(ctx, category, func(c *Counter) {
		c.Count = 0
		c.Armed = true
		c.Recent = nil
	})
	if err != nil {
		t.logger.Debug("clearing failures", "category", category, "error", err)
	}
}

// GetFailureCount returns the current count for a category.
func (t *Tracker) GetFailureCount(ctx context.Context, category string) int {
	c, ok := t.get(ctx, category)
	if !ok {
		return 0
	}
	return c.Count
}

// GetCounter returns the full counter state for a category.
func (t *Tracker) GetCounter(ctx context.Context, category string) (Counter, bool) {
	return t.get(ctx, category)
}

// ShouldEscalate reports whether a category has crossed its threshold while
// armed. A true result disarms the counter in the same read-modify-write,
// so repeated failures above threshold cannot re-trigger until a clear.
func (t *Tracker) ShouldEscalate(ctx context.Context, category string) bool {
	escalate := false
	err := t.update(ctx, category, func(c *Counter) {
		if c.Armed && c.Count >= c.Threshold {
			escalate = true
			c.Armed = false
		}
	})
	if err != nil {
		t.logger.Debug("checking escalation", "category", category, "error", err)
		return false
	}
	if escalate {
		t.logger.Info("escalation threshold crossed", "category", category)
	}
	return escalate
}

// get loads and decodes a counter.
func (t *Tracker) get(ctx context.Context, category string) (Counter, bool) {
	value, err := t.store.Read(ctx, t.key(category))
	if err != nil {
		return Counter{}, false
	}
	var c Counter
	if err := json.Unmarshal(value, &c); err != nil {
		return Counter{}, false
	}
	return c, true
}

// update runs fn on a category's counter under the store's per-key
// exclusion, creating a clean counter if none exists.
func (t *Tracker) update(ctx context.Context, category string, fn func(*Counter)) error {
	return t.store.Update(ctx, t.key(category), t.ttl, func(old []byte) ([]byte, error) {
		c := Counter{
			Category:  category,
			Threshold: t.threshold(category),
			Armed:     true,
		}
		if old != nil {
			if err := json.Unmarshal(old, &c); err != nil {
				// Corrupt entry: start clean, safe to overwrite.
				c = Counter{Category: category, Threshold: t.threshold(category), Armed: true}
			}
		}
		fn(&c)
		return json.Marshal(&c)
	})
}
