// ABOUTME: Tests for failure counters and edge-triggered escalation
// ABOUTME: Covers counting, clearing, arming, and the bounded recent ring

package failures

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/hookstate/internal/state"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	store, err := state.NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"), state.DefaultRetryPolicy())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store, "test-session")
}

func TestTrackFailure_Increments(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	assert.Equal(t, 0, tracker.GetFailureCount(ctx, "test"))

	tracker.TrackFailure(ctx, "test", "go test ./...", 1, "FAIL: TestFoo")
	assert.Equal(t, 1, tracker.GetFailureCount(ctx, "test"))

	tracker.TrackFailure(ctx, "test", "go test ./...", 2, "FAIL: TestBar")
	assert.Equal(t, 2, tracker.GetFailureCount(ctx, "test"))
}

func TestTrackFailure_IndependentCategories(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	tracker.TrackFailure(ctx, "test", "go test ./...", 1, "")
	tracker.TrackFailure(ctx, "debug", "make run", 139, "")
	tracker.TrackFailure(ctx, "debug", "make run", 139, "")

	assert.Equal(t, 1, tracker.GetFailureCount(ctx, "test"))
	assert.Equal(t, 2, tracker.GetFailureCount(ctx, "debug"))
}

func TestClearFailures(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	tracker.TrackFailure(ctx, "test", "pytest", 1, "")
	tracker.TrackFailure(ctx, "test", "pytest", 1, "")
	tracker.ClearFailures(ctx, "test")

	assert.Equal(t, 0, tracker.GetFailureCount(ctx, "test"))

	c, ok := tracker.GetCounter(ctx, "test")
	require.True(t, ok)
	assert.True(t, c.Armed)
	assert.Empty(t, c.Recent)
}

func TestShouldEscalate_EdgeTriggered(t *testing.T) {
	tracker := newTestTracker(t).WithThresholds(map[string]int{"test": 3})
	ctx := context.Background()

	// Below threshold: never escalates.
	tracker.TrackFailure(ctx, "test", "go test ./...", 1, "")
	tracker.TrackFailure(ctx, "test", "go test ./...", 1, "")
	assert.False(t, tracker.ShouldEscalate(ctx, "test"))

	// The crossing fires exactly once.
	tracker.TrackFailure(ctx, "test", "go test ./...", 1, "")
	assert.True(t, tracker.ShouldEscalate(ctx, "test"))
	assert.False(t, tracker.ShouldEscalate(ctx, "test"))

	// More failures above threshold stay quiet until a clear.
	tracker.TrackFailure(ctx, "test", "go test ./...", 1, "")
	assert.False(t, tracker.ShouldEscalate(ctx, "test"))

	// Clear re-arms; climbing back over the threshold fires again.
	tracker.ClearFailures(ctx, "test")
	for i := 0; i < 3; i++ {
		tracker.TrackFailure(ctx, "test", "go test ./...", 1, "")
	}
	assert.True(t, tracker.ShouldEscalate(ctx, "test"))
	assert.False(t, tracker.ShouldEscalate(ctx, "test"))
}

func TestShouldEscalate_DefaultThreshold(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	for i := 0; i < DefaultThreshold-1; i++ {
		tracker.TrackFailure(ctx, "lint", "golangci-lint run", 1, "")
		assert.False(t, tracker.ShouldEscalate(ctx, "lint"))
	}

	tracker.TrackFailure(ctx, "lint", "golangci-lint run", 1, "")
	assert.True(t, tracker.ShouldEscalate(ctx, "lint"))
}

func TestShouldEscalate_CleanCounter(t *testing.T) {
	tracker := newTestTracker(t)

	// A category with no recorded failures must not escalate or leave
	// state behind that says otherwise.
	assert.False(t, tracker.ShouldEscalate(context.Background(), "test"))
	assert.Equal(t, 0, tracker.GetFailureCount(context.Background(), "test"))
}

func TestRecentRing_Bounded(t *testing.T) {
	tracker := newTestTracker(t).WithRingSize(3)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		tracker.TrackFailure(ctx, "test", fmt.Sprintf("go test -run Case%d", i), 1, "boom")
	}

	c, ok := tracker.GetCounter(ctx, "test")
	require.True(t, ok)
	assert.Equal(t, 7, c.Count)
	require.Len(t, c.Recent, 3)
	// The ring keeps the newest contexts.
	assert.Equal(t, "go test -run Case4", c.Recent[0].Command)
	assert.Equal(t, "go test -run Case6", c.Recent[2].Command)
	assert.Greater(t, c.LastFailureMS, int64(0))
}
