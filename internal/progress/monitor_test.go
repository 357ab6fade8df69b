package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mealsmith/api/internal/model"
)

func newTestMonitor(retention time.Duration) *Monitor {
	return NewMonitor(NewMemoryStore(), retention)
}

func TestMonitorInitAndGet(t *testing.T) {
	ctx := context.Background()
	m := newTestMonitor(time.Hour)

	require.NoError(t, m.Init(ctx, "b1", 7))

	p, err := m.Get(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "b1", p.BatchID)
	assert.Equal(t, 7, p.TotalItems)
	assert.Equal(t, model.PhasePlanning, p.CurrentPhase)
	assert.Empty(t, p.Errors)

	_, err = m.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMonitorPhaseMonotonicity(t *testing.T) {
	ctx := context.Background()
	m := newTestMonitor(time.Hour)
	require.NoError(t, m.Init(ctx, "b1", 5))

	require.NoError(t, m.AdvancePhase(ctx, "b1", model.PhaseValidating))

	// Moving backward is a silent no-op, not a regression.
	require.NoError(t, m.AdvancePhase(ctx, "b1", model.PhaseGenerating))
	p, _ := m.Get(ctx, "b1")
	assert.Equal(t, model.PhaseValidating, p.CurrentPhase)

	require.NoError(t, m.AdvancePhase(ctx, "b1", model.PhaseComplete))
	p, _ = m.Get(ctx, "b1")
	assert.Equal(t, model.PhaseComplete, p.CurrentPhase)
	assert.NotNil(t, p.CompletedAt)

	// Terminal phases are frozen.
	err := m.AdvancePhase(ctx, "b1", model.PhaseFailed)
	assert.ErrorIs(t, err, ErrPhaseTransition)
	err = m.AdvancePhase(ctx, "b1", model.PhaseImaging)
	assert.ErrorIs(t, err, ErrPhaseTransition)
}

func TestMonitorFailedReachableFromAnyNonTerminalPhase(t *testing.T) {
	ctx := context.Background()
	for _, from := range []model.BatchPhase{
		model.PhasePlanning, model.PhaseGenerating, model.PhaseValidating,
		model.PhasePersisting, model.PhaseImaging,
	} {
		m := newTestMonitor(time.Hour)
		require.NoError(t, m.Init(ctx, "b1", 5))
		require.NoError(t, m.AdvancePhase(ctx, "b1", from))
		require.NoError(t, m.AdvancePhase(ctx, "b1", model.PhaseFailed))
		p, _ := m.Get(ctx, "b1")
		assert.Equal(t, model.PhaseFailed, p.CurrentPhase, "from %s", from)
	}
}

func TestMonitorItemCountsNeverExceedTotal(t *testing.T) {
	ctx := context.Background()
	m := newTestMonitor(time.Hour)
	require.NoError(t, m.Init(ctx, "b1", 10))

	require.NoError(t, m.ItemsCompleted(ctx, "b1", 6))
	require.NoError(t, m.ItemsFailed(ctx, "b1", 3))
	require.NoError(t, m.ItemsFailed(ctx, "b1", 5)) // would overflow

	p, _ := m.Get(ctx, "b1")
	assert.LessOrEqual(t, p.CompletedItems+p.FailedItems, p.TotalItems)
	assert.Equal(t, 6, p.CompletedItems)
	assert.Equal(t, 4, p.FailedItems)
}

func TestMonitorConcurrentUpdatesAreNotLost(t *testing.T) {
	ctx := context.Background()
	m := newTestMonitor(time.Hour)
	require.NoError(t, m.Init(ctx, "b1", 100))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.ItemsCompleted(ctx, "b1", 1)
		}()
	}
	wg.Wait()

	p, _ := m.Get(ctx, "b1")
	assert.Equal(t, 100, p.CompletedItems)
}

func TestMonitorErrorsAppend(t *testing.T) {
	ctx := context.Background()
	m := newTestMonitor(time.Hour)
	require.NoError(t, m.Init(ctx, "b1", 5))

	require.NoError(t, m.RecordError(ctx, "b1", model.PhaseGenerating, "chunk-0", "provider timeout"))
	require.NoError(t, m.RecordError(ctx, "b1", model.PhaseImaging, "recipe-abc", "rate limited"))

	p, _ := m.Get(ctx, "b1")
	require.Len(t, p.Errors, 2)
	assert.Equal(t, model.PhaseGenerating, p.Errors[0].Phase)
	assert.Equal(t, "chunk-0", p.Errors[0].ItemRef)
	assert.Equal(t, model.PhaseImaging, p.Errors[1].Phase)
}

func TestMonitorEstimateFromRunningAverage(t *testing.T) {
	ctx := context.Background()
	m := newTestMonitor(time.Hour)
	require.NoError(t, m.Init(ctx, "b1", 10))

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, m.ItemsCompleted(ctx, "b1", 5))

	p, _ := m.Get(ctx, "b1")
	require.NotNil(t, p.EstimatedDone)
	assert.True(t, p.EstimatedDone.After(p.StartedAt))

	// Estimate clears once all items are accounted for.
	require.NoError(t, m.ItemsCompleted(ctx, "b1", 5))
	p, _ = m.Get(ctx, "b1")
	assert.Nil(t, p.EstimatedDone)
}

func TestMonitorMarkCanceled(t *testing.T) {
	ctx := context.Background()
	m := newTestMonitor(time.Hour)
	require.NoError(t, m.Init(ctx, "b1", 5))

	ok, err := m.MarkCanceled(ctx, "b1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, m.IsCanceled(ctx, "b1"))

	p, _ := m.Get(ctx, "b1")
	assert.Equal(t, model.PhaseFailed, p.CurrentPhase)

	// Canceling a terminal batch reports false.
	ok, err = m.MarkCanceled(ctx, "b1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMonitorCleanupPurgesExpiredAndRejectsLateUpdates(t *testing.T) {
	ctx := context.Background()
	m := newTestMonitor(10 * time.Millisecond)

	require.NoError(t, m.Init(ctx, "old", 5))
	require.NoError(t, m.Complete(ctx, "old"))
	require.NoError(t, m.Init(ctx, "active", 5))

	time.Sleep(20 * time.Millisecond)

	purged, err := m.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	_, err = m.Get(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)

	// Updates against the purged batch are rejected, not silently lost.
	err = m.ItemsCompleted(ctx, "old", 1)
	assert.ErrorIs(t, err, ErrBatchClosed)

	// The active batch is untouched.
	_, err = m.Get(ctx, "active")
	require.NoError(t, err)
}

func TestMonitorCleanupPrunesStaleClosedMarkers(t *testing.T) {
	ctx := context.Background()
	m := newTestMonitor(time.Hour)

	m.mu.Lock()
	m.closed["stale"] = time.Now().Add(-2 * closedGrace)
	m.closed["recent"] = time.Now()
	m.mu.Unlock()

	_, err := m.Cleanup(ctx)
	require.NoError(t, err)

	m.mu.Lock()
	_, staleKept := m.closed["stale"]
	_, recentKept := m.closed["recent"]
	m.mu.Unlock()

	assert.False(t, staleKept)
	assert.True(t, recentKept)
}

func TestMonitorCleanupKeepsRecentTerminalBatches(t *testing.T) {
	ctx := context.Background()
	m := newTestMonitor(time.Hour)

	require.NoError(t, m.Init(ctx, "b1", 5))
	require.NoError(t, m.Complete(ctx, "b1"))

	purged, err := m.Cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, purged)
}
