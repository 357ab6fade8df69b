package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sync"

	"github.com/mealsmith/api/internal/model"
)

// ErrBatchClosed is returned for updates to a batch that has been purged (or
// marked for purge) by cleanup. Updates are rejected rather than silently
// lost.
var ErrBatchClosed = errors.New("batch is closed")

// ErrPhaseTransition is returned for an attempted transition out of a
// terminal phase.
var ErrPhaseTransition = errors.New("invalid phase transition")

// closedGrace is how long a purged batch keeps rejecting late updates before
// its closed marker is pruned. It only needs to outlive updates that were
// already in flight when the purge took the batch's lock.
const closedGrace = time.Minute

var phaseRank = map[model.BatchPhase]int{
	model.PhasePlanning:   0,
	model.PhaseGenerating: 1,
	model.PhaseValidating: 2,
	model.PhasePersisting: 3,
	model.PhaseImaging:    4,
	model.PhaseComplete:   5,
}

// Monitor maintains one progress record per batch. All mutation goes through
// a per-batch mutex so concurrent item-level updates (the image stage) cannot
// lose writes, without serializing unrelated batches against each other.
type Monitor struct {
	store     Store
	retention time.Duration

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	closed map[string]time.Time
}

// NewMonitor creates a monitor over the given store. Terminal batches older
// than retention become eligible for Cleanup.
func NewMonitor(store Store, retention time.Duration) *Monitor {
	return &Monitor{
		store:     store,
		retention: retention,
		locks:     make(map[string]*sync.Mutex),
		closed:    make(map[string]time.Time),
	}
}

func (m *Monitor) lockFor(batchID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[batchID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[batchID] = l
	}
	return l
}

// Init creates the progress record for a batch. It must run before any other
// code path, success or failure, attempts to record into the batch.
func (m *Monitor) Init(ctx context.Context, batchID string, totalItems int) error {
	l := m.lockFor(batchID)
	l.Lock()
	defer l.Unlock()

	p := &model.BatchProgress{
		BatchID:      batchID,
		TotalItems:   totalItems,
		CurrentPhase: model.PhasePlanning,
		AgentStatus:  make(map[string]model.AgentStatus),
		StartedAt:    time.Now(),
		Errors:       []model.BatchError{},
	}
	return m.store.Put(ctx, p)
}

// Get returns a snapshot of the batch's progress.
func (m *Monitor) Get(ctx context.Context, batchID string) (*model.BatchProgress, error) {
	return m.store.Get(ctx, batchID)
}

// mutate applies fn to the batch's record under its per-batch lock and writes
// the result back. Mutations against a closed batch fail with ErrBatchClosed.
func (m *Monitor) mutate(ctx context.Context, batchID string, fn func(p *model.BatchProgress) error) error {
	l := m.lockFor(batchID)
	l.Lock()
	defer l.Unlock()

	m.mu.Lock()
	_, closed := m.closed[batchID]
	m.mu.Unlock()
	if closed {
		return ErrBatchClosed
	}

	p, err := m.store.Get(ctx, batchID)
	if err != nil {
		return err
	}
	if err := fn(p); err != nil {
		return err
	}
	return m.store.Put(ctx, p)
}

// AdvancePhase moves the batch forward in the phase state machine. Moving to
// an earlier (or the current) phase is a no-op, which lets chunk-sequential
// pipelines re-enter stages without violating monotonicity. PhaseFailed is
// reachable from any non-terminal phase. Transitions out of a terminal phase
// fail with ErrPhaseTransition.
func (m *Monitor) AdvancePhase(ctx context.Context, batchID string, phase model.BatchPhase) error {
	return m.mutate(ctx, batchID, func(p *model.BatchProgress) error {
		if p.CurrentPhase.Terminal() {
			if p.CurrentPhase == phase {
				return nil
			}
			return fmt.Errorf("%w: %s -> %s", ErrPhaseTransition, p.CurrentPhase, phase)
		}
		if phase == model.PhaseFailed {
			p.CurrentPhase = model.PhaseFailed
			now := time.Now()
			p.CompletedAt = &now
			return nil
		}
		if phaseRank[phase] <= phaseRank[p.CurrentPhase] {
			return nil
		}
		p.CurrentPhase = phase
		if phase == model.PhaseComplete {
			now := time.Now()
			p.CompletedAt = &now
		}
		return nil
	})
}

// Complete marks the batch complete.
func (m *Monitor) Complete(ctx context.Context, batchID string) error {
	return m.AdvancePhase(ctx, batchID, model.PhaseComplete)
}

// Fail marks the batch failed and records the reason.
func (m *Monitor) Fail(ctx context.Context, batchID string, phase model.BatchPhase, message string) error {
	if err := m.RecordError(ctx, batchID, phase, "", message); err != nil {
		return err
	}
	return m.AdvancePhase(ctx, batchID, model.PhaseFailed)
}

// ItemsCompleted adds n completed items and refreshes the linear remaining-
// time estimate from the running average per completed item. The completed+
// failed total is capped at TotalItems.
func (m *Monitor) ItemsCompleted(ctx context.Context, batchID string, n int) error {
	return m.mutate(ctx, batchID, func(p *model.BatchProgress) error {
		p.CompletedItems += n
		capItems(p)
		updateEstimate(p)
		return nil
	})
}

// ItemsFailed adds n failed items.
func (m *Monitor) ItemsFailed(ctx context.Context, batchID string, n int) error {
	return m.mutate(ctx, batchID, func(p *model.BatchProgress) error {
		p.FailedItems += n
		capItems(p)
		updateEstimate(p)
		return nil
	})
}

// SetAgentStatus records the state of one pipeline agent for the batch.
func (m *Monitor) SetAgentStatus(ctx context.Context, batchID, agentName string, status model.AgentStatus) error {
	return m.mutate(ctx, batchID, func(p *model.BatchProgress) error {
		p.AgentStatus[agentName] = status
		return nil
	})
}

// RecordError appends an error to the batch's list, tagged with the
// originating phase and item reference. Errors are never overwritten.
func (m *Monitor) RecordError(ctx context.Context, batchID string, phase model.BatchPhase, itemRef, message string) error {
	return m.mutate(ctx, batchID, func(p *model.BatchProgress) error {
		p.Errors = append(p.Errors, model.BatchError{
			Phase:   phase,
			ItemRef: itemRef,
			Message: message,
			At:      time.Now(),
		})
		return nil
	})
}

// MarkCanceled flags the batch as canceled and moves it to failed. Returns
// false if the batch was already terminal.
func (m *Monitor) MarkCanceled(ctx context.Context, batchID string) (bool, error) {
	canceled := false
	err := m.mutate(ctx, batchID, func(p *model.BatchProgress) error {
		if p.CurrentPhase.Terminal() {
			return nil
		}
		p.Canceled = true
		p.CurrentPhase = model.PhaseFailed
		now := time.Now()
		p.CompletedAt = &now
		p.Errors = append(p.Errors, model.BatchError{
			Phase:   p.CurrentPhase,
			Message: "batch canceled by caller",
			At:      now,
		})
		canceled = true
		return nil
	})
	return canceled, err
}

// IsCanceled reports whether cancellation has been requested for the batch.
// Missing batches count as canceled so orphaned work stops dispatching.
func (m *Monitor) IsCanceled(ctx context.Context, batchID string) bool {
	p, err := m.store.Get(ctx, batchID)
	if err != nil {
		return true
	}
	return p.Canceled
}

// Cleanup purges terminal batches whose completion is older than the
// monitor's retention window. Each purge takes the batch's lock first and
// marks it closed, so an in-flight update can never race the delete and then
// silently resurrect the record. Closed markers older than closedGrace are
// pruned so the map stays bounded over a long-lived process.
func (m *Monitor) Cleanup(ctx context.Context) (int, error) {
	m.mu.Lock()
	for id, at := range m.closed {
		if time.Since(at) > closedGrace {
			delete(m.closed, id)
		}
	}
	m.mu.Unlock()

	all, err := m.store.List(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-m.retention)
	purged := 0
	for _, p := range all {
		if !p.CurrentPhase.Terminal() || p.CompletedAt == nil || p.CompletedAt.After(cutoff) {
			continue
		}

		l := m.lockFor(p.BatchID)
		l.Lock()
		m.mu.Lock()
		m.closed[p.BatchID] = time.Now()
		m.mu.Unlock()
		err := m.store.Delete(ctx, p.BatchID)
		l.Unlock()
		if err != nil {
			return purged, err
		}

		m.mu.Lock()
		delete(m.locks, p.BatchID)
		m.mu.Unlock()
		purged++
	}
	return purged, nil
}

func capItems(p *model.BatchProgress) {
	if p.CompletedItems+p.FailedItems > p.TotalItems {
		over := p.CompletedItems + p.FailedItems - p.TotalItems
		if p.FailedItems >= over {
			p.FailedItems -= over
		} else {
			p.CompletedItems -= over - p.FailedItems
			p.FailedItems = 0
		}
	}
}

func updateEstimate(p *model.BatchProgress) {
	done := p.CompletedItems + p.FailedItems
	if done == 0 || done >= p.TotalItems {
		p.EstimatedDone = nil
		return
	}
	elapsed := time.Since(p.StartedAt)
	perItem := elapsed / time.Duration(done)
	eta := time.Now().Add(perItem * time.Duration(p.TotalItems-done))
	p.EstimatedDone = &eta
}
