package worker

import (
	"context"
	"log"

	"github.com/hibiken/asynq"

	"github.com/mealsmith/api/internal/pipeline"
)

// BatchWorker processes queued generation batches
type BatchWorker struct {
	coordinator *pipeline.Coordinator
}

// NewBatchWorker creates a new batch worker
func NewBatchWorker(coordinator *pipeline.Coordinator) *BatchWorker {
	return &BatchWorker{coordinator: coordinator}
}

// ProcessTask handles a queued batch. The pipeline records its own failures
// against the batch's progress record, so an error is returned only when the
// task payload itself is unusable.
func (w *BatchWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	batchID, req, err := pipeline.DecodeBatchTask(t)
	if err != nil {
		log.Printf("Dropping malformed batch task: %v", err)
		return err
	}

	return w.coordinator.RunBatch(ctx, batchID, req)
}
