package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/mealsmith/api/internal/agent"
	"github.com/mealsmith/api/internal/client"
	"github.com/mealsmith/api/internal/model"
	"github.com/mealsmith/api/internal/progress"
)

const TaskTypeGenerateBatch = "batch:generate"

// ImageLinker writes an uploaded image URL back onto a saved recipe, matched
// by its opaque id.
type ImageLinker interface {
	LinkImage(ctx context.Context, id, imageURL string) error
}

// TaskEnqueuer queues background work. *asynq.Client satisfies it.
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Notifier pushes live progress to stream subscribers. May be nil.
type Notifier interface {
	BroadcastProgress(batchID string, p *model.BatchProgress)
	BroadcastPhase(batchID string, phase model.BatchPhase)
	BroadcastComplete(batchID string, p *model.BatchProgress)
	BroadcastError(batchID string, code, message string)
}

// Coordinator owns the pipeline sequence. StartBatch accepts a campaign and
// queues it; RunBatch (driven by the batch worker) plans the batch, then for
// each chunk generates, validates and persists recipes, and finally runs the
// image stage concurrently per saved recipe. Chunk-level failures are
// recorded in progress and do not abort the remaining chunks.
type Coordinator struct {
	monitor   *progress.Monitor
	planner   *Planner
	validator *Validator
	persister *Persister
	imageGen  *ImageGenerator
	uploader  *Uploader
	recipes   client.RecipeGenerator
	genRunner *agent.Runner
	linker    ImageLinker
	enqueuer  TaskEnqueuer
	notifier  Notifier

	defaultChunkSize int
}

// CoordinatorParams wires a coordinator.
type CoordinatorParams struct {
	Monitor          *progress.Monitor
	Planner          *Planner
	Validator        *Validator
	Persister        *Persister
	ImageGen         *ImageGenerator
	Uploader         *Uploader
	Recipes          client.RecipeGenerator
	GenRunner        *agent.Runner
	Linker           ImageLinker
	Enqueuer         TaskEnqueuer
	Notifier         Notifier
	DefaultChunkSize int
}

// NewCoordinator creates the top-level orchestrator.
func NewCoordinator(p CoordinatorParams) *Coordinator {
	if p.DefaultChunkSize <= 0 {
		p.DefaultChunkSize = 5
	}
	return &Coordinator{
		monitor:          p.Monitor,
		planner:          p.Planner,
		validator:        p.Validator,
		persister:        p.Persister,
		imageGen:         p.ImageGen,
		uploader:         p.Uploader,
		recipes:          p.Recipes,
		genRunner:        p.GenRunner,
		linker:           p.Linker,
		enqueuer:         p.Enqueuer,
		notifier:         p.Notifier,
		defaultChunkSize: p.DefaultChunkSize,
	}
}

func (c *Coordinator) runners() []*agent.Runner {
	return []*agent.Runner{
		c.planner.Runner(),
		c.genRunner,
		c.validator.Runner(),
		c.persister.Runner(),
		c.imageGen.Runner(),
		c.uploader.Runner(),
	}
}

// Initialize brings every stage's runner up.
func (c *Coordinator) Initialize() error {
	for _, r := range c.runners() {
		if err := r.Initialize(); err != nil {
			return fmt.Errorf("failed to initialize %s: %w", r.Name(), err)
		}
	}
	return nil
}

// Shutdown releases every stage.
func (c *Coordinator) Shutdown() {
	for _, r := range c.runners() {
		r.Shutdown()
	}
}

// Metrics returns a per-agent snapshot for operational dashboards.
func (c *Coordinator) Metrics() map[string]agent.Metrics {
	out := make(map[string]agent.Metrics)
	for _, r := range c.runners() {
		out[r.Name()] = r.Metrics()
	}
	return out
}

// batchTaskPayload is the asynq payload for a queued batch.
type batchTaskPayload struct {
	BatchID string                  `json:"batchId"`
	Request model.GenerationRequest `json:"request"`
}

// NewBatchTask builds the asynq task for a batch. Batch retries are handled
// inside the pipeline, so the task itself never retries.
func NewBatchTask(batchID string, req model.GenerationRequest) (*asynq.Task, error) {
	data, err := json.Marshal(batchTaskPayload{BatchID: batchID, Request: req})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeGenerateBatch, data), nil
}

// DecodeBatchTask parses a queued batch task.
func DecodeBatchTask(t *asynq.Task) (string, model.GenerationRequest, error) {
	var payload batchTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return "", model.GenerationRequest{}, fmt.Errorf("failed to unmarshal batch task: %w", err)
	}
	return payload.BatchID, payload.Request, nil
}

// StartBatch validates the request, initializes progress tracking and queues
// the batch. It returns the new batch id immediately; the pipeline runs in
// the background. The progress record is created before anything else so
// every later code path, success or failure, has a record to write into.
func (c *Coordinator) StartBatch(ctx context.Context, req model.GenerationRequest) (string, error) {
	if req.TotalCount <= 0 {
		return "", fmt.Errorf("%w: totalCount must be positive, got %d", ErrInvalidRequest, req.TotalCount)
	}
	if req.ChunkSize <= 0 {
		req.ChunkSize = c.defaultChunkSize
	}

	batchID := uuid.New().String()

	if err := c.monitor.Init(ctx, batchID, req.TotalCount); err != nil {
		return "", fmt.Errorf("failed to initialize batch progress: %w", err)
	}

	task, err := NewBatchTask(batchID, req)
	if err != nil {
		c.failBatch(ctx, batchID, model.PhasePlanning, fmt.Sprintf("failed to build batch task: %v", err))
		return "", err
	}

	if _, err := c.enqueuer.Enqueue(task, asynq.Queue("batches"), asynq.MaxRetry(0), asynq.Retention(24*time.Hour)); err != nil {
		c.failBatch(ctx, batchID, model.PhasePlanning, fmt.Sprintf("failed to enqueue batch: %v", err))
		return "", fmt.Errorf("failed to enqueue batch: %w", err)
	}

	return batchID, nil
}

// GetProgress returns the batch's current progress snapshot.
func (c *Coordinator) GetProgress(ctx context.Context, batchID string) (*model.BatchProgress, error) {
	return c.monitor.Get(ctx, batchID)
}

// Cancel requests cooperative cancellation. In-flight remote calls are not
// aborted, but their results are discarded and no further chunks dispatch.
// Returns false if the batch was already terminal or unknown.
func (c *Coordinator) Cancel(ctx context.Context, batchID string) (bool, error) {
	canceled, err := c.monitor.MarkCanceled(ctx, batchID)
	if err != nil {
		if errors.Is(err, progress.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if canceled {
		c.notifyError(batchID, "BATCH_CANCELED", "batch canceled by caller")
	}
	return canceled, err
}

// RunBatch executes the full pipeline for a queued batch.
func (c *Coordinator) RunBatch(ctx context.Context, batchID string, req model.GenerationRequest) error {
	// The record is created by StartBatch, but a batch entering through an
	// error or replay path must still have somewhere to write progress.
	if _, err := c.monitor.Get(ctx, batchID); err != nil {
		if err := c.monitor.Init(ctx, batchID, req.TotalCount); err != nil {
			return fmt.Errorf("failed to initialize progress for batch %s: %w", batchID, err)
		}
	}

	log.Printf("Starting generation batch %s (%d items)", batchID, req.TotalCount)

	plan, err := c.planBatch(ctx, batchID, req)
	if err != nil {
		c.failBatch(ctx, batchID, model.PhasePlanning, err.Error())
		return nil
	}

	for _, chunk := range plan.Strategy.Chunks {
		if c.monitor.IsCanceled(ctx, batchID) {
			log.Printf("Batch %s canceled, stopping after chunk %d", batchID, chunk.Index)
			return nil
		}
		c.runChunk(ctx, batchID, req, plan, chunk)
	}

	c.imageGen.ClearBatch(batchID)

	if c.monitor.IsCanceled(ctx, batchID) {
		return nil
	}
	if err := c.monitor.Complete(ctx, batchID); err != nil {
		log.Printf("Failed to complete batch %s: %v", batchID, err)
	}
	c.notifyPhase(batchID, model.PhaseComplete)
	if p, err := c.monitor.Get(ctx, batchID); err == nil {
		if c.notifier != nil {
			c.notifier.BroadcastComplete(batchID, p)
		}
		log.Printf("Batch %s complete: %d ok, %d failed", batchID, p.CompletedItems, p.FailedItems)
	}
	return nil
}

func (c *Coordinator) planBatch(ctx context.Context, batchID string, req model.GenerationRequest) (*Plan, error) {
	c.setAgent(ctx, batchID, c.planner.Runner().Name(), model.AgentStatusRunning)

	var plan *Plan
	err := c.planner.Runner().Execute(ctx, func(ctx context.Context) error {
		var planErr error
		plan, planErr = c.planner.Plan(req)
		return planErr
	})
	if err != nil {
		c.setAgent(ctx, batchID, c.planner.Runner().Name(), model.AgentStatusFailed)
		return nil, fmt.Errorf("planning failed: %w", err)
	}

	c.setAgent(ctx, batchID, c.planner.Runner().Name(), model.AgentStatusDone)
	return plan, nil
}

// runChunk drives one chunk through generation, validation, persistence and
// the image stage. A failure at any stage fails only this chunk's items.
func (c *Coordinator) runChunk(ctx context.Context, batchID string, req model.GenerationRequest, plan *Plan, chunk model.Chunk) {
	chunkRef := fmt.Sprintf("chunk-%d", chunk.Index)
	start := chunk.Index * plan.Strategy.ChunkSize
	concepts := plan.Concepts[start : start+chunk.Count]

	// Generation (remote LLM call)
	c.advancePhase(ctx, batchID, model.PhaseGenerating)
	var generated []model.GeneratedRecipe
	err := c.genRunner.Execute(ctx, func(ctx context.Context) error {
		var genErr error
		generated, genErr = c.recipes.GenerateRecipes(ctx, concepts)
		return genErr
	})
	if err != nil {
		c.recordChunkFailure(ctx, batchID, model.PhaseGenerating, chunkRef, chunk.Count,
			fmt.Sprintf("generation failed: %v", err))
		return
	}

	// Validation
	validated := make([]model.ValidatedRecipe, len(generated))
	if req.Options.EnableValidation {
		c.advancePhase(ctx, batchID, model.PhaseValidating)
		validated, err = c.validateChunk(ctx, batchID, generated, concepts)
		if err != nil {
			c.recordChunkFailure(ctx, batchID, model.PhaseValidating, chunkRef, chunk.Count,
				fmt.Sprintf("validation failed: %v", err))
			return
		}
		for i, vr := range validated {
			if !vr.ValidationPassed {
				itemRef := fmt.Sprintf("%s/item-%d", chunkRef, i)
				c.recordItemFailure(ctx, batchID, model.PhaseValidating, itemRef, validationSummary(vr))
			}
		}
	} else {
		for i, g := range generated {
			validated[i] = model.ValidatedRecipe{GeneratedRecipe: g, ValidationPassed: true}
		}
	}

	// Persistence
	c.advancePhase(ctx, batchID, model.PhasePersisting)
	result := c.persister.Save(ctx, validated, batchID)
	for _, perr := range result.Errors {
		c.recordError(ctx, batchID, model.PhasePersisting, chunkRef, perr.Error())
	}
	persisted := 0
	for _, vr := range validated {
		if vr.ValidationPassed {
			persisted++
		}
	}
	if lost := persisted - len(result.Saved); lost > 0 {
		if err := c.monitor.ItemsFailed(ctx, batchID, lost); err != nil {
			log.Printf("Failed to record %d persistence failures for %s: %v", lost, batchID, err)
		}
	}

	// Image stage, concurrent per saved recipe
	if req.Options.EnableImageGeneration && len(result.Saved) > 0 {
		c.advancePhase(ctx, batchID, model.PhaseImaging)
		c.imageStage(ctx, batchID, req, result.Saved)
	} else {
		c.completeItems(ctx, batchID, len(result.Saved))
	}

	c.notifySnapshot(ctx, batchID)
}

func (c *Coordinator) validateChunk(ctx context.Context, batchID string, generated []model.GeneratedRecipe, concepts []model.RecipeConcept) ([]model.ValidatedRecipe, error) {
	var validated []model.ValidatedRecipe
	err := c.validator.Runner().Execute(ctx, func(ctx context.Context) error {
		var vErr error
		validated, vErr = c.validator.Validate(generated, concepts, batchID)
		return vErr
	})
	return validated, err
}

// imageStage generates and uploads an image per saved recipe, at most the
// uploader's concurrency bound in flight. An image failure degrades the
// recipe to a placeholder; the item still counts as completed because the
// recipe itself is saved.
func (c *Coordinator) imageStage(ctx context.Context, batchID string, req model.GenerationRequest, saved []model.SavedRecipe) {
	var wg sync.WaitGroup
	sem := make(chan struct{}, cap(c.uploader.sem))

	for _, rec := range saved {
		if c.monitor.IsCanceled(ctx, batchID) {
			// Stop dispatching but still drain the workers already in flight.
			break
		}
		rec := rec
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			c.imageOne(ctx, batchID, req, rec)
		}()
	}
	wg.Wait()
}

func (c *Coordinator) imageOne(ctx context.Context, batchID string, req model.GenerationRequest, rec model.SavedRecipe) {
	asset, err := c.imageGen.Generate(ctx, batchID, rec)
	if err != nil {
		if c.monitor.IsCanceled(ctx, batchID) {
			return
		}
		// Proceed without an image; the saved recipe is still usable.
		c.recordError(ctx, batchID, model.PhaseImaging, rec.ID, err.Error())
		c.completeItems(ctx, batchID, 1)
		return
	}

	url := asset.SourceURL
	if req.Options.EnableUpload {
		res := c.uploader.Upload(ctx, asset, client.ImageKey(batchID, rec.ID))
		url = res.URL
		if res.Fallback {
			c.recordError(ctx, batchID, model.PhaseImaging, rec.ID, "upload failed, serving temporary image reference")
		}
	}

	if c.monitor.IsCanceled(ctx, batchID) {
		// Result discarded; the batch is already failed.
		return
	}

	if url != "" {
		if err := c.linker.LinkImage(ctx, rec.ID, url); err != nil {
			c.recordError(ctx, batchID, model.PhaseImaging, rec.ID, fmt.Sprintf("failed to link image: %v", err))
		}
	}
	c.completeItems(ctx, batchID, 1)
}

// --- progress helpers ---

func (c *Coordinator) advancePhase(ctx context.Context, batchID string, phase model.BatchPhase) {
	if err := c.monitor.AdvancePhase(ctx, batchID, phase); err != nil {
		log.Printf("Failed to advance batch %s to %s: %v", batchID, phase, err)
		return
	}
	c.notifyPhase(batchID, phase)
}

func (c *Coordinator) failBatch(ctx context.Context, batchID string, phase model.BatchPhase, message string) {
	if err := c.monitor.Fail(ctx, batchID, phase, message); err != nil {
		log.Printf("Failed to mark batch %s failed: %v", batchID, err)
	}
	c.notifyError(batchID, "BATCH_FAILED", message)
}

func (c *Coordinator) recordChunkFailure(ctx context.Context, batchID string, phase model.BatchPhase, chunkRef string, count int, message string) {
	c.recordError(ctx, batchID, phase, chunkRef, message)
	if err := c.monitor.ItemsFailed(ctx, batchID, count); err != nil {
		log.Printf("Failed to record chunk failure for %s: %v", batchID, err)
	}
}

func (c *Coordinator) recordItemFailure(ctx context.Context, batchID string, phase model.BatchPhase, itemRef, message string) {
	c.recordError(ctx, batchID, phase, itemRef, message)
	if err := c.monitor.ItemsFailed(ctx, batchID, 1); err != nil {
		log.Printf("Failed to record item failure for %s: %v", batchID, err)
	}
}

func (c *Coordinator) recordError(ctx context.Context, batchID string, phase model.BatchPhase, itemRef, message string) {
	if err := c.monitor.RecordError(ctx, batchID, phase, itemRef, message); err != nil {
		log.Printf("Failed to record error for %s: %v", batchID, err)
	}
	c.notifyError(batchID, "STAGE_ERROR", message)
}

func (c *Coordinator) completeItems(ctx context.Context, batchID string, n int) {
	if n == 0 {
		return
	}
	if err := c.monitor.ItemsCompleted(ctx, batchID, n); err != nil {
		log.Printf("Failed to record completions for %s: %v", batchID, err)
	}
}

func (c *Coordinator) setAgent(ctx context.Context, batchID, name string, status model.AgentStatus) {
	if err := c.monitor.SetAgentStatus(ctx, batchID, name, status); err != nil {
		log.Printf("Failed to set agent status for %s: %v", batchID, err)
	}
}

func (c *Coordinator) notifyPhase(batchID string, phase model.BatchPhase) {
	if c.notifier != nil {
		c.notifier.BroadcastPhase(batchID, phase)
	}
}

func (c *Coordinator) notifyError(batchID, code, message string) {
	if c.notifier != nil {
		c.notifier.BroadcastError(batchID, code, message)
	}
}

func (c *Coordinator) notifySnapshot(ctx context.Context, batchID string) {
	if c.notifier == nil {
		return
	}
	if p, err := c.monitor.Get(ctx, batchID); err == nil {
		c.notifier.BroadcastProgress(batchID, p)
	}
}

func validationSummary(vr model.ValidatedRecipe) string {
	for _, issue := range vr.Issues {
		if issue.Severity == model.SeverityCritical {
			return fmt.Sprintf("validation failed on %s: %s", issue.Field, issue.Message)
		}
	}
	return "validation failed"
}
