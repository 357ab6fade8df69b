package pipeline

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/mealsmith/api/internal/agent"
	"github.com/mealsmith/api/internal/model"
)

// RecipeWriter is the storage surface the persister drives. InsertBatch is
// one transaction; InsertOne is the best-effort fallback for backends without
// multi-row transactions.
type RecipeWriter interface {
	InsertBatch(ctx context.Context, recipes []model.SavedRecipe) error
	InsertOne(ctx context.Context, recipe model.SavedRecipe) error
}

// SaveResult reports the outcome of persisting one validated chunk.
type SaveResult struct {
	Saved  []model.SavedRecipe
	Errors []error
}

// Persister writes validated recipes to storage in fixed-size transactional
// batches. A failure in one batch rolls back only that batch; other batches
// are unaffected. Although callers are expected to pass only recipes with
// ValidationPassed=true, the persister filters defensively so an unvalidated
// recipe can never reach storage.
type Persister struct {
	runner        *agent.Runner
	writer        RecipeWriter
	batchSize     int
	transactional bool
}

// NewPersister creates a persistence orchestrator. batchSize bounds the rows
// per transaction; transactional=false switches to best-effort individual
// inserts.
func NewPersister(runner *agent.Runner, writer RecipeWriter, batchSize int, transactional bool) *Persister {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Persister{
		runner:        runner,
		writer:        writer,
		batchSize:     batchSize,
		transactional: transactional,
	}
}

// Runner exposes the persister's lifecycle/metrics wrapper.
func (p *Persister) Runner() *agent.Runner {
	return p.runner
}

// Save converts passing recipes to storage format and writes them. The
// storage-assigned id is a fresh UUID string, an opaque identifier that is
// returned unchanged for every downstream consumer. Never convert these ids
// through a numeric type; they are not numbers and coercion corrupts the
// reference.
func (p *Persister) Save(ctx context.Context, validated []model.ValidatedRecipe, batchID string) SaveResult {
	records := make([]model.SavedRecipe, 0, len(validated))
	for _, vr := range validated {
		if !vr.ValidationPassed {
			continue
		}
		records = append(records, toSavedRecipe(vr, batchID))
	}

	if !p.transactional {
		return p.saveIndividually(ctx, records)
	}

	var result SaveResult
	for start := 0; start < len(records); start += p.batchSize {
		end := start + p.batchSize
		if end > len(records) {
			end = len(records)
		}
		group := records[start:end]

		err := p.runner.Execute(ctx, func(ctx context.Context) error {
			if err := p.writer.InsertBatch(ctx, group); err != nil {
				return agent.NewTransientError(err)
			}
			return nil
		})
		if err != nil {
			result.Errors = append(result.Errors,
				fmt.Errorf("persistence batch %d-%d failed: %w", start, end-1, err))
			continue
		}
		result.Saved = append(result.Saved, group...)
	}
	return result
}

// saveIndividually is the non-transactional fallback: each row is written on
// its own and failures are isolated per recipe.
func (p *Persister) saveIndividually(ctx context.Context, records []model.SavedRecipe) SaveResult {
	var result SaveResult
	for _, rec := range records {
		rec := rec
		err := p.runner.Execute(ctx, func(ctx context.Context) error {
			if err := p.writer.InsertOne(ctx, rec); err != nil {
				return agent.NewTransientError(err)
			}
			return nil
		})
		if err != nil {
			result.Errors = append(result.Errors,
				fmt.Errorf("failed to persist recipe %q: %w", rec.Name, err))
			continue
		}
		result.Saved = append(result.Saved, rec)
	}
	return result
}

// toSavedRecipe maps generation-format fields into storage format. Nutrition
// values are normalized to two decimal places.
func toSavedRecipe(vr model.ValidatedRecipe, batchID string) model.SavedRecipe {
	return model.SavedRecipe{
		ID:           uuid.New().String(),
		BatchID:      batchID,
		Name:         vr.Name,
		Description:  vr.Description,
		Ingredients:  vr.Ingredients,
		Instructions: vr.Instructions,
		Nutrition: model.Nutrition{
			Calories: round2(vr.Nutrition.Calories),
			Protein:  round2(vr.Nutrition.Protein),
			Carbs:    round2(vr.Nutrition.Carbs),
			Fat:      round2(vr.Nutrition.Fat),
		},
		CreatedAt: time.Now().UTC(),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
