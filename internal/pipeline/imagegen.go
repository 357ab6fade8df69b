package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"sync"
	"time"

	"github.com/corona10/goimagehash"

	"github.com/mealsmith/api/internal/agent"
	"github.com/mealsmith/api/internal/client"
	"github.com/mealsmith/api/internal/model"
)

const hashBits = 64

// ImageGenerator produces one image per saved recipe through a remote
// provider, optionally enforcing visual uniqueness within the batch via
// perceptual hashing.
type ImageGenerator struct {
	runner   *agent.Runner
	provider client.ImageProvider
	timeout  time.Duration

	// similarityThreshold is the Hamming-similarity above which a result
	// counts as a near-duplicate; regenLimit bounds perturbed retries before
	// the last result is accepted regardless.
	similarityThreshold float64
	regenLimit          int

	mu     sync.Mutex
	hashes map[string][]*goimagehash.ImageHash // batchID -> accepted hashes
}

// NewImageGenerator creates an image generation stage.
func NewImageGenerator(runner *agent.Runner, provider client.ImageProvider, timeout time.Duration, similarityThreshold float64, regenLimit int) *ImageGenerator {
	return &ImageGenerator{
		runner:              runner,
		provider:            provider,
		timeout:             timeout,
		similarityThreshold: similarityThreshold,
		regenLimit:          regenLimit,
		hashes:              make(map[string][]*goimagehash.ImageHash),
	}
}

// Runner exposes the generator's lifecycle/metrics wrapper.
func (g *ImageGenerator) Runner() *agent.Runner {
	return g.runner
}

// Generate produces an image for the recipe. On a near-duplicate result the
// prompt is perturbed and generation retried up to the regeneration limit;
// the last result is accepted regardless. Provider failures follow the
// runner's retry policy and propagate as terminal errors when exhausted;
// the caller decides whether to continue with a placeholder.
func (g *ImageGenerator) Generate(ctx context.Context, batchID string, recipe model.SavedRecipe) (*model.ImageAsset, error) {
	if g.provider == nil || !g.provider.IsConfigured() {
		return g.generateMock(batchID, recipe), nil
	}

	prompt := buildImagePrompt(recipe)
	var asset *model.ImageAsset

	for attempt := 0; attempt <= g.regenLimit; attempt++ {
		var result *client.ImageResult
		err := g.runner.Execute(ctx, func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, g.timeout)
			defer cancel()
			var opErr error
			result, opErr = g.provider.GenerateAndWait(callCtx, prompt)
			return opErr
		})
		if err != nil {
			return nil, fmt.Errorf("image generation for recipe %s failed: %w", recipe.ID, err)
		}

		asset = &model.ImageAsset{RecipeID: recipe.ID, SourceURL: result.ImageURL}

		hash, err := g.hashResult(ctx, asset)
		if err != nil {
			// Uniqueness is best-effort: an undecodable image is accepted.
			log.Printf("Skipping uniqueness check for recipe %s: %v", recipe.ID, err)
			return asset, nil
		}

		if !g.tooSimilar(batchID, hash) {
			g.remember(batchID, hash)
			asset.PerceptualHash = hash.GetHash()
			return asset, nil
		}

		prompt = fmt.Sprintf("%s, alternate plating and camera angle, variation %d", buildImagePrompt(recipe), attempt+1)
	}

	// Regeneration budget spent; keep the final result.
	log.Printf("Accepting near-duplicate image for recipe %s after %d regenerations", recipe.ID, g.regenLimit)
	return asset, nil
}

// ClearBatch drops the uniqueness hashes recorded for a finished batch.
func (g *ImageGenerator) ClearBatch(batchID string) {
	g.mu.Lock()
	delete(g.hashes, batchID)
	g.mu.Unlock()
}

func (g *ImageGenerator) hashResult(ctx context.Context, asset *model.ImageAsset) (*goimagehash.ImageHash, error) {
	data, err := g.provider.Download(ctx, asset.SourceURL)
	if err != nil {
		return nil, err
	}
	asset.Data = data

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return goimagehash.DifferenceHash(img)
}

func (g *ImageGenerator) tooSimilar(batchID string, hash *goimagehash.ImageHash) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, prior := range g.hashes[batchID] {
		dist, err := hash.Distance(prior)
		if err != nil {
			continue
		}
		similarity := 1 - float64(dist)/hashBits
		if similarity >= g.similarityThreshold {
			return true
		}
	}
	return false
}

func (g *ImageGenerator) remember(batchID string, hash *goimagehash.ImageHash) {
	g.mu.Lock()
	g.hashes[batchID] = append(g.hashes[batchID], hash)
	g.mu.Unlock()
}

func buildImagePrompt(recipe model.SavedRecipe) string {
	return fmt.Sprintf("Professional food photography of %s: %s. Overhead shot, natural light, styled plating.",
		recipe.Name, recipe.Description)
}

// generateMock returns a placeholder asset used when no image provider is
// configured, keeping development batches flowing end to end.
func (g *ImageGenerator) generateMock(batchID string, recipe model.SavedRecipe) *model.ImageAsset {
	return &model.ImageAsset{
		RecipeID:  recipe.ID,
		SourceURL: fmt.Sprintf("https://placeholder.mealsmith.io/%s/%s.png", batchID, recipe.ID),
	}
}
