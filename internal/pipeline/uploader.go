package pipeline

import (
	"bytes"
	"context"
	"log"
	"time"

	"github.com/mealsmith/api/internal/agent"
	"github.com/mealsmith/api/internal/client"
	"github.com/mealsmith/api/internal/model"
)

// UploadResult is the outcome of one image upload. Fallback is set when an
// attempted upload failed and URL is the temporary provider reference instead
// of a durable storage URL. Skipped is set when no upload was attempted
// because the asset carried no bytes.
type UploadResult struct {
	RecipeID string
	URL      string
	Fallback bool
	Skipped  bool
}

// Uploader moves generated images into blob storage. The concurrency
// semaphore is shared by every batch: a single global cap keeps the storage
// provider from being flooded by large campaigns, at the cost of strict
// fairness between batches.
type Uploader struct {
	runner  *agent.Runner
	storage client.StorageClient
	sem     chan struct{}
	timeout time.Duration
}

// NewUploader creates an upload stage with at most concurrency in-flight
// uploads across all batches.
func NewUploader(runner *agent.Runner, storage client.StorageClient, concurrency int, timeout time.Duration) *Uploader {
	if concurrency <= 0 {
		concurrency = 5
	}
	return &Uploader{
		runner:  runner,
		storage: storage,
		sem:     make(chan struct{}, concurrency),
		timeout: timeout,
	}
}

// Runner exposes the uploader's lifecycle/metrics wrapper. Upload metrics are
// tracked separately from generation metrics.
func (u *Uploader) Runner() *agent.Runner {
	return u.runner
}

// Upload stores one image and returns its durable URL. On timeout or failure
// it falls back to the asset's temporary source reference rather than
// failing the batch; the degraded result is reported, never hidden.
func (u *Uploader) Upload(ctx context.Context, asset *model.ImageAsset, key string) UploadResult {
	if u.storage == nil {
		return UploadResult{RecipeID: asset.RecipeID, URL: asset.SourceURL}
	}
	if len(asset.Data) == 0 {
		// Nothing to store. Not a failure, just a passthrough to the source.
		return UploadResult{RecipeID: asset.RecipeID, URL: asset.SourceURL, Skipped: true}
	}

	select {
	case u.sem <- struct{}{}:
	case <-ctx.Done():
		return UploadResult{RecipeID: asset.RecipeID, URL: asset.SourceURL, Fallback: true}
	}
	defer func() { <-u.sem }()

	var url string
	err := u.runner.Execute(ctx, func(ctx context.Context) error {
		upCtx, cancel := context.WithTimeout(ctx, u.timeout)
		defer cancel()

		uploaded, err := u.storage.Upload(upCtx, key, bytes.NewReader(asset.Data), "image/png")
		if err != nil {
			return agent.NewTransientError(err)
		}
		url = uploaded
		return nil
	})
	if err != nil {
		log.Printf("Upload failed for recipe %s, using temporary reference: %v", asset.RecipeID, err)
		return UploadResult{RecipeID: asset.RecipeID, URL: asset.SourceURL, Fallback: true}
	}

	asset.UploadedURL = &url
	return UploadResult{RecipeID: asset.RecipeID, URL: url}
}

// UploadBatch uploads a set of assets, splitting the work into sub-chunks no
// larger than the concurrency bound so a big batch cannot queue unbounded
// goroutines behind the semaphore.
func (u *Uploader) UploadBatch(ctx context.Context, batchID string, assets []*model.ImageAsset) []UploadResult {
	results := make([]UploadResult, len(assets))
	chunk := cap(u.sem)

	for start := 0; start < len(assets); start += chunk {
		end := start + chunk
		if end > len(assets) {
			end = len(assets)
		}

		done := make(chan struct{})
		for i := start; i < end; i++ {
			i := i
			go func() {
				defer func() { done <- struct{}{} }()
				key := client.ImageKey(batchID, assets[i].RecipeID)
				results[i] = u.Upload(ctx, assets[i], key)
			}()
		}
		for i := start; i < end; i++ {
			<-done
		}
	}
	return results
}
