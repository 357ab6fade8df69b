package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mealsmith/api/internal/agent"
	"github.com/mealsmith/api/internal/model"
)

// fakeStorage counts concurrent uploads and can be told to fail.
type fakeStorage struct {
	mu        sync.Mutex
	inFlight  int32
	maxSeen   int32
	uploads   int
	failAll   bool
	holdEach  time.Duration
	publicURL string
}

func (s *fakeStorage) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	cur := atomic.AddInt32(&s.inFlight, 1)
	defer atomic.AddInt32(&s.inFlight, -1)

	s.mu.Lock()
	if cur > s.maxSeen {
		s.maxSeen = cur
	}
	s.uploads++
	s.mu.Unlock()

	if s.holdEach > 0 {
		time.Sleep(s.holdEach)
	}
	if s.failAll {
		return "", errors.New("storage unavailable")
	}
	return s.publicURL + "/" + key, nil
}

func (s *fakeStorage) Delete(ctx context.Context, key string) error { return nil }

func (s *fakeStorage) GetPublicURL(key string) string { return s.publicURL + "/" + key }

func newTestUploader(t *testing.T, storage *fakeStorage, concurrency int) *Uploader {
	t.Helper()
	runner := agent.NewRunner("uploader", agent.RetryConfig{MaxRetries: 0, BackoffBase: 0, BackoffMultiplier: 1, MaxBackoff: 0})
	require.NoError(t, runner.Initialize())
	if storage == nil {
		return NewUploader(runner, nil, concurrency, time.Second)
	}
	return NewUploader(runner, storage, concurrency, time.Second)
}

func testAsset(recipeID string) *model.ImageAsset {
	return &model.ImageAsset{
		RecipeID:  recipeID,
		SourceURL: "https://images.example.com/tmp/" + recipeID,
		Data:      []byte{0x89, 0x50, 0x4e, 0x47},
	}
}

func TestUploadReturnsDurableURL(t *testing.T) {
	storage := &fakeStorage{publicURL: "https://cdn.example.com"}
	u := newTestUploader(t, storage, 5)

	res := u.Upload(context.Background(), testAsset("r1"), "images/b1/r1.png")

	assert.False(t, res.Fallback)
	assert.Equal(t, "https://cdn.example.com/images/b1/r1.png", res.URL)
	assert.Equal(t, "r1", res.RecipeID)
}

func TestUploadFallsBackOnFailure(t *testing.T) {
	storage := &fakeStorage{failAll: true}
	u := newTestUploader(t, storage, 5)

	asset := testAsset("r1")
	res := u.Upload(context.Background(), asset, "images/b1/r1.png")

	assert.True(t, res.Fallback)
	assert.Equal(t, asset.SourceURL, res.URL)
	assert.Nil(t, asset.UploadedURL)
}

func TestUploadWithoutStorageUsesSourceURL(t *testing.T) {
	u := newTestUploader(t, nil, 5)

	asset := testAsset("r1")
	res := u.Upload(context.Background(), asset, "images/b1/r1.png")

	// No storage configured is not a degraded result, just passthrough.
	assert.False(t, res.Fallback)
	assert.False(t, res.Skipped)
	assert.Equal(t, asset.SourceURL, res.URL)
}

func TestUploadEmptyDataIsSkippedNotFallback(t *testing.T) {
	storage := &fakeStorage{publicURL: "https://cdn.example.com"}
	u := newTestUploader(t, storage, 5)

	asset := testAsset("r1")
	asset.Data = nil
	res := u.Upload(context.Background(), asset, "images/b1/r1.png")

	assert.True(t, res.Skipped)
	assert.False(t, res.Fallback)
	assert.Equal(t, asset.SourceURL, res.URL)
	assert.Equal(t, 0, storage.uploads)
}

func TestUploadBatchRespectsConcurrencyCap(t *testing.T) {
	storage := &fakeStorage{publicURL: "https://cdn.example.com", holdEach: 20 * time.Millisecond}
	u := newTestUploader(t, storage, 3)

	assets := make([]*model.ImageAsset, 12)
	for i := range assets {
		assets[i] = testAsset(fmt.Sprintf("r%d", i))
	}

	results := u.UploadBatch(context.Background(), "b1", assets)

	require.Len(t, results, 12)
	assert.Equal(t, 12, storage.uploads)
	assert.LessOrEqual(t, storage.maxSeen, int32(3))
	for _, res := range results {
		assert.False(t, res.Fallback)
	}
}

func TestUploadBatchCapSharedAcrossBatches(t *testing.T) {
	storage := &fakeStorage{publicURL: "https://cdn.example.com", holdEach: 20 * time.Millisecond}
	u := newTestUploader(t, storage, 2)

	var wg sync.WaitGroup
	for b := 0; b < 3; b++ {
		b := b
		wg.Add(1)
		go func() {
			defer wg.Done()
			assets := []*model.ImageAsset{
				testAsset(fmt.Sprintf("b%d-r0", b)),
				testAsset(fmt.Sprintf("b%d-r1", b)),
			}
			u.UploadBatch(context.Background(), fmt.Sprintf("batch-%d", b), assets)
		}()
	}
	wg.Wait()

	// Even with three batches racing, the global cap holds.
	assert.LessOrEqual(t, storage.maxSeen, int32(2))
	assert.Equal(t, 6, storage.uploads)
}
