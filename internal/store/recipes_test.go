package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mealsmith/api/internal/model"
)

func newTestStore(t *testing.T) *RecipeStore {
	t.Helper()
	s, err := NewRecipeStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecipe(batchID string) model.SavedRecipe {
	return model.SavedRecipe{
		ID:           uuid.New().String(),
		BatchID:      batchID,
		Name:         "Grilled Lemon Chicken Bowl",
		Description:  "A bright weeknight bowl.",
		Ingredients:  []string{"chicken breast", "lemon", "rice"},
		Instructions: []string{"Marinate.", "Grill.", "Serve over rice."},
		Nutrition:    model.Nutrition{Calories: 520.25, Protein: 42.5, Carbs: 48, Fat: 14.75},
		CreatedAt:    time.Now().UTC(),
	}
}

func TestInsertBatchAndGetByID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	recipes := []model.SavedRecipe{testRecipe("b1"), testRecipe("b1"), testRecipe("b1")}
	require.NoError(t, s.InsertBatch(ctx, recipes))

	got, err := s.GetByID(ctx, recipes[1].ID)
	require.NoError(t, err)
	assert.Equal(t, recipes[1].ID, got.ID)
	assert.Equal(t, recipes[1].Ingredients, got.Ingredients)
	assert.Equal(t, recipes[1].Nutrition.Calories, got.Nutrition.Calories)
	assert.Nil(t, got.ImageURL)

	n, err := s.CountByBatch(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestInsertBatchRollsBackAsAUnit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	dup := testRecipe("b1")
	good := []model.SavedRecipe{testRecipe("b1"), dup}
	require.NoError(t, s.InsertBatch(ctx, good))

	// Second batch reuses an id, violating the primary key mid-transaction.
	// Every row of the failing batch must roll back; the first batch stays.
	bad := []model.SavedRecipe{testRecipe("b1"), dup, testRecipe("b1")}
	err := s.InsertBatch(ctx, bad)
	require.Error(t, err)

	n, err := s.CountByBatch(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.GetByID(ctx, bad[0].ID)
	assert.Error(t, err)
}

func TestInsertOneFallback(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	r := testRecipe("b2")
	require.NoError(t, s.InsertOne(ctx, r))

	got, err := s.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.Name, got.Name)
}

func TestLinkImagePreservesOpaqueID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	r := testRecipe("b1")
	require.NoError(t, s.InsertOne(ctx, r))

	// A UUID-shaped id must round-trip byte-identical through the image
	// linking step and update exactly one row.
	require.NoError(t, s.LinkImage(ctx, r.ID, "https://cdn.mealsmith.io/img/x.png"))

	got, err := s.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	require.NotNil(t, got.ImageURL)
	assert.Equal(t, "https://cdn.mealsmith.io/img/x.png", *got.ImageURL)
}

func TestLinkImageUnknownIDFails(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.LinkImage(ctx, uuid.New().String(), "https://cdn.mealsmith.io/img/x.png")
	assert.Error(t, err)
}

func TestInsertBatchEmptyIsNoop(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.InsertBatch(ctx, nil))
}
