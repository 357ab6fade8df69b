package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mealsmith/api/internal/agent"
	"github.com/mealsmith/api/internal/model"
)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	runner := agent.NewRunner("validator", agent.DefaultRetryConfig())
	require.NoError(t, runner.Initialize())
	return NewValidator(runner, DefaultTolerances())
}

func testConcept(calories, protein, carbs, fat float64) model.RecipeConcept {
	return model.RecipeConcept{
		Name:     "Thai Curry",
		MealType: model.MealDinner,
		Cuisine:  model.CuisineThai,
		Target:   model.NutritionTarget{Calories: calories, Protein: protein, Carbs: carbs, Fat: fat},
	}
}

func testRecipe(n model.Nutrition) model.GeneratedRecipe {
	return model.GeneratedRecipe{
		ConceptName:  "Thai Curry",
		Name:         "Thai Green Curry",
		Description:  "Green curry with vegetables",
		Ingredients:  []string{"coconut milk", "green curry paste", "vegetables"},
		Instructions: []string{"Simmer paste", "Add vegetables", "Serve"},
		Nutrition:    n,
	}
}

func TestValidateWithinPassBand(t *testing.T) {
	v := newTestValidator(t)

	// 9% over target: inside the 10% pass band, value untouched.
	recipes := []model.GeneratedRecipe{testRecipe(model.Nutrition{Calories: 654, Protein: 30, Carbs: 65, Fat: 20})}
	concepts := []model.RecipeConcept{testConcept(600, 30, 65, 20)}

	out, err := v.Validate(recipes, concepts, "batch-1")
	require.NoError(t, err)
	require.Len(t, out, 1)

	assert.True(t, out[0].ValidationPassed)
	assert.Equal(t, 654.0, out[0].Nutrition.Calories)
}

func TestValidateExactMatchPasses(t *testing.T) {
	v := newTestValidator(t)

	out, err := v.Validate(
		[]model.GeneratedRecipe{testRecipe(model.Nutrition{Calories: 600, Protein: 30, Carbs: 65, Fat: 20})},
		[]model.RecipeConcept{testConcept(600, 30, 65, 20)},
		"batch-1",
	)
	require.NoError(t, err)
	assert.True(t, out[0].ValidationPassed)
	assert.Empty(t, out[0].Issues)
}

func TestValidateCaloriesAutoFixed(t *testing.T) {
	v := newTestValidator(t)

	// 12% over target: inside the 15% fix band, corrected to the target.
	out, err := v.Validate(
		[]model.GeneratedRecipe{testRecipe(model.Nutrition{Calories: 672, Protein: 30, Carbs: 65, Fat: 20})},
		[]model.RecipeConcept{testConcept(600, 30, 65, 20)},
		"batch-1",
	)
	require.NoError(t, err)

	assert.True(t, out[0].ValidationPassed)
	assert.Equal(t, 600.0, out[0].Nutrition.Calories)
	require.Len(t, out[0].Issues, 1)
	assert.Equal(t, model.SeverityInfo, out[0].Issues[0].Severity)
}

func TestValidateCaloriesBeyondFixBandFails(t *testing.T) {
	v := newTestValidator(t)

	out, err := v.Validate(
		[]model.GeneratedRecipe{testRecipe(model.Nutrition{Calories: 720, Protein: 30, Carbs: 65, Fat: 20})},
		[]model.RecipeConcept{testConcept(600, 30, 65, 20)},
		"batch-1",
	)
	require.NoError(t, err)

	assert.False(t, out[0].ValidationPassed)
	require.Len(t, out[0].Issues, 1)
	assert.Equal(t, model.SeverityCritical, out[0].Issues[0].Severity)
	// The reported value is never silently altered on failure.
	assert.Equal(t, 720.0, out[0].Nutrition.Calories)
}

func TestValidateMacroBands(t *testing.T) {
	v := newTestValidator(t)

	// Protein 7g off: fix band. Fat 15g off: fails.
	out, err := v.Validate(
		[]model.GeneratedRecipe{testRecipe(model.Nutrition{Calories: 600, Protein: 37, Carbs: 65, Fat: 35})},
		[]model.RecipeConcept{testConcept(600, 30, 65, 20)},
		"batch-1",
	)
	require.NoError(t, err)

	assert.False(t, out[0].ValidationPassed)
	assert.Equal(t, 30.0, out[0].Nutrition.Protein)
	assert.Equal(t, 35.0, out[0].Nutrition.Fat)
}

func TestValidateNegativeValuesClamped(t *testing.T) {
	v := newTestValidator(t)

	out, err := v.Validate(
		[]model.GeneratedRecipe{testRecipe(model.Nutrition{Calories: 600, Protein: -3, Carbs: 65, Fat: 20})},
		[]model.RecipeConcept{testConcept(600, 0, 65, 20)},
		"batch-1",
	)
	require.NoError(t, err)

	assert.Equal(t, 0.0, out[0].Nutrition.Protein)
	found := false
	for _, issue := range out[0].Issues {
		if issue.Field == "protein" && issue.Severity == model.SeverityInfo {
			found = true
		}
	}
	assert.True(t, found, "expected an info issue for the clamped value")
}

func TestValidateMissingFieldsFail(t *testing.T) {
	v := newTestValidator(t)

	recipe := testRecipe(model.Nutrition{Calories: 600, Protein: 30, Carbs: 65, Fat: 20})
	recipe.Ingredients = nil

	out, err := v.Validate(
		[]model.GeneratedRecipe{recipe},
		[]model.RecipeConcept{testConcept(600, 30, 65, 20)},
		"batch-1",
	)
	require.NoError(t, err)

	assert.False(t, out[0].ValidationPassed)
	require.NotEmpty(t, out[0].Issues)
	assert.Equal(t, "ingredients", out[0].Issues[0].Field)
	assert.Equal(t, model.SeverityCritical, out[0].Issues[0].Severity)
}

func TestValidateLengthMismatchIsStructural(t *testing.T) {
	v := newTestValidator(t)

	_, err := v.Validate(
		[]model.GeneratedRecipe{testRecipe(model.Nutrition{Calories: 600})},
		[]model.RecipeConcept{testConcept(600, 30, 65, 20), testConcept(450, 35, 40, 15)},
		"batch-1",
	)
	require.Error(t, err)
	assert.True(t, IsStructural(err))
}

func TestValidatePreservesOrderAndKeepsFailures(t *testing.T) {
	v := newTestValidator(t)

	good := testRecipe(model.Nutrition{Calories: 600, Protein: 30, Carbs: 65, Fat: 20})
	bad := testRecipe(model.Nutrition{Calories: 1200, Protein: 30, Carbs: 65, Fat: 20})
	bad.Name = "Way Off"

	out, err := v.Validate(
		[]model.GeneratedRecipe{good, bad, good},
		[]model.RecipeConcept{testConcept(600, 30, 65, 20), testConcept(600, 30, 65, 20), testConcept(600, 30, 65, 20)},
		"batch-1",
	)
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.True(t, out[0].ValidationPassed)
	assert.False(t, out[1].ValidationPassed)
	assert.Equal(t, "Way Off", out[1].Name)
	assert.True(t, out[2].ValidationPassed)
}
