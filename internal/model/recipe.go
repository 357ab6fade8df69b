package model

import "time"

// NutritionTarget is the planned per-serving nutrition for a concept.
type NutritionTarget struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"` // grams
	Carbs    float64 `json:"carbs"`   // grams
	Fat      float64 `json:"fat"`     // grams
}

// RecipeConcept is the planned outline for one recipe, produced before
// generation. Names are unique within a batch.
type RecipeConcept struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	MealType    MealType        `json:"mealType"`
	Cuisine     Cuisine         `json:"cuisine"`
	Target      NutritionTarget `json:"target"`
}

// Nutrition is the measured per-serving nutrition of a generated recipe.
type Nutrition struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fat      float64 `json:"fat"`
}

// GeneratedRecipe is the raw output of the remote generation step. It exists
// only between generation and validation.
type GeneratedRecipe struct {
	ConceptName  string    `json:"conceptName"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Ingredients  []string  `json:"ingredients"`
	Instructions []string  `json:"instructions"`
	Nutrition    Nutrition `json:"nutrition"`
}

// ValidationIssue is one finding from nutrition validation.
type ValidationIssue struct {
	Field    string        `json:"field"`
	Severity IssueSeverity `json:"severity"`
	Message  string        `json:"message"`
}

// ValidatedRecipe is a generated recipe after tolerance checks and auto-fixes.
// Failed recipes are retained with ValidationPassed=false; the validator never
// drops items.
type ValidatedRecipe struct {
	GeneratedRecipe
	ValidationPassed bool              `json:"validationPassed"`
	Issues           []ValidationIssue `json:"issues,omitempty"`
}

// SavedRecipe is a persisted recipe. ID is the storage-assigned identifier,
// an opaque string that must never be coerced to a number or renumbered; all
// downstream stages reference recipes by this value.
type SavedRecipe struct {
	ID           string    `json:"id"`
	BatchID      string    `json:"batchId"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Ingredients  []string  `json:"ingredients"`
	Instructions []string  `json:"instructions"`
	Nutrition    Nutrition `json:"nutrition"`
	ImageURL     *string   `json:"imageUrl,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ImageAsset is a generated image for one saved recipe, prior to and after
// upload to blob storage.
type ImageAsset struct {
	RecipeID       string  `json:"recipeId"`
	SourceURL      string  `json:"sourceUrl"`
	Data           []byte  `json:"-"`
	PerceptualHash uint64  `json:"perceptualHash,omitempty"`
	UploadedURL    *string `json:"uploadedUrl,omitempty"`
}
