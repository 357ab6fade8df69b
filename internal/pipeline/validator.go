package pipeline

import (
	"fmt"
	"math"

	"github.com/mealsmith/api/internal/agent"
	"github.com/mealsmith/api/internal/model"
)

// Tolerances holds the validation bands. Values inside the pass band are
// accepted as-is; values inside the wider auto-fix band are corrected to the
// target and flagged; values beyond it fail the recipe.
type Tolerances struct {
	CaloriePassPct float64 // relative, e.g. 0.10
	CalorieFixPct  float64 // relative, e.g. 0.15
	MacroPassGrams float64 // absolute grams, e.g. 5
	MacroFixGrams  float64 // absolute grams, e.g. 10
}

// DefaultTolerances returns the production defaults.
func DefaultTolerances() Tolerances {
	return Tolerances{
		CaloriePassPct: 0.10,
		CalorieFixPct:  0.15,
		MacroPassGrams: 5,
		MacroFixGrams:  10,
	}
}

// Validator checks generated recipes against their originating concepts.
type Validator struct {
	runner *agent.Runner
	tol    Tolerances
}

// NewValidator creates a nutrition validator.
func NewValidator(runner *agent.Runner, tol Tolerances) *Validator {
	return &Validator{runner: runner, tol: tol}
}

// Runner exposes the validator's lifecycle/metrics wrapper.
func (v *Validator) Runner() *agent.Runner {
	return v.runner
}

// Validate checks each recipe against its concept. Recipes and concepts are
// two aligned slices (the i-th recipe was generated from the i-th concept),
// and a length mismatch is a structural error for the whole chunk, raised
// loudly instead of producing partial output. The result preserves input
// order and contains one entry per recipe; failed recipes are kept with
// ValidationPassed=false.
func (v *Validator) Validate(recipes []model.GeneratedRecipe, concepts []model.RecipeConcept, batchID string) ([]model.ValidatedRecipe, error) {
	if len(recipes) != len(concepts) {
		return nil, &StructuralError{
			BatchID:  batchID,
			Stage:    "nutrition validation",
			Expected: len(concepts),
			Actual:   len(recipes),
		}
	}

	out := make([]model.ValidatedRecipe, len(recipes))
	for i := range recipes {
		out[i] = v.validateOne(recipes[i], concepts[i])
	}
	return out, nil
}

func (v *Validator) validateOne(recipe model.GeneratedRecipe, concept model.RecipeConcept) model.ValidatedRecipe {
	vr := model.ValidatedRecipe{GeneratedRecipe: recipe, ValidationPassed: true}

	v.checkRequired(&vr)
	v.clampNegatives(&vr)
	v.checkCalories(&vr, concept.Target.Calories)
	v.checkMacro(&vr, "protein", &vr.Nutrition.Protein, concept.Target.Protein)
	v.checkMacro(&vr, "carbs", &vr.Nutrition.Carbs, concept.Target.Carbs)
	v.checkMacro(&vr, "fat", &vr.Nutrition.Fat, concept.Target.Fat)

	return vr
}

func (v *Validator) checkRequired(vr *model.ValidatedRecipe) {
	missing := func(field string) {
		vr.ValidationPassed = false
		vr.Issues = append(vr.Issues, model.ValidationIssue{
			Field:    field,
			Severity: model.SeverityCritical,
			Message:  fmt.Sprintf("required field %q is missing", field),
		})
	}

	if vr.Name == "" {
		missing("name")
	}
	if vr.Description == "" {
		missing("description")
	}
	if len(vr.Ingredients) == 0 {
		missing("ingredients")
	}
	if len(vr.Instructions) == 0 {
		missing("instructions")
	}
	if vr.Nutrition == (model.Nutrition{}) {
		missing("nutrition")
	}
}

func (v *Validator) clampNegatives(vr *model.ValidatedRecipe) {
	for _, f := range []struct {
		name  string
		value *float64
	}{
		{"calories", &vr.Nutrition.Calories},
		{"protein", &vr.Nutrition.Protein},
		{"carbs", &vr.Nutrition.Carbs},
		{"fat", &vr.Nutrition.Fat},
	} {
		if *f.value < 0 {
			*f.value = 0
			vr.Issues = append(vr.Issues, model.ValidationIssue{
				Field:    f.name,
				Severity: model.SeverityInfo,
				Message:  fmt.Sprintf("negative %s clamped to 0", f.name),
			})
		}
	}
}

// checkCalories applies the relative bands: within CaloriePassPct of the
// target passes as-is; within CalorieFixPct the value is corrected to the
// target and flagged info; beyond that the recipe fails. After an auto-fix
// the value equals the target exactly, so it can never sit outside tolerance.
func (v *Validator) checkCalories(vr *model.ValidatedRecipe, target float64) {
	if target <= 0 {
		return
	}
	deviation := math.Abs(vr.Nutrition.Calories-target) / target
	switch {
	case deviation <= v.tol.CaloriePassPct:
	case deviation <= v.tol.CalorieFixPct:
		vr.Issues = append(vr.Issues, model.ValidationIssue{
			Field:    "calories",
			Severity: model.SeverityInfo,
			Message:  fmt.Sprintf("calories %.1f auto-corrected to target %.1f (%.0f%% off)", vr.Nutrition.Calories, target, deviation*100),
		})
		vr.Nutrition.Calories = target
	default:
		vr.ValidationPassed = false
		vr.Issues = append(vr.Issues, model.ValidationIssue{
			Field:    "calories",
			Severity: model.SeverityCritical,
			Message:  fmt.Sprintf("calories %.1f deviates %.0f%% from target %.1f", vr.Nutrition.Calories, deviation*100, target),
		})
	}
}

// checkMacro applies the absolute-gram bands to one macro field.
func (v *Validator) checkMacro(vr *model.ValidatedRecipe, name string, value *float64, target float64) {
	if target <= 0 {
		return
	}
	deviation := math.Abs(*value - target)
	switch {
	case deviation <= v.tol.MacroPassGrams:
	case deviation <= v.tol.MacroFixGrams:
		vr.Issues = append(vr.Issues, model.ValidationIssue{
			Field:    name,
			Severity: model.SeverityInfo,
			Message:  fmt.Sprintf("%s %.1fg auto-corrected to target %.1fg", name, *value, target),
		})
		*value = target
	default:
		vr.ValidationPassed = false
		vr.Issues = append(vr.Issues, model.ValidationIssue{
			Field:    name,
			Severity: model.SeverityCritical,
			Message:  fmt.Sprintf("%s %.1fg deviates %.1fg from target %.1fg", name, *value, deviation, target),
		})
	}
}
