package pipeline

import (
	"fmt"
	"math"

	"github.com/mealsmith/api/internal/agent"
	"github.com/mealsmith/api/internal/model"
)

// Plan is the planner's output: the batch's chunking and one concept per
// requested item.
type Plan struct {
	Strategy model.ChunkStrategy
	Concepts []model.RecipeConcept
}

// Planner computes the chunking strategy for a batch and produces diverse,
// constraint-annotated recipe concepts.
type Planner struct {
	runner *agent.Runner
}

// NewPlanner creates a concept planner.
func NewPlanner(runner *agent.Runner) *Planner {
	return &Planner{runner: runner}
}

// Runner exposes the planner's lifecycle/metrics wrapper.
func (p *Planner) Runner() *agent.Runner {
	return p.runner
}

// Plan validates the request, splits it into chunks and generates one unique
// concept per item. TotalCount of zero yields an empty plan without error;
// a negative count, non-positive chunk size or unknown constraint value fails
// with ErrInvalidRequest. Constraints are re-checked here because queued
// payloads re-enter the pipeline without passing the HTTP-layer validation.
func (p *Planner) Plan(req model.GenerationRequest) (*Plan, error) {
	if req.TotalCount < 0 {
		return nil, fmt.Errorf("%w: totalCount must not be negative, got %d", ErrInvalidRequest, req.TotalCount)
	}
	if req.ChunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunkSize must be positive, got %d", ErrInvalidRequest, req.ChunkSize)
	}
	for _, mt := range req.Options.MealTypes {
		if !mt.Valid() {
			return nil, fmt.Errorf("%w: unknown meal type %q", ErrInvalidRequest, mt)
		}
	}
	for _, cz := range req.Options.Cuisines {
		if !cz.Valid() {
			return nil, fmt.Errorf("%w: unknown cuisine %q", ErrInvalidRequest, cz)
		}
	}

	plan := &Plan{
		Strategy: chunkify(req.TotalCount, req.ChunkSize),
		Concepts: p.concepts(req),
	}
	return plan, nil
}

// chunkify splits total into chunks of size, the final chunk holding the
// remainder. The chunk counts always sum to total.
func chunkify(total, size int) model.ChunkStrategy {
	strategy := model.ChunkStrategy{TotalCount: total, ChunkSize: size}
	for i, remaining := 0, total; remaining > 0; i++ {
		count := size
		if remaining < size {
			count = remaining
		}
		strategy.Chunks = append(strategy.Chunks, model.Chunk{Index: i, Count: count})
		remaining -= count
	}
	return strategy
}

var dishTemplates = map[model.MealType][]string{
	model.MealBreakfast: {"Power Bowl", "Scramble", "Overnight Oats", "Frittata", "Smoothie Bowl"},
	model.MealLunch:     {"Grain Bowl", "Wrap", "Salad", "Soup", "Flatbread"},
	model.MealDinner:    {"Skillet", "Curry", "Stir-Fry", "Roast", "Stew"},
	model.MealSnack:     {"Energy Bites", "Trail Mix", "Dip Plate", "Toast", "Bars"},
	model.MealDessert:   {"Parfait", "Mousse", "Crumble", "Sorbet", "Bites"},
}

// concepts produces TotalCount concepts with unique names. Cuisine and meal
// type rotate through the requested (or full) sets; on a name collision the
// cuisine is rotated and, failing that, a variation counter is appended.
func (p *Planner) concepts(req model.GenerationRequest) []model.RecipeConcept {
	cuisines := req.Options.Cuisines
	if len(cuisines) == 0 {
		cuisines = model.ValidCuisines
	}
	mealTypes := req.Options.MealTypes
	if len(mealTypes) == 0 {
		mealTypes = model.ValidMealTypes
	}

	target := deriveTarget(req.Options)
	seen := make(map[string]bool)
	concepts := make([]model.RecipeConcept, 0, req.TotalCount)

	for i := 0; i < req.TotalCount; i++ {
		mealType := mealTypes[i%len(mealTypes)]
		cuisine := cuisines[i%len(cuisines)]
		dishes := dishTemplates[mealType]
		dish := dishes[(i/len(mealTypes))%len(dishes)]

		name := conceptName(cuisine, dish)
		for attempt := 1; seen[name]; attempt++ {
			if attempt <= len(cuisines) {
				cuisine = cuisines[(i+attempt)%len(cuisines)]
				name = conceptName(cuisine, dish)
			} else {
				name = fmt.Sprintf("%s Variation %d", conceptName(cuisine, dish), attempt-len(cuisines))
			}
		}
		seen[name] = true

		concepts = append(concepts, model.RecipeConcept{
			Name:        name,
			Description: fmt.Sprintf("A %s-inspired %s built around a %.0f kcal serving.", cuisine, dish, target.Calories),
			MealType:    mealType,
			Cuisine:     cuisine,
			Target:      target,
		})
	}
	return concepts
}

func conceptName(cuisine model.Cuisine, dish string) string {
	return fmt.Sprintf("%s %s", titleCuisine(cuisine), dish)
}

func titleCuisine(c model.Cuisine) string {
	switch c {
	case model.CuisineMiddleEastern:
		return "Middle Eastern"
	default:
		s := string(c)
		if s == "" {
			return s
		}
		return string(s[0]-'a'+'A') + s[1:]
	}
}

// goal-derived per-serving calorie ceilings and macro splits
var goalTargets = map[model.FitnessGoal]model.NutritionTarget{
	model.GoalWeightLoss:  {Calories: 450, Protein: 35, Carbs: 40, Fat: 15},
	model.GoalMuscleGain:  {Calories: 700, Protein: 45, Carbs: 70, Fat: 22},
	model.GoalMaintenance: {Calories: 600, Protein: 30, Carbs: 65, Fat: 20},
	model.GoalEndurance:   {Calories: 650, Protein: 28, Carbs: 85, Fat: 18},
}

// deriveTarget computes per-concept nutrition targets from the fitness goal,
// scaled to an explicit calorie target when one is supplied. All values are
// rounded to one decimal place so targets stay consistent across stages.
func deriveTarget(opts model.GenerationOptions) model.NutritionTarget {
	base, ok := goalTargets[opts.FitnessGoal]
	if !ok {
		base = goalTargets[model.GoalMaintenance]
	}

	if opts.CalorieTarget > 0 {
		scale := opts.CalorieTarget / base.Calories
		base = model.NutritionTarget{
			Calories: opts.CalorieTarget,
			Protein:  base.Protein * scale,
			Carbs:    base.Carbs * scale,
			Fat:      base.Fat * scale,
		}
	}

	return model.NutritionTarget{
		Calories: round1(base.Calories),
		Protein:  round1(base.Protein),
		Carbs:    round1(base.Carbs),
		Fat:      round1(base.Fat),
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
