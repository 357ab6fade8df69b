package model

// Batch phases
type BatchPhase string

const (
	PhasePlanning   BatchPhase = "planning"
	PhaseGenerating BatchPhase = "generating"
	PhaseValidating BatchPhase = "validating"
	PhasePersisting BatchPhase = "persisting"
	PhaseImaging    BatchPhase = "imaging"
	PhaseComplete   BatchPhase = "complete"
	PhaseFailed     BatchPhase = "failed"
)

// Terminal reports whether no further phase transitions are permitted.
func (p BatchPhase) Terminal() bool {
	return p == PhaseComplete || p == PhaseFailed
}

// Agent status within a batch
type AgentStatus string

const (
	AgentStatusIdle    AgentStatus = "idle"
	AgentStatusRunning AgentStatus = "running"
	AgentStatusDone    AgentStatus = "done"
	AgentStatusFailed  AgentStatus = "failed"
)

// Validation issue severity
type IssueSeverity string

const (
	SeverityInfo     IssueSeverity = "info"
	SeverityWarning  IssueSeverity = "warning"
	SeverityCritical IssueSeverity = "critical"
)

// Meal types
type MealType string

const (
	MealBreakfast MealType = "breakfast"
	MealLunch     MealType = "lunch"
	MealDinner    MealType = "dinner"
	MealSnack     MealType = "snack"
	MealDessert   MealType = "dessert"
)

var ValidMealTypes = []MealType{
	MealBreakfast, MealLunch, MealDinner, MealSnack, MealDessert,
}

// Valid reports whether m is a known meal type.
func (m MealType) Valid() bool {
	for _, v := range ValidMealTypes {
		if m == v {
			return true
		}
	}
	return false
}

// Cuisines
type Cuisine string

const (
	CuisineItalian       Cuisine = "italian"
	CuisineMexican       Cuisine = "mexican"
	CuisineThai          Cuisine = "thai"
	CuisineIndian        Cuisine = "indian"
	CuisineJapanese      Cuisine = "japanese"
	CuisineMediterranean Cuisine = "mediterranean"
	CuisineFrench        Cuisine = "french"
	CuisineAmerican      Cuisine = "american"
	CuisineKorean        Cuisine = "korean"
	CuisineMiddleEastern Cuisine = "middle_eastern"
)

var ValidCuisines = []Cuisine{
	CuisineItalian, CuisineMexican, CuisineThai, CuisineIndian,
	CuisineJapanese, CuisineMediterranean, CuisineFrench,
	CuisineAmerican, CuisineKorean, CuisineMiddleEastern,
}

// Valid reports whether c is a known cuisine.
func (c Cuisine) Valid() bool {
	for _, v := range ValidCuisines {
		if c == v {
			return true
		}
	}
	return false
}

// Fitness goals driving per-concept nutrition targets
type FitnessGoal string

const (
	GoalWeightLoss  FitnessGoal = "weight_loss"
	GoalMuscleGain  FitnessGoal = "muscle_gain"
	GoalMaintenance FitnessGoal = "maintenance"
	GoalEndurance   FitnessGoal = "endurance"
)

var ValidFitnessGoals = []FitnessGoal{
	GoalWeightLoss, GoalMuscleGain, GoalMaintenance, GoalEndurance,
}
