package model

import "time"

// GenerationRequest describes one generation campaign. It is immutable once
// the batch has been accepted.
type GenerationRequest struct {
	TotalCount int               `json:"totalCount"`
	ChunkSize  int               `json:"chunkSize"`
	Options    GenerationOptions `json:"options"`
}

// GenerationOptions carries user constraints and feature flags for a batch.
type GenerationOptions struct {
	MealTypes   []MealType  `json:"mealTypes,omitempty"`
	Cuisines    []Cuisine   `json:"cuisines,omitempty"`
	FitnessGoal FitnessGoal `json:"fitnessGoal,omitempty"`

	// CalorieTarget overrides the goal-derived calorie target when > 0.
	CalorieTarget float64 `json:"calorieTarget,omitempty"`

	EnableValidation      bool `json:"enableValidation"`
	EnableImageGeneration bool `json:"enableImageGeneration"`
	EnableUpload          bool `json:"enableUpload"`
}

// Chunk is one sub-group of a batch's items, processed together.
type Chunk struct {
	Index int `json:"index"`
	Count int `json:"count"`
}

// ChunkStrategy is the ordered chunking of a batch, derived once by the
// planner and read-only afterward. The chunk counts always sum to TotalCount.
type ChunkStrategy struct {
	TotalCount int     `json:"totalCount"`
	ChunkSize  int     `json:"chunkSize"`
	Chunks     []Chunk `json:"chunks"`
}

// BatchError is one recorded failure, tagged with the phase it originated
// from and the item or chunk it concerns.
type BatchError struct {
	Phase   BatchPhase `json:"phase"`
	ItemRef string     `json:"itemRef,omitempty"`
	Message string     `json:"message"`
	At      time.Time  `json:"at"`
}

// BatchProgress is the live progress record for one batch. It is mutated by
// every pipeline stage and must only be updated through the progress monitor,
// which serializes writes per batch.
type BatchProgress struct {
	BatchID        string                 `json:"batchId"`
	TotalItems     int                    `json:"totalItems"`
	CompletedItems int                    `json:"completedItems"`
	FailedItems    int                    `json:"failedItems"`
	CurrentPhase   BatchPhase             `json:"currentPhase"`
	AgentStatus    map[string]AgentStatus `json:"agentStatus"`
	Canceled       bool                   `json:"canceled"`
	StartedAt      time.Time              `json:"startedAt"`
	CompletedAt    *time.Time             `json:"completedAt,omitempty"`
	EstimatedDone  *time.Time             `json:"estimatedDone,omitempty"`
	Errors         []BatchError           `json:"errors"`
}

// Clone returns a deep copy so callers can read a snapshot without racing
// monitor updates.
func (p *BatchProgress) Clone() *BatchProgress {
	cp := *p
	cp.AgentStatus = make(map[string]AgentStatus, len(p.AgentStatus))
	for k, v := range p.AgentStatus {
		cp.AgentStatus[k] = v
	}
	cp.Errors = make([]BatchError, len(p.Errors))
	copy(cp.Errors, p.Errors)
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		cp.CompletedAt = &t
	}
	if p.EstimatedDone != nil {
		t := *p.EstimatedDone
		cp.EstimatedDone = &t
	}
	return &cp
}
