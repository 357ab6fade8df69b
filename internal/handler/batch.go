package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/mealsmith/api/internal/model"
	"github.com/mealsmith/api/internal/pipeline"
	"github.com/mealsmith/api/internal/progress"
	"github.com/mealsmith/api/pkg/response"
)

// StartBatchRequest is the POST body for starting a generation batch.
type StartBatchRequest struct {
	TotalCount            int               `json:"totalCount" validate:"required,min=1,max=500"`
	ChunkSize             int               `json:"chunkSize" validate:"omitempty,min=1,max=50"`
	MealTypes             []model.MealType  `json:"mealTypes" validate:"omitempty,dive,oneof=breakfast lunch dinner snack dessert"`
	Cuisines              []model.Cuisine   `json:"cuisines" validate:"omitempty,dive,oneof=italian mexican thai indian japanese mediterranean french american korean middle_eastern"`
	FitnessGoal           model.FitnessGoal `json:"fitnessGoal" validate:"omitempty,oneof=weight_loss muscle_gain maintenance endurance"`
	CalorieTarget         float64           `json:"calorieTarget" validate:"omitempty,min=100,max=3000"`
	EnableValidation      *bool             `json:"enableValidation"`
	EnableImageGeneration *bool             `json:"enableImageGeneration"`
	EnableUpload          *bool             `json:"enableUpload"`
}

// StartBatchResponse is returned when a batch has been accepted.
type StartBatchResponse struct {
	BatchID string `json:"batchId"`
	Status  string `json:"status"`
}

// CancelBatchResponse reports the outcome of a cancel request.
type CancelBatchResponse struct {
	BatchID  string `json:"batchId"`
	Canceled bool   `json:"canceled"`
}

type BatchHandler struct {
	coordinator *pipeline.Coordinator
	validator   *validator.Validate
}

func NewBatchHandler(coordinator *pipeline.Coordinator, v *validator.Validate) *BatchHandler {
	return &BatchHandler{
		coordinator: coordinator,
		validator:   v,
	}
}

// Start handles POST /api/batches
func (h *BatchHandler) Start(c *fiber.Ctx) error {
	var req StartBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	batchID, err := h.coordinator.StartBatch(c.Context(), toGenerationRequest(&req))
	if err != nil {
		if errors.Is(err, pipeline.ErrInvalidRequest) {
			return response.ValidationError(c, err.Error(), nil)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, StartBatchResponse{
		BatchID: batchID,
		Status:  "queued",
	})
}

// Status handles GET /api/batches/:batchId
func (h *BatchHandler) Status(c *fiber.Ctx) error {
	batchID := c.Params("batchId")
	if batchID == "" {
		return response.ValidationError(c, "Batch ID is required", nil)
	}

	p, err := h.coordinator.GetProgress(c.Context(), batchID)
	if err != nil {
		if errors.Is(err, progress.ErrNotFound) {
			return response.NotFound(c, "Batch not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, p)
}

// Cancel handles POST /api/batches/:batchId/cancel
func (h *BatchHandler) Cancel(c *fiber.Ctx) error {
	batchID := c.Params("batchId")
	if batchID == "" {
		return response.ValidationError(c, "Batch ID is required", nil)
	}

	canceled, err := h.coordinator.Cancel(c.Context(), batchID)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, CancelBatchResponse{
		BatchID:  batchID,
		Canceled: canceled,
	})
}

// Metrics handles GET /api/batches/metrics
func (h *BatchHandler) Metrics(c *fiber.Ctx) error {
	return response.OK(c, h.coordinator.Metrics())
}

// toGenerationRequest maps the DTO onto the pipeline request. The feature
// flags default to enabled when omitted.
func toGenerationRequest(req *StartBatchRequest) model.GenerationRequest {
	return model.GenerationRequest{
		TotalCount: req.TotalCount,
		ChunkSize:  req.ChunkSize,
		Options: model.GenerationOptions{
			MealTypes:             req.MealTypes,
			Cuisines:              req.Cuisines,
			FitnessGoal:           req.FitnessGoal,
			CalorieTarget:         req.CalorieTarget,
			EnableValidation:      boolOrDefault(req.EnableValidation, true),
			EnableImageGeneration: boolOrDefault(req.EnableImageGeneration, true),
			EnableUpload:          boolOrDefault(req.EnableUpload, true),
		},
	}
}

func boolOrDefault(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
