package recovery

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes the operator surface: batch retry and review management.
type Handler struct {
	service   *Service
	batchSize int
}

// NewHandler builds the admin recovery handler.
func NewHandler(service *Service, batchSize int) *Handler {
	return &Handler{service: service, batchSize: batchSize}
}

// RetryBatch runs one payout retry pass over a bounded page.
func (h *Handler) RetryBatch(c *fiber.Ctx) error {
	result, err := h.service.RetryPayouts(c.UserContext(), h.batchSize)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(result)
}

type failureResponse struct {
	ID           string    `json:"id"`
	TaskID       string    `json:"task_id"`
	UserID       string    `json:"user_id"`
	Destination  string    `json:"destination"`
	Kind         string    `json:"kind"`
	Class        string    `json:"class"`
	Amount       string    `json:"amount"`
	Currency     string    `json:"currency"`
	ErrorCode    string    `json:"error_code"`
	ErrorMessage string    `json:"error_message"`
	RetryCount   int       `json:"retry_count"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ListReviews returns pending admin-review records.
func (h *Handler) ListReviews(c *fiber.Ctx) error {
	records, err := h.service.ListReview(c.UserContext(), h.batchSize)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	out := make([]failureResponse, 0, len(records))
	for _, f := range records {
		out = append(out, toResponse(f))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"reviews": out})
}

type patchReviewRequest struct {
	Destination string `json:"destination"`
}

// PatchReview corrects the destination account on a review record.
func (h *Handler) PatchReview(c *fiber.Ctx) error {
	var req patchReviewRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.Destination == "" {
		return fiber.NewError(http.StatusBadRequest, "destination is required")
	}
	f, err := h.service.UpdateDestination(c.UserContext(), c.Params("id"), req.Destination)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(http.StatusNotFound, "failure record not found")
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(toResponse(f))
}

// RetryReview re-drives one record on operator request.
func (h *Handler) RetryReview(c *fiber.Ctx) error {
	f, err := h.service.Retry(c.UserContext(), c.Params("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(http.StatusNotFound, "failure record not found")
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(toResponse(f))
}

func toResponse(f Failure) failureResponse {
	return failureResponse{
		ID:           f.ID,
		TaskID:       f.TaskID,
		UserID:       f.UserID,
		Destination:  f.Destination,
		Kind:         string(f.Kind),
		Class:        string(f.Class),
		Amount:       f.Amount.String(),
		Currency:     f.Currency,
		ErrorCode:    f.ErrorCode,
		ErrorMessage: f.ErrorMessage,
		RetryCount:   f.RetryCount,
		Status:       string(f.Status),
		CreatedAt:    f.CreatedAt,
		UpdatedAt:    f.UpdatedAt,
	}
}
