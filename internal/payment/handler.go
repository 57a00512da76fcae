package payment

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// Handler exposes the payment lifecycle endpoints.
type Handler struct {
	engine *Engine
}

// NewHandler constructs a payment handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

type createRequest struct {
	TaskID           string          `json:"task_id"`
	PosterID         string          `json:"poster_id"`
	TaskerID         string          `json:"tasker_id"`
	TaskPrice        decimal.Decimal `json:"task_price"`
	ServiceFee       decimal.Decimal `json:"service_fee"`
	Commission       decimal.Decimal `json:"commission"`
	SettlementIntent string          `json:"settlement_intent"`
}

type breakdown struct {
	TaskerPending  decimal.Decimal `json:"tasker_pending"`
	CompanyPending decimal.Decimal `json:"company_pending"`
}

// Create places a task payment hold.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	res, err := h.engine.Create(c.UserContext(), CreateInput{
		TaskID:     req.TaskID,
		PosterID:   req.PosterID,
		TaskerID:   req.TaskerID,
		Price:      req.TaskPrice,
		Fee:        req.ServiceFee,
		Commission: req.Commission,
		IntentRef:  req.SettlementIntent,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicate):
			return fiber.NewError(http.StatusConflict, "payment already exists for task")
		case errors.Is(err, ErrInvalidInput):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		default:
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"payment_id": res.PaymentID,
		"breakdown":  breakdown{TaskerPending: res.TaskerPending, CompanyPending: res.CompanyPending},
	})
}

type actionRequest struct {
	TaskID   string `json:"task_id"`
	PosterID string `json:"poster_id"`
	Action   string `json:"action"`
}

// Action executes a lifecycle transition on a task's payment.
func (h *Handler) Action(c *fiber.Ctx) error {
	var req actionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	action, err := ParseAction(req.Action)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	res, err := h.engine.Apply(c.UserContext(), ApplyInput{
		TaskID:   req.TaskID,
		PosterID: req.PosterID,
		Action:   action,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return fiber.NewError(http.StatusNotFound, "payment not found")
		case errors.Is(err, ErrAlreadyFinal), errors.Is(err, ErrNoIntent), errors.Is(err, ErrInvalidInput):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrUpstream):
			return fiber.NewError(http.StatusBadGateway, err.Error())
		default:
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
	}

	status := string(res.Status)
	if res.Queued {
		status = "QUEUED"
	}
	out := fiber.Map{
		"success":    true,
		"payment_id": res.PaymentID,
		"status":     status,
	}
	if res.TransferID != "" {
		out["transfer_id"] = res.TransferID
	}
	if res.RefundID != "" {
		out["refund_id"] = res.RefundID
	}
	if res.Status == StatusRefunded {
		out["refund_amount"] = res.RefundAmount
	}
	return c.Status(http.StatusOK).JSON(out)
}

// Get returns the payment for a task.
func (h *Handler) Get(c *fiber.Ctx) error {
	p, err := h.engine.GetByTask(c.UserContext(), c.Params("taskId"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(http.StatusNotFound, "payment not found")
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"payment_id":  p.ID,
		"task_id":     p.TaskID,
		"poster_id":   p.PosterID,
		"tasker_id":   p.TaskerID,
		"task_price":  p.Price,
		"service_fee": p.Fee,
		"commission":  p.Commission,
		"gross":       p.Gross,
		"currency":    p.Currency,
		"status":      p.Status,
		"refund_kind": p.RefundKind,
		"created_at":  p.CreatedAt,
		"updated_at":  p.UpdatedAt,
	})
}
