package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/taskpay/taskpay/internal/payment"
)

// RegisterPaymentRoutes wires payment lifecycle endpoints.
func RegisterPaymentRoutes(r fiber.Router, h *payment.Handler) {
	r.Post("/payments/create", h.Create)
	r.Post("/payments/action", h.Action)
	r.Get("/payments/:taskId", h.Get)
}
