package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/taskpay/taskpay/internal/recovery"
)

// RegisterAdminRoutes wires the operator surface for failed settlements.
func RegisterAdminRoutes(r fiber.Router, h *recovery.Handler) {
	r.Post("/payouts/retry", h.RetryBatch)
	r.Get("/reviews", h.ListReviews)
	r.Patch("/reviews/:id", h.PatchReview)
	r.Post("/reviews/:id/retry", h.RetryReview)
}
