package wallet

import (
	"context"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
)

// AccountLinker connects a wallet to an external settlement account and
// releases any payouts queued while the wallet was unlinked. Implemented
// by the payment lifecycle engine.
type AccountLinker interface {
	LinkPayoutAccount(ctx context.Context, userID, accountID string) (released int, err error)
}

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
	linker  AccountLinker
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service, linker AccountLinker) *Handler {
	return &Handler{service: service, linker: linker}
}

// Balance returns the wallet's balance buckets.
func (h *Handler) Balance(c *fiber.Ctx) error {
	// Copy the zero-allocation param: it must not alias Fiber's reusable
	// request buffer once it leaves the handler.
	userID := utils.CopyString(c.Params("userId"))
	balance, err := h.service.Balance(c.UserContext(), userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(http.StatusNotFound, "wallet not found")
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"user_id":   balance.UserID,
		"available": balance.Available,
		"pending":   balance.Pending,
		"escrow":    balance.Escrow,
		"as_of":     balance.AsOf,
	})
}

type linkRequest struct {
	AccountID string `json:"account_id"`
}

// LinkPayoutAccount attaches a settlement account and drains queued payouts.
func (h *Handler) LinkPayoutAccount(c *fiber.Ctx) error {
	userID := utils.CopyString(c.Params("userId"))
	var req linkRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.AccountID == "" {
		return fiber.NewError(http.StatusBadRequest, "account_id is required")
	}

	released, err := h.linker.LinkPayoutAccount(c.UserContext(), userID, req.AccountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(http.StatusNotFound, "wallet not found")
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"user_id":          userID,
		"account_id":       req.AccountID,
		"released_payouts": released,
	})
}
