package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/taskpay/taskpay/internal/wallet"
)

// RegisterWalletRoutes wires wallet-related endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Get("/wallets/:userId/balance", h.Balance)
	r.Post("/wallets/:userId/payout-account", h.LinkPayoutAccount)
}
