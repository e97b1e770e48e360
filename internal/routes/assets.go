package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/assetledger/internal/ledger"
)

// RegisterAssetRoutes wires ledger endpoints. Reads are public; mutations
// run behind the guard handlers (caller identity, rate limit, idempotency).
func RegisterAssetRoutes(r fiber.Router, h *ledger.Handler, guards ...fiber.Handler) {
	r.Get("/stats", h.AssetCount)
	r.Get("/assets/:assetId", h.Asset)
	r.Get("/assets/:assetId/balances/:account", h.Balance)
	r.Get("/assets/:assetId/mint-approvals/:account", h.MintApproval)
	r.Get("/approvals/:owner/:operator", h.Approval)

	r.Post("/assets", withGuards(guards, h.Mint)...)
	r.Post("/assets/:assetId/transfers", withGuards(guards, h.Transfer)...)
	r.Put("/approvals/:operator", withGuards(guards, h.SetApprovalForAll)...)
}

func withGuards(guards []fiber.Handler, h fiber.Handler) []fiber.Handler {
	handlers := make([]fiber.Handler, 0, len(guards)+1)
	handlers = append(handlers, guards...)
	return append(handlers, h)
}
