package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/trailpack/trailpack/internal/lists"
)

// RegisterListRoutes wires equipment list endpoints. Only create replays on a
// repeated Idempotency-Key; every other write is idempotent or guarded by a
// version already.
func RegisterListRoutes(r fiber.Router, h *lists.Handler, idempotency fiber.Handler) {
	group := r.Group("/equipment-lists")
	group.Post("/", idempotency, h.Create)
	group.Get("/:userId", h.ListByOwner)
	group.Get("/:userId/stream", h.Stream)
	group.Patch("/:id", h.Rename)
	group.Delete("/:id", h.Delete)
	group.Post("/:id/items", h.AppendItem)
	group.Put("/:id/items", h.ReplaceItems)
	group.Patch("/:id/items/:index", h.SetItemChecked)
}
