package lists

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/trailpack/trailpack/internal/apierr"
)

const defaultHeartbeat = 15 * time.Second

// Handler exposes equipment list endpoints. Routes expect the authenticated
// user id in the "user_id" local.
type Handler struct {
	service   *Service
	heartbeat time.Duration

	streams     context.Context
	stopStreams context.CancelFunc
}

// NewHandler builds a list HTTP handler.
func NewHandler(service *Service) *Handler {
	streams, stop := context.WithCancel(context.Background())
	return &Handler{service: service, heartbeat: defaultHeartbeat, streams: streams, stopStreams: stop}
}

// CloseStreams ends every open snapshot stream and refuses new ones.
func (h *Handler) CloseStreams() {
	h.stopStreams()
}

type createRequest struct {
	UserID    string   `json:"userId"`
	ListTitle string   `json:"listTitle"`
	Items     []string `json:"items"`
}

type renameRequest struct {
	ListTitle string `json:"listTitle"`
}

type appendRequest struct {
	Name string `json:"name"`
}

type checkRequest struct {
	Checked *bool `json:"checked"`
}

type replaceRequest struct {
	Items   []EquipmentItem `json:"items"`
	Version int64           `json:"version"`
}

// ListByOwner returns every list owned by :userId.
func (h *Handler) ListByOwner(c *fiber.Ctx) error {
	owner, err := ownerParam(c)
	if err != nil {
		return err
	}
	out, err := h.service.ListByOwner(c.UserContext(), owner)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(out)
}

// Create stores a new list. userId, listTitle and items are required.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return apierr.BadRequest(err.Error())
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.ListTitle) == "" || req.Items == nil {
		return fmt.Errorf("%w: missing required fields", ErrValidation)
	}
	if req.UserID != actor(c) {
		return ErrPermissionDenied
	}
	list, err := h.service.Create(c.UserContext(), req.UserID, req.ListTitle, req.Items)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(list)
}

// Rename replaces the list title.
func (h *Handler) Rename(c *fiber.Ctx) error {
	var req renameRequest
	if err := c.BodyParser(&req); err != nil {
		return apierr.BadRequest(err.Error())
	}
	list, err := h.service.Rename(c.UserContext(), actor(c), c.Params("id"), req.ListTitle)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(list)
}

// AppendItem adds one item.
func (h *Handler) AppendItem(c *fiber.Ctx) error {
	var req appendRequest
	if err := c.BodyParser(&req); err != nil {
		return apierr.BadRequest(err.Error())
	}
	list, err := h.service.AppendItem(c.UserContext(), actor(c), c.Params("id"), req.Name)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(list)
}

// SetItemChecked sets the checked flag of the item at :index.
func (h *Handler) SetItemChecked(c *fiber.Ctx) error {
	index, err := c.ParamsInt("index")
	if err != nil {
		return apierr.BadRequest("item index must be an integer")
	}
	var req checkRequest
	if err := c.BodyParser(&req); err != nil {
		return apierr.BadRequest(err.Error())
	}
	if req.Checked == nil {
		return fmt.Errorf("%w: checked is required", ErrValidation)
	}
	list, err := h.service.SetItemChecked(c.UserContext(), actor(c), c.Params("id"), index, *req.Checked)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(list)
}

// ReplaceItems swaps the item sequence when version matches the stored one.
func (h *Handler) ReplaceItems(c *fiber.Ctx) error {
	var req replaceRequest
	if err := c.BodyParser(&req); err != nil {
		return apierr.BadRequest(err.Error())
	}
	if req.Version <= 0 {
		return fmt.Errorf("%w: version is required", ErrValidation)
	}
	list, err := h.service.ReplaceItems(c.UserContext(), actor(c), c.Params("id"), req.Items, req.Version)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(list)
}

// Delete removes the list.
func (h *Handler) Delete(c *fiber.Ctx) error {
	if err := h.service.Delete(c.UserContext(), actor(c), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// Stream serves the owner's lists as Server-Sent Events: one "snapshot" event
// with the full array per change, and a final "error" event if the watch fails.
func (h *Handler) Stream(c *fiber.Ctx) error {
	owner, err := ownerParam(c)
	if err != nil {
		return err
	}
	// The body writer runs after the handler returns, so the watch cannot use
	// the request context, and owner must not alias the request buffer.
	watch, err := h.service.Watch(h.streams, utils.CopyString(owner))
	if err != nil {
		return err
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	heartbeat := h.heartbeat
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer watch.Close()
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		for {
			select {
			case snapshot, ok := <-watch.Snapshots():
				if !ok {
					if err := watch.Err(); err != nil {
						_, detail := apierr.Classify(err)
						_ = writeEvent(w, "error", detail)
					}
					return
				}
				if err := writeEvent(w, "snapshot", snapshot); err != nil {
					return
				}
			case <-ticker.C:
				if _, err := w.WriteString(": ping\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	})
	return nil
}

func writeEvent(w *bufio.Writer, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	return w.Flush()
}

func ownerParam(c *fiber.Ctx) (string, error) {
	owner := c.Params("userId")
	if owner == "" {
		return "", fmt.Errorf("%w: userId is required", ErrValidation)
	}
	if owner != actor(c) {
		return "", ErrPermissionDenied
	}
	return owner, nil
}

func actor(c *fiber.Ctx) string {
	uid, _ := c.Locals("user_id").(string)
	return uid
}
