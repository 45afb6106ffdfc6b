package lists

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailpack/trailpack/internal/apierr"
	"github.com/trailpack/trailpack/internal/logging"
)

func setupListApp(t *testing.T) *fiber.App {
	t.Helper()
	hub, stop := startHub()
	t.Cleanup(stop)
	h := NewHandler(NewService(NewMemoryRepository(), hub, nil, logging.Discard()))

	app := fiber.New(fiber.Config{ErrorHandler: apierr.Handler(logging.Discard())})
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", c.Get("X-Test-User"))
		return c.Next()
	})
	g := app.Group("/api/equipment-lists")
	g.Get("/:userId", h.ListByOwner)
	g.Post("/", h.Create)
	g.Patch("/:id", h.Rename)
	g.Post("/:id/items", h.AppendItem)
	g.Put("/:id/items", h.ReplaceItems)
	g.Patch("/:id/items/:index", h.SetItemChecked)
	g.Delete("/:id", h.Delete)
	return app
}

func do(t *testing.T, app *fiber.App, method, path, user, body string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set("X-Test-User", user)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, payload
}

func errorCode(t *testing.T, payload []byte) string {
	t.Helper()
	var body apierr.Body
	require.NoError(t, json.Unmarshal(payload, &body))
	return body.Error.Code
}

func TestHandlerCreateAndList(t *testing.T) {
	app := setupListApp(t)

	status, payload := do(t, app, fiber.MethodPost, "/api/equipment-lists", "alice",
		`{"userId":"alice","listTitle":" Camping ","items":["tent",""," stove "]}`)
	require.Equal(t, fiber.StatusCreated, status, string(payload))

	var created map[string]any
	require.NoError(t, json.Unmarshal(payload, &created))
	assert.Equal(t, "Camping", created["listTitle"])
	assert.Equal(t, "0/2", created["completion"])
	assert.Equal(t, "alice", created["userId"])

	status, payload = do(t, app, fiber.MethodGet, "/api/equipment-lists/alice", "alice", "")
	require.Equal(t, fiber.StatusOK, status)
	var owned []EquipmentList
	require.NoError(t, json.Unmarshal(payload, &owned))
	require.Len(t, owned, 1)
	assert.Equal(t, created["id"], owned[0].ID)
}

func TestHandlerCreateMissingFields(t *testing.T) {
	app := setupListApp(t)

	for _, body := range []string{
		`{"listTitle":"Camping","items":["tent"]}`,
		`{"userId":"alice","items":["tent"]}`,
		`{"userId":"alice","listTitle":"Camping"}`,
	} {
		status, payload := do(t, app, fiber.MethodPost, "/api/equipment-lists", "alice", body)
		assert.Equal(t, fiber.StatusBadRequest, status, body)
		assert.Equal(t, "lists/validation-failed", errorCode(t, payload))
	}
}

func TestHandlerRejectsOtherUsersLists(t *testing.T) {
	app := setupListApp(t)

	status, payload := do(t, app, fiber.MethodPost, "/api/equipment-lists", "bob",
		`{"userId":"alice","listTitle":"Camping","items":["tent"]}`)
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "lists/permission-denied", errorCode(t, payload))

	status, _ = do(t, app, fiber.MethodGet, "/api/equipment-lists/alice", "bob", "")
	assert.Equal(t, fiber.StatusForbidden, status)
}

func TestHandlerItemLifecycle(t *testing.T) {
	app := setupListApp(t)

	_, payload := do(t, app, fiber.MethodPost, "/api/equipment-lists", "alice",
		`{"userId":"alice","listTitle":"Camping","items":["tent"]}`)
	var list EquipmentList
	require.NoError(t, json.Unmarshal(payload, &list))
	base := "/api/equipment-lists/" + list.ID

	status, payload := do(t, app, fiber.MethodPost, base+"/items", "alice", `{"name":"stove"}`)
	require.Equal(t, fiber.StatusOK, status, string(payload))

	status, payload = do(t, app, fiber.MethodPatch, base+"/items/1", "alice", `{"checked":true}`)
	require.Equal(t, fiber.StatusOK, status, string(payload))
	require.NoError(t, json.Unmarshal(payload, &list))
	assert.True(t, list.Items[1].Checked)

	status, payload = do(t, app, fiber.MethodPatch, base+"/items/7", "alice", `{"checked":true}`)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "lists/not-found", errorCode(t, payload))

	status, _ = do(t, app, fiber.MethodPatch, base+"/items/x", "alice", `{"checked":true}`)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, payload = do(t, app, fiber.MethodPut, base+"/items", "alice", `{"items":[{"name":"tarp"}],"version":1}`)
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "lists/version-conflict", errorCode(t, payload))

	status, payload = do(t, app, fiber.MethodPatch, base, "alice", `{"listTitle":"Alpine"}`)
	require.Equal(t, fiber.StatusOK, status, string(payload))

	status, _ = do(t, app, fiber.MethodDelete, base, "alice", "")
	assert.Equal(t, fiber.StatusNoContent, status)
	status, _ = do(t, app, fiber.MethodDelete, base, "alice", "")
	assert.Equal(t, fiber.StatusNotFound, status)
}
