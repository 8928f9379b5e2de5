package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Anurag-006/SketchSaga/internal/auth"
	"github.com/Anurag-006/SketchSaga/internal/protocol"
	"github.com/Anurag-006/SketchSaga/internal/room"
)

const testSecret = "test-secret"

func newRoomApp(t *testing.T, h *harness) *fiber.App {
	t.Helper()
	jwtManager := auth.NewJWTManager(testSecret)
	rooms := NewRoomHandler(h.gateway, room.NewAllocator(h.gateway.Durable(), h.gateway.Ephemeral(), room.DefaultMaxAttempts))

	app := fiber.New()
	optional := auth.OptionalAuthMiddleware(jwtManager)
	app.Post("/room", optional, rooms.CreateRoom)
	app.Get("/room/:slug", optional, rooms.GetRoom)
	app.Get("/shapes/:roomId", rooms.GetShapes)
	app.Get("/chats/:roomId", rooms.GetChats)
	return app
}

func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.NewJWTManager(testSecret).Issue(userID, time.Hour)
	require.NoError(t, err)
	return token
}

func doJSON(t *testing.T, app *fiber.App, method, path, body, token string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestCreateRoom_GuestGetsEphemeralRoom(t *testing.T) {
	h := newHarness(t)
	app := newRoomApp(t, h)

	status, body := doJSON(t, app, http.MethodPost, "/room", `{"name":"sketch night"}`, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["ephemeral"])
	assert.Equal(t, true, body["success"])

	created := body["room"].(map[string]any)
	slug := created["slug"].(string)
	assert.Regexp(t, `^room-\d{6}$`, slug)
	assert.Equal(t, "sketch night", created["name"])

	active, err := h.gateway.Ephemeral().IsActive(context.Background(), slug)
	require.NoError(t, err)
	assert.True(t, active)
}

func TestCreateRoom_AuthenticatedUserGetsDurableRoom(t *testing.T) {
	h := newHarness(t)
	app := newRoomApp(t, h)

	status, body := doJSON(t, app, http.MethodPost, "/room", `{"name":"team board"}`, tokenFor(t, "U1"))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Room created", body["message"])
	assert.Nil(t, body["ephemeral"])

	created := body["room"].(map[string]any)
	assert.Equal(t, "U1", created["ownerId"])
	assert.Equal(t, "team board", created["name"])

	found, err := h.gateway.Durable().FindRoomBySlug(context.Background(), created["slug"].(string))
	require.NoError(t, err)
	assert.Equal(t, "U1", found.OwnerID)
}

func TestCreateRoom_InvalidTokenFallsBackToGuest(t *testing.T) {
	h := newHarness(t)
	app := newRoomApp(t, h)

	status, body := doJSON(t, app, http.MethodPost, "/room", ``, "not-a-token")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["ephemeral"])
}

func TestCreateRoom_RejectsBadNames(t *testing.T) {
	h := newHarness(t)
	app := newRoomApp(t, h)

	for _, body := range []string{
		`{"name":""}`,
		`{"name":"` + strings.Repeat("가", 51) + `"}`,
		`{"name":`,
	} {
		status, resp := doJSON(t, app, http.MethodPost, "/room", body, "")
		assert.Equal(t, http.StatusBadRequest, status, body)
		assert.Equal(t, "Invalid room data", resp["message"])
	}
}

func TestGetRoom(t *testing.T) {
	h := newHarness(t)
	app := newRoomApp(t, h)
	require.NoError(t, h.gateway.Ephemeral().Claim(context.Background(), ephemeralSlug))

	status, body := doJSON(t, app, http.MethodGet, "/room/room-700700", "", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(7), body["room"].(map[string]any)["id"])

	status, body = doJSON(t, app, http.MethodGet, "/room/"+ephemeralSlug, "", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["ephemeral"])

	status, body = doJSON(t, app, http.MethodGet, "/room/room-000001", "", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Room not found", body["message"])
	assert.Equal(t, false, body["success"])
}

func TestGetShapes(t *testing.T) {
	h := newHarness(t)
	app := newRoomApp(t, h)
	ctx := context.Background()

	require.NoError(t, h.gateway.AppendShape(ctx, room.Durable(7), rectShape("A", 1)))
	require.NoError(t, h.gateway.AppendShape(ctx, room.Durable(7), rectShape("B", 2)))

	status, body := doJSON(t, app, http.MethodGet, "/shapes/7", "", "")
	require.Equal(t, http.StatusOK, status)
	shapes := body["shapes"].([]any)
	require.Len(t, shapes, 2)
	first := shapes[0].(map[string]any)
	assert.Equal(t, "A", first["id"])
	assert.Equal(t, string(protocol.KindRect), first["type"])
	assert.Equal(t, float64(40), first["width"])

	status, _ = doJSON(t, app, http.MethodGet, "/shapes/99", "", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, body = doJSON(t, app, http.MethodGet, "/shapes/room-424242", "", "")
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, body["shapes"])
	assert.NotNil(t, body["shapes"])
}

func TestGetChats(t *testing.T) {
	h := newHarness(t)
	app := newRoomApp(t, h)
	ctx := context.Background()

	for _, msg := range []string{"one", "two", "three"} {
		require.NoError(t, h.gateway.AppendChat(ctx, room.Durable(7), "U1", msg))
	}
	status, body := doJSON(t, app, http.MethodGet, "/chats/7", "", "")
	require.Equal(t, http.StatusOK, status)
	messages := body["messages"].([]any)
	require.Len(t, messages, 3)
	assert.Equal(t, "three", messages[0].(map[string]any)["message"], "durable chats are newest first")

	ephemeral := room.Ref{Key: ephemeralSlug, Kind: room.KindEphemeral}
	require.NoError(t, h.gateway.Ephemeral().Claim(ctx, ephemeralSlug))
	for _, msg := range []string{"one", "two"} {
		require.NoError(t, h.gateway.AppendChat(ctx, ephemeral, "guest-a", msg))
	}
	status, body = doJSON(t, app, http.MethodGet, "/chats/"+ephemeralSlug, "", "")
	require.Equal(t, http.StatusOK, status)
	messages = body["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, "one", messages[0].(map[string]any)["message"], "ephemeral chats are oldest first")
}
