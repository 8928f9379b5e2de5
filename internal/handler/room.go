package handler

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/Anurag-006/SketchSaga/internal/auth"
	"github.com/Anurag-006/SketchSaga/internal/room"
	"github.com/Anurag-006/SketchSaga/internal/store"
)

const maxRoomNameRunes = 50

// RoomHandler 방 생성/조회와 기록 조회 핸들러
type RoomHandler struct {
	gateway   *store.Gateway
	allocator *room.Allocator
	log       *logrus.Entry
}

// NewRoomHandler RoomHandler 생성
func NewRoomHandler(gateway *store.Gateway, allocator *room.Allocator) *RoomHandler {
	return &RoomHandler{
		gateway:   gateway,
		allocator: allocator,
		log:       logrus.WithField("component", "room_http"),
	}
}

// CreateRoomRequest 방 생성 요청
type CreateRoomRequest struct {
	Name *string `json:"name"`
}

// EphemeralRoom 게스트 방 응답
type EphemeralRoom struct {
	Slug string  `json:"slug"`
	Name *string `json:"name"`
}

// CreateRoom 로그인 사용자는 durable 방, 게스트는 ephemeral 점유 생성
func (h *RoomHandler) CreateRoom(c *fiber.Ctx) error {
	var req CreateRoomRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRoomData(c)
		}
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" || utf8.RuneCountInString(name) > maxRoomNameRunes {
			return badRoomData(c)
		}
		req.Name = &name
	}

	ctx := c.UserContext()
	slug, err := h.allocator.Allocate(ctx)
	if err != nil {
		h.log.WithError(err).Error("room code allocation failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": "Failed to generate room code.",
			"success": false,
		})
	}

	userID := auth.UserID(c)
	if userID != "" && !auth.IsGuestID(userID) {
		created, err := h.gateway.Durable().CreateRoom(ctx, slug, userID, req.Name)
		if err != nil {
			return h.internalError(c, err, "create durable room")
		}
		h.log.WithFields(logrus.Fields{"room": created.ID, "slug": slug, "user": userID}).Info("durable room created")
		return c.JSON(fiber.Map{
			"message": "Room created",
			"room":    created,
			"success": true,
		})
	}

	if err := h.gateway.Ephemeral().Claim(ctx, slug); err != nil {
		return h.internalError(c, err, "claim ephemeral room")
	}
	h.log.WithField("slug", slug).Info("ephemeral room created")
	return c.JSON(fiber.Map{
		"message":   "Ephemeral room created",
		"room":      EphemeralRoom{Slug: slug, Name: req.Name},
		"ephemeral": true,
		"success":   true,
	})
}

// GetRoom slug로 방 조회 (durable 우선, 그 다음 ephemeral 점유)
func (h *RoomHandler) GetRoom(c *fiber.Ctx) error {
	slug := c.Params("slug")
	ctx := c.UserContext()

	found, err := h.gateway.Durable().FindRoomBySlug(ctx, slug)
	if err == nil {
		return c.JSON(fiber.Map{"room": found, "success": true})
	}
	if !errors.Is(err, store.ErrRoomNotFound) {
		return h.internalError(c, err, "find room")
	}

	active, err := h.gateway.Ephemeral().IsActive(ctx, slug)
	if err != nil {
		return h.internalError(c, err, "check ephemeral room")
	}
	if active {
		return c.JSON(fiber.Map{
			"room":      EphemeralRoom{Slug: slug},
			"ephemeral": true,
			"success":   true,
		})
	}

	return roomNotFound(c)
}

// GetShapes 방의 확정 도형 기록
func (h *RoomHandler) GetShapes(c *fiber.Ctx) error {
	ref, ok, err := h.lookup(c)
	if !ok {
		return err
	}

	shapes, err := h.gateway.ListShapes(c.UserContext(), ref)
	if err != nil {
		return h.internalError(c, err, "list shapes")
	}
	return c.JSON(fiber.Map{"success": true, "shapes": shapes})
}

// GetChats 방의 채팅 기록
func (h *RoomHandler) GetChats(c *fiber.Ctx) error {
	ref, ok, err := h.lookup(c)
	if !ok {
		return err
	}

	messages, err := h.gateway.ListChats(c.UserContext(), ref)
	if err != nil {
		return h.internalError(c, err, "list chats")
	}
	return c.JSON(fiber.Map{"success": true, "messages": messages})
}

// lookup roomId 파라미터 분류. ok가 false면 이미 오류 응답을 썼다.
func (h *RoomHandler) lookup(c *fiber.Ctx) (room.Ref, bool, error) {
	ref, err := room.Classify(c.Params("roomId"))
	if err != nil {
		return room.Ref{}, false, badRoomData(c)
	}
	if ref.Kind != room.KindDurable {
		return ref, true, nil
	}

	exists, err := h.gateway.Durable().RoomExists(c.UserContext(), ref.DurableID)
	if err != nil {
		return room.Ref{}, false, h.internalError(c, err, "check durable room")
	}
	if !exists {
		return room.Ref{}, false, roomNotFound(c)
	}
	return ref, true, nil
}

func (h *RoomHandler) internalError(c *fiber.Ctx, err error, op string) error {
	h.log.WithError(err).WithField("path", c.Path()).Error(op)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"message": "Internal server error",
		"success": false,
	})
}

func badRoomData(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"message": "Invalid room data",
		"success": false,
	})
}

func roomNotFound(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"message": "Room not found",
		"success": false,
	})
}
