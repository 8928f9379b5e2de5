package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Anurag-006/SketchSaga/internal/model"
	"github.com/Anurag-006/SketchSaga/internal/protocol"
)

// MemoryDurable 프로세스 메모리 Durable 구현 (DB_DRIVER=memory, 테스트)
type MemoryDurable struct {
	mu     sync.RWMutex
	nextID int64
	rooms  map[int64]*model.Room
	slugs  map[string]int64
	chats  map[int64][]model.Chat
	shapes map[int64][]protocol.Shape

	// FailWrites 설정 시 모든 쓰기가 이 에러를 반환
	FailWrites error
}

// NewMemoryDurable MemoryDurable 생성
func NewMemoryDurable() *MemoryDurable {
	return &MemoryDurable{
		rooms:  make(map[int64]*model.Room),
		slugs:  make(map[string]int64),
		chats:  make(map[int64][]model.Chat),
		shapes: make(map[int64][]protocol.Shape),
	}
}

func (m *MemoryDurable) FindRoomBySlug(_ context.Context, slug string) (*model.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.slugs[slug]
	if !ok {
		return nil, ErrRoomNotFound
	}
	room := *m.rooms[id]
	return &room, nil
}

func (m *MemoryDurable) SlugTaken(ctx context.Context, slug string) (bool, error) {
	_, err := m.FindRoomBySlug(ctx, slug)
	return err == nil, nil
}

func (m *MemoryDurable) CreateRoom(_ context.Context, slug, ownerID string, name *string) (*model.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return nil, m.FailWrites
	}
	if _, ok := m.slugs[slug]; ok {
		return nil, fmt.Errorf("create room %s: duplicate slug", slug)
	}
	m.nextID++
	room := &model.Room{ID: m.nextID, Slug: slug, OwnerID: ownerID, Name: name, CreatedAt: time.Now()}
	m.rooms[room.ID] = room
	m.slugs[slug] = room.ID
	out := *room
	return &out, nil
}

// PutRoom 지정한 id로 방 등록
func (m *MemoryDurable) PutRoom(id int64, slug, ownerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[id] = &model.Room{ID: id, Slug: slug, OwnerID: ownerID, CreatedAt: time.Now()}
	m.slugs[slug] = id
	if id > m.nextID {
		m.nextID = id
	}
}

func (m *MemoryDurable) RoomExists(_ context.Context, roomID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rooms[roomID]
	return ok, nil
}

func (m *MemoryDurable) AppendChat(_ context.Context, roomID int64, userID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	if _, ok := m.rooms[roomID]; !ok {
		return fmt.Errorf("%w: %d", ErrRoomNotFound, roomID)
	}
	id := int64(len(m.chats[roomID]) + 1)
	m.chats[roomID] = append(m.chats[roomID], model.Chat{
		ID: id, RoomID: roomID, UserID: userID, Message: message, CreatedAt: time.Now(),
	})
	return nil
}

func (m *MemoryDurable) ListChats(_ context.Context, roomID int64, limit int, order Order) ([]model.Chat, error) {
	m.mu.RLock()
	chats := append(make([]model.Chat, 0, len(m.chats[roomID])), m.chats[roomID]...)
	m.mu.RUnlock()

	sort.SliceStable(chats, func(i, j int) bool {
		if order == OrderDesc {
			return chats[i].ID > chats[j].ID
		}
		return chats[i].ID < chats[j].ID
	})
	if limit > 0 && len(chats) > limit {
		chats = chats[:limit]
	}
	return chats, nil
}

func (m *MemoryDurable) AppendShape(_ context.Context, roomID int64, shape protocol.Shape) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	if _, ok := m.rooms[roomID]; !ok {
		return fmt.Errorf("%w: %d", ErrRoomNotFound, roomID)
	}
	for i, s := range m.shapes[roomID] {
		if s.ID == shape.ID {
			if s.UserID != "" {
				shape.UserID = s.UserID
			}
			m.shapes[roomID][i] = shape
			return nil
		}
	}
	m.shapes[roomID] = append(m.shapes[roomID], shape)
	return nil
}

func (m *MemoryDurable) ListShapes(_ context.Context, roomID int64, order Order) ([]protocol.Shape, error) {
	m.mu.RLock()
	shapes := append(make([]protocol.Shape, 0, len(m.shapes[roomID])), m.shapes[roomID]...)
	m.mu.RUnlock()

	if order == OrderDesc {
		for i, j := 0, len(shapes)-1; i < j; i, j = i+1, j-1 {
			shapes[i], shapes[j] = shapes[j], shapes[i]
		}
	}
	return shapes, nil
}

func (m *MemoryDurable) DeleteShapeMatchingID(_ context.Context, roomID int64, shapeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	kept := m.shapes[roomID][:0]
	for _, s := range m.shapes[roomID] {
		if s.ID != shapeID {
			kept = append(kept, s)
		}
	}
	m.shapes[roomID] = kept
	return nil
}
