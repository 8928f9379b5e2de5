package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Anurag-006/SketchSaga/internal/model"
	"github.com/Anurag-006/SketchSaga/internal/protocol"
)

var ErrRoomNotFound = errors.New("room not found")

// Order 목록 정렬 방향
type Order int

const (
	OrderAsc Order = iota
	OrderDesc
)

func (o Order) sql(column string) string {
	if o == OrderDesc {
		return column + " desc"
	}
	return column + " asc"
}

// Durable 숫자 id로 식별되는 방의 관계형 저장소
type Durable interface {
	FindRoomBySlug(ctx context.Context, slug string) (*model.Room, error)
	SlugTaken(ctx context.Context, slug string) (bool, error)
	CreateRoom(ctx context.Context, slug, ownerID string, name *string) (*model.Room, error)
	RoomExists(ctx context.Context, roomID int64) (bool, error)
	AppendChat(ctx context.Context, roomID int64, userID, message string) error
	ListChats(ctx context.Context, roomID int64, limit int, order Order) ([]model.Chat, error)
	AppendShape(ctx context.Context, roomID int64, shape protocol.Shape) error
	ListShapes(ctx context.Context, roomID int64, order Order) ([]protocol.Shape, error)
	DeleteShapeMatchingID(ctx context.Context, roomID int64, shapeID string) error
}

// GormDurable gorm 기반 Durable 구현
type GormDurable struct {
	db  *gorm.DB
	log *logrus.Entry
}

// NewGormDurable GormDurable 생성
func NewGormDurable(db *gorm.DB) *GormDurable {
	return &GormDurable{db: db, log: logrus.WithField("component", "store.durable")}
}

func (s *GormDurable) FindRoomBySlug(ctx context.Context, slug string) (*model.Room, error) {
	var room model.Room
	err := s.db.WithContext(ctx).Where("slug = ?", slug).First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find room %s: %w", slug, err)
	}
	return &room, nil
}

func (s *GormDurable) SlugTaken(ctx context.Context, slug string) (bool, error) {
	_, err := s.FindRoomBySlug(ctx, slug)
	if errors.Is(err, ErrRoomNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *GormDurable) CreateRoom(ctx context.Context, slug, ownerID string, name *string) (*model.Room, error) {
	room := &model.Room{Slug: slug, OwnerID: ownerID, Name: name}
	if err := s.db.WithContext(ctx).Create(room).Error; err != nil {
		return nil, fmt.Errorf("create room %s: %w", slug, err)
	}
	return room, nil
}

func (s *GormDurable) RoomExists(ctx context.Context, roomID int64) (bool, error) {
	return roomExists(s.db.WithContext(ctx), roomID)
}

func roomExists(tx *gorm.DB, roomID int64) (bool, error) {
	var count int64
	if err := tx.Model(&model.Room{}).Where("id = ?", roomID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("check room %d: %w", roomID, err)
	}
	return count > 0, nil
}

func (s *GormDurable) AppendChat(ctx context.Context, roomID int64, userID, message string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := roomExists(tx, roomID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %d", ErrRoomNotFound, roomID)
		}
		chat := &model.Chat{RoomID: roomID, UserID: userID, Message: message}
		if err := tx.Create(chat).Error; err != nil {
			return fmt.Errorf("append chat to room %d: %w", roomID, err)
		}
		return nil
	})
}

func (s *GormDurable) ListChats(ctx context.Context, roomID int64, limit int, order Order) ([]model.Chat, error) {
	var chats []model.Chat
	q := s.db.WithContext(ctx).Where("room_id = ?", roomID).Order(order.sql("id"))
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&chats).Error; err != nil {
		return nil, fmt.Errorf("list chats of room %d: %w", roomID, err)
	}
	return chats, nil
}

// AppendShape (room_id, shape_uid) 기준 upsert. 같은 id를 다시 확정하면 최초 행의 데이터만 갱신되고 작성자는 유지된다.
func (s *GormDurable) AppendShape(ctx context.Context, roomID int64, shape protocol.Shape) error {
	data, err := json.Marshal(shape)
	if err != nil {
		return fmt.Errorf("encode shape %s: %w", shape.ID, err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := roomExists(tx, roomID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %d", ErrRoomNotFound, roomID)
		}

		row := &model.Shape{
			RoomID:   roomID,
			ShapeUID: shape.ID,
			UserID:   shape.UserID,
			Kind:     string(shape.Geometry.Kind()),
			Data:     string(data),
		}
		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "room_id"}, {Name: "shape_uid"}},
			DoUpdates: clause.AssignmentColumns([]string{"kind", "data", "updated_at"}),
		}).Create(row).Error
		if err != nil {
			return fmt.Errorf("upsert shape %s in room %d: %w", shape.ID, roomID, err)
		}
		return nil
	})
}

func (s *GormDurable) ListShapes(ctx context.Context, roomID int64, order Order) ([]protocol.Shape, error) {
	var rows []model.Shape
	if err := s.db.WithContext(ctx).Where("room_id = ?", roomID).Order(order.sql("id")).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list shapes of room %d: %w", roomID, err)
	}

	shapes := make([]protocol.Shape, 0, len(rows))
	for _, row := range rows {
		var shape protocol.Shape
		if err := json.Unmarshal([]byte(row.Data), &shape); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{"room": roomID, "shape": row.ShapeUID}).Warn("skipping undecodable shape row")
			continue
		}
		shape.ID = row.ShapeUID
		if row.UserID != "" {
			shape.UserID = row.UserID
		}
		shapes = append(shapes, shape)
	}
	return shapes, nil
}

func (s *GormDurable) DeleteShapeMatchingID(ctx context.Context, roomID int64, shapeID string) error {
	err := s.db.WithContext(ctx).
		Where("room_id = ? AND shape_uid = ?", roomID, shapeID).
		Delete(&model.Shape{}).Error
	if err != nil {
		return fmt.Errorf("delete shape %s in room %d: %w", shapeID, roomID, err)
	}
	return nil
}
