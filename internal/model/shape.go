package model

import (
	"time"
)

// Shape durable 방에 확정(final)된 도형
type Shape struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"-"`
	RoomID    int64     `gorm:"not null;uniqueIndex:idx_shapes_room_uid,priority:1" json:"roomId"`
	ShapeUID  string    `gorm:"type:varchar(128);not null;uniqueIndex:idx_shapes_room_uid,priority:2" json:"id"`
	UserID    string    `gorm:"type:varchar(64);not null" json:"userId"`
	Kind      string    `gorm:"type:varchar(16);not null" json:"type"`
	Data      string    `gorm:"type:jsonb;not null" json:"-"` // 평탄화된 도형 JSON
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Shape) TableName() string {
	return "shapes"
}
