package model

import (
	"time"
)

// Room durable 방 (계정 소유)
type Room struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Slug      string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"slug"`
	Name      *string   `gorm:"type:varchar(100)" json:"name"`
	OwnerID   string    `gorm:"type:varchar(64);not null;index" json:"ownerId"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`

	// Relations
	Chats  []Chat  `gorm:"foreignKey:RoomID;constraint:OnDelete:CASCADE" json:"-"`
	Shapes []Shape `gorm:"foreignKey:RoomID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Room) TableName() string {
	return "rooms"
}

// Chat durable 방 채팅 로그
type Chat struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RoomID    int64     `gorm:"not null;index:idx_chats_room_id" json:"roomId"`
	UserID    string    `gorm:"type:varchar(64);not null" json:"userId"`
	Message   string    `gorm:"type:text;not null" json:"message"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (Chat) TableName() string {
	return "chats"
}
