package room

import (
	"errors"
	"strconv"
	"strings"
)

var ErrEmptyKey = errors.New("room key is empty")

// Kind 방의 저장 계층
type Kind int

const (
	KindDurable   Kind = iota + 1 // 숫자 id, 관계형 DB
	KindEphemeral                 // slug, TTL이 있는 Redis
)

func (k Kind) String() string {
	switch k {
	case KindDurable:
		return "durable"
	case KindEphemeral:
		return "ephemeral"
	default:
		return "unknown"
	}
}

// Ref 한 번 분류된 방 참조. 이후 메시지는 다시 분류하지 않고 이 값을 쓴다.
type Ref struct {
	Key       string
	Kind      Kind
	DurableID int64
}

// Classify 키를 방 참조로 변환. 양의 10진 정수는 durable, 그 외는 ephemeral.
func Classify(key string) (Ref, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Ref{}, ErrEmptyKey
	}
	if id, err := strconv.ParseInt(key, 10, 64); err == nil && id > 0 && strconv.FormatInt(id, 10) == key {
		return Ref{Key: key, Kind: KindDurable, DurableID: id}, nil
	}
	return Ref{Key: key, Kind: KindEphemeral}, nil
}

// Durable durable 방 참조 생성
func Durable(id int64) Ref {
	return Ref{Key: strconv.FormatInt(id, 10), Kind: KindDurable, DurableID: id}
}

// ChannelFor 방의 fanout 채널 이름
func ChannelFor(key string) string {
	return "room:" + key + ":fanout"
}
