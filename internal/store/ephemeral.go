package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Anurag-006/SketchSaga/internal/protocol"
)

var ErrRoomExpired = errors.New("ephemeral room expired")

const DefaultEphemeralTTL = time.Hour

// ChatEntry 두 계층 공통 채팅 항목
type ChatEntry struct {
	UserID    string    `json:"userId"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

func claimKey(slug string) string  { return "room:" + slug + ":active" }
func shapesKey(slug string) string { return "room:" + slug + ":shapes" }
func chatsKey(slug string) string  { return "room:" + slug + ":chats" }

// Ephemeral slug로 식별되는 게스트 방. TTL은 쓰기마다 전체 윈도우로 갱신된다.
type Ephemeral struct {
	kv  KeyValue
	ttl time.Duration
	now func() time.Time
	log *logrus.Entry
}

// NewEphemeral Ephemeral 생성 (ttl <= 0 이면 1시간)
func NewEphemeral(kv KeyValue, ttl time.Duration) *Ephemeral {
	if ttl <= 0 {
		ttl = DefaultEphemeralTTL
	}
	return &Ephemeral{
		kv:  kv,
		ttl: ttl,
		now: time.Now,
		log: logrus.WithField("component", "store.ephemeral"),
	}
}

// TTL 슬라이딩 윈도우 길이
func (e *Ephemeral) TTL() time.Duration { return e.ttl }

// Claim 방 점유 키 생성 또는 갱신
func (e *Ephemeral) Claim(ctx context.Context, slug string) error {
	if err := e.kv.SetWithTTL(ctx, claimKey(slug), "1", e.ttl); err != nil {
		return fmt.Errorf("claim %s: %w", slug, err)
	}
	return nil
}

// IsActive 점유 키 존재 여부
func (e *Ephemeral) IsActive(ctx context.Context, slug string) (bool, error) {
	ok, err := e.kv.Exists(ctx, claimKey(slug))
	if err != nil {
		return false, fmt.Errorf("check claim %s: %w", slug, err)
	}
	return ok, nil
}

// AppendShape 확정 도형 추가
func (e *Ephemeral) AppendShape(ctx context.Context, slug string, shape protocol.Shape) error {
	data, err := json.Marshal(shape)
	if err != nil {
		return fmt.Errorf("encode shape %s: %w", shape.ID, err)
	}
	return e.push(ctx, slug, shapesKey(slug), string(data))
}

// AppendChat 채팅 추가
func (e *Ephemeral) AppendChat(ctx context.Context, slug, userID, message string) error {
	data, err := json.Marshal(ChatEntry{UserID: userID, Message: message, CreatedAt: e.now().UTC()})
	if err != nil {
		return err
	}
	return e.push(ctx, slug, chatsKey(slug), string(data))
}

func (e *Ephemeral) push(ctx context.Context, slug, key, value string) error {
	if err := e.requireActive(ctx, slug); err != nil {
		return err
	}
	if err := e.kv.RPush(ctx, key, value); err != nil {
		return fmt.Errorf("rpush %s: %w", key, err)
	}
	return e.touch(ctx, slug, key)
}

// touch 쓴 리스트와 점유 키의 TTL을 함께 갱신
func (e *Ephemeral) touch(ctx context.Context, slug, key string) error {
	if err := e.kv.Expire(ctx, key, e.ttl); err != nil {
		return fmt.Errorf("expire %s: %w", key, err)
	}
	if err := e.kv.Expire(ctx, claimKey(slug), e.ttl); err != nil {
		return fmt.Errorf("expire claim %s: %w", slug, err)
	}
	return nil
}

func (e *Ephemeral) requireActive(ctx context.Context, slug string) error {
	ok, err := e.IsActive(ctx, slug)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrRoomExpired, slug)
	}
	return nil
}

// ListShapes 최초 확정 순서로 도형 반환. 같은 id가 여러 번 확정됐으면 마지막 좌표를 최초 위치에 두고 최초 작성자를 유지한다.
func (e *Ephemeral) ListShapes(ctx context.Context, slug string) ([]protocol.Shape, error) {
	values, err := e.kv.LRange(ctx, shapesKey(slug))
	if err != nil {
		return nil, fmt.Errorf("lrange shapes %s: %w", slug, err)
	}

	shapes := make([]protocol.Shape, 0, len(values))
	index := make(map[string]int, len(values))
	for _, v := range values {
		var shape protocol.Shape
		if err := json.Unmarshal([]byte(v), &shape); err != nil {
			e.log.WithError(err).WithField("room", slug).Warn("skipping undecodable shape entry")
			continue
		}
		if i, ok := index[shape.ID]; ok {
			if owner := shapes[i].UserID; owner != "" {
				shape.UserID = owner
			}
			shapes[i] = shape
			continue
		}
		index[shape.ID] = len(shapes)
		shapes = append(shapes, shape)
	}
	return shapes, nil
}

// DeleteShape id가 일치하는 항목을 모두 제거하고 리스트를 다시 쓴다. 리스트 길이에 비례하는 비용.
// 다른 프로세스의 RPUSH와 겹치면 KeyValue.FilterList가 재시도하므로 그 사이 추가된 도형은 남는다.
func (e *Ephemeral) DeleteShape(ctx context.Context, slug, shapeID string) (int, error) {
	key := shapesKey(slug)
	removed, err := e.kv.FilterList(ctx, key, func(v string) bool {
		var head struct {
			ID string `json:"id"`
		}
		return json.Unmarshal([]byte(v), &head) != nil || head.ID != shapeID
	}, e.ttl)
	if err != nil {
		return 0, fmt.Errorf("rewrite shapes %s: %w", slug, err)
	}
	if removed == 0 {
		return 0, nil
	}

	if err := e.kv.Expire(ctx, claimKey(slug), e.ttl); err != nil {
		return removed, fmt.Errorf("expire claim %s: %w", slug, err)
	}
	return removed, nil
}

// ListChats 채팅 전체를 오래된 순서로 반환
func (e *Ephemeral) ListChats(ctx context.Context, slug string) ([]ChatEntry, error) {
	values, err := e.kv.LRange(ctx, chatsKey(slug))
	if err != nil {
		return nil, fmt.Errorf("lrange chats %s: %w", slug, err)
	}

	chats := make([]ChatEntry, 0, len(values))
	for _, v := range values {
		var c ChatEntry
		if err := json.Unmarshal([]byte(v), &c); err != nil {
			continue
		}
		chats = append(chats, c)
	}
	return chats, nil
}
