package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/Anurag-006/SketchSaga/internal/protocol"
	"github.com/Anurag-006/SketchSaga/internal/room"
)

var ErrUnknownKind = errors.New("unknown room kind")

const DefaultChatLimit = 50

// Gateway 방 참조의 Kind에 따라 durable/ephemeral 계층으로 분기
type Gateway struct {
	durable   Durable
	ephemeral *Ephemeral
	chatLimit int
}

// NewGateway Gateway 생성
func NewGateway(durable Durable, ephemeral *Ephemeral, chatLimit int) *Gateway {
	if chatLimit <= 0 {
		chatLimit = DefaultChatLimit
	}
	return &Gateway{durable: durable, ephemeral: ephemeral, chatLimit: chatLimit}
}

func (g *Gateway) Durable() Durable       { return g.durable }
func (g *Gateway) Ephemeral() *Ephemeral { return g.ephemeral }

func (g *Gateway) AppendChat(ctx context.Context, ref room.Ref, userID, message string) error {
	switch ref.Kind {
	case room.KindDurable:
		return g.durable.AppendChat(ctx, ref.DurableID, userID, message)
	case room.KindEphemeral:
		return g.ephemeral.AppendChat(ctx, ref.Key, userID, message)
	default:
		return unknownKind(ref)
	}
}

func (g *Gateway) AppendShape(ctx context.Context, ref room.Ref, shape protocol.Shape) error {
	switch ref.Kind {
	case room.KindDurable:
		return g.durable.AppendShape(ctx, ref.DurableID, shape)
	case room.KindEphemeral:
		return g.ephemeral.AppendShape(ctx, ref.Key, shape)
	default:
		return unknownKind(ref)
	}
}

func (g *Gateway) DeleteShape(ctx context.Context, ref room.Ref, shapeID string) error {
	switch ref.Kind {
	case room.KindDurable:
		return g.durable.DeleteShapeMatchingID(ctx, ref.DurableID, shapeID)
	case room.KindEphemeral:
		_, err := g.ephemeral.DeleteShape(ctx, ref.Key, shapeID)
		return err
	default:
		return unknownKind(ref)
	}
}

// ListShapes 최초 확정 순서의 도형 기록
func (g *Gateway) ListShapes(ctx context.Context, ref room.Ref) ([]protocol.Shape, error) {
	switch ref.Kind {
	case room.KindDurable:
		return g.durable.ListShapes(ctx, ref.DurableID, OrderAsc)
	case room.KindEphemeral:
		return g.ephemeral.ListShapes(ctx, ref.Key)
	default:
		return nil, unknownKind(ref)
	}
}

// ListChats durable은 최근 chatLimit개를 최신순, ephemeral은 전체를 오래된 순서로
func (g *Gateway) ListChats(ctx context.Context, ref room.Ref) ([]ChatEntry, error) {
	switch ref.Kind {
	case room.KindDurable:
		rows, err := g.durable.ListChats(ctx, ref.DurableID, g.chatLimit, OrderDesc)
		if err != nil {
			return nil, err
		}
		chats := make([]ChatEntry, len(rows))
		for i, row := range rows {
			chats[i] = ChatEntry{UserID: row.UserID, Message: row.Message, CreatedAt: row.CreatedAt}
		}
		return chats, nil
	case room.KindEphemeral:
		return g.ephemeral.ListChats(ctx, ref.Key)
	default:
		return nil, unknownKind(ref)
	}
}

func unknownKind(ref room.Ref) error {
	return fmt.Errorf("%w: %s (%s)", ErrUnknownKind, ref.Kind, ref.Key)
}
