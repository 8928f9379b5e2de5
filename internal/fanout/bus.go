package fanout

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("fanout bus closed")

const publishTimeout = 3 * time.Second

// Handler 채널로 들어온 payload 처리 함수
type Handler func(payload []byte)

// Bus 프로세스 간 pub/sub.
// Publish는 호출자를 막지 않고, 같은 채널의 메시지는 발행 순서대로 전달된다.
// 구독한 프로세스는 자기 자신이 발행한 메시지도 받는다.
type Bus interface {
	Publish(channel string, payload []byte)
	Subscribe(ctx context.Context, channel string, h Handler) error
	Unsubscribe(ctx context.Context, channel string) error
	Close() error
}

type message struct {
	channel string
	payload []byte
}
