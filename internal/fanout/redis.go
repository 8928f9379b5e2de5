package fanout

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisBus go-redis Pub/Sub 기반 Bus.
// 하나의 PubSub 연결을 공유하고 채널 구독을 동적으로 추가/해제한다.
type RedisBus struct {
	rdb *redis.Client
	ps  *redis.PubSub

	mu       sync.RWMutex
	handlers map[string]Handler

	out       chan message
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	log       *logrus.Entry
}

// NewRedisBus RedisBus 생성 및 수신/발행 루프 시작
func NewRedisBus(rdb *redis.Client, queueSize int) *RedisBus {
	if queueSize <= 0 {
		queueSize = 1024
	}
	b := &RedisBus{
		rdb:      rdb,
		ps:       rdb.Subscribe(context.Background()),
		handlers: make(map[string]Handler),
		out:      make(chan message, queueSize),
		done:     make(chan struct{}),
		log:      logrus.WithField("component", "fanout.redis"),
	}

	b.wg.Add(2)
	go b.receiveLoop(b.ps.Channel())
	go b.publishLoop()
	return b
}

func (b *RedisBus) Publish(channel string, payload []byte) {
	select {
	case <-b.done:
		return
	default:
	}
	select {
	case b.out <- message{channel: channel, payload: payload}:
	default:
		b.log.WithField("channel", channel).Warn("publish queue full, dropping message")
	}
}

func (b *RedisBus) Subscribe(ctx context.Context, channel string, h Handler) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}

	b.mu.Lock()
	_, existed := b.handlers[channel]
	b.handlers[channel] = h
	b.mu.Unlock()
	if existed {
		return nil
	}

	if err := b.ps.Subscribe(ctx, channel); err != nil {
		b.mu.Lock()
		delete(b.handlers, channel)
		b.mu.Unlock()
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	return nil
}

func (b *RedisBus) Unsubscribe(ctx context.Context, channel string) error {
	b.mu.Lock()
	_, ok := b.handlers[channel]
	delete(b.handlers, channel)
	b.mu.Unlock()
	if !ok {
		return nil
	}

	if err := b.ps.Unsubscribe(ctx, channel); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", channel, err)
	}
	return nil
}

// Close 대기 중인 발행을 마치고 PubSub 연결 종료
func (b *RedisBus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		err = b.ps.Close()
		b.wg.Wait()
	})
	return err
}

func (b *RedisBus) receiveLoop(ch <-chan *redis.Message) {
	defer b.wg.Done()
	for msg := range ch {
		b.mu.RLock()
		h := b.handlers[msg.Channel]
		b.mu.RUnlock()
		if h == nil {
			continue
		}
		h([]byte(msg.Payload))
	}
}

func (b *RedisBus) publishLoop() {
	defer b.wg.Done()
	for {
		select {
		case m := <-b.out:
			b.publish(m)
		case <-b.done:
			for {
				select {
				case m := <-b.out:
					b.publish(m)
				default:
					return
				}
			}
		}
	}
}

func (b *RedisBus) publish(m message) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := b.rdb.Publish(ctx, m.channel, m.payload).Err(); err != nil {
		b.log.WithError(err).WithField("channel", m.channel).Error("publish failed")
	}
}
