package fanout

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// MemoryBus 단일 프로세스용 Bus. 하나의 전달 고루틴이 큐를 순서대로 비운다.
type MemoryBus struct {
	mu       sync.RWMutex
	handlers map[string]Handler

	out       chan message
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	log       *logrus.Entry
}

// NewMemoryBus MemoryBus 생성
func NewMemoryBus(queueSize int) *MemoryBus {
	if queueSize <= 0 {
		queueSize = 1024
	}
	b := &MemoryBus{
		handlers: make(map[string]Handler),
		out:      make(chan message, queueSize),
		done:     make(chan struct{}),
		log:      logrus.WithField("component", "fanout.memory"),
	}
	b.wg.Add(1)
	go b.deliverLoop()
	return b
}

func (b *MemoryBus) Publish(channel string, payload []byte) {
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

func (b *MemoryBus) Subscribe(_ context.Context, channel string, h Handler) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}
	b.mu.Lock()
	b.handlers[channel] = h
	b.mu.Unlock()
	return nil
}

func (b *MemoryBus) Unsubscribe(_ context.Context, channel string) error {
	b.mu.Lock()
	delete(b.handlers, channel)
	b.mu.Unlock()
	return nil
}

// Close 남은 큐를 전달한 뒤 종료
func (b *MemoryBus) Close() error {
	b.closeOnce.Do(func() {
		close(b.done)
		b.wg.Wait()
	})
	return nil
}

func (b *MemoryBus) deliverLoop() {
	defer b.wg.Done()
	for {
		select {
		case m := <-b.out:
			b.dispatch(m)
		case <-b.done:
			for {
				select {
				case m := <-b.out:
					b.dispatch(m)
				default:
					return
				}
			}
		}
	}
}

func (b *MemoryBus) dispatch(m message) {
	b.mu.RLock()
	h := b.handlers[m.channel]
	b.mu.RUnlock()
	if h != nil {
		h(m.payload)
	}
}
