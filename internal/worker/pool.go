package worker

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var ErrPoolClosed = errors.New("worker pool closed")

// Job 저장 작업
type Job func(ctx context.Context) error

type task struct {
	key string
	job Job
}

// Pool 키 해시로 샤드를 고르는 저장 워커 풀.
// 같은 키의 작업은 같은 워커에서 제출 순서대로 실행된다.
type Pool struct {
	shards  []chan task
	timeout time.Duration
	log     *logrus.Entry

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool workers개의 워커 시작
func NewPool(workers, queueSize int, timeout time.Duration) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	p := &Pool{
		shards:  make([]chan task, workers),
		timeout: timeout,
		log:     logrus.WithField("component", "worker"),
	}
	for i := range p.shards {
		p.shards[i] = make(chan task, queueSize)
		p.wg.Add(1)
		go p.run(p.shards[i])
	}
	return p
}

// Submit 작업 제출. 큐가 가득 찬 경우에만 ctx가 끝날 때까지 기다린다.
func (p *Pool) Submit(ctx context.Context, key string, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}
	ch := p.shards[p.shardFor(key)]
	t := task{key: key, job: job}

	// 여유가 있으면 ctx 상태와 무관하게 넣는다
	select {
	case ch <- t:
		return nil
	default:
	}
	select {
	case ch <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 대기 중인 작업을 모두 실행한 뒤 종료
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, ch := range p.shards {
		close(ch)
	}
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) shardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.shards)))
}

func (p *Pool) run(ch <-chan task) {
	defer p.wg.Done()
	for t := range ch {
		p.exec(t)
	}
}

func (p *Pool) exec(t task) {
	ctx := context.Background()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			p.log.WithField("room", t.key).Errorf("job panic: %v", r)
		}
	}()

	if err := t.job(ctx); err != nil {
		p.log.WithError(err).WithField("room", t.key).Warn("job failed")
	}
}
