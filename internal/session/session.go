package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Anurag-006/SketchSaga/internal/auth"
	"github.com/Anurag-006/SketchSaga/internal/room"
)

// Session 클라이언트 WebSocket 세션 (Thread-Safe)
type Session struct {
	id          string
	Identity    auth.Identity
	ConnectedAt time.Time

	// 동시성 제어
	mu     sync.RWMutex
	joined map[string]room.Ref
	closed bool

	// 송신 큐 (write pump가 비운다)
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
}

// New 새 세션 생성
func New(identity auth.Identity, bufferSize int) *Session {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Session{
		id:          uuid.New().String(),
		Identity:    identity,
		ConnectedAt: time.Now(),
		joined:      make(map[string]room.Ref),
		send:        make(chan []byte, bufferSize),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// ID 연결 식별자
func (s *Session) ID() string { return s.id }

// UserID 연결 사용자 id
func (s *Session) UserID() string { return s.Identity.UserID }

// Context 세션 컨텍스트 반환 (Close 시 취소)
func (s *Session) Context() context.Context {
	return s.ctx
}

// Send 송신 큐에 payload 추가. 닫혔거나 큐가 가득 차면 false.
func (s *Session) Send(payload []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}
	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

// Outbound 송신 큐. Close 후 닫힌다.
func (s *Session) Outbound() <-chan []byte {
	return s.send
}

// Remember 참여한 방 참조 저장
func (s *Session) Remember(ref room.Ref) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.joined[ref.Key] = ref
}

// Forget 방 참조 제거
func (s *Session) Forget(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.joined, key)
}

// Ref 참여 중인 방의 참조 조회
func (s *Session) Ref(key string) (room.Ref, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ref, ok := s.joined[key]
	return ref, ok
}

// Rooms 참여 중인 방 수
func (s *Session) Rooms() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.joined)
}

// Duration 연결 유지 시간
func (s *Session) Duration() time.Duration {
	return time.Since(s.ConnectedAt)
}

// Close 세션 정리. 여러 번 호출해도 안전하다.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.closed = true
	s.cancel()
	close(s.send)
}

// IsClosed 세션 종료 여부 확인
func (s *Session) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.closed
}
