package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Anurag-006/SketchSaga/internal/fanout"
)

var ErrRegistryClosed = errors.New("registry closed")

const unsubscribeTimeout = 3 * time.Second

// Member 방에 참여하는 연결
type Member interface {
	ID() string
	// Send 송신 큐에 넣는다. 큐가 가득 차 있으면 false.
	Send(payload []byte) bool
}

// Registry 프로세스 내 방 → 연결 매핑.
// 방의 첫 멤버가 들어올 때 fanout 채널을 구독하고 마지막 멤버가 나가면 해제한다.
// join/leave/disconnect는 방 키 단위로 직렬화된다.
type Registry struct {
	bus   fanout.Bus
	locks *keyLocks
	log   *logrus.Entry

	mu     sync.RWMutex
	rooms  map[string]map[string]Member // key -> member id -> member
	joined map[string]map[string]struct{}
	closed bool
}

// NewRegistry Registry 생성
func NewRegistry(bus fanout.Bus) *Registry {
	return &Registry{
		bus:    bus,
		locks:  newKeyLocks(),
		log:    logrus.WithField("component", "registry"),
		rooms:  make(map[string]map[string]Member),
		joined: make(map[string]map[string]struct{}),
	}
}

// Join 멤버를 방에 추가. 첫 멤버면 먼저 채널을 구독한다.
func (r *Registry) Join(ctx context.Context, key string, m Member) error {
	unlock := r.locks.lock(key)
	defer unlock()

	r.mu.RLock()
	closed := r.closed
	_, active := r.rooms[key]
	r.mu.RUnlock()
	if closed {
		return ErrRegistryClosed
	}

	if !active {
		handler := func(payload []byte) {
			r.BroadcastLocal(key, payload, nil)
		}
		if err := r.bus.Subscribe(ctx, ChannelFor(key), handler); err != nil {
			return fmt.Errorf("join %s: %w", key, err)
		}
	}

	r.mu.Lock()
	members, ok := r.rooms[key]
	if !ok {
		members = make(map[string]Member)
		r.rooms[key] = members
	}
	members[m.ID()] = m
	keys, ok := r.joined[m.ID()]
	if !ok {
		keys = make(map[string]struct{})
		r.joined[m.ID()] = keys
	}
	keys[key] = struct{}{}
	size := len(members)
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{"room": key, "conn": m.ID(), "members": size}).Debug("joined")
	return nil
}

// Leave 멤버를 방에서 제거. 방이 비면 구독을 해제한다. 없는 키/멤버는 무시.
func (r *Registry) Leave(key string, m Member) {
	unlock := r.locks.lock(key)
	defer unlock()

	r.mu.Lock()
	members, ok := r.rooms[key]
	if !ok {
		r.mu.Unlock()
		return
	}
	if _, ok := members[m.ID()]; !ok {
		r.mu.Unlock()
		return
	}
	delete(members, m.ID())
	if keys, ok := r.joined[m.ID()]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(r.joined, m.ID())
		}
	}
	empty := len(members) == 0
	if empty {
		delete(r.rooms, key)
	}
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{"room": key, "conn": m.ID()}).Debug("left")

	if empty {
		r.unsubscribe(key)
	}
}

// OnDisconnect 멤버가 속한 모든 방에서 제거. 여러 번 호출해도 안전하다.
func (r *Registry) OnDisconnect(m Member) {
	r.mu.RLock()
	keys := make([]string, 0, len(r.joined[m.ID()]))
	for key := range r.joined[m.ID()] {
		keys = append(keys, key)
	}
	r.mu.RUnlock()

	for _, key := range keys {
		r.Leave(key, m)
	}
}

// BroadcastLocal 이 프로세스의 방 멤버에게 payload 전달. 전달된 수를 반환한다.
func (r *Registry) BroadcastLocal(key string, payload []byte, exclude Member) int {
	r.mu.RLock()
	recipients := make([]Member, 0, len(r.rooms[key]))
	for _, m := range r.rooms[key] {
		if exclude != nil && m.ID() == exclude.ID() {
			continue
		}
		recipients = append(recipients, m)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, m := range recipients {
		if m.Send(payload) {
			delivered++
			continue
		}
		r.log.WithFields(logrus.Fields{"room": key, "conn": m.ID()}).Warn("send queue full, dropping frame")
	}
	return delivered
}

// Members 방의 로컬 멤버 수
func (r *Registry) Members(key string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[key])
}

// Rooms 활성 방 수
func (r *Registry) Rooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Close 모든 방의 구독을 해제하고 이후 Join을 거부한다
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	keys := make([]string, 0, len(r.rooms))
	for key := range r.rooms {
		keys = append(keys, key)
	}
	r.rooms = make(map[string]map[string]Member)
	r.joined = make(map[string]map[string]struct{})
	r.mu.Unlock()

	for _, key := range keys {
		unlock := r.locks.lock(key)
		r.unsubscribe(key)
		unlock()
	}
	r.log.WithField("rooms", len(keys)).Info("registry closed")
}

func (r *Registry) unsubscribe(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
	defer cancel()

	if err := r.bus.Unsubscribe(ctx, ChannelFor(key)); err != nil {
		r.log.WithError(err).WithField("room", key).Warn("unsubscribe failed")
	}
}
