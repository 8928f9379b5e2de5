package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Anurag-006/SketchSaga/internal/fanout"
)

type fakeMember struct {
	id   string
	mu   sync.Mutex
	got  [][]byte
	full bool
}

func (m *fakeMember) ID() string { return m.id }

func (m *fakeMember) Send(p []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.full {
		return false
	}
	m.got = append(m.got, p)
	return true
}

func (m *fakeMember) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.got)
}

// countingBus 구독/해제 호출을 기록하는 Bus
type countingBus struct {
	mu           sync.Mutex
	handlers     map[string]fanout.Handler
	subscribes   int
	unsubscribes int
	failOn       string
}

func newCountingBus() *countingBus {
	return &countingBus{handlers: make(map[string]fanout.Handler)}
}

func (b *countingBus) Publish(channel string, payload []byte) {
	b.mu.Lock()
	h := b.handlers[channel]
	b.mu.Unlock()
	if h != nil {
		h(payload)
	}
}

func (b *countingBus) Subscribe(_ context.Context, channel string, h fanout.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if channel == b.failOn {
		return errors.New("broker down")
	}
	b.subscribes++
	b.handlers[channel] = h
	return nil
}

func (b *countingBus) Unsubscribe(_ context.Context, channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubscribes++
	delete(b.handlers, channel)
	return nil
}

func (b *countingBus) Close() error { return nil }

func (b *countingBus) counts() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribes, b.unsubscribes
}

func TestClassify(t *testing.T) {
	ref, err := Classify("7")
	require.NoError(t, err)
	assert.Equal(t, Ref{Key: "7", Kind: KindDurable, DurableID: 7}, ref)

	for _, key := range []string{"room-482913", "007", "-3", "0", "12abc"} {
		ref, err := Classify(key)
		require.NoError(t, err)
		assert.Equal(t, KindEphemeral, ref.Kind, key)
	}

	_, err = Classify("  ")
	assert.ErrorIs(t, err, ErrEmptyKey)

	assert.Equal(t, "room:7:fanout", ChannelFor("7"))
	assert.Equal(t, Ref{Key: "7", Kind: KindDurable, DurableID: 7}, Durable(7))
}

func TestRegistry_JoinLeaveRestoresMembership(t *testing.T) {
	bus := newCountingBus()
	reg := NewRegistry(bus)
	ctx := context.Background()

	a := &fakeMember{id: "a"}
	b := &fakeMember{id: "b"}

	require.NoError(t, reg.Join(ctx, "7", a))
	before := reg.Members("7")

	require.NoError(t, reg.Join(ctx, "7", b))
	assert.Equal(t, 2, reg.Members("7"))
	reg.Leave("7", b)
	assert.Equal(t, before, reg.Members("7"))

	subs, unsubs := bus.counts()
	assert.Equal(t, 1, subs, "only the first member subscribes")
	assert.Equal(t, 0, unsubs)

	reg.Leave("7", a)
	assert.Equal(t, 0, reg.Members("7"))
	_, unsubs = bus.counts()
	assert.Equal(t, 1, unsubs, "last member leaving unsubscribes")
	assert.Equal(t, 0, reg.Rooms())
	assert.Equal(t, 0, reg.locks.size())
}

func TestRegistry_LeaveUnknownIsNoop(t *testing.T) {
	bus := newCountingBus()
	reg := NewRegistry(bus)
	a := &fakeMember{id: "a"}

	reg.Leave("nowhere", a)
	reg.OnDisconnect(a)

	require.NoError(t, reg.Join(context.Background(), "r", a))
	reg.Leave("r", &fakeMember{id: "stranger"})
	assert.Equal(t, 1, reg.Members("r"))

	_, unsubs := bus.counts()
	assert.Equal(t, 0, unsubs)
}

func TestRegistry_OnDisconnectIdempotent(t *testing.T) {
	bus := newCountingBus()
	reg := NewRegistry(bus)
	a := &fakeMember{id: "a"}

	for _, key := range []string{"1", "2", "room-1"} {
		require.NoError(t, reg.Join(context.Background(), key, a))
	}

	reg.OnDisconnect(a)
	reg.OnDisconnect(a)

	assert.Equal(t, 0, reg.Rooms())
	subs, unsubs := bus.counts()
	assert.Equal(t, 3, subs)
	assert.Equal(t, 3, unsubs)
}

func TestRegistry_SubscribeFailureLeavesNoMember(t *testing.T) {
	bus := newCountingBus()
	bus.failOn = ChannelFor("7")
	reg := NewRegistry(bus)

	err := reg.Join(context.Background(), "7", &fakeMember{id: "a"})
	assert.Error(t, err)
	assert.Equal(t, 0, reg.Members("7"))
}

func TestRegistry_BroadcastViaBus(t *testing.T) {
	bus := newCountingBus()
	reg := NewRegistry(bus)
	ctx := context.Background()

	a := &fakeMember{id: "a"}
	b := &fakeMember{id: "b"}
	full := &fakeMember{id: "full", full: true}
	require.NoError(t, reg.Join(ctx, "7", a))
	require.NoError(t, reg.Join(ctx, "7", b))
	require.NoError(t, reg.Join(ctx, "7", full))

	bus.Publish(ChannelFor("7"), []byte("hello"))
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())

	assert.Equal(t, 1, reg.BroadcastLocal("7", []byte("x"), b))
	assert.Equal(t, 2, a.count())
	assert.Equal(t, 1, b.count())

	assert.Equal(t, 0, reg.BroadcastLocal("unknown", []byte("x"), nil))
}

func TestRegistry_ConcurrentJoinLeave(t *testing.T) {
	bus := newCountingBus()
	reg := NewRegistry(bus)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := &fakeMember{id: fmt.Sprintf("m-%d", i)}
			key := fmt.Sprintf("%d", i%3+1)
			for j := 0; j < 20; j++ {
				_ = reg.Join(ctx, key, m)
				reg.Leave(key, m)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, reg.Rooms())
	subs, unsubs := bus.counts()
	assert.Equal(t, subs, unsubs, "every subscription is released")
	bus.mu.Lock()
	assert.Empty(t, bus.handlers)
	bus.mu.Unlock()
}

func TestRegistry_Close(t *testing.T) {
	bus := newCountingBus()
	reg := NewRegistry(bus)
	a := &fakeMember{id: "a"}
	require.NoError(t, reg.Join(context.Background(), "1", a))
	require.NoError(t, reg.Join(context.Background(), "2", a))

	reg.Close()
	reg.Close()

	_, unsubs := bus.counts()
	assert.Equal(t, 2, unsubs)
	assert.ErrorIs(t, reg.Join(context.Background(), "3", a), ErrRegistryClosed)
	reg.OnDisconnect(a)
}

type setIndex map[string]bool

func (s setIndex) SlugTaken(_ context.Context, slug string) (bool, error) { return s[slug], nil }
func (s setIndex) IsActive(_ context.Context, slug string) (bool, error)  { return s[slug], nil }

type brokenIndex struct{}

func (brokenIndex) IsActive(context.Context, string) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func sequence(codes ...string) func() string {
	i := 0
	return func() string {
		c := codes[i%len(codes)]
		i++
		return c
	}
}

func TestAllocator_AllCollide(t *testing.T) {
	durable := setIndex{"room-111111": true, "room-222222": true, "room-333333": true}
	claims := setIndex{"room-444444": true, "room-555555": true, "room-666666": true}

	a := NewAllocator(durable, claims, 5)
	a.generate = sequence("room-111111", "room-444444", "room-222222", "room-555555", "room-333333", "room-666666")

	_, err := a.Allocate(context.Background())
	assert.ErrorIs(t, err, ErrAllocationExhausted)
}

func TestAllocator_SecondCandidateWins(t *testing.T) {
	claims := setIndex{"room-100001": true}

	a := NewAllocator(setIndex{}, claims, 5)
	a.generate = sequence("room-100001", "room-100002")

	slug, err := a.Allocate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "room-100002", slug)
}

func TestAllocator_CheckErrorsSurface(t *testing.T) {
	a := NewAllocator(setIndex{}, brokenIndex{}, 3)

	_, err := a.Allocate(context.Background())
	assert.ErrorIs(t, err, ErrAllocationExhausted)
	assert.ErrorContains(t, err, "connection refused")
}

func TestRandomCode(t *testing.T) {
	for i := 0; i < 100; i++ {
		code := RandomCode()
		assert.Regexp(t, `^room-[1-9][0-9]{5}$`, code)
	}
}
