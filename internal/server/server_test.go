package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Anurag-006/SketchSaga/internal/auth"
	"github.com/Anurag-006/SketchSaga/internal/client"
	"github.com/Anurag-006/SketchSaga/internal/config"
	"github.com/Anurag-006/SketchSaga/internal/fanout"
	"github.com/Anurag-006/SketchSaga/internal/handler"
	"github.com/Anurag-006/SketchSaga/internal/protocol"
	"github.com/Anurag-006/SketchSaga/internal/reconciler"
	"github.com/Anurag-006/SketchSaga/internal/room"
	"github.com/Anurag-006/SketchSaga/internal/store"
	"github.com/Anurag-006/SketchSaga/internal/worker"
)

const secret = "e2e-secret"

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    5 * time.Second,
			IdleTimeout:     30 * time.Second,
			ShutdownTimeout: 2 * time.Second,
		},
		WebSocket: config.WebSocketConfig{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			WriteTimeout:    time.Second,
			PongWait:        10 * time.Second,
			MaxMessageSize:  64 * 1024,
			SendQueueSize:   64,
		},
		CORS:     config.CORSConfig{AllowOrigins: "*", AllowHeaders: "Content-Type, Authorization"},
		Auth:     config.AuthConfig{JWTSecret: secret},
		Database: config.DatabaseConfig{Driver: "memory", TimeZone: "UTC"},
		Room:     config.RoomConfig{EphemeralTTL: time.Hour, CodeAttempts: 5, ChatLimit: 50},
	}
}

// startServer 두 프로세스가 Redis fanout을 공유하는 상황을 흉내 내려면 rdb를 공유해 두 번 호출한다
func startServer(t *testing.T, rdb *redis.Client, durable store.Durable) string {
	t.Helper()
	cfg := testConfig()

	bus := fanout.NewRedisBus(rdb, 64)
	registry := room.NewRegistry(bus)
	ephemeral := store.NewEphemeral(store.NewRedisKV(rdb), cfg.Room.EphemeralTTL)
	gateway := store.NewGateway(durable, ephemeral, cfg.Room.ChatLimit)
	pool := worker.NewPool(2, 32, time.Second)

	srv := New(cfg, Deps{
		Redis:     rdb,
		Registry:  registry,
		Gateway:   gateway,
		Allocator: room.NewAllocator(durable, ephemeral, cfg.Room.CodeAttempts),
		Verifier:  auth.NewJWTManager(secret),
		Router:    handler.NewRouter(registry, bus, gateway, pool),
	})
	srv.SetupMiddleware()
	srv.SetupRoutes()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not shut down")
		}
		pool.Close()
		registry.Close()
		_ = bus.Close()
	})
	return "http://" + ln.Addr().String()
}

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func dial(t *testing.T, base string, cfg client.Config) *client.Client {
	t.Helper()
	cfg.BaseURL = base
	cfg.TickInterval = 5 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := client.Dial(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func enter(t *testing.T, c *client.Client, roomID protocol.RoomKey) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Enter(ctx, roomID, reconciler.Options{}))
}

// shapesOf 루프 고루틴에서 현재 도형 목록을 읽는다
func shapesOf(t *testing.T, c *client.Client) []protocol.Shape {
	t.Helper()
	var out []protocol.Shape
	assert.NoError(t, c.Do(context.Background(), func(r *reconciler.Reconciler) {
		out = r.Shapes()
	}))
	return out
}

func hasShape(t *testing.T, c *client.Client, id string) func() bool {
	return func() bool {
		for _, s := range shapesOf(t, c) {
			if s.ID == id {
				return true
			}
		}
		return false
	}
}

func TestHealthRoutes(t *testing.T) {
	base := startServer(t, newRedis(t), store.NewMemoryDurable())

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	srv := New(testConfig(), Deps{Registry: room.NewRegistry(fanout.NewMemoryBus(1)), Verifier: auth.NewJWTManager(secret)})
	srv.SetupRoutes()

	resp, err := srv.App().Test(httptest.NewRequest(http.MethodGet, "/ws", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

func TestIdentityHandshake(t *testing.T) {
	base := startServer(t, newRedis(t), store.NewMemoryDurable())

	token, err := auth.NewJWTManager(secret).Issue("U1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "U1", dial(t, base, client.Config{Token: token}).UserID())

	assert.Equal(t, "guest-7f3a", dial(t, base, client.Config{GuestID: "guest-7f3a"}).UserID())

	// 잘못된 토큰은 연결을 끊지 않고 게스트로 강등된다
	downgraded := dial(t, base, client.Config{Token: "garbage"})
	assert.True(t, auth.IsGuestID(downgraded.UserID()))
}

func TestDrawUndoRedoAcrossProcesses(t *testing.T) {
	rdb := newRedis(t)
	durable := store.NewMemoryDurable()
	durable.PutRoom(7, "room-700700", "U1")

	// 같은 Redis를 쓰는 두 서버 프로세스
	baseA := startServer(t, rdb, durable)
	baseB := startServer(t, rdb, durable)

	token, err := auth.NewJWTManager(secret).Issue("U1", time.Hour)
	require.NoError(t, err)
	u1 := dial(t, baseA, client.Config{Token: token})
	peer := dial(t, baseB, client.Config{GuestID: "guest-peer"})
	enter(t, u1, "7")
	enter(t, peer, "7")

	// 원격 구독이 준비될 때까지 대기
	require.Eventually(t, func() bool {
		n, err := rdb.PubSubNumSub(context.Background(), room.ChannelFor("7")).Result()
		return err == nil && n[room.ChannelFor("7")] == 2
	}, 5*time.Second, 10*time.Millisecond)

	var s1 protocol.Shape
	require.NoError(t, u1.Do(context.Background(), func(r *reconciler.Reconciler) {
		assert.NoError(t, r.SetTool(reconciler.ToolRect))
		assert.NoError(t, r.Begin(10, 10))
		r.Move(40, 60)
		s1, _ = r.End()
	}))
	require.Eventually(t, hasShape(t, peer, s1.ID), 5*time.Second, 10*time.Millisecond)

	require.NoError(t, u1.Do(context.Background(), func(r *reconciler.Reconciler) {
		id, ok := r.Undo()
		assert.True(t, ok)
		assert.Equal(t, s1.ID, id)
	}))
	assert.False(t, hasShape(t, u1, s1.ID)())
	require.Eventually(t, func() bool { return !hasShape(t, peer, s1.ID)() }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, u1.Do(context.Background(), func(r *reconciler.Reconciler) {
		_, ok := r.Redo()
		assert.True(t, ok)
	}))
	require.Eventually(t, hasShape(t, peer, s1.ID), 5*time.Second, 10*time.Millisecond)
	for _, c := range []*client.Client{u1, peer} {
		var got protocol.Shape
		for _, s := range shapesOf(t, c) {
			if s.ID == s1.ID {
				got = s
			}
		}
		assert.Equal(t, s1.Geometry, got.Geometry)
	}

	// 영속화된 기록은 새로 들어온 사람에게도 보인다
	require.Eventually(t, func() bool {
		shapes, err := client.FetchShapes(context.Background(), baseB, "7")
		return err == nil && len(shapes) == 1 && shapes[0].ID == s1.ID
	}, 5*time.Second, 20*time.Millisecond)
}

func TestSlowClientAppliesEveryFinal(t *testing.T) {
	rdb := newRedis(t)
	durable := store.NewMemoryDurable()
	durable.PutRoom(7, "room-700700", "U1")
	base := startServer(t, rdb, durable)

	drawer := dial(t, base, client.Config{GuestID: "guest-drawer"})
	slow := dial(t, base, client.Config{GuestID: "guest-slow", FrameQueueSize: 1})
	enter(t, drawer, "7")
	enter(t, slow, "7")

	draw := func(r *reconciler.Reconciler, x float64) protocol.Shape {
		assert.NoError(t, r.SetTool(reconciler.ToolRect))
		assert.NoError(t, r.Begin(x, 0))
		r.Move(x+10, 10)
		s, _ := r.End()
		return s
	}

	var marker protocol.Shape
	require.NoError(t, drawer.Do(context.Background(), func(r *reconciler.Reconciler) {
		marker = draw(r, 0)
	}))
	require.Eventually(t, hasShape(t, slow, marker.ID), 5*time.Second, 10*time.Millisecond)

	// 느린 클라이언트의 루프를 잡아 둔 채로 도형을 여러 개 확정한다
	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = slow.Do(context.Background(), func(*reconciler.Reconciler) {
			close(held)
			<-release
		})
	}()
	<-held

	const n = 20
	require.NoError(t, drawer.Do(context.Background(), func(r *reconciler.Reconciler) {
		for i := 1; i <= n; i++ {
			draw(r, float64(i*20))
		}
	}))
	time.Sleep(200 * time.Millisecond)
	close(release)

	require.Eventually(t, func() bool {
		return len(shapesOf(t, slow)) == n+1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestEphemeralRoomLifecycle(t *testing.T) {
	rdb := newRedis(t)
	base := startServer(t, rdb, store.NewMemoryDurable())

	resp, err := http.Post(base+"/room", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var created struct {
		Ephemeral bool `json:"ephemeral"`
		Room      struct {
			Slug string `json:"slug"`
		} `json:"room"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.True(t, created.Ephemeral)
	slug := protocol.RoomKey(created.Room.Slug)
	u1 := dial(t, base, client.Config{GuestID: "guest-u1"})
	enter(t, u1, slug)

	var a protocol.Shape
	require.NoError(t, u1.Do(context.Background(), func(r *reconciler.Reconciler) {
		assert.NoError(t, r.Begin(0, 0))
		r.Move(5, 5)
		a, _ = r.End()
	}))

	require.Eventually(t, func() bool {
		shapes, err := client.FetchShapes(context.Background(), base, slug)
		return err == nil && len(shapes) == 1 && shapes[0].ID == a.ID
	}, 5*time.Second, 20*time.Millisecond)

	late := dial(t, base, client.Config{})
	enter(t, late, slug)
	assert.True(t, hasShape(t, late, a.ID)(), "history is loaded before join")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	srv := New(testConfig(), Deps{Registry: room.NewRegistry(fanout.NewMemoryBus(1)), Verifier: auth.NewJWTManager(secret)})
	srv.SetupRoutes()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}
