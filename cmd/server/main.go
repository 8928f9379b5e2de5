package main

import (
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/Anurag-006/SketchSaga/internal/auth"
	"github.com/Anurag-006/SketchSaga/internal/config"
	"github.com/Anurag-006/SketchSaga/internal/database"
	"github.com/Anurag-006/SketchSaga/internal/fanout"
	"github.com/Anurag-006/SketchSaga/internal/handler"
	"github.com/Anurag-006/SketchSaga/internal/logging"
	"github.com/Anurag-006/SketchSaga/internal/room"
	"github.com/Anurag-006/SketchSaga/internal/server"
	"github.com/Anurag-006/SketchSaga/internal/store"
	"github.com/Anurag-006/SketchSaga/internal/worker"
)

func main() {
	log := logging.Component("main")

	// 설정 로드
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Config load failed")
	}
	logging.Setup(cfg.Log)

	if err := run(cfg); err != nil {
		log.WithError(err).Error("Server stopped with error")
		os.Exit(1)
	}
	log.Info("Server exited")
}

// run 구성 요소를 연결하고 서버를 실행한다. 반환 시 defer 역순으로 pool, registry, bus, redis, db를 닫는다.
func run(cfg *config.Config) error {
	log := logging.Component("main")

	var err error

	// 데이터베이스 연결 (DB_DRIVER=memory면 프로세스 메모리 사용)
	var (
		db      *gorm.DB
		durable store.Durable
	)
	if cfg.Database.Driver == "memory" {
		log.Warn("DB_DRIVER=memory: durable rooms are lost on restart")
		durable = store.NewMemoryDurable()
	} else {
		db, err = database.ConnectDB(cfg.Database)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer database.Close(db)

		if err := database.Ping(db); err != nil {
			return fmt.Errorf("database ping failed: %w", err)
		}
		log.Info("Database connected successfully")
		durable = store.NewGormDurable(db)
	}

	// Redis 연결 (ephemeral 방과 fanout)
	rdb, err := store.NewRedisClient(cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	defer rdb.Close()

	bus := newBus(cfg.Fanout, rdb)
	defer bus.Close()

	registry := room.NewRegistry(bus)
	defer registry.Close()

	ephemeral := store.NewEphemeral(store.NewRedisKV(rdb), cfg.Room.EphemeralTTL)
	gateway := store.NewGateway(durable, ephemeral, cfg.Room.ChatLimit)
	allocator := room.NewAllocator(durable, ephemeral, cfg.Room.CodeAttempts)

	pool := worker.NewPool(cfg.Persist.Workers, cfg.Persist.QueueSize, cfg.Persist.Timeout)
	defer pool.Close()

	verifier := auth.NewJWTManager(cfg.Auth.JWTSecret)
	router := handler.NewRouter(registry, bus, gateway, pool)

	// 서버 생성 및 설정
	srv := server.New(cfg, server.Deps{
		DB:        db,
		Redis:     rdb,
		Registry:  registry,
		Gateway:   gateway,
		Allocator: allocator,
		Verifier:  verifier,
		Router:    router,
	})
	srv.SetupMiddleware()
	srv.SetupRoutes()

	// 서버 시작 (SIGINT/SIGTERM까지 블록)
	return srv.Start()
}

func newBus(cfg config.FanoutConfig, rdb *redis.Client) fanout.Bus {
	if cfg.Driver == "memory" {
		logging.Component("main").Warn("FANOUT_DRIVER=memory: broadcasts stay inside this process")
		return fanout.NewMemoryBus(cfg.QueueSize)
	}
	return fanout.NewRedisBus(rdb, cfg.QueueSize)
}
